package services

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ankur-anand/kvbulk/internal/cellstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/stretchr/testify/assert"
)

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"table not found", fmt.Errorf("open: %w", kvstore.ErrTableNotFound), http.StatusNotFound},
		{"table exists", kvstore.ErrTableExists, http.StatusConflict},
		{"empty mutation", cellstore.ErrEmptyMutation, http.StatusBadRequest},
		{"bad counter", fmt.Errorf("mutation 3: %w", record.ErrInvalidCounter), http.StatusBadRequest},
		{"missing table", ErrMissingTable, http.StatusBadRequest},
		{"closed", kvstore.ErrClosed, http.StatusServiceUnavailable},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := ToHTTPStatus("t", "req-1", "batch", tt.err)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantCode == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", msg, "internal details are not leaked")
			} else {
				assert.Equal(t, tt.err.Error(), msg)
			}
		})
	}
}
