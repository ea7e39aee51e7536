package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ankur-anand/kvbulk/internal/cellstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

var (
	ErrMissingTable   = errors.New("missing required parameter: table")
	ErrEmptyRequest   = errors.New("request carries no operations")
	ErrInvalidRequest = errors.New("invalid request body")
)

// ToHTTPStatus converts a store error into the status code and message sent
// to clients. Unclassified errors are logged and reported as internal.
func ToHTTPStatus(table, reqID, method string, err error) (int, string) {
	switch {
	case errors.Is(err, kvstore.ErrTableNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, kvstore.ErrTableExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrMissingTable),
		errors.Is(err, ErrEmptyRequest),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, cellstore.ErrEmptyMutation),
		errors.Is(err, kvstore.ErrInvalidArgument),
		errors.Is(err, record.ErrUnknownMutation),
		errors.Is(err, record.ErrInvalidCounter):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, kvstore.ErrClosed):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, err.Error()
	default:
		slog.Error("[kvbulk.httpapi] service error", "error", err,
			"method", method,
			"request_id", reqID,
			"table", table)
		return http.StatusInternalServerError, "internal server error"
	}
}
