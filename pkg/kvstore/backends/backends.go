// Package backends selects a store implementation from kvstore.Config.
package backends

import (
	"context"
	"fmt"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/badgerstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/boltstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/httpstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/lmdbstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/memstore"
)

// Dialer dials whichever backend cfg names.
var Dialer kvstore.Dialer = kvstore.DialFunc(Dial)

// Dial validates cfg and opens a connection with the backend it names.
func Dial(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case kvstore.BackendBolt:
		return boltstore.Dial(ctx, cfg)
	case kvstore.BackendLMDB:
		return lmdbstore.Dial(ctx, cfg)
	case kvstore.BackendBadger:
		return badgerstore.Dial(ctx, cfg)
	case kvstore.BackendHTTP:
		return httpstore.Dial(ctx, cfg)
	case kvstore.BackendMemory:
		return memstore.Dial(ctx, cfg)
	}
	return nil, fmt.Errorf("%w: %q", kvstore.ErrUnknownBackend, cfg.Backend)
}
