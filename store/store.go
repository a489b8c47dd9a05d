package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/scraperwall/ipwatch/config"
	"github.com/scraperwall/ipwatch/data"
)

// ErrUnknownBackend is returned by Open when the configured backend doesn't exist
var ErrUnknownBackend = errors.New("unknown store backend")

// VisitStore persists the number of visits per IP.
// Increment must never lose an update when called concurrently within one process
type VisitStore interface {
	Get() (map[string]data.Visit, error)
	Increment(ip string) (int, error)
	Count() (int, error)
	Close() error
}

// Open creates the VisitStore selected by cfg.StoreBackend
func Open(ctx context.Context, cfg *config.Config) (VisitStore, error) {
	switch cfg.StoreBackend {
	case "", "file":
		return NewFileStore(cfg.CacheFile)
	case "badger":
		return NewBadgerStore(ctx, cfg.BadgerPath)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisKey)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.StoreBackend)
}
