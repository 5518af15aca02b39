package lifecycle

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokgate/internal/server/config"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/storage/badgerstore"
	"github.com/yndnr/tokgate/internal/storage/memory"
	"github.com/yndnr/tokgate/internal/storage/redisstore"
	"github.com/yndnr/tokgate/internal/storage/sqlstore"
)

// StoreFactory opens the session store for one run. reg may be nil.
type StoreFactory func(ctx context.Context, cfg config.StorageSection, opts storage.Options, reg prometheus.Registerer) (storage.SessionStore, error)

// OpenStore opens the backend selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.StorageSection, opts storage.Options, reg prometheus.Registerer) (storage.SessionStore, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memory.New(opts), nil

	case config.BackendBadger:
		st, err := badgerstore.Open(badgerstore.Config{Dir: cfg.DataDir}, opts)
		if err != nil {
			return nil, err
		}
		if reg != nil {
			if err := st.RegisterMetrics(reg); err != nil {
				st.Close()
				return nil, fmt.Errorf("register badger metrics: %w", err)
			}
		}
		return st, nil

	case config.BackendSQLite:
		return sqlstore.Open(ctx, cfg.SQLitePath, opts)

	case config.BackendRedis:
		return redisstore.Open(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, opts)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
