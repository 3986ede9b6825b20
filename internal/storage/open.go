package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/config"
)

// Open builds the store selected by cfg.Driver. For postgres the schema is
// created on first use.
func Open(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory record store; records are lost on restart")
		return NewMemoryStore(), nil
	case config.DriverPostgres:
		pg, err := NewPostgresStore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
