package store

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"cluvrp/internal/config"
)

// Open builds the store the configuration asks for. Postgres stores are
// migrated from cfg.Store.MigrationsDir unless migration is switched off.
func Open(cfg config.Config) (Store, error) {
	kind := cfg.StoreKind()
	switch kind {
	case "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(cfg.Store.Dir)
	case "postgres":
		pg, err := NewPostgres(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Store.Migrate {
			if err := pg.MigrateDir(cfg.Store.MigrationsDir); err != nil {
				logrus.WithError(err).Warn("migrations failed")
			}
		}
		return pg, nil
	}
	return nil, fmt.Errorf("store: unknown kind %q", kind)
}
