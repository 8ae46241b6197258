// Package persistence wires the configured database driver to a connection
// the stores can share.
package persistence

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/config"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/db"
)

// Provide creates the database connection used by the stores.
func Provide(cfg *config.Config, log *logger.Logger) (*sqlx.DB, func() error, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		conn, err := db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if log != nil {
			log.Info("Database initialized",
				zap.String("db_path", cfg.Database.Path),
				zap.String("db_driver", cfg.Database.Driver))
		}
		cleanup := func() error {
			// Run PRAGMA optimize before closing to update query planner
			// statistics. Lightweight and safe to call on every close.
			_, _ = conn.Exec("PRAGMA optimize")
			return conn.Close()
		}
		return conn, cleanup, nil
	case "postgres":
		conn, err := db.OpenPostgres(cfg.Database.DSN())
		if err != nil {
			return nil, nil, err
		}
		if log != nil {
			log.Info("Database initialized",
				zap.String("db_host", cfg.Database.Host),
				zap.String("db_driver", cfg.Database.Driver))
		}
		return conn, conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}
