package main

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/agent"
	"github.com/TwiTech-LAB/devchain/internal/common/config"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/persistence"
	"github.com/TwiTech-LAB/devchain/internal/session"
	"github.com/TwiTech-LAB/devchain/internal/worktree"
)

// stores bundles every persistent store sharing the one database connection.
type stores struct {
	db        *sqlx.DB
	sessions  *session.SQLStore
	agents    *agent.SQLStore
	worktrees *worktree.SQLStore

	cleanups []func() error
}

// provideStores opens the configured database and initializes each store's
// schema.
func provideStores(cfg *config.Config, log *logger.Logger) (*stores, error) {
	db, dbCleanup, err := persistence.Provide(cfg, log)
	if err != nil {
		return nil, err
	}
	s := &stores{db: db, cleanups: []func() error{dbCleanup}}

	sessionStore, cleanup, err := session.Provide(db)
	if err != nil {
		s.Close(log)
		return nil, err
	}
	s.sessions = sessionStore
	s.cleanups = append(s.cleanups, cleanup)

	agentStore, cleanup, err := agent.Provide(db)
	if err != nil {
		s.Close(log)
		return nil, err
	}
	s.agents = agentStore
	s.cleanups = append(s.cleanups, cleanup)

	worktreeStore, cleanup, err := worktree.Provide(db)
	if err != nil {
		s.Close(log)
		return nil, err
	}
	s.worktrees = worktreeStore
	s.cleanups = append(s.cleanups, cleanup)

	return s, nil
}

// Close runs every registered cleanup in reverse order.
func (s *stores) Close(log *logger.Logger) {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](); err != nil && log != nil {
			log.Warn("store cleanup failed", zap.Error(err))
		}
	}
}
