package store

import (
	"log/slog"

	"github.com/agentbrain/agentbrain/internal/config"
	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/state"
)

// Open builds the configured Backend. The caller runs Initialize.
func Open(cfg *config.Config, paths state.Paths, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendEmbedded:
		return NewEmbedded(EmbeddedOptions{
			DocumentsDB: paths.DocumentsDB,
			KeywordDir:  paths.KeywordDir,
			VectorDir:   paths.VectorDir,
			Logger:      logger,
		})
	case config.BackendPostgres:
		return NewPostgres(PostgresOptions{
			DatabaseURL: cfg.DatabaseURL,
			PoolSize:    cfg.PoolSize,
			MaxOverflow: cfg.PoolMaxOverflow,
			Logger:      logger,
		})
	default:
		return nil, errors.Config("unknown backend: " + cfg.Backend)
	}
}
