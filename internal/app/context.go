package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"civicops/internal/config"
	"civicops/internal/db"
	"civicops/internal/engine"
	"civicops/internal/migrate"
)

// ResolveConfig loads the policy file. An explicit path must exist; otherwise the
// workspace file is used when present and the defaults when it is not.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.LoadOptional(workspace)
}

// Open prepares the workspace database, applies migrations and builds an engine
// over it. The caller closes the returned handle.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *zap.Logger) (engine.Engine, *sql.DB, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	return engine.New(conn, cfg, logger), conn, nil
}
