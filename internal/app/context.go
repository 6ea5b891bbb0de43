package app

import (
	"context"
	"errors"
	"fmt"

	"magnus/internal/config"
	"magnus/internal/repo"
)

// ResolveConfig loads the active configuration, preferring the copy persisted
// in the database, then a magnus.yml in the workspace, then built-in
// defaults. Whatever is chosen ends up persisted so later runs agree.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetSystemConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	cfg, err = config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := persistConfig(ctx, r, cfg); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return cfg, nil
}

// ImportConfig validates and persists a config file as the active config.
func ImportConfig(ctx context.Context, path string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	if err := persistConfig(ctx, r, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persistConfig(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.UpsertSystemConfig(ctx, tx, cfg); err != nil {
		return err
	}
	return tx.Commit()
}
