package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"duet/cmd/internal/pairing"
)

// Serve is the `duet serve` entrypoint.
// It returns an error instead of calling os.Exit to keep defers effective.
func Serve(parent context.Context, envFiles ...string) error {
	cfg, err := LoadConfig(envFiles...)
	if err != nil {
		return err
	}
	log := NewLogger(cfg)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate is the `duet migrate` entrypoint: it applies the PostgreSQL schema and exits.
func Migrate(ctx context.Context, envFiles ...string) error {
	cfg, err := LoadConfig(envFiles...)
	if err != nil {
		return err
	}
	log := NewLogger(cfg)

	if cfg.DatabaseURL == "" {
		return errors.New("migrate: DUET_DATABASE_URL is not set")
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	st, err := pairing.NewPostgresStore(pool, pairing.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("db.migrate.applied", "schema", cfg.DBSchema)
	return nil
}
