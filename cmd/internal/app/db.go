package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbConnectTimeout = 3 * time.Second
	dbIdleTime       = 5 * time.Minute
	dbHealthPeriod   = 30 * time.Second
)

// NewDBPool connects to the PostgreSQL pairing store and fails fast if it is unreachable.
// Connections report application_name=duet unless the URL sets one.
// Schema changes are applied by `duet migrate` or DUET_DB_AUTO_MIGRATE, never here.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DUET_DATABASE_URL: %w", err)
	}

	pcfg.MaxConns = cfg.DBMaxConns
	pcfg.MinConns = min(cfg.DBMinConns, cfg.DBMaxConns)
	pcfg.MaxConnIdleTime = dbIdleTime
	pcfg.HealthCheckPeriod = dbHealthPeriod
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = "duet"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := PingDB(ctx, pool, dbConnectTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PingDB backs /readyz for the Postgres store.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
