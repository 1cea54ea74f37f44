// Package database opens the relational sink and adapts its drivers to
// the transactional handle the ingest pipeline writes through.
//
// Postgres is served by a pgx connection pool; MySQL, SQLite and SQL Server
// go through database/sql. The connection is established lazily on the
// first transaction so a cold start that never sees a notification never
// dials the database, and a failed attempt is retried by the next caller
// instead of poisoning the process.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JonMunkholm/csvsink/internal/config"
	"github.com/JonMunkholm/csvsink/internal/ingest"
)

// backend is one opened connection pool.
type backend interface {
	BeginTx(ctx context.Context) (ingest.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type opener func(ctx context.Context) (backend, error)

// Provider hands out transactions from a lazily opened pool.
type Provider struct {
	dialect ingest.Dialect
	cfg     config.DatabaseConfig
	open    opener

	mu sync.Mutex
	db backend
}

// NewProvider validates cfg. No connection is made until BeginTx or Ping.
func NewProvider(cfg config.DatabaseConfig) (*Provider, error) {
	dialect, err := ingest.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	p := &Provider{dialect: dialect, cfg: cfg}
	p.open = func(ctx context.Context) (backend, error) {
		if dialect.Name == ingest.Postgres.Name {
			return openPgx(ctx, cfg, dsn)
		}
		return openSQL(dialect.Name, dsn, cfg)
	}
	return p, nil
}

// Dialect returns the SQL dialect of the configured driver.
func (p *Provider) Dialect() ingest.Dialect { return p.dialect }

func (p *Provider) get(ctx context.Context) (backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return p.db, nil
	}

	connectCtx := ctx
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}

	db, err := p.open(connectCtx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", p.dialect.Name, err)
	}
	if err := db.Ping(connectCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", p.dialect.Name, err)
	}

	slog.Info("connected to database",
		"driver", p.dialect.Name,
		"name", p.cfg.Name,
		"max_conns", p.cfg.MaxConns,
	)
	p.db = db
	return db, nil
}

// BeginTx starts a transaction on its own pooled connection.
func (p *Provider) BeginTx(ctx context.Context) (ingest.Tx, error) {
	db, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	return db.BeginTx(ctx)
}

// Ping opens the pool if needed and verifies it is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	db, err := p.get(ctx)
	if err != nil {
		return err
	}
	return db.Ping(ctx)
}

// Close releases the pool. A later BeginTx reopens it.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		p.db.Close()
		p.db = nil
	}
}
