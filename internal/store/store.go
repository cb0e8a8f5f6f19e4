// Package store is the Store component (C1): it owns the single embedded
// SQLite database and exposes transactional primitives to every other
// component. Multi-row mutations (port allocation, queue claim) run inside
// a serializable BEGIN IMMEDIATE transaction, SQLite's single-writer
// equivalent of the teacher's Postgres SELECT ... FOR UPDATE SKIP LOCKED.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/store/migrations"
)

// Store wraps the SQLite handle backing every persisted entity.
type Store struct {
	db *sqlx.DB
}

// execer is the subset of *sqlx.Tx (or *sqlx.DB) needed by helpers shared
// between a top-level call and a call nested inside another transaction,
// such as createFunctionTx used from CreateTask.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open opens (creating if necessary) the SQLite database at dbPath and
// applies embedded migrations. dbPath may be ":memory:" for an ephemeral
// store, matching the default in spec §6.4.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	// A single connection keeps in-memory databases from being reset by
	// SQLite's per-connection isolation and serializes writers, which is
	// what the BEGIN IMMEDIATE claim transactions below assume.
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrations.Apply(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	s := &Store{db: db}
	if err := s.seedDefaults(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// seedDefaults populates the config table and port range on first boot,
// per spec §3/§6.4, without overwriting operator-set values.
func (s *Store) seedDefaults(ctx context.Context) error {
	defaults := map[string]string{
		domain.ConfigKeyAvailablePortStart:       fmt.Sprintf("%d", domain.DefaultAvailablePortStart),
		domain.ConfigKeyAvailablePortEnd:         fmt.Sprintf("%d", domain.DefaultAvailablePortEnd),
		domain.ConfigKeyMainPort:                 fmt.Sprintf("%d", domain.DefaultMainPort),
		domain.ConfigKeyFunctionExecutionTimeout: fmt.Sprintf("%d", domain.DefaultFunctionExecutionTimeout),
	}
	for key, value := range defaults {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
			key, value); err != nil {
			return err
		}
	}

	start, _, err := s.configInt(ctx, domain.ConfigKeyAvailablePortStart, domain.DefaultAvailablePortStart)
	if err != nil {
		return err
	}
	end, _, err := s.configInt(ctx, domain.ConfigKeyAvailablePortEnd, domain.DefaultAvailablePortEnd)
	if err != nil {
		return err
	}
	return s.seedPortRange(ctx, start, end)
}

func (s *Store) seedPortRange(ctx context.Context, start, end int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for port := start; port <= end; port++ {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ports (port) VALUES (?) ON CONFLICT(port) DO NOTHING`, port); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Timestamps are stored as RFC3339Nano text rather than relying on a
// driver-specific TIMESTAMP scan, so the format is identical regardless of
// which sqlite3 driver build or column affinity is in play.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
