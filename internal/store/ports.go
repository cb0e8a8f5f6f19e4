package store

import (
	"context"
	"database/sql"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
)

// AllocatePort reserves the lowest free (or released) port for serviceName
// in a single BEGIN IMMEDIATE transaction, the SQLite single-writer
// equivalent of a Postgres SELECT ... FOR UPDATE. It also stamps
// services.allocated_port so the two tables never disagree.
func (s *Store) AllocatePort(ctx context.Context, serviceName string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// The _txlock=immediate DSN option makes BeginTxx issue BEGIN IMMEDIATE
	// under the hood, so this transaction already holds SQLite's write lock
	// before the SELECT below runs.
	var port int
	err = tx.QueryRowContext(ctx, `
		SELECT port FROM ports
		WHERE service_name IS NULL OR released_at IS NOT NULL
		ORDER BY port ASC
		LIMIT 1
	`).Scan(&port)
	if err != nil {
		if isNoRows(err) {
			return 0, apperr.Wrapf(apperr.ExhaustedPorts, "no free port for service %q", serviceName)
		}
		return 0, err
	}

	ts := now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE ports SET service_name = ?, allocated_at = ?, released_at = NULL WHERE port = ?
	`, serviceName, ts, port); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE services SET allocated_port = ?, updated_at = ? WHERE name = ?
	`, port, ts, serviceName); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return port, nil
}

// ReleasePort frees the port held by serviceName, if any. Releasing a
// service with no allocated port reports apperr.NotAllocated, which callers
// should treat as a warning rather than a fatal error (spec §4.1).
func (s *Store) ReleasePort(ctx context.Context, serviceName string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var port int
	err = tx.QueryRowContext(ctx, `SELECT port FROM ports WHERE service_name = ?`, serviceName).Scan(&port)
	if err != nil {
		if isNoRows(err) {
			return apperr.Wrapf(apperr.NotAllocated, "service %q has no allocated port", serviceName)
		}
		return err
	}

	ts := now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE ports SET service_name = NULL, allocated_at = NULL, released_at = ? WHERE port = ?
	`, ts, port); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE services SET allocated_port = NULL, updated_at = ? WHERE name = ?
	`, ts, serviceName); err != nil {
		return err
	}

	return tx.Commit()
}

// GetPort is a read-only lookup of the port currently held by serviceName,
// if any.
func (s *Store) GetPort(ctx context.Context, serviceName string) (*int, error) {
	var port int
	err := s.db.GetContext(ctx, &port, `SELECT port FROM ports WHERE service_name = ?`, serviceName)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &port, nil
}

type portRow struct {
	Port        int     `db:"port"`
	ServiceName *string `db:"service_name"`
	AllocatedAt *string `db:"allocated_at"`
	ReleasedAt  *string `db:"released_at"`
}

func (r portRow) toDomain() (domain.Port, error) {
	allocatedAt, err := parseTimePtr(r.AllocatedAt)
	if err != nil {
		return domain.Port{}, err
	}
	releasedAt, err := parseTimePtr(r.ReleasedAt)
	if err != nil {
		return domain.Port{}, err
	}
	return domain.Port{
		Port:        r.Port,
		ServiceName: r.ServiceName,
		AllocatedAt: allocatedAt,
		ReleasedAt:  releasedAt,
	}, nil
}

// ListPorts returns every row in the port table, ordered by port number.
func (s *Store) ListPorts(ctx context.Context) ([]domain.Port, error) {
	var rows []portRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT port, service_name, allocated_at, released_at FROM ports ORDER BY port
	`); err != nil {
		return nil, err
	}
	out := make([]domain.Port, 0, len(rows))
	for _, r := range rows {
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
