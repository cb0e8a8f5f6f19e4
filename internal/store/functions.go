package store

import (
	"context"
	"fmt"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
)

// functionRow mirrors the functions table for sqlx scanning; Permissions is
// stored as a JSON string and expanded into domain.Function by toDomain.
type functionRow struct {
	Name        string  `db:"name"`
	Code        string  `db:"code"`
	Enabled     bool    `db:"enabled"`
	Permissions string  `db:"permissions"`
	Description *string `db:"description"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}

func (r functionRow) toDomain() (domain.Function, error) {
	perms, err := unmarshalPermissions(r.Permissions)
	if err != nil {
		return domain.Function{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Function{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return domain.Function{}, err
	}
	return domain.Function{
		Name:        r.Name,
		Code:        r.Code,
		Enabled:     r.Enabled,
		Permissions: perms,
		Description: r.Description,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

// CreateFunction inserts a new Function row. It reports apperr.Conflict if
// name is already taken (spec §9's duplicate-name open question).
func (s *Store) CreateFunction(ctx context.Context, fn domain.Function) (domain.Function, error) {
	perms, err := marshalPermissions(fn.Permissions)
	if err != nil {
		return domain.Function{}, err
	}
	ts := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO functions (name, code, enabled, permissions, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fn.Name, fn.Code, fn.Enabled, perms, fn.Description, ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Function{}, apperr.Wrapf(apperr.Conflict, "function %q already exists", fn.Name)
		}
		return domain.Function{}, err
	}
	return s.GetFunction(ctx, fn.Name)
}

// createFunctionTx is the same insert run against an existing transaction,
// used by CreateTask to create a Task's bound Function atomically.
func createFunctionTx(ctx context.Context, tx execer, fn domain.Function) error {
	perms, err := marshalPermissions(fn.Permissions)
	if err != nil {
		return err
	}
	ts := now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO functions (name, code, enabled, permissions, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fn.Name, fn.Code, fn.Enabled, perms, fn.Description, ts, ts)
	if isUniqueViolation(err) {
		return apperr.Wrapf(apperr.Conflict, "function %q already exists", fn.Name)
	}
	return err
}

// GetFunction fetches a Function by name.
func (s *Store) GetFunction(ctx context.Context, name string) (domain.Function, error) {
	var row functionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT name, code, enabled, permissions, description, created_at, updated_at
		FROM functions WHERE name = ?
	`, name)
	if err != nil {
		if isNoRows(err) {
			return domain.Function{}, apperr.Wrapf(apperr.NotFound, "function %q", name)
		}
		return domain.Function{}, err
	}
	return row.toDomain()
}

// ListFunctions returns every Function, ordered by name.
func (s *Store) ListFunctions(ctx context.Context) ([]domain.Function, error) {
	var rows []functionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT name, code, enabled, permissions, description, created_at, updated_at
		FROM functions ORDER BY name
	`); err != nil {
		return nil, err
	}
	out := make([]domain.Function, 0, len(rows))
	for _, r := range rows {
		fn, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, nil
}

// FunctionPatch applies a partial update: only non-nil fields are changed.
type FunctionPatch struct {
	Code        *string
	Enabled     *bool
	Permissions *domain.Permissions
	Description *string
}

func (s *Store) UpdateFunction(ctx context.Context, name string, patch FunctionPatch) (domain.Function, error) {
	existing, err := s.GetFunction(ctx, name)
	if err != nil {
		return domain.Function{}, err
	}
	if patch.Code != nil {
		existing.Code = *patch.Code
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	if patch.Permissions != nil {
		existing.Permissions = *patch.Permissions
	}
	if patch.Description != nil {
		existing.Description = patch.Description
	}
	perms, err := marshalPermissions(existing.Permissions)
	if err != nil {
		return domain.Function{}, err
	}
	ts := now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE functions SET code = ?, enabled = ?, permissions = ?, description = ?, updated_at = ?
		WHERE name = ?
	`, existing.Code, existing.Enabled, perms, existing.Description, ts, name)
	if err != nil {
		return domain.Function{}, err
	}
	return s.GetFunction(ctx, name)
}

// DeleteFunction removes a Function row. A Function still bound to a Task
// cannot be deleted: the connection does not turn on SQLite's foreign-key
// enforcement, so the bound tasks are counted first and any match is
// reported as a generic error.
func (s *Store) DeleteFunction(ctx context.Context, name string) error {
	var bound int
	if err := s.db.GetContext(ctx, &bound, `SELECT COUNT(*) FROM tasks WHERE bound_function_name = ?`, name); err != nil {
		return err
	}
	if bound > 0 {
		return fmt.Errorf("function %q is bound to %d task(s)", name, bound)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM functions WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Wrapf(apperr.NotFound, "function %q", name)
	}
	return nil
}
