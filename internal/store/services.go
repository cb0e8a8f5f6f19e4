package store

import (
	"context"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
)

// serviceRow mirrors the services table for sqlx scanning; Permissions is
// stored as a JSON string and expanded into domain.Service by toDomain.
type serviceRow struct {
	Name          string  `db:"name"`
	Code          string  `db:"code"`
	Enabled       bool    `db:"enabled"`
	JWTCheck      bool    `db:"jwt_check"`
	Permissions   string  `db:"permissions"`
	Schema        *string `db:"schema"`
	AllocatedPort *int    `db:"allocated_port"`
	CreatedAt     string  `db:"created_at"`
	UpdatedAt     string  `db:"updated_at"`
}

func (r serviceRow) toDomain() (domain.Service, error) {
	perms, err := unmarshalPermissions(r.Permissions)
	if err != nil {
		return domain.Service{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Service{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return domain.Service{}, err
	}
	return domain.Service{
		Name:          r.Name,
		Code:          r.Code,
		Enabled:       r.Enabled,
		JWTCheck:      r.JWTCheck,
		Permissions:   perms,
		Schema:        r.Schema,
		AllocatedPort: r.AllocatedPort,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}, nil
}

// CreateService inserts a new Service row. It reports apperr.Conflict if
// name is already taken (spec §9's duplicate-name open question).
func (s *Store) CreateService(ctx context.Context, svc domain.Service) (domain.Service, error) {
	perms, err := marshalPermissions(svc.Permissions)
	if err != nil {
		return domain.Service{}, err
	}
	ts := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO services (name, code, enabled, jwt_check, permissions, schema, allocated_port, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, svc.Name, svc.Code, svc.Enabled, svc.JWTCheck, perms, svc.Schema, svc.AllocatedPort, ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Service{}, apperr.Wrapf(apperr.Conflict, "service %q already exists", svc.Name)
		}
		return domain.Service{}, err
	}
	return s.GetService(ctx, svc.Name)
}

// GetService fetches a Service by name.
func (s *Store) GetService(ctx context.Context, name string) (domain.Service, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT name, code, enabled, jwt_check, permissions, schema, allocated_port, created_at, updated_at
		FROM services WHERE name = ?
	`, name)
	if err != nil {
		if isNoRows(err) {
			return domain.Service{}, apperr.Wrapf(apperr.NotFound, "service %q", name)
		}
		return domain.Service{}, err
	}
	return row.toDomain()
}

// ListServices returns every Service, ordered by name.
func (s *Store) ListServices(ctx context.Context) ([]domain.Service, error) {
	var rows []serviceRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT name, code, enabled, jwt_check, permissions, schema, allocated_port, created_at, updated_at
		FROM services ORDER BY name
	`); err != nil {
		return nil, err
	}
	out := make([]domain.Service, 0, len(rows))
	for _, r := range rows {
		svc, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

// UpdateService applies a partial update (PUT semantics: only non-nil
// fields in patch are changed).
type ServicePatch struct {
	Code        *string
	Enabled     *bool
	JWTCheck    *bool
	Permissions *domain.Permissions
	Schema      *string
}

func (s *Store) UpdateService(ctx context.Context, name string, patch ServicePatch) (domain.Service, error) {
	existing, err := s.GetService(ctx, name)
	if err != nil {
		return domain.Service{}, err
	}
	if patch.Code != nil {
		existing.Code = *patch.Code
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	if patch.JWTCheck != nil {
		existing.JWTCheck = *patch.JWTCheck
	}
	if patch.Permissions != nil {
		existing.Permissions = *patch.Permissions
	}
	if patch.Schema != nil {
		existing.Schema = patch.Schema
	}
	perms, err := marshalPermissions(existing.Permissions)
	if err != nil {
		return domain.Service{}, err
	}
	ts := now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE services SET code = ?, enabled = ?, jwt_check = ?, permissions = ?, schema = ?, updated_at = ?
		WHERE name = ?
	`, existing.Code, existing.Enabled, existing.JWTCheck, perms, existing.Schema, ts, name)
	if err != nil {
		return domain.Service{}, err
	}
	return s.GetService(ctx, name)
}

// DeleteService removes a Service row. Callers are responsible for
// releasing its port beforehand (Service Manager stop + Port Allocator
// release); the store does not cascade that side effect itself.
func (s *Store) DeleteService(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Wrapf(apperr.NotFound, "service %q", name)
	}
	return nil
}
