package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
)

type taskRow struct {
	ID                string `db:"id"`
	Name              string `db:"name"`
	RetryCount        int    `db:"retry_count"`
	RetryDelayMS      int    `db:"retry_delay_ms"`
	BoundFunctionName string `db:"bound_function_name"`
	CreatedAt         string `db:"created_at"`
	UpdatedAt         string `db:"updated_at"`
}

func (r taskRow) toDomain() (domain.Task, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:                r.ID,
		Name:              r.Name,
		RetryCount:        r.RetryCount,
		RetryDelayMS:      r.RetryDelayMS,
		BoundFunctionName: r.BoundFunctionName,
		CreatedAt:         created,
		UpdatedAt:         updated,
	}, nil
}

// CreateTask creates a Task together with its bound Function in a single
// transaction, per spec §3: a Task never references a Function that did
// not also come into existence with it. fn.Name is overwritten with
// task.BoundFunctionName so callers only need to set fn.Code/Permissions.
func (s *Store) CreateTask(ctx context.Context, task domain.Task, fn domain.Function) (domain.Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	fn.Name = task.BoundFunctionName

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := createFunctionTx(ctx, tx, fn); err != nil {
		return domain.Task{}, err
	}

	ts := now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, name, retry_count, retry_delay_ms, bound_function_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.RetryCount, task.RetryDelayMS, task.BoundFunctionName, ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Task{}, apperr.Wrapf(apperr.Conflict, "task %q already exists", task.Name)
		}
		return domain.Task{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, task.ID)
}

// GetTask fetches a Task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, retry_count, retry_delay_ms, bound_function_name, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	if err != nil {
		if isNoRows(err) {
			return domain.Task{}, apperr.Wrapf(apperr.NotFound, "task %q", id)
		}
		return domain.Task{}, err
	}
	return row.toDomain()
}

// GetTaskByName fetches a Task by its unique name.
func (s *Store) GetTaskByName(ctx context.Context, name string) (domain.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, retry_count, retry_delay_ms, bound_function_name, created_at, updated_at
		FROM tasks WHERE name = ?
	`, name)
	if err != nil {
		if isNoRows(err) {
			return domain.Task{}, apperr.Wrapf(apperr.NotFound, "task %q", name)
		}
		return domain.Task{}, err
	}
	return row.toDomain()
}

// ListTasks returns every Task, ordered by name.
func (s *Store) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, retry_count, retry_delay_ms, bound_function_name, created_at, updated_at
		FROM tasks ORDER BY name
	`); err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTask removes a Task row. It does not cascade to the bound Function;
// callers that want the Function gone too call DeleteFunction separately.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Wrapf(apperr.NotFound, "task %q", id)
	}
	return nil
}
