package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
)

type queueEntryRow struct {
	ID               string `db:"id"`
	TaskID           string `db:"task_id"`
	Params           string `db:"params"`
	Status           string `db:"status"`
	RemainingRetries int    `db:"remaining_retries"`
	RetryDelayMS     int    `db:"retry_delay_ms"`
	CreatedAt        string `db:"created_at"`
	UpdatedAt        string `db:"updated_at"`
}

func (r queueEntryRow) toDomain() (domain.QueueEntry, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	return domain.QueueEntry{
		ID:               r.ID,
		TaskID:           r.TaskID,
		Params:           r.Params,
		Status:           domain.QueueStatus(r.Status),
		RemainingRetries: r.RemainingRetries,
		RetryDelayMS:     r.RetryDelayMS,
		CreatedAt:        created,
		UpdatedAt:        updated,
	}, nil
}

// Enqueue inserts a new QueueEntry in status "queued" for task, seeding
// remaining_retries and retry_delay_ms from the Task's policy.
func (s *Store) Enqueue(ctx context.Context, taskID, params string) (domain.QueueEntry, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	id := uuid.NewString()
	ts := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue_entries (id, task_id, params, status, remaining_retries, retry_delay_ms, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?, ?, ?)
	`, id, task.ID, params, task.RetryCount, task.RetryDelayMS, ts, ts)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	return s.GetQueueEntry(ctx, id)
}

// ClaimQueued atomically moves every row in status "queued" to "running" and
// returns the claimed rows, per spec §4.5's coarse single-executor claim:
// one BEGIN IMMEDIATE transaction selects then updates, so two concurrent
// callers never observe and claim the same row.
func (s *Store) ClaimQueued(ctx context.Context) ([]domain.QueueEntry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var rows []queueEntryRow
	if err := tx.SelectContext(ctx, &rows, `
		SELECT id, task_id, params, status, remaining_retries, retry_delay_ms, created_at, updated_at
		FROM queue_entries WHERE status = 'queued'
	`); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ts := now()
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_entries SET status = 'running', updated_at = ? WHERE id = ?`, ts, r.ID); err != nil {
			return nil, err
		}
		r.Status = "running"
		r.UpdatedAt = ts
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	out := make([]domain.QueueEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetQueueEntry fetches a QueueEntry by ID.
func (s *Store) GetQueueEntry(ctx context.Context, id string) (domain.QueueEntry, error) {
	var row queueEntryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, task_id, params, status, remaining_retries, retry_delay_ms, created_at, updated_at
		FROM queue_entries WHERE id = ?
	`, id)
	if err != nil {
		if isNoRows(err) {
			return domain.QueueEntry{}, apperr.Wrapf(apperr.NotFound, "queue entry %q", id)
		}
		return domain.QueueEntry{}, err
	}
	return row.toDomain()
}

// ListQueueEntries returns every QueueEntry, most recently created first.
func (s *Store) ListQueueEntries(ctx context.Context) ([]domain.QueueEntry, error) {
	var rows []queueEntryRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, params, status, remaining_retries, retry_delay_ms, created_at, updated_at
		FROM queue_entries ORDER BY created_at DESC
	`); err != nil {
		return nil, err
	}
	out := make([]domain.QueueEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DecrementRetry records one spent retry attempt on a QueueEntry without
// changing its status: per spec §3, a retry re-enters "running", never
// "queued". It returns the remaining_retries count after decrementing.
func (s *Store) DecrementRetry(ctx context.Context, id string) (int, error) {
	entry, err := s.GetQueueEntry(ctx, id)
	if err != nil {
		return 0, err
	}
	remaining := entry.RemainingRetries - 1
	if remaining < 0 {
		remaining = 0
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE queue_entries SET remaining_retries = ?, updated_at = ? WHERE id = ?`,
		remaining, now(), id)
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// MarkQueueCompleted transitions a QueueEntry to its terminal "completed"
// state.
func (s *Store) MarkQueueCompleted(ctx context.Context, id string) error {
	return s.setQueueStatus(ctx, id, domain.QueueStatusCompleted)
}

// MarkQueueFailed transitions a QueueEntry to its terminal "failed" state.
// Per spec §9's crash-durability open question, callers must append the
// terminal TraceEvent before calling this, not after.
func (s *Store) MarkQueueFailed(ctx context.Context, id string) error {
	return s.setQueueStatus(ctx, id, domain.QueueStatusFailed)
}

func (s *Store) setQueueStatus(ctx context.Context, id string, status domain.QueueStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = ?, updated_at = ? WHERE id = ?`, string(status), now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Wrapf(apperr.NotFound, "queue entry %q", id)
	}
	return nil
}
