package store

import (
	"context"

	"github.com/nanoedge/nanoedgert/internal/domain"
)

type traceEventRow struct {
	ID        int64   `db:"id"`
	QueueID   string  `db:"queue_id"`
	Event     string  `db:"event"`
	Timestamp string  `db:"timestamp"`
	Data      *string `db:"data"`
}

func (r traceEventRow) toDomain() (domain.TraceEvent, error) {
	ts, err := parseTime(r.Timestamp)
	if err != nil {
		return domain.TraceEvent{}, err
	}
	return domain.TraceEvent{
		ID:        r.ID,
		QueueID:   r.QueueID,
		Event:     domain.TraceEventKind(r.Event),
		Timestamp: ts,
		Data:      r.Data,
	}, nil
}

// AppendTraceEvent records one event in a QueueEntry's append-only history.
// data, when non-nil, is expected to already be a JSON-encoded string.
func (s *Store) AppendTraceEvent(ctx context.Context, queueID string, kind domain.TraceEventKind, data *string) (domain.TraceEvent, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_events (queue_id, event, timestamp, data) VALUES (?, ?, ?, ?)
	`, queueID, string(kind), now(), data)
	if err != nil {
		return domain.TraceEvent{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.TraceEvent{}, err
	}
	return s.GetTraceEvent(ctx, id)
}

// GetTraceEvent fetches a single TraceEvent by its autoincrement ID.
func (s *Store) GetTraceEvent(ctx context.Context, id int64) (domain.TraceEvent, error) {
	var row traceEventRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, queue_id, event, timestamp, data FROM trace_events WHERE id = ?
	`, id); err != nil {
		return domain.TraceEvent{}, err
	}
	return row.toDomain()
}

// ListTraceEvents returns every TraceEvent for queueID, in recording order
// (append order, oldest first), matching the invariant that the first event
// is "start" and the last is "end" or "failed".
func (s *Store) ListTraceEvents(ctx context.Context, queueID string) ([]domain.TraceEvent, error) {
	var rows []traceEventRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, queue_id, event, timestamp, data FROM trace_events
		WHERE queue_id = ? ORDER BY id ASC
	`, queueID); err != nil {
		return nil, err
	}
	out := make([]domain.TraceEvent, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
