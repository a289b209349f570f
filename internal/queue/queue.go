// Package queue implements the durable outbound sync queue over sync record
// rows. It hands the sync engine bounded drains of pending work and records
// completion exactly once.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/store"
)

// Queue indexes pending syncable entities.
type Queue struct {
	st  *store.Store
	now func() time.Time
}

// New wires the queue; a nil now defaults to time.Now.
func New(st *store.Store, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{st: st, now: now}
}

// Enqueue records that an entity needs syncing. A no-op when the entity has
// already been enqueued, regardless of its completion state.
func (q *Queue) Enqueue(ctx context.Context, kind entity.Kind, entityID int64) error {
	_, err := q.st.Exec(ctx,
		`INSERT OR IGNORE INTO sync_records (entity_kind, entity_id, is_synced) VALUES (?, ?, 0)`,
		string(kind), entityID)
	if err != nil {
		return fmt.Errorf("queue: enqueue %s %d: %w", kind, entityID, err)
	}
	return nil
}

// Drain returns up to limit pending entity ids ordered by the entity's
// natural temporal key: start time for time entries, capture timestamp for
// captures. Tombstoned captures are excluded. The order is a hint, not a
// strict sequence across retries.
func (q *Queue) Drain(ctx context.Context, kind entity.Kind, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}

	var query string
	switch kind {
	case entity.KindTimeEntry:
		query = `SELECT sr.entity_id FROM sync_records sr
			JOIN time_entries te ON te.id = sr.entity_id
			WHERE sr.entity_kind = 'time_entry' AND sr.is_synced = 0
			ORDER BY te.start_time LIMIT ?`
	case entity.KindCapture:
		query = `SELECT sr.entity_id FROM sync_records sr
			JOIN captures c ON c.id = sr.entity_id
			WHERE sr.entity_kind = 'capture' AND sr.is_synced = 0 AND c.is_deleted = 0
			ORDER BY c.taken_at LIMIT ?`
	default:
		return nil, fmt.Errorf("queue: unknown entity kind %q", kind)
	}

	rows, err := q.st.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: drain %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PendingCount reports how many entities of a kind are awaiting sync.
func (q *Queue) PendingCount(ctx context.Context, kind entity.Kind) (int, error) {
	var n int
	err := q.st.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_records WHERE entity_kind = ? AND is_synced = 0`,
		string(kind)).Scan(&n)
	return n, err
}

// MarkSynced records a successful transmission: terminal for normal flow,
// clearing any previous error.
func (q *Queue) MarkSynced(ctx context.Context, kind entity.Kind, entityID int64) error {
	_, err := q.st.Exec(ctx,
		`UPDATE sync_records SET is_synced = 1, last_error = NULL, last_attempt_at = ?
		 WHERE entity_kind = ? AND entity_id = ?`,
		entity.FormatTime(q.now()), string(kind), entityID)
	if err != nil {
		return fmt.Errorf("queue: mark synced %s %d: %w", kind, entityID, err)
	}
	return nil
}

// MarkError annotates a failed attempt and keeps the entity pending.
func (q *Queue) MarkError(ctx context.Context, kind entity.Kind, entityID int64, msg string) error {
	_, err := q.st.Exec(ctx,
		`UPDATE sync_records SET last_error = ?, last_attempt_at = ?
		 WHERE entity_kind = ? AND entity_id = ?`,
		msg, entity.FormatTime(q.now()), string(kind), entityID)
	if err != nil {
		return fmt.Errorf("queue: mark error %s %d: %w", kind, entityID, err)
	}
	return nil
}

// Reset explicitly re-queues a completed entity.
func (q *Queue) Reset(ctx context.Context, kind entity.Kind, entityID int64) error {
	_, err := q.st.Exec(ctx,
		`UPDATE sync_records SET is_synced = 0 WHERE entity_kind = ? AND entity_id = ?`,
		string(kind), entityID)
	if err != nil {
		return fmt.Errorf("queue: reset %s %d: %w", kind, entityID, err)
	}
	return nil
}
