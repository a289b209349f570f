package entity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/timetracker/internal/store"
)

// GetSyncRecord fetches the sync record of an entity.
func (r *Repo) GetSyncRecord(ctx context.Context, kind Kind, entityID int64) (SyncRecord, error) {
	var (
		rec     SyncRecord
		synced  int64
		attempt sql.NullString
		lastErr sql.NullString
		k       string
	)
	err := r.st.QueryRow(ctx,
		`SELECT entity_kind, entity_id, is_synced, last_attempt_at, last_error
		 FROM sync_records WHERE entity_kind = ? AND entity_id = ?`,
		string(kind), entityID).
		Scan(&k, &rec.EntityID, &synced, &attempt, &lastErr)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncRecord{}, store.ErrNotFound
	}
	if err != nil {
		return SyncRecord{}, err
	}

	rec.Kind = Kind(k)
	rec.IsSynced = synced != 0
	if attempt.Valid {
		t, err := ParseTime(attempt.String)
		if err != nil {
			return SyncRecord{}, err
		}
		rec.LastAttemptAt = &t
	}
	if lastErr.Valid {
		rec.LastError = lastErr.String
	}
	return rec, nil
}

// ensureSyncRecord inserts a pending sync record if the entity has none.
func (r *Repo) ensureSyncRecord(ctx context.Context, kind Kind, entityID int64) error {
	_, err := r.st.Exec(ctx,
		`INSERT OR IGNORE INTO sync_records (entity_kind, entity_id, is_synced) VALUES (?, ?, 0)`,
		string(kind), entityID)
	return err
}

// resetSyncRecord flips an entity back to pending so the next sync run
// re-uploads it. Missing records are created pending.
func (r *Repo) resetSyncRecord(ctx context.Context, kind Kind, entityID int64) error {
	if err := r.ensureSyncRecord(ctx, kind, entityID); err != nil {
		return err
	}
	_, err := r.st.Exec(ctx,
		`UPDATE sync_records SET is_synced = 0 WHERE entity_kind = ? AND entity_id = ?`,
		string(kind), entityID)
	return err
}

func (r *Repo) deleteSyncRecord(ctx context.Context, kind Kind, entityID int64) error {
	_, err := r.st.Exec(ctx,
		`DELETE FROM sync_records WHERE entity_kind = ? AND entity_id = ?`,
		string(kind), entityID)
	return err
}
