package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/timetracker/internal/store"
)

// SaveCapture upserts a capture. New captures are inserted together with a
// pending sync record; the referenced time entry must exist.
func (r *Repo) SaveCapture(ctx context.Context, c *Capture) error {
	if c.TimeEntryID == 0 {
		return errors.New("entity: capture requires a time entry")
	}
	if c.TakenAt.IsZero() {
		return errors.New("entity: capture requires a timestamp")
	}

	return r.st.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.GetTimeEntry(ctx, c.TimeEntryID); err != nil {
			return fmt.Errorf("entity: capture references entry %d: %w", c.TimeEntryID, err)
		}

		if c.ID == 0 {
			c.CreatedAt = r.now()
			id, err := r.st.Insert(ctx, "captures", store.Row{
				"time_entry_id": c.TimeEntryID,
				"file_path":     c.FilePath,
				"remote_ref":    c.RemoteRef,
				"taken_at":      FormatTime(c.TakenAt),
				"is_deleted":    boolToInt(c.IsDeleted),
				"created_at":    FormatTime(c.CreatedAt),
			})
			if err != nil {
				return fmt.Errorf("entity: insert capture: %w", err)
			}
			c.ID = id
			return r.ensureSyncRecord(ctx, KindCapture, id)
		}

		return r.st.Update(ctx, "captures", c.ID, store.Row{
			"file_path":  c.FilePath,
			"remote_ref": c.RemoteRef,
			"taken_at":   FormatTime(c.TakenAt),
			"is_deleted": boolToInt(c.IsDeleted),
		})
	})
}

const captureColumns = `id, time_entry_id, file_path, remote_ref, taken_at, is_deleted, created_at`

// GetCapture fetches a capture by id.
func (r *Repo) GetCapture(ctx context.Context, id int64) (Capture, error) {
	rows, err := r.st.Query(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	if err != nil {
		return Capture{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Capture{}, err
		}
		return Capture{}, store.ErrNotFound
	}
	return scanCapture(rows)
}

// GetCapturesByTimeEntry lists captures of an entry ordered by timestamp.
// Tombstoned rows are included only when includeDeleted is set.
func (r *Repo) GetCapturesByTimeEntry(ctx context.Context, entryID int64, includeDeleted bool) ([]Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures WHERE time_entry_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY taken_at`

	rows, err := r.st.Query(ctx, query, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCaptures returns the number of non-tombstoned captures of an entry.
func (r *Repo) CountCaptures(ctx context.Context, entryID int64) (int, error) {
	var n int
	err := r.st.QueryRow(ctx,
		`SELECT COUNT(*) FROM captures WHERE time_entry_id = ? AND is_deleted = 0`, entryID).
		Scan(&n)
	return n, err
}

// MarkCaptureDeleted flips the tombstone without touching the file.
func (r *Repo) MarkCaptureDeleted(ctx context.Context, id int64) error {
	return r.st.Update(ctx, "captures", id, store.Row{"is_deleted": 1})
}

// TombstoneCapturesBetween tombstones every capture of an entry whose
// timestamp falls inside [from, to] and returns how many were flipped.
func (r *Repo) TombstoneCapturesBetween(ctx context.Context, entryID int64, from, to string) (int, error) {
	res, err := r.st.Exec(ctx,
		`UPDATE captures SET is_deleted = 1
		 WHERE time_entry_id = ? AND taken_at >= ? AND taken_at <= ? AND is_deleted = 0`,
		entryID, from, to)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListExpiredCaptures returns ids of captures older than the cutoff whose
// sync record, if any, is not pending.
func (r *Repo) ListExpiredCaptures(ctx context.Context, cutoff string) ([]int64, error) {
	return r.entryIDs(ctx,
		`SELECT c.id FROM captures c
		 WHERE c.taken_at < ?
		   AND NOT EXISTS (
		     SELECT 1 FROM sync_records sr
		     WHERE sr.entity_kind = 'capture' AND sr.entity_id = c.id AND sr.is_synced = 0)`,
		cutoff)
}

// DeleteCapture removes the capture's file if present, then its sync record
// and row.
func (r *Repo) DeleteCapture(ctx context.Context, id int64) error {
	var path string
	err := r.st.WithTx(ctx, func(ctx context.Context) error {
		c, err := r.GetCapture(ctx, id)
		if err != nil {
			return err
		}
		path = c.FilePath
		if err := r.deleteSyncRecord(ctx, KindCapture, id); err != nil {
			return err
		}
		return r.st.DeleteRow(ctx, "captures", id)
	})
	if err != nil {
		return err
	}
	unlinkAll([]string{path})
	return nil
}

func scanCapture(row rowScanner) (Capture, error) {
	var (
		c       Capture
		taken   string
		deleted int64
		created string
	)
	err := row.Scan(&c.ID, &c.TimeEntryID, &c.FilePath, &c.RemoteRef, &taken, &deleted, &created)
	if err != nil {
		return Capture{}, err
	}
	if c.TakenAt, err = ParseTime(taken); err != nil {
		return Capture{}, err
	}
	c.IsDeleted = deleted != 0
	if c.CreatedAt, err = ParseTime(created); err != nil {
		return Capture{}, err
	}
	return c, nil
}
