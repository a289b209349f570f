package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/example/timetracker/internal/store"
)

// SaveTimeEntry upserts a time entry. A new entry is inserted together with a
// pending sync record in the same transaction. Saving an existing entry sets
// IsEdited and resets its sync record to pending so the edit is re-uploaded.
//
// When EndTime is set and DurationSeconds is nil, the duration is derived
// from (end - start) rounded down to the second; the timer core supplies the
// precise accumulator value instead when it has one.
func (r *Repo) SaveTimeEntry(ctx context.Context, e *TimeEntry) error {
	if e.UserID == 0 || e.ClientID == 0 || e.ProjectID == 0 {
		return errors.New("entity: time entry requires user, client, and project")
	}
	if e.StartTime.IsZero() {
		return errors.New("entity: time entry requires a start time")
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return errors.New("entity: end time precedes start time")
	}

	if e.EndTime != nil && e.DurationSeconds == nil {
		secs := int64(e.EndTime.Sub(e.StartTime).Seconds())
		e.DurationSeconds = &secs
	}

	return r.st.WithTx(ctx, func(ctx context.Context) error {
		if e.ID == 0 {
			e.CreatedAt = r.now()
			id, err := r.st.Insert(ctx, "time_entries", r.entryValues(e))
			if err != nil {
				return fmt.Errorf("entity: insert time entry: %w", err)
			}
			e.ID = id
			return r.ensureSyncRecord(ctx, KindTimeEntry, id)
		}

		existing, err := r.GetTimeEntry(ctx, e.ID)
		if err != nil {
			return err
		}
		if existing.EndTime != nil && e.EndTime == nil {
			return errors.New("entity: cannot reopen a finished time entry")
		}

		e.IsEdited = true
		values := r.entryValues(e)
		delete(values, "created_at")
		if err := r.st.Update(ctx, "time_entries", e.ID, values); err != nil {
			return fmt.Errorf("entity: update time entry %d: %w", e.ID, err)
		}
		return r.resetSyncRecord(ctx, KindTimeEntry, e.ID)
	})
}

func (r *Repo) entryValues(e *TimeEntry) store.Row {
	var end, duration any
	if e.EndTime != nil {
		end = FormatTime(*e.EndTime)
	}
	if e.DurationSeconds != nil {
		duration = *e.DurationSeconds
	}
	return store.Row{
		"user_id":          e.UserID,
		"client_id":        e.ClientID,
		"project_id":       e.ProjectID,
		"start_time":       FormatTime(e.StartTime),
		"end_time":         end,
		"duration_seconds": duration,
		"notes":            e.Notes,
		"is_billable":      boolToInt(e.IsBillable),
		"is_edited":        boolToInt(e.IsEdited),
		"is_manual":        boolToInt(e.IsManual),
		"created_at":       FormatTime(e.CreatedAt),
	}
}

// FinishTimeEntry closes an active entry with the authoritative duration from
// the timer accumulator. Unlike SaveTimeEntry it does not mark the entry
// edited; it does reset the sync record so the final state is uploaded even
// when a sync run already transmitted the entry while it was active.
func (r *Repo) FinishTimeEntry(ctx context.Context, id int64, end time.Time, durationSeconds int64) error {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return r.st.WithTx(ctx, func(ctx context.Context) error {
		existing, err := r.GetTimeEntry(ctx, id)
		if err != nil {
			return err
		}
		if end.Before(existing.StartTime) {
			return errors.New("entity: end time precedes start time")
		}
		if err := r.st.Update(ctx, "time_entries", id, store.Row{
			"end_time":         FormatTime(end),
			"duration_seconds": durationSeconds,
		}); err != nil {
			return fmt.Errorf("entity: finish time entry %d: %w", id, err)
		}
		return r.resetSyncRecord(ctx, KindTimeEntry, id)
	})
}

const entryColumns = `id, user_id, client_id, project_id, start_time, end_time,
	duration_seconds, notes, is_billable, is_edited, is_manual, created_at`

// GetTimeEntry fetches a time entry by id.
func (r *Repo) GetTimeEntry(ctx context.Context, id int64) (TimeEntry, error) {
	return scanEntry(r.st.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM time_entries WHERE id = ?`, id))
}

// GetActiveTimeEntry returns the user's entry with no end time, or
// ErrNotFound when the user has none.
func (r *Repo) GetActiveTimeEntry(ctx context.Context, userID int64) (TimeEntry, error) {
	return scanEntry(r.st.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM time_entries
		 WHERE user_id = ? AND end_time IS NULL
		 ORDER BY start_time DESC LIMIT 1`, userID))
}

// ListTimeEntries returns finished and active entries for a user whose start
// time falls within [from, to). A zero userID lists all users.
func (r *Repo) ListTimeEntries(ctx context.Context, userID int64, from, to string) ([]TimeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM time_entries WHERE start_time >= ? AND start_time < ?`
	args := []any{from, to}
	if userID != 0 {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY start_time`

	rows, err := r.st.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeEntry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListExpiredEntries returns ids of finished entries older than the cutoff
// whose sync record, if any, is not pending.
func (r *Repo) ListExpiredEntries(ctx context.Context, cutoff string) ([]int64, error) {
	return r.entryIDs(ctx,
		`SELECT te.id FROM time_entries te
		 WHERE te.end_time IS NOT NULL AND te.end_time < ?
		   AND NOT EXISTS (
		     SELECT 1 FROM sync_records sr
		     WHERE sr.entity_kind = 'time_entry' AND sr.entity_id = te.id AND sr.is_synced = 0)`,
		cutoff)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row *sql.Row) (TimeEntry, error) {
	e, err := scanEntryRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TimeEntry{}, store.ErrNotFound
	}
	return e, err
}

func scanEntryRows(row rowScanner) (TimeEntry, error) {
	var (
		e        TimeEntry
		start    string
		end      sql.NullString
		duration sql.NullInt64
		billable int64
		edited   int64
		manual   int64
		created  string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.ClientID, &e.ProjectID, &start, &end,
		&duration, &e.Notes, &billable, &edited, &manual, &created)
	if err != nil {
		return TimeEntry{}, err
	}

	if e.StartTime, err = ParseTime(start); err != nil {
		return TimeEntry{}, err
	}
	if end.Valid {
		t, err := ParseTime(end.String)
		if err != nil {
			return TimeEntry{}, err
		}
		e.EndTime = &t
	}
	if duration.Valid {
		d := duration.Int64
		e.DurationSeconds = &d
	}
	e.IsBillable = billable != 0
	e.IsEdited = edited != 0
	e.IsManual = manual != 0
	if e.CreatedAt, err = ParseTime(created); err != nil {
		return TimeEntry{}, err
	}
	return e, nil
}

// DeleteTimeEntry removes an entry, its captures (with files), and all
// related sync records in one transaction.
func (r *Repo) DeleteTimeEntry(ctx context.Context, id int64) error {
	var files []string
	err := r.st.WithTx(ctx, func(ctx context.Context) error {
		var err error
		files, err = r.deleteTimeEntryTx(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	unlinkAll(files)
	return nil
}

func (r *Repo) deleteTimeEntryTx(ctx context.Context, id int64) ([]string, error) {
	captures, err := r.GetCapturesByTimeEntry(ctx, id, true)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, c := range captures {
		if err := r.deleteSyncRecord(ctx, KindCapture, c.ID); err != nil {
			return nil, err
		}
		if err := r.st.DeleteRow(ctx, "captures", c.ID); err != nil {
			return nil, err
		}
		if c.FilePath != "" {
			files = append(files, c.FilePath)
		}
	}

	if err := r.deleteSyncRecord(ctx, KindTimeEntry, id); err != nil {
		return nil, err
	}
	if err := r.st.DeleteRow(ctx, "time_entries", id); err != nil {
		return nil, err
	}
	return files, nil
}

func unlinkAll(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}
