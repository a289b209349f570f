// Package entity implements the domain layer over the embedded store: users,
// clients, projects, time entries, captures, and their sync records. All
// cascading deletes live here, expressed as explicit calls.
package entity

import (
	"errors"
	"time"

	"github.com/example/timetracker/internal/store"
)

// Kind identifies a syncable entity class in sync records and remote names.
type Kind string

const (
	// KindTimeEntry marks time entry rows.
	KindTimeEntry Kind = "time_entry"
	// KindCapture marks capture rows.
	KindCapture Kind = "capture"
)

// ErrNotFound mirrors the store sentinel for callers that only import entity.
var ErrNotFound = store.ErrNotFound

// timeFormat is a fixed-width UTC layout so lexicographic ordering in SQL
// matches chronological ordering.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders a timestamp in the canonical storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// ParseTime reads a timestamp in the canonical storage layout.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, errors.New("entity: malformed timestamp " + s)
	}
	return t, nil
}

// User is a workstation account, created on first sighting of a username.
type User struct {
	ID        int64
	Username  string
	IsAdmin   bool
	CreatedAt time.Time
}

// Client is a billing counterpart owning projects.
type Client struct {
	ID   int64
	Name string
}

// Project belongs to a client and owns time entries.
type Project struct {
	ID       int64
	ClientID int64
	Name     string
}

// TimeEntry is one continuous or resumable work session. EndTime nil means
// the entry is active.
type TimeEntry struct {
	ID              int64
	UserID          int64
	ClientID        int64
	ProjectID       int64
	StartTime       time.Time
	EndTime         *time.Time
	DurationSeconds *int64
	Notes           string
	IsBillable      bool
	IsEdited        bool
	IsManual        bool
	CreatedAt       time.Time
}

// Active reports whether the entry has no end time yet.
func (e *TimeEntry) Active() bool {
	return e.EndTime == nil
}

// Capture is one PNG snapshot taken while a timer was active. IsDeleted is a
// tombstone: the row stays, the file may or may not remain on disk.
type Capture struct {
	ID          int64
	TimeEntryID int64
	FilePath    string
	RemoteRef   string
	TakenAt     time.Time
	IsDeleted   bool
	CreatedAt   time.Time
}

// SyncRecord marks that a syncable entity exists and whether it has been
// transmitted to the remote backend.
type SyncRecord struct {
	Kind          Kind
	EntityID      int64
	IsSynced      bool
	LastAttemptAt *time.Time
	LastError     string
}

// Repo exposes the entity operations. All methods honour an enclosing
// store transaction when the context carries one.
type Repo struct {
	st  *store.Store
	now func() time.Time
}

// NewRepo wires the repository; a nil now defaults to time.Now.
func NewRepo(st *store.Store, now func() time.Time) *Repo {
	if now == nil {
		now = time.Now
	}
	return &Repo{st: st, now: now}
}

// Store exposes the underlying store for callers that need the raw
// transactional facade alongside entity operations.
func (r *Repo) Store() *store.Store {
	return r.st
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
