package timer

import (
	"time"

	"github.com/example/timetracker/internal/entity"
)

// EventKind enumerates timer lifecycle events.
type EventKind int

const (
	// EventStarted fires when a session begins.
	EventStarted EventKind = iota
	// EventPaused fires when accrual suspends.
	EventPaused
	// EventResumed fires when accrual restarts.
	EventResumed
	// EventStopped fires when a session ends and is persisted.
	EventStopped
	// EventIdleDiscarded fires when an idle interval is truncated.
	EventIdleDiscarded
	// EventRestored fires when an orphan active entry is recovered after a
	// process restart.
	EventRestored
)

// String returns the event name used in logs and UI payloads.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventStopped:
		return "stopped"
	case EventIdleDiscarded:
		return "idle_discarded"
	case EventRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// Event is one typed lifecycle message. Entry is populated for kinds that
// concern a specific time entry; the idle window is set only for
// EventIdleDiscarded.
type Event struct {
	Kind      EventKind
	UserID    int64
	Username  string
	Entry     entity.TimeEntry
	IdleStart time.Time
	IdleEnd   time.Time
}
