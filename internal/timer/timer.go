// Package timer implements the per-user elapsed-time state machine. The
// monotonic clock is the source of truth for elapsed time; wall time is used
// only for persisted timestamps.
package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/logging"
	"github.com/example/timetracker/internal/store"
)

// State of one user's timer.
type State int

const (
	// Idle means no session is in progress.
	Idle State = iota
	// Running means time is accruing.
	Running
	// Paused means a session exists but time is not accruing.
	Paused
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

var (
	// ErrTimerActive is returned when starting a timer for a user that
	// already has one running or paused.
	ErrTimerActive = errors.New("timer: timer already active")
	// ErrNoActiveTimer is returned for pause/resume/stop without a session.
	ErrNoActiveTimer = errors.New("timer: no active timer")
	// ErrNotRunning is returned for transitions requiring the Running state.
	ErrNotRunning = errors.New("timer: timer is not running")
	// ErrNotPaused is returned for resume when the timer is not paused.
	ErrNotPaused = errors.New("timer: timer is not paused")
	// ErrIdleBeforeStart rejects idle discards that precede the entry start.
	ErrIdleBeforeStart = errors.New("timer: idle boundary precedes entry start")
)

// Clocks bundles the two time sources the state machine needs. Mono must be
// monotonic; the default reads the process-monotonic clock via time.Since.
type Clocks struct {
	Wall func() time.Time
	Mono func() time.Duration
}

// SystemClocks returns real wall and monotonic clocks.
func SystemClocks() Clocks {
	base := time.Now()
	return Clocks{
		Wall: time.Now,
		Mono: func() time.Duration { return time.Since(base) },
	}
}

type session struct {
	state       State
	startMark   time.Duration
	accumulated time.Duration
	entryID     int64
}

// Timer owns all per-user timer state. Other components observe it through
// events or Status.
type Timer struct {
	repo   *entity.Repo
	clocks Clocks
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*session

	events chan Event
}

// New wires the state machine. Zero-valued Clocks fields fall back to the
// system clocks.
func New(repo *entity.Repo, clocks Clocks, logger *slog.Logger) *Timer {
	sys := SystemClocks()
	if clocks.Wall == nil {
		clocks.Wall = sys.Wall
	}
	if clocks.Mono == nil {
		clocks.Mono = sys.Mono
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		repo:     repo,
		clocks:   clocks,
		logger:   logger,
		sessions: make(map[int64]*session),
		events:   make(chan Event, 64),
	}
}

// Events exposes the lifecycle event stream consumed by the orchestrator.
// Events for a single user are delivered in the order emitted.
func (t *Timer) Events() <-chan Event {
	return t.events
}

// Start begins a new session for the username on (client, project), creating
// the user on first sighting. Fails with ErrTimerActive when a session
// already exists, and with a conflict when an active entry row survives from
// an earlier process (use Status to recover it instead).
func (t *Timer) Start(ctx context.Context, username string, clientID, projectID int64, billable bool) (entity.TimeEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, err := t.repo.FindOrCreateUser(ctx, username)
	if err != nil {
		return entity.TimeEntry{}, err
	}

	if s, ok := t.sessions[user.ID]; ok && s.state != Idle {
		return entity.TimeEntry{}, fmt.Errorf("%w for %q", ErrTimerActive, username)
	}
	if _, err := t.repo.GetActiveTimeEntry(ctx, user.ID); err == nil {
		return entity.TimeEntry{}, fmt.Errorf("%w: unfinished entry persisted for %q", ErrTimerActive, username)
	} else if !errors.Is(err, store.ErrNotFound) {
		return entity.TimeEntry{}, err
	}

	entry := entity.TimeEntry{
		UserID:     user.ID,
		ClientID:   clientID,
		ProjectID:  projectID,
		StartTime:  t.clocks.Wall(),
		IsBillable: billable,
	}
	if err := t.repo.SaveTimeEntry(ctx, &entry); err != nil {
		return entity.TimeEntry{}, err
	}

	t.sessions[user.ID] = &session{
		state:     Running,
		startMark: t.clocks.Mono(),
		entryID:   entry.ID,
	}

	t.log(ctx, "start", user.ID, entry.ID)
	t.emit(Event{Kind: EventStarted, UserID: user.ID, Username: username, Entry: entry})
	return entry, nil
}

// Pause suspends accrual. Nothing is persisted until stop.
func (t *Timer) Pause(ctx context.Context, username string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, s, err := t.lookup(ctx, username)
	if err != nil {
		return err
	}
	if s.state != Running {
		return ErrNotRunning
	}

	s.accumulated += clampSpan(t.clocks.Mono() - s.startMark)
	s.state = Paused

	t.log(ctx, "pause", user.ID, s.entryID)
	t.emit(Event{Kind: EventPaused, UserID: user.ID, Username: username})
	return nil
}

// Resume restarts accrual from a paused session.
func (t *Timer) Resume(ctx context.Context, username string) (entity.TimeEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, s, err := t.lookup(ctx, username)
	if err != nil {
		return entity.TimeEntry{}, err
	}
	if s.state != Paused {
		return entity.TimeEntry{}, ErrNotPaused
	}

	s.startMark = t.clocks.Mono()
	s.state = Running

	entry, err := t.repo.GetTimeEntry(ctx, s.entryID)
	if err != nil {
		return entity.TimeEntry{}, err
	}

	t.log(ctx, "resume", user.ID, s.entryID)
	t.emit(Event{Kind: EventResumed, UserID: user.ID, Username: username, Entry: entry})
	return entry, nil
}

// Stop ends the session and persists the entry with the accumulated
// duration. In-memory state transitions to Idle only after the row commits;
// on persistence failure the session stays as it was and the error surfaces.
func (t *Timer) Stop(ctx context.Context, username string) (entity.TimeEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, s, err := t.lookup(ctx, username)
	if err != nil {
		return entity.TimeEntry{}, err
	}
	if s.state == Idle {
		return entity.TimeEntry{}, ErrNoActiveTimer
	}

	total := s.accumulated
	if s.state == Running {
		total += clampSpan(t.clocks.Mono() - s.startMark)
	}

	end := t.clocks.Wall()
	durationSeconds := int64(total / time.Second)
	if err := t.repo.FinishTimeEntry(ctx, s.entryID, end, durationSeconds); err != nil {
		return entity.TimeEntry{}, err
	}

	delete(t.sessions, user.ID)

	entry, err := t.repo.GetTimeEntry(ctx, s.entryID)
	if err != nil {
		return entity.TimeEntry{}, err
	}

	t.log(ctx, "stop", user.ID, s.entryID, "duration_seconds", durationSeconds)
	t.emit(Event{Kind: EventStopped, UserID: user.ID, Username: username, Entry: entry})
	return entry, nil
}

// DiscardIdle truncates the current running span at idleStart, moving the
// session to Paused with the discarded interval excluded from the
// accumulator. The idle window is reported so captures inside it can be
// tombstoned.
func (t *Timer) DiscardIdle(ctx context.Context, username string, idleStart time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, s, err := t.lookup(ctx, username)
	if err != nil {
		return err
	}
	if s.state != Running {
		return ErrNotRunning
	}

	entry, err := t.repo.GetTimeEntry(ctx, s.entryID)
	if err != nil {
		return err
	}
	if idleStart.Before(entry.StartTime) {
		return ErrIdleBeforeStart
	}

	now := t.clocks.Wall()
	// Translate the wall boundary into the monotonic frame via the current
	// wall-to-monotonic delta, then clamp into the running span.
	running := clampSpan(t.clocks.Mono() - s.startMark)
	kept := running - now.Sub(idleStart)
	if kept < 0 {
		kept = 0
	}
	if kept > running {
		kept = running
	}

	s.accumulated += kept
	s.startMark = 0
	s.state = Paused

	t.log(ctx, "discard_idle", user.ID, s.entryID, "idle_start", idleStart)
	t.emit(Event{
		Kind:      EventIdleDiscarded,
		UserID:    user.ID,
		Username:  username,
		Entry:     entry,
		IdleStart: idleStart,
		IdleEnd:   now,
	})
	return nil
}

// AddNotes writes notes on the current entry.
func (t *Timer) AddNotes(ctx context.Context, username string, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, s, err := t.lookup(ctx, username)
	if err != nil {
		return err
	}

	entry, err := t.repo.GetTimeEntry(ctx, s.entryID)
	if err != nil {
		return err
	}
	entry.Notes = text
	return t.repo.SaveTimeEntry(ctx, &entry)
}

// Status describes one user's timer for callers and the UI layer.
type Status struct {
	Active         bool
	State          State
	Entry          entity.TimeEntry
	ElapsedSeconds int64
}

// UserStatus reports the user's session. When the process restarted while an
// entry was active, the session is reconstructed best-effort from wall time
// and a restored event is emitted.
func (t *Timer) UserStatus(ctx context.Context, username string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, err := t.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Status{}, nil
		}
		return Status{}, err
	}

	if s, ok := t.sessions[user.ID]; ok && s.state != Idle {
		entry, err := t.repo.GetTimeEntry(ctx, s.entryID)
		if err != nil {
			return Status{}, err
		}
		return Status{
			Active:         true,
			State:          s.state,
			Entry:          entry,
			ElapsedSeconds: int64(t.elapsed(s) / time.Second),
		}, nil
	}

	entry, err := t.repo.GetActiveTimeEntry(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Status{}, nil
		}
		return Status{}, err
	}

	// Precise accumulator state was lost with the old process; approximate
	// from wall time and treat the session as running.
	accumulated := t.clocks.Wall().Sub(entry.StartTime)
	if accumulated < 0 {
		accumulated = 0
	}
	t.sessions[user.ID] = &session{
		state:       Running,
		startMark:   t.clocks.Mono(),
		accumulated: accumulated,
		entryID:     entry.ID,
	}

	t.log(ctx, "restore", user.ID, entry.ID)
	t.emit(Event{Kind: EventRestored, UserID: user.ID, Username: username, Entry: entry})

	return Status{
		Active:         true,
		State:          Running,
		Entry:          entry,
		ElapsedSeconds: int64(accumulated / time.Second),
	}, nil
}

// ActiveEntryID returns the in-memory session's entry id, if any. The capture
// scheduler uses it to re-verify an entry before firing.
func (t *Timer) ActiveEntryID(userID int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[userID]
	if !ok || s.state != Running {
		return 0, false
	}
	return s.entryID, true
}

func (t *Timer) elapsed(s *session) time.Duration {
	total := s.accumulated
	if s.state == Running {
		total += clampSpan(t.clocks.Mono() - s.startMark)
	}
	return total
}

func (t *Timer) lookup(ctx context.Context, username string) (entity.User, *session, error) {
	user, err := t.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return entity.User{}, nil, ErrNoActiveTimer
		}
		return entity.User{}, nil, err
	}
	s, ok := t.sessions[user.ID]
	if !ok {
		return entity.User{}, nil, ErrNoActiveTimer
	}
	return user, s, nil
}

func (t *Timer) emit(ev Event) {
	t.events <- ev
}

func (t *Timer) log(ctx context.Context, operation string, userID, entryID int64, attrs ...any) {
	logger := logging.FromContext(ctx, t.logger)
	pairs := append([]any{"service", "timer", "operation", operation,
		"user_id", userID, "entry_id", entryID}, attrs...)
	logger.Info("timer transition", pairs...)
}

// clampSpan guards against clock adjustments producing negative spans.
func clampSpan(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
