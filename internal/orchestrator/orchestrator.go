// Package orchestrator wires timer lifecycle events to the capture scheduler
// and the sync engine, and owns startup recovery and graceful shutdown.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/timetracker/internal/capture"
	"github.com/example/timetracker/internal/remote"
	"github.com/example/timetracker/internal/syncer"
	"github.com/example/timetracker/internal/timer"
)

// IdleFunc is the OS primitive reporting how long the workstation has been
// idle.
type IdleFunc func(ctx context.Context) (time.Duration, error)

// Options configure the orchestrator.
type Options struct {
	Username      string
	SyncInterval  time.Duration
	IdleThreshold time.Duration
	IdlePollEvery time.Duration
	Idle          IdleFunc
	Logger        *slog.Logger
}

// Orchestrator routes lifecycle events between the core components. Events
// are processed sequentially, preserving per-user order.
type Orchestrator struct {
	timer  *timer.Timer
	sched  *capture.Scheduler
	engine *syncer.Engine
	opts   Options
}

// New wires the orchestrator.
func New(t *timer.Timer, sched *capture.Scheduler, engine *syncer.Engine, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 15 * time.Minute
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = 5 * time.Minute
	}
	if opts.IdlePollEvery <= 0 {
		opts.IdlePollEvery = 30 * time.Second
	}
	return &Orchestrator{timer: t, sched: sched, engine: engine, opts: opts}
}

// Run drives the event loop until ctx is cancelled, then shuts down: auto
// sync stops, capture timers are cancelled, and one final bounded sync is
// attempted before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Recover an orphan active entry from a previous process; the restored
	// event re-arms the capture scheduler below.
	if o.opts.Username != "" {
		if _, err := o.timer.UserStatus(ctx, o.opts.Username); err != nil {
			o.opts.Logger.Warn("startup recovery failed",
				"service", "orchestrator", "error", err)
		}
	}

	o.engine.StartAuto(ctx, o.opts.SyncInterval)

	idleCtx, stopIdle := context.WithCancel(ctx)
	defer stopIdle()
	if o.opts.Idle != nil {
		go o.watchIdle(idleCtx)
	}

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case ev := <-o.timer.Events():
			o.dispatch(ctx, ev)
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, ev timer.Event) {
	logger := o.opts.Logger
	logger.Debug("lifecycle event",
		"service", "orchestrator", "event", ev.Kind.String(), "user_id", ev.UserID)

	switch ev.Kind {
	case timer.EventStarted, timer.EventResumed, timer.EventRestored:
		o.sched.StartUser(context.Background(), ev.UserID, ev.Entry.ID)

	case timer.EventPaused:
		o.sched.StopUser(ev.UserID)

	case timer.EventStopped:
		o.sched.StopUser(ev.UserID)
		go func() {
			if _, err := o.engine.SyncPending(context.Background()); err != nil &&
				!errors.Is(err, remote.ErrUnavailable) {
				logger.Warn("post-stop sync failed", "service", "orchestrator", "error", err)
			}
		}()

	case timer.EventIdleDiscarded:
		if _, err := o.sched.DiscardIdleWindow(ctx, ev.Entry.ID, ev.IdleStart, ev.IdleEnd); err != nil {
			logger.Warn("idle window cleanup failed",
				"service", "orchestrator", "entry_id", ev.Entry.ID, "error", err)
		}
	}
}

// watchIdle polls the OS idle counter, truncates the running session when the
// threshold is crossed, and resumes accrual once activity returns.
func (o *Orchestrator) watchIdle(ctx context.Context) {
	ticker := time.NewTicker(o.opts.IdlePollEvery)
	defer ticker.Stop()

	idlePaused := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		idleFor, err := o.opts.Idle(ctx)
		if err != nil {
			o.opts.Logger.Debug("idle query failed", "service", "orchestrator", "error", err)
			continue
		}

		if idleFor < o.opts.IdleThreshold {
			if idlePaused {
				idlePaused = false
				if _, err := o.timer.Resume(ctx, o.opts.Username); err != nil &&
					!errors.Is(err, timer.ErrNotPaused) && !errors.Is(err, timer.ErrNoActiveTimer) {
					o.opts.Logger.Warn("resume after idle failed", "service", "orchestrator", "error", err)
				}
			}
			continue
		}

		idleStart := time.Now().Add(-idleFor)
		err = o.timer.DiscardIdle(ctx, o.opts.Username, idleStart)
		switch {
		case err == nil:
			idlePaused = true
		case errors.Is(err, timer.ErrNotRunning), errors.Is(err, timer.ErrNoActiveTimer):
			// Nothing to truncate.
		default:
			o.opts.Logger.Warn("idle discard failed", "service", "orchestrator", "error", err)
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.engine.StopAuto()
	o.sched.StopAll()

	// Final drain with a bounded deadline; the process exits even if it
	// fails.
	finalCtx, cancel := context.WithTimeout(context.Background(), 2*remote.DefaultTimeout)
	defer cancel()
	if _, err := o.engine.SyncPending(finalCtx); err != nil {
		o.opts.Logger.Warn("final sync failed", "service", "orchestrator", "error", err)
	}
}
