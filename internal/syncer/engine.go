// Package syncer drains the sync queue and transmits pending entities to the
// remote backend. Time entries go first so a capture's referenced entry
// usually exists remotely before the capture arrives; this is a best-effort
// ordering, not a strict dependency.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/queue"
	"github.com/example/timetracker/internal/remote"
	"github.com/example/timetracker/internal/retention"
)

// batchLimit bounds how many entities of each kind one run transmits.
const batchLimit = 50

// cleanupEvery is the minimum interval between retention runs triggered by
// the sync engine.
const cleanupEvery = 24 * time.Hour

// Counts summarises one kind's outcome within a run.
type Counts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// CleanupSummary reports retention work piggybacked on a sync run.
type CleanupSummary struct {
	TotalDeleted int `json:"totalDeleted"`
}

// Summary is the result of one SyncPending run.
type Summary struct {
	TimeEntries Counts         `json:"timeEntries"`
	Captures    Counts         `json:"captures"`
	Cleanup     CleanupSummary `json:"cleanup"`
}

// Options configure the engine.
type Options struct {
	AppVersion string
	Now        func() time.Time
	Logger     *slog.Logger
}

type inflightCall struct {
	done    chan struct{}
	summary Summary
	err     error
}

// Engine coordinates queue drains, payload enrichment, and backend uploads.
// At most one run is in flight per process; concurrent callers coalesce onto
// the in-flight run and receive its result.
type Engine struct {
	repo      *entity.Repo
	queue     *queue.Queue
	backend   remote.Backend
	retention *retention.Manager

	appVersion string
	now        func() time.Time
	logger     *slog.Logger

	mu          sync.Mutex
	inflight    *inflightCall
	lastCleanup time.Time

	autoMu     sync.Mutex
	autoCancel context.CancelFunc
	autoDone   chan struct{}
}

// New wires the engine. The retention manager may be nil when cleanup is
// driven externally.
func New(repo *entity.Repo, q *queue.Queue, backend remote.Backend, ret *retention.Manager, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AppVersion == "" {
		opts.AppVersion = "dev"
	}
	return &Engine{
		repo:       repo,
		queue:      q,
		backend:    backend,
		retention:  ret,
		appVersion: opts.AppVersion,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// SyncPending transmits one batch of pending entities. A call made while a
// run is in flight waits for that run and returns its result.
func (e *Engine) SyncPending(ctx context.Context) (Summary, error) {
	e.mu.Lock()
	if e.inflight != nil {
		call := e.inflight
		e.mu.Unlock()
		select {
		case <-call.done:
			return call.summary, call.err
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	e.inflight = call
	e.mu.Unlock()

	summary, err := e.run(ctx)

	e.mu.Lock()
	e.inflight = nil
	e.mu.Unlock()

	call.summary = summary
	call.err = err
	close(call.done)
	return summary, err
}

func (e *Engine) run(ctx context.Context) (Summary, error) {
	var summary Summary

	if err := e.backend.Initialize(ctx); err != nil {
		e.logger.Warn("sync skipped", "service", "syncer", "error", err)
		return summary, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}

	e.syncTimeEntries(ctx, &summary)
	e.syncCaptures(ctx, &summary)

	// Retention shares the engine's single-flight window so deletes never
	// race the uploads above.
	if e.retention != nil && e.now().Sub(e.lastCleanup) >= cleanupEvery {
		result := e.retention.Run(ctx)
		summary.Cleanup.TotalDeleted = result.TotalDeleted()
		e.lastCleanup = e.now()
	}

	e.logger.Info("sync run finished",
		"service", "syncer",
		"entries_synced", summary.TimeEntries.Synced,
		"entries_failed", summary.TimeEntries.Failed,
		"captures_synced", summary.Captures.Synced,
		"captures_failed", summary.Captures.Failed,
		"cleanup_deleted", summary.Cleanup.TotalDeleted)
	return summary, nil
}

func (e *Engine) syncTimeEntries(ctx context.Context, summary *Summary) {
	if pending, err := e.queue.PendingCount(ctx, entity.KindTimeEntry); err == nil {
		summary.TimeEntries.Pending = pending
	}

	ids, err := e.queue.Drain(ctx, entity.KindTimeEntry, batchLimit)
	if err != nil {
		e.logger.Warn("entry drain failed", "service", "syncer", "error", err)
		return
	}

	for _, id := range ids {
		if err := e.uploadTimeEntry(ctx, id); err != nil {
			summary.TimeEntries.Failed++
			e.annotate(ctx, entity.KindTimeEntry, id, err)
			continue
		}
		if err := e.queue.MarkSynced(ctx, entity.KindTimeEntry, id); err != nil {
			e.logger.Error("mark synced failed",
				"service", "syncer", "entry_id", id, "error", err)
			continue
		}
		summary.TimeEntries.Synced++
	}
}

func (e *Engine) uploadTimeEntry(ctx context.Context, id int64) error {
	entry, err := e.repo.GetTimeEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}
	payload, err := e.buildEntryPayload(ctx, entry)
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}
	name := remote.TimeEntryName(entry.ID, entry.StartTime)
	if _, err := e.backend.UploadJSON(ctx, remote.FolderTimeEntries, name, payload); err != nil {
		return err
	}
	return nil
}

func (e *Engine) syncCaptures(ctx context.Context, summary *Summary) {
	if pending, err := e.queue.PendingCount(ctx, entity.KindCapture); err == nil {
		summary.Captures.Pending = pending
	}

	ids, err := e.queue.Drain(ctx, entity.KindCapture, batchLimit)
	if err != nil {
		e.logger.Warn("capture drain failed", "service", "syncer", "error", err)
		return
	}

	for _, id := range ids {
		if err := e.uploadCapture(ctx, id); err != nil {
			summary.Captures.Failed++
			e.annotate(ctx, entity.KindCapture, id, err)
			continue
		}
		if err := e.queue.MarkSynced(ctx, entity.KindCapture, id); err != nil {
			e.logger.Error("mark synced failed",
				"service", "syncer", "capture_id", id, "error", err)
			continue
		}
		summary.Captures.Synced++
	}
}

func (e *Engine) uploadCapture(ctx context.Context, id int64) error {
	cap, err := e.repo.GetCapture(ctx, id)
	if err != nil {
		return fmt.Errorf("load capture: %w", err)
	}
	// The drain filters tombstones, but a capture can be tombstoned while
	// earlier items of the same batch upload. Re-check before transmitting;
	// returning nil lets the caller mark the record synced so it leaves the
	// pending set without the file ever going out.
	if cap.IsDeleted {
		e.logger.Debug("capture tombstoned mid-run, skipping",
			"service", "syncer", "capture_id", id)
		return nil
	}

	data, err := os.ReadFile(cap.FilePath)
	if err != nil {
		return fmt.Errorf("read capture file: %w", err)
	}

	name := remote.CaptureName(cap.TimeEntryID, cap.TakenAt)
	remoteID, err := e.backend.UploadBinary(ctx, remote.FolderCaptures, name, data, "image/png")
	if err != nil {
		return err
	}

	cap.RemoteRef = remoteID
	if err := e.repo.SaveCapture(ctx, &cap); err != nil {
		e.logger.Warn("remote ref not recorded",
			"service", "syncer", "capture_id", id, "error", err)
	}
	return nil
}

func (e *Engine) annotate(ctx context.Context, kind entity.Kind, id int64, cause error) {
	e.logger.Warn("item sync failed",
		"service", "syncer", "kind", string(kind), "id", id, "error", cause)
	if err := e.queue.MarkError(ctx, kind, id, cause.Error()); err != nil {
		e.logger.Error("mark error failed",
			"service", "syncer", "kind", string(kind), "id", id, "error", err)
	}
}

// StartAuto begins periodic syncing: one run after an initial delay, then
// one per interval. Calling it again restarts the loop.
func (e *Engine) StartAuto(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	e.autoMu.Lock()
	if e.autoCancel != nil {
		e.autoCancel()
		<-e.autoDone
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.autoCancel = cancel
	e.autoDone = done
	e.autoMu.Unlock()

	initial := interval / 10
	if initial > time.Minute {
		initial = time.Minute
	}

	go func() {
		defer close(done)
		select {
		case <-loopCtx.Done():
			return
		case <-time.After(initial):
		}
		for {
			if _, err := e.SyncPending(loopCtx); err != nil {
				e.logger.Warn("auto sync failed", "service", "syncer", "error", err)
			}
			select {
			case <-loopCtx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
}

// StopAuto halts the periodic loop and waits for it to exit.
func (e *Engine) StopAuto() {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoCancel == nil {
		return
	}
	e.autoCancel()
	<-e.autoDone
	e.autoCancel = nil
	e.autoDone = nil
}
