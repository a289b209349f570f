// Package retention garbage-collects aged data locally and remotely. It
// never deletes an entity whose sync record is still pending.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/remote"
)

// Manager runs the local and remote sweeps.
type Manager struct {
	repo       *entity.Repo
	backend    remote.Backend
	now        func() time.Time
	localDays  int
	remoteDays int
	logger     *slog.Logger
}

// Result summarises one retention run. Individual deletion failures are
// counted and do not abort the sweep.
type Result struct {
	LocalEntriesDeleted  int
	LocalCapturesDeleted int
	RemoteDeleted        int
	Errors               int
}

// TotalDeleted sums all deletions of the run.
func (r Result) TotalDeleted() int {
	return r.LocalEntriesDeleted + r.LocalCapturesDeleted + r.RemoteDeleted
}

// New wires the manager. Day windows at or below zero fall back to the 90
// and 365 day defaults.
func New(repo *entity.Repo, backend remote.Backend, localDays, remoteDays int, now func() time.Time, logger *slog.Logger) *Manager {
	if localDays <= 0 {
		localDays = 90
	}
	if remoteDays <= 0 {
		remoteDays = 365
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:       repo,
		backend:    backend,
		now:        now,
		localDays:  localDays,
		remoteDays: remoteDays,
		logger:     logger,
	}
}

// Run performs the local sweep and, when a backend is configured, the remote
// sweep.
func (m *Manager) Run(ctx context.Context) Result {
	result := m.RunLocal(ctx)
	if m.backend != nil {
		remoteResult := m.RunRemote(ctx)
		result.RemoteDeleted = remoteResult.RemoteDeleted
		result.Errors += remoteResult.Errors
	}

	m.logger.Info("retention run finished",
		"service", "retention",
		"local_entries", result.LocalEntriesDeleted,
		"local_captures", result.LocalCapturesDeleted,
		"remote", result.RemoteDeleted,
		"errors", result.Errors)
	return result
}

// RunLocal deletes finished time entries and captures older than the local
// window, excluding anything with a pending sync record.
func (m *Manager) RunLocal(ctx context.Context) Result {
	var result Result
	cutoff := entity.FormatTime(m.now().AddDate(0, 0, -m.localDays))

	entryIDs, err := m.repo.ListExpiredEntries(ctx, cutoff)
	if err != nil {
		m.logger.Warn("expired entry scan failed", "service", "retention", "error", err)
		result.Errors++
	}
	for _, id := range entryIDs {
		if err := m.repo.DeleteTimeEntry(ctx, id); err != nil {
			m.logger.Warn("entry deletion failed",
				"service", "retention", "entry_id", id, "error", err)
			result.Errors++
			continue
		}
		result.LocalEntriesDeleted++
	}

	captureIDs, err := m.repo.ListExpiredCaptures(ctx, cutoff)
	if err != nil {
		m.logger.Warn("expired capture scan failed", "service", "retention", "error", err)
		result.Errors++
	}
	for _, id := range captureIDs {
		if err := m.repo.DeleteCapture(ctx, id); err != nil {
			m.logger.Warn("capture deletion failed",
				"service", "retention", "capture_id", id, "error", err)
			result.Errors++
			continue
		}
		result.LocalCapturesDeleted++
	}

	return result
}

// RunRemote deletes remote files older than the remote window. Backends with
// a bulk cleanup endpoint handle the sweep server-side; others are swept by
// listing and deleting file by file.
func (m *Manager) RunRemote(ctx context.Context) Result {
	var result Result
	cutoff := m.now().AddDate(0, 0, -m.remoteDays)

	if cleaner, ok := m.backend.(remote.Cleaner); ok {
		deleted, err := cleaner.Cleanup(ctx, cutoff)
		if err != nil {
			m.logger.Warn("remote cleanup failed", "service", "retention", "error", err)
			result.Errors++
			return result
		}
		result.RemoteDeleted = deleted
		return result
	}

	for _, folder := range []remote.FolderKind{remote.FolderTimeEntries, remote.FolderCaptures} {
		files, err := m.backend.ListByNameContains(ctx, folder, "")
		if err != nil {
			m.logger.Warn("remote listing failed",
				"service", "retention", "folder", string(folder), "error", err)
			result.Errors++
			continue
		}
		for _, f := range files {
			if !f.CreatedAt.Before(cutoff) {
				continue
			}
			if err := m.backend.Delete(ctx, f.ID); err != nil {
				m.logger.Warn("remote deletion failed",
					"service", "retention", "remote_id", f.ID, "error", err)
				result.Errors++
				continue
			}
			result.RemoteDeleted++
		}
	}
	return result
}
