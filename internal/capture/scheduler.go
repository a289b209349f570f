// Package capture schedules screen sampling at randomized intervals while a
// timer is running, and tombstones captures taken inside discarded idle
// windows.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/example/timetracker/internal/entity"
)

// Source is the OS capture primitive: one PNG-encoded frame of the primary
// display.
type Source interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// Options tune the scheduler. Zero durations fall back to the 5 and 15
// minute defaults.
type Options struct {
	Dir        string
	MinDelay   time.Duration
	MaxDelay   time.Duration
	OnCapture  func(entity.Capture)
	VerifyFunc func(userID int64) (entryID int64, active bool)
}

// Scheduler runs one sampling loop per user. Loops do not share state.
type Scheduler struct {
	repo   *entity.Repo
	source Source
	opts   Options
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	loops map[int64]context.CancelFunc
	wg    sync.WaitGroup
}

// NewScheduler wires the scheduler.
func NewScheduler(repo *entity.Repo, source Source, opts Options, logger *slog.Logger) *Scheduler {
	if opts.MinDelay <= 0 {
		opts.MinDelay = 5 * time.Minute
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		repo:   repo,
		source: source,
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		loops:  make(map[int64]context.CancelFunc),
	}
}

// StartUser arms the sampling loop for (user, entry). An existing loop for
// the user is cancelled first, so restart recovery replaces any one-shot
// carried over from before.
func (s *Scheduler) StartUser(ctx context.Context, userID, entryID int64) {
	s.mu.Lock()
	if cancel, ok := s.loops[userID]; ok {
		cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.loops[userID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(loopCtx, userID, entryID)
}

// StopUser cancels the user's sampling loop, if any.
func (s *Scheduler) StopUser(userID int64) {
	s.mu.Lock()
	if cancel, ok := s.loops[userID]; ok {
		cancel()
		delete(s.loops, userID)
	}
	s.mu.Unlock()
}

// StopAll cancels every loop and waits for them to drain.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for userID, cancel := range s.loops {
		cancel()
		delete(s.loops, userID)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, userID, entryID int64) {
	defer s.wg.Done()

	for {
		delay := s.drawDelay()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		// The timer may have stopped between arming and firing.
		if s.opts.VerifyFunc != nil {
			current, active := s.opts.VerifyFunc(userID)
			if !active || current != entryID {
				return
			}
		}
		if entry, err := s.repo.GetTimeEntry(ctx, entryID); err != nil || !entry.Active() {
			return
		}

		if err := s.takeCapture(ctx, entryID); err != nil {
			s.logger.Warn("capture failed",
				"service", "capture", "user_id", userID, "entry_id", entryID, "error", err)
		}
	}
}

func (s *Scheduler) takeCapture(ctx context.Context, entryID int64) error {
	frame, err := s.source.CaptureFrame(ctx)
	if err != nil {
		return fmt.Errorf("capture: grab frame: %w", err)
	}

	takenAt := time.Now()
	path := filepath.Join(s.opts.Dir, fmt.Sprintf("te_%d_%d.png", entryID, takenAt.UnixMilli()))
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return fmt.Errorf("capture: write %s: %w", path, err)
	}

	cap := entity.Capture{
		TimeEntryID: entryID,
		FilePath:    path,
		TakenAt:     takenAt,
	}
	if err := s.repo.SaveCapture(ctx, &cap); err != nil {
		// Orphan file without a row; remove it to keep the directory and
		// the table consistent.
		_ = os.Remove(path)
		return err
	}

	s.logger.Debug("capture stored",
		"service", "capture", "entry_id", entryID, "capture_id", cap.ID, "path", path)
	if s.opts.OnCapture != nil {
		s.opts.OnCapture(cap)
	}
	return nil
}

// DiscardIdleWindow tombstones captures of the entry taken inside
// [idleStart, idleEnd]. Files stay on disk; the sync engine skips tombstoned
// rows.
func (s *Scheduler) DiscardIdleWindow(ctx context.Context, entryID int64, idleStart, idleEnd time.Time) (int, error) {
	n, err := s.repo.TombstoneCapturesBetween(ctx, entryID,
		entity.FormatTime(idleStart), entity.FormatTime(idleEnd))
	if err != nil {
		return 0, fmt.Errorf("capture: tombstone idle window: %w", err)
	}
	if n > 0 {
		s.logger.Info("idle captures tombstoned",
			"service", "capture", "entry_id", entryID, "count", n)
	}
	return n, nil
}

func (s *Scheduler) drawDelay() time.Duration {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	spread := s.opts.MaxDelay - s.opts.MinDelay
	if spread <= 0 {
		return s.opts.MinDelay
	}
	return s.opts.MinDelay + time.Duration(s.rng.Int63n(int64(spread)+1))
}
