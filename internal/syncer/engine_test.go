package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/logging"
	"github.com/example/timetracker/internal/queue"
	"github.com/example/timetracker/internal/remote"
	"github.com/example/timetracker/internal/retention"
	"github.com/example/timetracker/internal/testfixtures"
)

type harness struct {
	repo    *entity.Repo
	queue   *queue.Queue
	backend *testfixtures.Backend
	clock   *testfixtures.Clock
	user    entity.User
	client  entity.Client
	project entity.Project
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := testfixtures.NewClock(time.Time{})
	repo, st := testfixtures.OpenRepo(t, clock)
	user, client, project := testfixtures.SeedWorkspace(t, repo, "kana", "Acme", "Site")
	backend := testfixtures.NewBackend()
	backend.Now = clock.NowFunc()
	return &harness{
		repo:    repo,
		queue:   queue.New(st, clock.NowFunc()),
		backend: backend,
		clock:   clock,
		user:    user,
		client:  client,
		project: project,
	}
}

func (h *harness) newEngine(ret *retention.Manager) *Engine {
	return New(h.repo, h.queue, h.backend, ret, Options{
		AppVersion: "1.2.3",
		Now:        h.clock.NowFunc(),
		Logger:     logging.New(io.Discard, "error"),
	})
}

func (h *harness) finishedEntry(t *testing.T) entity.TimeEntry {
	t.Helper()
	start := h.clock.Now().Add(-time.Hour)
	end := h.clock.Now()
	dur := int64(3600)
	e := entity.TimeEntry{
		UserID:          h.user.ID,
		ClientID:        h.client.ID,
		ProjectID:       h.project.ID,
		StartTime:       start,
		EndTime:         &end,
		DurationSeconds: &dur,
		Notes:           "wireframes",
		IsBillable:      true,
	}
	if err := h.repo.SaveTimeEntry(context.Background(), &e); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	return e
}

func (h *harness) captureFor(t *testing.T, entryID int64) entity.Capture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cap.png")
	if err := os.WriteFile(path, testfixtures.TinyPNG(t, 8, 8), 0o644); err != nil {
		t.Fatalf("write capture file: %v", err)
	}
	c := entity.Capture{
		TimeEntryID: entryID,
		FilePath:    path,
		TakenAt:     h.clock.Now().Add(-30 * time.Minute),
	}
	if err := h.repo.SaveCapture(context.Background(), &c); err != nil {
		t.Fatalf("save capture: %v", err)
	}
	return c
}

func TestSyncPending_UploadsEntriesAndCaptures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	entry := h.finishedEntry(t)
	cap := h.captureFor(t, entry.ID)

	summary, err := h.newEngine(nil).SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.TimeEntries.Synced != 1 || summary.Captures.Synced != 1 {
		t.Fatalf("expected 1 entry and 1 capture synced, got %+v", summary)
	}
	if summary.TimeEntries.Failed != 0 || summary.Captures.Failed != 0 {
		t.Fatalf("expected no failures, got %+v", summary)
	}

	name := remote.TimeEntryName(entry.ID, entry.StartTime)
	if _, ok := h.backend.FileByName(remote.FolderTimeEntries, name); !ok {
		t.Fatalf("expected remote document %q", name)
	}
	capName := remote.CaptureName(cap.TimeEntryID, cap.TakenAt)
	if _, ok := h.backend.FileByName(remote.FolderCaptures, capName); !ok {
		t.Fatalf("expected remote capture %q", capName)
	}

	for _, probe := range []struct {
		kind entity.Kind
		id   int64
	}{{entity.KindTimeEntry, entry.ID}, {entity.KindCapture, cap.ID}} {
		rec, err := h.repo.GetSyncRecord(ctx, probe.kind, probe.id)
		if err != nil {
			t.Fatalf("get record: %v", err)
		}
		if !rec.IsSynced {
			t.Fatalf("expected %s %d marked synced", probe.kind, probe.id)
		}
	}

	stored, err := h.repo.GetCapture(ctx, cap.ID)
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if stored.RemoteRef == "" {
		t.Fatal("expected the remote ref recorded on the capture")
	}
}

func TestSyncPending_FailedUploadsStayPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	entry := h.finishedEntry(t)
	h.captureFor(t, entry.ID)
	h.backend.FailUploads = true

	engine := h.newEngine(nil)
	summary, err := engine.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.TimeEntries.Failed != 1 || summary.Captures.Failed != 1 {
		t.Fatalf("expected both kinds failed, got %+v", summary)
	}

	rec, err := h.repo.GetSyncRecord(ctx, entity.KindTimeEntry, entry.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.IsSynced {
		t.Fatal("expected the entry still pending")
	}
	if rec.LastError == "" {
		t.Fatal("expected the failure annotated on the record")
	}

	// Connectivity returns; the next run drains the same work.
	h.backend.FailUploads = false
	summary, err = engine.SyncPending(ctx)
	if err != nil {
		t.Fatalf("retry sync: %v", err)
	}
	if summary.TimeEntries.Synced != 1 || summary.Captures.Synced != 1 {
		t.Fatalf("expected the retry to succeed, got %+v", summary)
	}
}

func TestSyncPending_UnavailableBackendLeavesQueueUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	h.finishedEntry(t)
	h.backend.FailInitialize = true

	if _, err := h.newEngine(nil).SyncPending(ctx); !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	n, err := h.queue.PendingCount(ctx, entity.KindTimeEntry)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the entry still queued, got %d pending", n)
	}
	if h.backend.UploadCalls() != 0 {
		t.Fatalf("expected no upload attempts, got %d", h.backend.UploadCalls())
	}
}

func TestSyncPending_SkipsTombstonedCaptures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	entry := h.finishedEntry(t)
	cap := h.captureFor(t, entry.ID)
	if err := h.repo.MarkCaptureDeleted(ctx, cap.ID); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	summary, err := h.newEngine(nil).SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Captures.Synced != 0 || summary.Captures.Failed != 0 {
		t.Fatalf("expected the tombstoned capture skipped, got %+v", summary)
	}
	capName := remote.CaptureName(cap.TimeEntryID, cap.TakenAt)
	if _, ok := h.backend.FileByName(remote.FolderCaptures, capName); ok {
		t.Fatal("expected no remote file for a tombstoned capture")
	}
}

// tombstoneBackend flips a capture's tombstone while an earlier item of the
// same batch uploads, after the drain snapshot was taken.
type tombstoneBackend struct {
	*testfixtures.Backend
	repo   *entity.Repo
	target int64
	calls  int
}

func (b *tombstoneBackend) UploadBinary(ctx context.Context, folder remote.FolderKind, name string, data []byte, mime string) (string, error) {
	b.calls++
	if b.calls == 1 {
		if err := b.repo.MarkCaptureDeleted(ctx, b.target); err != nil {
			return "", err
		}
	}
	return b.Backend.UploadBinary(ctx, folder, name, data, mime)
}

func TestSyncPending_SkipsCaptureTombstonedMidRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	entry := h.finishedEntry(t)
	first := h.captureFor(t, entry.ID)
	h.clock.Advance(time.Minute)
	second := h.captureFor(t, entry.ID)

	backend := &tombstoneBackend{Backend: h.backend, repo: h.repo, target: second.ID}
	engine := New(h.repo, h.queue, backend, nil, Options{
		Now:    h.clock.NowFunc(),
		Logger: logging.New(io.Discard, "error"),
	})
	if _, err := engine.SyncPending(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if backend.calls != 1 {
		t.Fatalf("expected only the first capture transmitted, got %d uploads", backend.calls)
	}
	firstName := remote.CaptureName(first.TimeEntryID, first.TakenAt)
	if _, ok := h.backend.FileByName(remote.FolderCaptures, firstName); !ok {
		t.Fatal("expected the untouched capture uploaded")
	}
	secondName := remote.CaptureName(second.TimeEntryID, second.TakenAt)
	if _, ok := h.backend.FileByName(remote.FolderCaptures, secondName); ok {
		t.Fatal("expected no remote file for the capture tombstoned mid-run")
	}
	rec, err := h.repo.GetSyncRecord(ctx, entity.KindCapture, second.ID)
	if err != nil {
		t.Fatalf("get sync record: %v", err)
	}
	if !rec.IsSynced {
		t.Fatal("expected the skipped capture marked synced so it leaves the pending set")
	}
}

// orderBackend records the upload order so the entries-before-captures pass
// structure is observable.
type orderBackend struct {
	*testfixtures.Backend
	order []remote.FolderKind
}

func (b *orderBackend) UploadJSON(ctx context.Context, folder remote.FolderKind, name string, data []byte) (string, error) {
	b.order = append(b.order, folder)
	return b.Backend.UploadJSON(ctx, folder, name, data)
}

func (b *orderBackend) UploadBinary(ctx context.Context, folder remote.FolderKind, name string, data []byte, mime string) (string, error) {
	b.order = append(b.order, folder)
	return b.Backend.UploadBinary(ctx, folder, name, data, mime)
}

func TestSyncPending_TransmitsEntriesBeforeCaptures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	entry := h.finishedEntry(t)
	h.captureFor(t, entry.ID)
	h.captureFor(t, entry.ID)

	ordered := &orderBackend{Backend: h.backend}
	engine := New(h.repo, h.queue, ordered, nil, Options{
		Now:    h.clock.NowFunc(),
		Logger: logging.New(io.Discard, "error"),
	})
	if _, err := engine.SyncPending(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(ordered.order) != 3 {
		t.Fatalf("expected 3 uploads, got %d", len(ordered.order))
	}
	if ordered.order[0] != remote.FolderTimeEntries {
		t.Fatalf("expected the entry uploaded first, got %v", ordered.order)
	}
	for _, folder := range ordered.order[1:] {
		if folder != remote.FolderCaptures {
			t.Fatalf("expected captures after entries, got %v", ordered.order)
		}
	}
}

func TestSyncPending_RunsCleanupAtMostDaily(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)

	// One aged, synced entry per day; retention sweeps whatever is eligible
	// when its turn comes.
	h.finishedEntry(t)
	if _, err := h.newEngine(nil).SyncPending(ctx); err != nil {
		t.Fatalf("prime sync: %v", err)
	}

	ret := retention.New(h.repo, nil, 90, 365, h.clock.NowFunc(), logging.New(io.Discard, "error"))
	engine := h.newEngine(ret)

	// Age the synced entry past the local window so the sweep has work.
	h.clock.Advance(91 * 24 * time.Hour)

	summary, err := engine.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Cleanup.TotalDeleted != 1 {
		t.Fatalf("expected 1 cleanup deletion, got %d", summary.Cleanup.TotalDeleted)
	}

	// A second run inside the 24 h window must not trigger retention again.
	second := h.finishedEntry(t)
	if err := h.queue.MarkSynced(ctx, entity.KindTimeEntry, second.ID); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	h.clock.Advance(time.Hour)
	summary, err = engine.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Cleanup.TotalDeleted != 0 {
		t.Fatalf("expected no cleanup inside the daily window, got %d", summary.Cleanup.TotalDeleted)
	}

	// Past the window it runs again.
	h.clock.Advance(25 * time.Hour)
	h.clock.Advance(91 * 24 * time.Hour)
	summary, err = engine.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Cleanup.TotalDeleted != 1 {
		t.Fatalf("expected the aged entry swept, got %d", summary.Cleanup.TotalDeleted)
	}
}

func TestSyncPending_CoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	h.finishedEntry(t)
	engine := h.newEngine(nil)

	results := make(chan Summary, 4)
	for i := 0; i < 4; i++ {
		go func() {
			s, err := engine.SyncPending(ctx)
			if err != nil {
				t.Errorf("sync: %v", err)
			}
			results <- s
		}()
	}

	total := 0
	for i := 0; i < 4; i++ {
		s := <-results
		total += s.TimeEntries.Synced
	}
	// Coalesced callers share run results, so the entry may be counted by
	// several callers but is uploaded exactly once.
	if h.backend.UploadCalls() != 1 {
		t.Fatalf("expected exactly 1 upload, got %d", h.backend.UploadCalls())
	}
	if total == 0 {
		t.Fatal("expected at least one caller to observe the synced entry")
	}
}

func TestBuildEntryPayload_Shape(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	entry := h.finishedEntry(t)
	h.captureFor(t, entry.ID)
	engine := h.newEngine(nil)

	data, err := engine.buildEntryPayload(ctx, entry)
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse payload: %v", err)
	}

	for _, key := range []string{
		"id", "user_id", "client_id", "project_id", "start_time", "end_time",
		"duration", "notes", "is_billable", "is_edited", "is_manual",
		"user", "client", "project", "screenshots", "metadata",
	} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("expected payload key %q, got %s", key, data)
		}
	}

	if doc["duration"].(float64) != 3600 {
		t.Fatalf("expected duration 3600, got %v", doc["duration"])
	}
	if doc["is_billable"].(float64) != 1 {
		t.Fatalf("expected is_billable 1, got %v", doc["is_billable"])
	}
	user := doc["user"].(map[string]any)
	if user["username"] != "kana" {
		t.Fatalf("expected the user summary embedded, got %v", user)
	}
	shots := doc["screenshots"].(map[string]any)
	if shots["count"].(float64) != 1 {
		t.Fatalf("expected screenshot count 1, got %v", shots)
	}
	meta := doc["metadata"].(map[string]any)
	if meta["app_version"] != "1.2.3" {
		t.Fatalf("expected the app version in metadata, got %v", meta)
	}
	if !strings.HasSuffix(meta["sync_time"].(string), "Z") {
		t.Fatalf("expected a UTC sync time, got %v", meta["sync_time"])
	}
}

func TestStartAuto_StopsCleanly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	engine := h.newEngine(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.StartAuto(ctx, time.Hour)
	engine.StopAuto()
	// A second stop is a no-op.
	engine.StopAuto()
}
