package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/store"
	"github.com/example/timetracker/internal/testfixtures"
)

type harness struct {
	svc     *Service
	repo    *entity.Repo
	clock   *testfixtures.Clock
	user    entity.User
	client  entity.Client
	project entity.Project
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := testfixtures.NewClock(time.Time{})
	repo, _ := testfixtures.OpenRepo(t, clock)
	user, client, project := testfixtures.SeedWorkspace(t, repo, "kana", "Acme", "Site")
	return &harness{
		svc:     NewService(repo),
		repo:    repo,
		clock:   clock,
		user:    user,
		client:  client,
		project: project,
	}
}

func (h *harness) entry(t *testing.T, projectID int64, start time.Time, seconds int64, billable bool) {
	t.Helper()
	end := start.Add(time.Duration(seconds) * time.Second)
	e := entity.TimeEntry{
		UserID:          h.user.ID,
		ClientID:        h.client.ID,
		ProjectID:       projectID,
		StartTime:       start,
		EndTime:         &end,
		DurationSeconds: &seconds,
		IsBillable:      billable,
	}
	if err := h.repo.SaveTimeEntry(context.Background(), &e); err != nil {
		t.Fatalf("save entry: %v", err)
	}
}

func TestForUser_GroupsByProject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	other, err := h.repo.FindOrCreateProject(ctx, h.client.ID, "Backend")
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}

	day := h.clock.Now()
	h.entry(t, h.project.ID, day, 3600, true)
	h.entry(t, h.project.ID, day.Add(2*time.Hour), 1800, false)
	h.entry(t, other.ID, day.Add(4*time.Hour), 900, true)

	report, err := h.svc.ForUser(ctx, "kana", day.Add(-time.Hour), day.Add(24*time.Hour), GroupByProject)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if len(report.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(report.Lines))
	}
	if report.TotalSeconds != 6300 {
		t.Fatalf("expected total 6300, got %d", report.TotalSeconds)
	}

	// Lines sort by key, so Acme/Backend precedes Acme/Site.
	backend := report.Lines[0]
	if backend.Key != "Acme/Backend" || backend.TotalSeconds != 900 || backend.BillableSeconds != 900 {
		t.Fatalf("unexpected backend line %+v", backend)
	}
	site := report.Lines[1]
	if site.Key != "Acme/Site" || site.Entries != 2 {
		t.Fatalf("unexpected site line %+v", site)
	}
	if site.TotalSeconds != 5400 || site.BillableSeconds != 3600 {
		t.Fatalf("expected 5400 total with 3600 billable, got %+v", site)
	}
}

func TestForUser_GroupsByDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	day1 := h.clock.Now()
	day2 := day1.Add(24 * time.Hour)
	h.entry(t, h.project.ID, day1, 3600, false)
	h.entry(t, h.project.ID, day1.Add(time.Hour), 600, false)
	h.entry(t, h.project.ID, day2, 1200, false)

	report, err := h.svc.ForUser(ctx, "kana", day1.Add(-time.Hour), day2.Add(24*time.Hour), GroupByDay)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if len(report.Lines) != 2 {
		t.Fatalf("expected 2 day buckets, got %d", len(report.Lines))
	}
	if report.Lines[0].Key != day1.UTC().Format("2006-01-02") {
		t.Fatalf("expected the first day key, got %q", report.Lines[0].Key)
	}
	if report.Lines[0].TotalSeconds != 4200 || report.Lines[1].TotalSeconds != 1200 {
		t.Fatalf("unexpected bucket totals %+v", report.Lines)
	}
}

func TestForUser_SkipsActiveEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	day := h.clock.Now()
	h.entry(t, h.project.ID, day, 3600, false)

	active := entity.TimeEntry{
		UserID:    h.user.ID,
		ClientID:  h.client.ID,
		ProjectID: h.project.ID,
		StartTime: day.Add(2 * time.Hour),
	}
	if err := h.repo.SaveTimeEntry(ctx, &active); err != nil {
		t.Fatalf("save active entry: %v", err)
	}

	report, err := h.svc.ForUser(ctx, "kana", day.Add(-time.Hour), day.Add(24*time.Hour), GroupByProject)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.TotalSeconds != 3600 {
		t.Fatalf("expected the running entry excluded, got total %d", report.TotalSeconds)
	}
	if report.Lines[0].Entries != 1 {
		t.Fatalf("expected 1 counted entry, got %d", report.Lines[0].Entries)
	}
}

func TestForUser_WindowExcludesOutsideEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	day := h.clock.Now()
	h.entry(t, h.project.ID, day.Add(-48*time.Hour), 3600, false)
	h.entry(t, h.project.ID, day, 600, false)

	report, err := h.svc.ForUser(ctx, "kana", day.Add(-time.Hour), day.Add(time.Hour), GroupByProject)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.TotalSeconds != 600 {
		t.Fatalf("expected only the in-window entry, got %d", report.TotalSeconds)
	}
}

func TestForUser_UnknownUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.svc.ForUser(context.Background(), "nobody",
		h.clock.Now().Add(-time.Hour), h.clock.Now(), GroupByProject)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		seconds int64
		want    string
	}{
		{0, "0:00:00"},
		{59, "0:00:59"},
		{61, "0:01:01"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
		{36000, "10:00:00"},
		{-5, "0:00:00"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.seconds); got != tc.want {
			t.Fatalf("FormatDuration(%d): expected %q, got %q", tc.seconds, tc.want, got)
		}
	}
}
