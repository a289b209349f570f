// Package report aggregates recorded time for a window of time entries.
// Rendering and CSV export live outside the core.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/timetracker/internal/entity"
)

// GroupBy selects the aggregation axis.
type GroupBy string

const (
	// GroupByProject buckets entries per (client, project).
	GroupByProject GroupBy = "project"
	// GroupByDay buckets entries per calendar day of their start time.
	GroupByDay GroupBy = "day"
)

// Line is one aggregated bucket.
type Line struct {
	Key             string
	ClientName      string
	ProjectName     string
	Entries         int
	TotalSeconds    int64
	BillableSeconds int64
}

// Report is the aggregation result for one user and window.
type Report struct {
	Username     string
	From         time.Time
	To           time.Time
	Lines        []Line
	TotalSeconds int64
}

// Service computes aggregations from the entity layer.
type Service struct {
	repo *entity.Repo
}

// NewService wires the report service.
func NewService(repo *entity.Repo) *Service {
	return &Service{repo: repo}
}

// ForUser aggregates a user's finished entries with start time in [from, to).
func (s *Service) ForUser(ctx context.Context, username string, from, to time.Time, groupBy GroupBy) (Report, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return Report{}, err
	}

	entries, err := s.repo.ListTimeEntries(ctx, user.ID,
		entity.FormatTime(from), entity.FormatTime(to))
	if err != nil {
		return Report{}, err
	}

	report := Report{Username: username, From: from, To: to}
	buckets := make(map[string]*Line)

	for _, e := range entries {
		if e.DurationSeconds == nil {
			continue
		}
		seconds := *e.DurationSeconds

		key, line, err := s.bucket(ctx, e, groupBy)
		if err != nil {
			return Report{}, err
		}
		existing, ok := buckets[key]
		if !ok {
			existing = line
			buckets[key] = existing
		}

		existing.Entries++
		existing.TotalSeconds += seconds
		if e.IsBillable {
			existing.BillableSeconds += seconds
		}
		report.TotalSeconds += seconds
	}

	report.Lines = make([]Line, 0, len(buckets))
	for _, line := range buckets {
		report.Lines = append(report.Lines, *line)
	}
	sort.Slice(report.Lines, func(i, j int) bool {
		return report.Lines[i].Key < report.Lines[j].Key
	})
	return report, nil
}

func (s *Service) bucket(ctx context.Context, e entity.TimeEntry, groupBy GroupBy) (string, *Line, error) {
	switch groupBy {
	case GroupByDay:
		key := e.StartTime.UTC().Format("2006-01-02")
		return key, &Line{Key: key}, nil
	default:
		client, err := s.repo.GetClient(ctx, e.ClientID)
		if err != nil {
			return "", nil, err
		}
		project, err := s.repo.GetProject(ctx, e.ProjectID)
		if err != nil {
			return "", nil, err
		}
		key := fmt.Sprintf("%s/%s", client.Name, project.Name)
		return key, &Line{Key: key, ClientName: client.Name, ProjectName: project.Name}, nil
	}
}

// FormatDuration renders seconds as H:MM:SS for CLI output.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
