package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/timetracker/internal/entity"
)

type userSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type clientSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type projectSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type screenshotSummary struct {
	Count int `json:"count"`
}

type payloadMetadata struct {
	SyncTime   string `json:"sync_time"`
	AppVersion string `json:"app_version"`
}

// entryPayload is the uploaded time entry document. Field order and names
// are part of the remote contract.
type entryPayload struct {
	ID          int64             `json:"id"`
	UserID      int64             `json:"user_id"`
	ClientID    int64             `json:"client_id"`
	ProjectID   int64             `json:"project_id"`
	StartTime   string            `json:"start_time"`
	EndTime     *string           `json:"end_time"`
	Duration    *int64            `json:"duration"`
	Notes       string            `json:"notes"`
	IsBillable  int               `json:"is_billable"`
	IsEdited    int               `json:"is_edited"`
	IsManual    int               `json:"is_manual"`
	User        userSummary       `json:"user"`
	Client      clientSummary     `json:"client"`
	Project     projectSummary    `json:"project"`
	Screenshots screenshotSummary `json:"screenshots"`
	Metadata    payloadMetadata   `json:"metadata"`
}

// buildEntryPayload enriches a time entry with its user, client, and project
// summaries plus the count of non-deleted captures, and renders it as
// pretty-printed UTF-8 JSON.
func (e *Engine) buildEntryPayload(ctx context.Context, entry entity.TimeEntry) ([]byte, error) {
	user, err := e.repo.GetUser(ctx, entry.UserID)
	if err != nil {
		return nil, err
	}
	client, err := e.repo.GetClient(ctx, entry.ClientID)
	if err != nil {
		return nil, err
	}
	project, err := e.repo.GetProject(ctx, entry.ProjectID)
	if err != nil {
		return nil, err
	}
	count, err := e.repo.CountCaptures(ctx, entry.ID)
	if err != nil {
		return nil, err
	}

	payload := entryPayload{
		ID:          entry.ID,
		UserID:      entry.UserID,
		ClientID:    entry.ClientID,
		ProjectID:   entry.ProjectID,
		StartTime:   entry.StartTime.UTC().Format(time.RFC3339),
		Notes:       entry.Notes,
		IsBillable:  boolToInt(entry.IsBillable),
		IsEdited:    boolToInt(entry.IsEdited),
		IsManual:    boolToInt(entry.IsManual),
		User:        userSummary{ID: user.ID, Username: user.Username},
		Client:      clientSummary{ID: client.ID, Name: client.Name},
		Project:     projectSummary{ID: project.ID, Name: project.Name},
		Screenshots: screenshotSummary{Count: count},
		Metadata: payloadMetadata{
			SyncTime:   e.now().UTC().Format(time.RFC3339),
			AppVersion: e.appVersion,
		},
	}
	if entry.EndTime != nil {
		end := entry.EndTime.UTC().Format(time.RFC3339)
		payload.EndTime = &end
	}
	if entry.DurationSeconds != nil {
		d := *entry.DurationSeconds
		payload.Duration = &d
	}

	return json.MarshalIndent(payload, "", "  ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
