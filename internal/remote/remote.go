// Package remote defines the uniform backend capability set the sync engine
// depends on, plus helpers shared by both variants: deterministic remote
// naming, the bounded screenshot cache, and thumbnail handling.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FolderKind selects the remote folder a file lives in.
type FolderKind string

const (
	// FolderTimeEntries holds uploaded time entry JSON documents.
	FolderTimeEntries FolderKind = "time_entries"
	// FolderCaptures holds uploaded capture PNGs.
	FolderCaptures FolderKind = "captures"
)

// DefaultTimeout is the hard deadline applied to individual backend calls.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnavailable indicates the backend could not be initialized:
	// missing credentials, failed authentication, or unreachable server.
	ErrUnavailable = errors.New("remote: backend unavailable")
	// ErrNotFound indicates the remote file does not exist.
	ErrNotFound = errors.New("remote: file not found")
)

// File describes a remote object as returned by listing.
type File struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// StorageStats reports remote storage usage. Backends without a stats
// endpoint return the zero value.
type StorageStats struct {
	UsedBytes  int64 `json:"usedBytes"`
	TotalBytes int64 `json:"totalBytes"`
	FileCount  int64 `json:"fileCount"`
}

// Backend is the capability set shared by the folder-service and HTTP API
// variants. Uploads are idempotent by name: uploading an existing name
// overwrites the file and returns the pre-existing id.
type Backend interface {
	Initialize(ctx context.Context) error
	UploadJSON(ctx context.Context, folder FolderKind, name string, data []byte) (string, error)
	UploadBinary(ctx context.Context, folder FolderKind, name string, data []byte, mime string) (string, error)
	ListByNameContains(ctx context.Context, folder FolderKind, substring string) ([]File, error)
	Download(ctx context.Context, remoteID string) ([]byte, error)
	Delete(ctx context.Context, remoteID string) error
	StorageStats(ctx context.Context) (StorageStats, error)
}

// Cleaner is the optional bulk-deletion capability. The HTTP API variant
// implements it through its cleanup endpoint; the retention manager prefers
// it over list-and-delete when available.
type Cleaner interface {
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)
}

// ThumbnailProvider is the optional server-side thumbnail capability.
type ThumbnailProvider interface {
	DownloadThumbnail(ctx context.Context, remoteID string) ([]byte, error)
}

// TimeEntryName composes the deterministic remote name of an entry document.
func TimeEntryName(entryID int64, startTime time.Time) string {
	return fmt.Sprintf("time_entry_%d_%s.json", entryID, startTime.UTC().Format("2006-01-02"))
}

// CaptureName composes the deterministic remote name of a capture image:
// second precision, colons replaced with dashes for filesystem safety.
func CaptureName(entryID int64, takenAt time.Time) string {
	stamp := strings.ReplaceAll(takenAt.UTC().Format(time.RFC3339), ":", "-")
	return fmt.Sprintf("capture_te_%d_%s.png", entryID, stamp)
}
