package testfixtures

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/example/timetracker/internal/remote"
)

type storedFile struct {
	id        string
	folder    remote.FolderKind
	name      string
	data      []byte
	mime      string
	createdAt time.Time
}

// Backend is an in-memory remote backend for tests. Uploads are idempotent
// by name within a folder, matching the contract both real variants honour.
type Backend struct {
	mu     sync.Mutex
	nextID int
	files  map[string]*storedFile

	// FailInitialize makes Initialize report an unavailable backend.
	FailInitialize bool
	// FailUploads makes every upload fail until cleared.
	FailUploads bool
	// Now supplies creation timestamps; defaults to time.Now.
	Now func() time.Time

	initCalls   int
	uploadCalls int
}

// NewBackend returns an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{files: make(map[string]*storedFile)}
}

func (b *Backend) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Initialize succeeds unless FailInitialize is set.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	if b.FailInitialize {
		return fmt.Errorf("%w: fixture configured to fail", remote.ErrUnavailable)
	}
	return nil
}

// UploadJSON stores a JSON document.
func (b *Backend) UploadJSON(ctx context.Context, folder remote.FolderKind, name string, data []byte) (string, error) {
	return b.store(folder, name, data, "application/json")
}

// UploadBinary stores a binary blob.
func (b *Backend) UploadBinary(ctx context.Context, folder remote.FolderKind, name string, data []byte, mime string) (string, error) {
	return b.store(folder, name, data, mime)
}

func (b *Backend) store(folder remote.FolderKind, name string, data []byte, mime string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploadCalls++
	if b.FailUploads {
		return "", fmt.Errorf("fixture: upload of %s refused", name)
	}

	for _, f := range b.files {
		if f.folder == folder && f.name == name {
			f.data = append([]byte(nil), data...)
			f.mime = mime
			return f.id, nil
		}
	}

	b.nextID++
	id := fmt.Sprintf("fx-%d", b.nextID)
	b.files[id] = &storedFile{
		id:        id,
		folder:    folder,
		name:      name,
		data:      append([]byte(nil), data...),
		mime:      mime,
		createdAt: b.now(),
	}
	return id, nil
}

// ListByNameContains lists stored files matching the substring.
func (b *Backend) ListByNameContains(ctx context.Context, folder remote.FolderKind, substring string) ([]remote.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []remote.File
	for _, f := range b.files {
		if f.folder != folder || !strings.Contains(f.name, substring) {
			continue
		}
		out = append(out, remote.File{ID: f.id, Name: f.name, CreatedAt: f.createdAt})
	}
	return out, nil
}

// Download returns a stored file's bytes.
func (b *Backend) Download(ctx context.Context, remoteID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[remoteID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return append([]byte(nil), f.data...), nil
}

// Delete removes a stored file; deleting a missing file is not an error.
func (b *Backend) Delete(ctx context.Context, remoteID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, remoteID)
	return nil
}

// StorageStats reports the fixture's usage.
func (b *Backend) StorageStats(ctx context.Context) (remote.StorageStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var used int64
	for _, f := range b.files {
		used += int64(len(f.data))
	}
	return remote.StorageStats{UsedBytes: used, FileCount: int64(len(b.files))}, nil
}

// FileCount reports how many files the fixture holds.
func (b *Backend) FileCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

// FileByName returns a stored file's contents by folder and exact name.
func (b *Backend) FileByName(folder remote.FolderKind, name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.files {
		if f.folder == folder && f.name == name {
			return append([]byte(nil), f.data...), true
		}
	}
	return nil, false
}

// SetCreatedAt overrides a file's creation timestamp for retention tests.
func (b *Backend) SetCreatedAt(remoteID string, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.files[remoteID]; ok {
		f.createdAt = t
	}
}

// UploadCalls reports how many uploads were attempted.
func (b *Backend) UploadCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploadCalls
}
