// Package testfixtures provides controllable clocks, an in-memory remote
// backend, and database helpers shared by the package test suites.
package testfixtures

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/store"
)

// OpenStore creates a fresh sqlite store in a test temp directory with the
// schema applied.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "database", "timetracker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if _, err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return st
}

// OpenRepo creates a fresh store and an entity repository on it using the
// supplied clock for creation timestamps.
func OpenRepo(t *testing.T, clock *Clock) (*entity.Repo, *store.Store) {
	t.Helper()
	st := OpenStore(t)
	return entity.NewRepo(st, clock.NowFunc()), st
}

// SeedWorkspace creates a user, client, and project and returns them.
func SeedWorkspace(t *testing.T, repo *entity.Repo, username, clientName, projectName string) (entity.User, entity.Client, entity.Project) {
	t.Helper()
	ctx := context.Background()

	user, err := repo.FindOrCreateUser(ctx, username)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	client, err := repo.FindOrCreateClient(ctx, clientName)
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}
	project, err := repo.FindOrCreateProject(ctx, client.ID, projectName)
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return user, client, project
}

// TinyPNG returns a valid PNG image of the given dimensions.
func TinyPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// FrameSource is a capture source returning canned PNG frames.
type FrameSource struct {
	Frame []byte
	Err   error
	Calls int
}

// CaptureFrame returns the canned frame.
func (f *FrameSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Frame, nil
}
