package remote_test

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"testing"

	"github.com/example/timetracker/internal/remote"
	"github.com/example/timetracker/internal/testfixtures"
)

func TestThumbnailer_ScalesWideCaptures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := testfixtures.NewBackend()
	id, err := backend.UploadBinary(ctx, remote.FolderCaptures, "capture_te_1_x.png",
		testfixtures.TinyPNG(t, 640, 400), "image/png")
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}

	th := remote.NewThumbnailer(backend, t.TempDir(), t.TempDir())
	path, err := th.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read thumbnail: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if got := img.Bounds().Dx(); got != 320 {
		t.Fatalf("expected width 320, got %d", got)
	}
	if got := img.Bounds().Dy(); got != 200 {
		t.Fatalf("expected height 200, got %d", got)
	}
}

func TestThumbnailer_KeepsSmallCapturesAsIs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	original := testfixtures.TinyPNG(t, 100, 80)
	backend := testfixtures.NewBackend()
	id, err := backend.UploadBinary(ctx, remote.FolderCaptures, "capture_te_2_x.png",
		original, "image/png")
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}

	th := remote.NewThumbnailer(backend, t.TempDir(), t.TempDir())
	path, err := th.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read thumbnail: %v", err)
	}
	if !bytes.Equal(data, original) {
		t.Fatal("expected captures narrower than the target width to pass through unscaled")
	}
}

func TestThumbnailer_ReusesExistingFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	backend := testfixtures.NewBackend()
	id, err := backend.UploadBinary(ctx, remote.FolderCaptures, "capture_te_3_x.png",
		testfixtures.TinyPNG(t, 640, 400), "image/png")
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}

	th := remote.NewThumbnailer(backend, t.TempDir(), t.TempDir())
	first, err := th.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	// Remove the remote file; a second fetch must be served from disk.
	if err := backend.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	second, err := th.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if second != first {
		t.Fatalf("expected the cached path %q, got %q", first, second)
	}
}

type thumbnailBackend struct {
	*testfixtures.Backend
	thumb []byte
	calls int
}

func (b *thumbnailBackend) DownloadThumbnail(ctx context.Context, remoteID string) ([]byte, error) {
	b.calls++
	return b.thumb, nil
}

func TestThumbnailer_PrefersServerSideThumbnails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	serverThumb := testfixtures.TinyPNG(t, 320, 200)
	backend := &thumbnailBackend{Backend: testfixtures.NewBackend(), thumb: serverThumb}

	th := remote.NewThumbnailer(backend, t.TempDir(), t.TempDir())
	path, err := th.Fetch(ctx, "srv-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read thumbnail: %v", err)
	}
	if !bytes.Equal(data, serverThumb) {
		t.Fatal("expected the server-provided thumbnail bytes")
	}
	if backend.calls != 1 {
		t.Fatalf("expected 1 thumbnail endpoint call, got %d", backend.calls)
	}
}

func TestThumbnailer_MissingRemoteFile(t *testing.T) {
	t.Parallel()

	th := remote.NewThumbnailer(testfixtures.NewBackend(), t.TempDir(), t.TempDir())
	if _, err := th.Fetch(context.Background(), "gone"); err == nil {
		t.Fatal("expected an error for a missing remote file")
	}
}
