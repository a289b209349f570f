package remote

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// thumbnailWidth is the target width of locally generated thumbnails.
const thumbnailWidth = 320

// Thumbnailer materialises downscaled copies of remote captures under the
// thumbnails directory, using the backend's server-side thumbnail endpoint
// when it has one and scaling locally otherwise.
type Thumbnailer struct {
	backend Backend
	dir     string
	tempDir string
}

// NewThumbnailer wires thumbnail fetching for a backend instance.
func NewThumbnailer(backend Backend, dir, tempDir string) *Thumbnailer {
	return &Thumbnailer{backend: backend, dir: dir, tempDir: tempDir}
}

// Fetch returns the path of the thumbnail for a remote capture, downloading
// and generating it on first use.
func (t *Thumbnailer) Fetch(ctx context.Context, remoteID string) (string, error) {
	path := filepath.Join(t.dir, fmt.Sprintf("%s_thumb.png", sanitizeID(remoteID)))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if tp, ok := t.backend.(ThumbnailProvider); ok {
		data, err := tp.DownloadThumbnail(ctx, remoteID)
		if err == nil {
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return "", fmt.Errorf("remote: write thumbnail %s: %w", path, err)
			}
			return path, nil
		}
		// Fall through to local scaling when the endpoint fails.
	}

	data, err := t.backend.Download(ctx, remoteID)
	if err != nil {
		return "", err
	}

	// Stage the blob in the scratch directory so a failed decode leaves no
	// partial thumbnail behind.
	scratch := filepath.Join(t.tempDir, uuid.NewString()+".png")
	if err := os.WriteFile(scratch, data, 0o644); err != nil {
		return "", fmt.Errorf("remote: stage download %s: %w", scratch, err)
	}
	defer os.Remove(scratch)

	thumb, err := scalePNG(data, thumbnailWidth)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, thumb, 0o644); err != nil {
		return "", fmt.Errorf("remote: write thumbnail %s: %w", path, err)
	}
	return path, nil
}

func scalePNG(data []byte, width int) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("remote: decode capture: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Dx() <= width {
		return data, nil
	}
	height := bounds.Dy() * width / bounds.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return nil, fmt.Errorf("remote: encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}

func sanitizeID(remoteID string) string {
	out := make([]rune, 0, len(remoteID))
	for _, r := range remoteID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
