package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/timetracker/internal/testfixtures"
)

func TestCommandSource_ReturnsPNGOutput(t *testing.T) {
	t.Parallel()

	frame := testfixtures.TinyPNG(t, 4, 4)
	path := filepath.Join(t.TempDir(), "frame.png")
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	src := commandSource{command: "cat " + path}
	out, err := src.CaptureFrame(context.Background())
	if err != nil {
		t.Fatalf("capture frame: %v", err)
	}
	if !bytes.Equal(out, frame) {
		t.Fatalf("expected %d frame bytes passed through, got %d", len(frame), len(out))
	}
}

func TestCommandSource_RejectsNonPNGOutput(t *testing.T) {
	t.Parallel()

	src := commandSource{command: "echo not an image"}
	if _, err := src.CaptureFrame(context.Background()); err == nil {
		t.Fatal("expected an error for non-PNG command output")
	}
}

func TestCommandSource_RequiresCommand(t *testing.T) {
	t.Parallel()

	src := commandSource{}
	if _, err := src.CaptureFrame(context.Background()); err == nil {
		t.Fatal("expected an error when CAPTURE_COMMAND is unset")
	}
}
