package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/timetracker/internal/config"
	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/store"
)

var envVars = []string{
	"REMOTE_BACKEND", "REMOTE_BASE_URL", "REMOTE_API_KEY",
	"SYNC_INTERVAL_MINUTES", "RETENTION_DAYS_LOCAL", "RETENTION_DAYS_REMOTE",
	"CAPTURE_MIN_MS", "CAPTURE_MAX_MS", "IDLE_THRESHOLD_SECONDS", "LOG_LEVEL",
}

// useDataDir points the command globals at an isolated directory. Tests in
// this package mutate shared flag state, so none of them run in parallel.
func useDataDir(t *testing.T, dir string) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
	oldDir, oldUser := flagDataDir, flagUser
	flagDataDir = dir
	flagUser = "kana"
	t.Cleanup(func() {
		flagDataDir = oldDir
		flagUser = oldUser
	})
}

// seedStore opens the database under the data directory, hands it to fn for
// seeding, and closes it again so newApp gets a cold start.
func seedStore(t *testing.T, dir string, fn func(ctx context.Context, cfg config.Config, st *store.Store)) {
	t.Helper()
	ctx := context.Background()

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := st.Migrate(ctx); err != nil {
		st.Close()
		t.Fatalf("migrate: %v", err)
	}

	fn(ctx, cfg, st)

	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}

func TestNewApp_RemovesDedupedCaptureFiles(t *testing.T) {
	dir := t.TempDir()
	useDataDir(t, dir)

	var captureFile string
	seedStore(t, dir, func(ctx context.Context, cfg config.Config, st *store.Store) {
		// Simulate a database written before uniqueness was enforced.
		for _, stmt := range []string{
			"DROP INDEX uq_clients_name",
			"DROP INDEX uq_projects_client_name",
		} {
			if _, err := st.Exec(ctx, stmt); err != nil {
				t.Fatalf("drop index: %v", err)
			}
		}

		if _, err := st.Insert(ctx, "clients", store.Row{"name": "Acme"}); err != nil {
			t.Fatalf("insert client: %v", err)
		}
		dupClient, err := st.Insert(ctx, "clients", store.Row{"name": "Acme"})
		if err != nil {
			t.Fatalf("insert duplicate client: %v", err)
		}
		dupProject, err := st.Insert(ctx, "projects", store.Row{"client_id": dupClient, "name": "Site"})
		if err != nil {
			t.Fatalf("insert project: %v", err)
		}
		userID, err := st.Insert(ctx, "users", store.Row{
			"username": "kana", "is_admin": 0, "created_at": "2025-03-10T10:00:00.000Z",
		})
		if err != nil {
			t.Fatalf("insert user: %v", err)
		}
		entryID, err := st.Insert(ctx, "time_entries", store.Row{
			"user_id":    userID,
			"client_id":  dupClient,
			"project_id": dupProject,
			"start_time": "2025-03-10T10:00:00.000Z",
			"created_at": "2025-03-10T10:00:00.000Z",
		})
		if err != nil {
			t.Fatalf("insert entry: %v", err)
		}

		captureFile = filepath.Join(cfg.CapturesDir(), "te_1_1.png")
		if err := os.WriteFile(captureFile, []byte("png"), 0o644); err != nil {
			t.Fatalf("write capture file: %v", err)
		}
		if _, err := st.Insert(ctx, "captures", store.Row{
			"time_entry_id": entryID,
			"file_path":     captureFile,
			"taken_at":      "2025-03-10T10:05:00.000Z",
			"created_at":    "2025-03-10T10:05:00.000Z",
		}); err != nil {
			t.Fatalf("insert capture: %v", err)
		}
	})

	a, err := newApp(context.Background())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if _, err := os.Stat(captureFile); !os.IsNotExist(err) {
		t.Fatalf("expected deduped capture file %s unlinked, stat err %v", captureFile, err)
	}
}

func TestStopCommand_FinishesRecoveredEntry(t *testing.T) {
	dir := t.TempDir()
	useDataDir(t, dir)

	var entryID int64
	seedStore(t, dir, func(ctx context.Context, cfg config.Config, st *store.Store) {
		repo := entity.NewRepo(st, time.Now)
		user, err := repo.FindOrCreateUser(ctx, "kana")
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		client, err := repo.FindOrCreateClient(ctx, "Acme")
		if err != nil {
			t.Fatalf("create client: %v", err)
		}
		project, err := repo.FindOrCreateProject(ctx, client.ID, "Site")
		if err != nil {
			t.Fatalf("create project: %v", err)
		}
		entry := entity.TimeEntry{
			UserID:    user.ID,
			ClientID:  client.ID,
			ProjectID: project.ID,
			StartTime: time.Now().Add(-30 * time.Minute),
		}
		if err := repo.SaveTimeEntry(ctx, &entry); err != nil {
			t.Fatalf("save entry: %v", err)
		}
		entryID = entry.ID
	})

	// The remote backend has no credentials here, so the post-stop sync
	// reports unavailable and the command still succeeds.
	rootCmd.SetArgs([]string{"stop", "--data-dir", dir, "--user", "kana"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("stop command: %v", err)
	}

	seedStore(t, dir, func(ctx context.Context, cfg config.Config, st *store.Store) {
		repo := entity.NewRepo(st, time.Now)
		if _, err := repo.GetActiveTimeEntry(ctx, 1); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected no active entry after stop, got err %v", err)
		}
		entry, err := repo.GetTimeEntry(ctx, entryID)
		if err != nil {
			t.Fatalf("get entry: %v", err)
		}
		if entry.EndTime == nil || entry.DurationSeconds == nil {
			t.Fatalf("expected finished entry, got %+v", entry)
		}
		if *entry.DurationSeconds < 1795 || *entry.DurationSeconds > 1805 {
			t.Fatalf("expected roughly 1800 recovered seconds, got %d", *entry.DurationSeconds)
		}
	})
}

func TestStopCommand_FailsWithoutActiveTimer(t *testing.T) {
	dir := t.TempDir()
	useDataDir(t, dir)

	rootCmd.SetArgs([]string{"stop", "--data-dir", dir, "--user", "kana"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := rootCmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected an error when no timer is active")
	}
}
