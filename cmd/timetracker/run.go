package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/timetracker/internal/capture"
	"github.com/example/timetracker/internal/orchestrator"
	"github.com/example/timetracker/internal/timer"
)

var (
	flagClient   string
	flagProject  string
	flagBillable bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracking daemon",
	Long: `run keeps the process in the foreground: screen captures are sampled at
randomized intervals while a timer is active, pending work is pushed to the
remote backend on a fixed cadence, and one final sync happens on shutdown
(Ctrl-C). An entry left active from a previous process is recovered on start.

With --client and --project a timer is started immediately; the entry stays
active across restarts until "timetracker stop" finishes it.

The screen capture primitive is supplied externally: set CAPTURE_COMMAND to a
program that writes one PNG image to stdout (for example "scrot -o -").
Idle detection works the same way through IDLE_COMMAND, a program that prints
the workstation idle time in seconds; when unset, idle discard is disabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&flagClient, "client", "", "client name; starts a timer when set together with --project")
	runCmd.Flags().StringVar(&flagProject, "project", "", "project name; starts a timer when set together with --client")
	runCmd.Flags().BoolVar(&flagBillable, "billable", false, "mark the started entry as billable")
	rootCmd.AddCommand(runCmd)
}

func runDaemon(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.repo.FindOrCreateUser(ctx, flagUser); err != nil {
		return err
	}

	tmr := timer.New(a.repo, timer.SystemClocks(), a.logger)
	sched := capture.NewScheduler(a.repo, commandSource{command: os.Getenv("CAPTURE_COMMAND")}, capture.Options{
		Dir:        a.cfg.CapturesDir(),
		MinDelay:   a.cfg.CaptureMin,
		MaxDelay:   a.cfg.CaptureMax,
		VerifyFunc: tmr.ActiveEntryID,
	}, a.logger)
	orch := orchestrator.New(tmr, sched, a.newEngine(), orchestrator.Options{
		Username:      flagUser,
		SyncInterval:  a.cfg.SyncInterval,
		IdleThreshold: a.cfg.IdleThreshold,
		Idle:          idleProbe(),
		Logger:        a.logger,
	})

	if flagClient != "" || flagProject != "" {
		if flagClient == "" || flagProject == "" {
			return errors.New("--client and --project must be set together")
		}
		if err := startTimer(ctx, a, tmr); err != nil {
			return err
		}
	}

	err = orch.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func startTimer(ctx context.Context, a *app, tmr *timer.Timer) error {
	client, err := a.repo.FindOrCreateClient(ctx, flagClient)
	if err != nil {
		return err
	}
	project, err := a.repo.FindOrCreateProject(ctx, client.ID, flagProject)
	if err != nil {
		return err
	}
	entry, err := tmr.Start(ctx, flagUser, client.ID, project.ID, flagBillable)
	if errors.Is(err, timer.ErrTimerActive) {
		fmt.Printf("a timer is already active for %s; resuming tracking\n", flagUser)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("started entry %d for %s (%s / %s)\n", entry.ID, flagUser, flagClient, flagProject)
	return nil
}

// commandSource produces PNG frames by running an external program, keeping
// the OS-specific capture call out of the core.
type commandSource struct {
	command string
}

func (s commandSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	if s.command == "" {
		return nil, errors.New("CAPTURE_COMMAND is not set")
	}
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", s.command).Output()
	if err != nil {
		return nil, fmt.Errorf("capture command: %w", err)
	}
	// A misconfigured command fails loudly here instead of persisting bytes
	// that only blow up at thumbnail time.
	if _, err := png.DecodeConfig(bytes.NewReader(out)); err != nil {
		return nil, fmt.Errorf("capture command did not produce a PNG image: %w", err)
	}
	return out, nil
}

func idleProbe() orchestrator.IdleFunc {
	command := os.Getenv("IDLE_COMMAND")
	if command == "" {
		return nil
	}
	return func(ctx context.Context) (time.Duration, error) {
		out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).Output()
		if err != nil {
			return 0, fmt.Errorf("idle command: %w", err)
		}
		seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
		if err != nil {
			return 0, fmt.Errorf("idle command output %q: %w", strings.TrimSpace(string(out)), err)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
}
