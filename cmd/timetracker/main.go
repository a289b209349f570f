package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version information injected at build time via ldflags.
var version = "dev"

var (
	flagDataDir string
	flagUser    string
)

var rootCmd = &cobra.Command{
	Use:   "timetracker",
	Short: "Offline-first work session tracker",
	Long: `timetracker records work sessions per user: a timing state machine with
pause/resume and idle discard, randomized screen captures while a timer is
active, and a durable sync queue that pushes entries and captures to a remote
backend (a cloud folder service or an HTTP API server).

All data lives under the data directory (default ~/.timetracker): the embedded
database, capture files, thumbnails, and credential files. Configuration is
read from <data-dir>/config.toml and overridden by environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", defaultDataDir(), "application data directory")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", currentUsername(), "username to operate on")
}

func defaultDataDir() string {
	if dir := os.Getenv("TIMETRACKER_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".timetracker"
	}
	return filepath.Join(home, ".timetracker")
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
