// Package cmd implements all dsync CLI commands using cobra.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/marcus/dsync/internal/config"
	"github.com/marcus/dsync/internal/db"
	"github.com/marcus/dsync/internal/identity"
	"github.com/marcus/dsync/internal/remote"
	"github.com/marcus/dsync/internal/sync"
	"github.com/spf13/cobra"
)

var versionStr string

// SetVersion sets the version string and enables --version.
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "dsync",
	Short: "Offline-first key/value dataset sync",
	Long: `dsync - An offline-first key/value store that synchronizes small
user-scoped datasets against a dsync server.

Reads and writes always hit the local database and work offline; 'dsync sync'
reconciles a dataset with the server using per-record sync counts.`,
}

// initLogFile redirects slog to a file if DSYNC_LOG_FILE is set.
// Useful for debugging sync sessions while running dsync monitor.
func initLogFile() *os.File {
	path := os.Getenv("DSYNC_LOG_FILE")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return f
}

// Execute runs the root command.
func Execute() {
	if f := initLogFile(); f != nil {
		defer f.Close()
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles the wired engine for one command invocation.
type app struct {
	cfg     *config.Config
	auth    *config.AuthCredentials
	store   *db.Store
	binding *identity.Binding
	manager *sync.Manager
}

// openApp loads config and credentials and wires store, remote client,
// identity binding, and manager. The returned cleanup closes the database.
func openApp() (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	auth, err := config.LoadAuth()
	if err != nil {
		return nil, nil, fmt.Errorf("load credentials: %w", err)
	}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, nil, err
	}
	store, err := db.Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	binding := identity.NewBinding(identity.NewStaticProvider(auth.IdentityID))
	client := remote.New(cfg.ServerURL(), poolID(cfg), binding)
	manager := sync.NewManager(store, client, binding)
	manager.SetClearCredentials(config.ClearAuth)

	a := &app{cfg: cfg, auth: auth, store: store, binding: binding, manager: manager}
	return a, func() { store.Close() }, nil
}

func poolID(cfg *config.Config) string {
	if cfg.Sync.PoolID != "" {
		return cfg.Sync.PoolID
	}
	return "default"
}
