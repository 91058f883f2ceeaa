// Command dialog is the CLI for the dialog encrypted note core: notes are
// written and read locally first, and synced to a relay when one is
// reachable.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/bridge"
	"github.com/futurepaul/dialog-final-v2/internal/config"
	"github.com/futurepaul/dialog-final-v2/internal/keys"
	"github.com/futurepaul/dialog-final-v2/internal/logging"
	dialogsync "github.com/futurepaul/dialog-final-v2/internal/sync"
)

var (
	flagConfig   string
	flagDataDir  string
	flagRelay    string
	flagSyncMode string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "dialog",
	Short: "Local-first encrypted notes",
	Long: `dialog keeps encrypted notes in a local database and syncs them
to a relay when one is reachable. All operations work offline; the relay
only adds durability and multi-device access.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.dialog)")
	rootCmd.PersistentFlags().StringVar(&flagRelay, "relay", "", "relay websocket URL")
	rootCmd.PersistentFlags().StringVar(&flagSyncMode, "sync-mode", "", "sync mode: auto, negentropy, subscribe")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(pubkeyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(purgeCmd)
}

// loadConfig resolves configuration with flag overrides applied on top.
func loadConfig() (config.Config, error) {
	loader, err := config.NewLoader(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return config.Config{}, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagRelay != "" {
		cfg.RelayURL = flagRelay
	}
	if flagSyncMode != "" {
		cfg.SyncMode = flagSyncMode
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// app bundles a running core with an event stream for CLI commands.
type app struct {
	cfg    config.Config
	keys   *keys.Keys
	bridge *bridge.Bridge
	events chan bridge.Event
}

// openApp loads config, resolves the identity, and starts the core. Every
// command that touches notes goes through here.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	k, err := keys.Resolve(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("no identity found: %w (run 'dialog keygen' or set %s)", err, keys.EnvSecret)
	}

	mode, err := dialogsync.ParseMode(cfg.SyncMode)
	if err != nil {
		return nil, err
	}

	logger := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	b, err := bridge.New(bridge.Config{
		Keys:     k,
		DataDir:  cfg.DataDir,
		SyncMode: mode,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, keys: k, bridge: b, events: make(chan bridge.Event, 256)}
	b.Start(bridge.ListenerFunc(func(ev bridge.Event) {
		select {
		case a.events <- ev:
		default:
		}
	}))

	if !b.WaitReady(10 * time.Second) {
		b.Stop()
		return nil, fmt.Errorf("core failed to initialize within 10s")
	}
	return a, nil
}

func (a *app) close() {
	a.bridge.Stop()
}

// drainEvents discards everything currently buffered on the event stream.
func (a *app) drainEvents() {
	for {
		select {
		case <-a.events:
		default:
			return
		}
	}
}

// waitFor blocks until match returns true for an event or the timeout
// elapses.
func (a *app) waitFor(timeout time.Duration, match func(bridge.Event) bool) (bridge.Event, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev := <-a.events:
			if match(ev) {
				return ev, true
			}
		case <-deadline.C:
			return nil, false
		}
	}
}

// connectRelay asks the core to connect and sync, waiting for the resulting
// snapshot. Failure is reported but not fatal: local state still serves.
func (a *app) connectRelay(timeout time.Duration) error {
	// Drop the startup snapshot so the NotesLoaded we wait on is the one
	// the connect pass emits.
	a.drainEvents()
	a.bridge.SendCommand(bridge.ConnectRelay{URL: a.cfg.RelayURL})
	ev, ok := a.waitFor(timeout, func(ev bridge.Event) bool {
		switch ev.(type) {
		case bridge.NotesLoaded, bridge.Error:
			return true
		}
		return false
	})
	if !ok {
		return fmt.Errorf("timed out waiting for relay %s", a.cfg.RelayURL)
	}
	if errEv, isErr := ev.(bridge.Error); isErr {
		return errEv
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
