package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/bridge"
	dialogsync "github.com/futurepaul/dialog-final-v2/internal/sync"
	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var syncModeFlag string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync notes with the relay",
	Long: `Connect to the configured relay and run one reconciliation pass.

In auto mode the core tries set reconciliation first and falls back to a
plain fetch if the relay does not support it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if syncModeFlag != "" {
			mode, err := dialogsync.ParseMode(syncModeFlag)
			if err != nil {
				return err
			}
			a.bridge.SendCommand(bridge.SetSyncMode{Mode: mode})
		}

		before := len(a.bridge.GetNotes(0, ""))
		start := time.Now()

		if err := a.connectRelay(30 * time.Second); err != nil {
			return err
		}

		after := len(a.bridge.GetNotes(0, ""))
		fmt.Printf("%s Synced with %s in %v\n",
			ui.RenderPass("✓"), a.cfg.RelayURL, time.Since(start).Round(time.Millisecond))
		if after > before {
			fmt.Printf("   %d new note(s)\n", after-before)
		} else {
			fmt.Printf("   %s\n", ui.RenderMuted("up to date"))
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncModeFlag, "mode", "", "sync mode: auto, negentropy, subscribe")
}
