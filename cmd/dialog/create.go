package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/bridge"
	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var createNoPublish bool

var createCmd = &cobra.Command{
	Use:   "create <text>",
	Short: "Create a note",
	Long: `Create an encrypted note. Words starting with # become tags.

The note is saved locally first. If a relay is reachable it is published
immediately; otherwise it stays pending until the next sync.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		if !createNoPublish {
			if err := a.connectRelay(10 * time.Second); err != nil {
				fmt.Printf("%s %v (note will be saved locally)\n", ui.RenderWarn("⚠"), err)
			}
		}

		a.bridge.SendCommand(bridge.CreateNote{Text: text})

		ev, ok := a.waitFor(10*time.Second, func(ev bridge.Event) bool {
			switch ev.(type) {
			case bridge.NoteAdded, bridge.Error:
				return true
			}
			return false
		})
		if !ok {
			return fmt.Errorf("timed out creating note")
		}
		if errEv, isErr := ev.(bridge.Error); isErr {
			return errEv
		}

		added := ev.(bridge.NoteAdded)
		fmt.Printf("%s Created note %s\n", ui.RenderPass("✓"), ui.RenderAccent(added.Note.ID[:8]))
		for _, tag := range added.Note.Tags {
			fmt.Printf("   %s\n", ui.RenderTag(tag))
		}

		if !createNoPublish {
			// Give the background publish a moment to confirm.
			if upd, ok := a.waitFor(5*time.Second, func(ev bridge.Event) bool {
				u, is := ev.(bridge.NoteUpdated)
				return is && u.Note.ID == added.Note.ID && u.Note.IsSynced
			}); ok {
				_ = upd
				fmt.Printf("%s Published to %s\n", ui.RenderPass("✓"), a.cfg.RelayURL)
			} else {
				fmt.Printf("%s Not yet published; will sync later\n", ui.RenderWarn("○"))
			}
		}
		return nil
	},
}

func init() {
	createCmd.Flags().BoolVar(&createNoPublish, "no-publish", false, "save locally without contacting the relay")
}
