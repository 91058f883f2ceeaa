package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/bridge"
	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var readCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a note as read",
	Long: `Mark a note as read. A short id prefix is accepted.

Read state is local only and never leaves this device.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		target, err := resolveNoteID(a, args[0])
		if err != nil {
			return err
		}

		if n, ok := a.bridge.GetNote(target); ok && n.IsRead {
			fmt.Printf("%s already read\n", ui.RenderMuted(target[:8]))
			return nil
		}

		a.bridge.SendCommand(bridge.MarkAsRead{ID: target})
		ev, ok := a.waitFor(5*time.Second, func(ev bridge.Event) bool {
			u, is := ev.(bridge.NoteUpdated)
			return is && u.Note.ID == target
		})
		if !ok {
			return fmt.Errorf("timed out marking note read")
		}
		fmt.Printf("%s Marked %s read\n", ui.RenderPass("✓"),
			ui.RenderAccent(ev.(bridge.NoteUpdated).Note.ID[:8]))
		return nil
	},
}
