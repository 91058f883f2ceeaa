package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/bridge"
	"github.com/futurepaul/dialog-final-v2/internal/note"
	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note locally",
	Long: `Delete a note from local storage. A short id prefix is accepted.

Deletion is local only: relays keep their copy, and the note can reappear
after a reconciliation with a relay that still has it.`,
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

		a.bridge.SendCommand(bridge.DeleteNote{ID: target})

		ev, ok := a.waitFor(5*time.Second, func(ev bridge.Event) bool {
			switch e := ev.(type) {
			case bridge.NoteDeleted:
				return e.ID == target
			case bridge.Error:
				return true
			}
			return false
		})
		if !ok {
			return fmt.Errorf("timed out deleting note")
		}
		if errEv, isErr := ev.(bridge.Error); isErr {
			return errEv
		}

		fmt.Printf("%s Deleted %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(target[:8]),
			ui.RenderMuted("(local only)"))
		return nil
	},
}

// resolveNoteID expands a unique id prefix to a full note id.
func resolveNoteID(a *app, prefix string) (string, error) {
	if _, ok := a.bridge.GetNote(prefix); ok {
		return prefix, nil
	}

	var matches []note.Note
	for _, n := range a.bridge.GetNotes(0, "") {
		if strings.HasPrefix(n.ID, prefix) {
			matches = append(matches, n)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no note matches id %q", prefix)
	case 1:
		return matches[0].ID, nil
	default:
		return "", fmt.Errorf("id %q is ambiguous (%d matches)", prefix, len(matches))
	}
}
