package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/bridge"
	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search note text",
	Long:  `Case-insensitive substring search over decrypted note text.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		// Drop the startup snapshot so the next NotesLoaded is the result.
		a.drainEvents()
		a.bridge.SendCommand(bridge.SearchNotes{Query: query})

		ev, ok := a.waitFor(5*time.Second, func(ev bridge.Event) bool {
			switch ev.(type) {
			case bridge.NotesLoaded, bridge.Error:
				return true
			}
			return false
		})
		if !ok {
			return fmt.Errorf("timed out searching")
		}
		if errEv, isErr := ev.(bridge.Error); isErr {
			return errEv
		}

		results := ev.(bridge.NotesLoaded).Notes
		if len(results) == 0 {
			fmt.Println(ui.RenderMuted("no matches"))
			return nil
		}
		for _, n := range results {
			fmt.Println(ui.RenderNote(n))
		}
		fmt.Printf("\n%s\n", ui.RenderMuted(fmt.Sprintf("%d match(es)", len(results))))
		return nil
	},
}
