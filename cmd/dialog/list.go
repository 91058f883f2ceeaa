package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/bridge"
	"github.com/futurepaul/dialog-final-v2/internal/config"
	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var (
	listLimit int
	listTag   string
	listWatch bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes",
	Long: `List notes from the local cache, oldest first.

With --watch, stay connected to the relay and print new notes as they
arrive until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		notes := a.bridge.GetNotes(listLimit, listTag)
		if len(notes) == 0 {
			fmt.Println(ui.RenderMuted("no notes"))
		}
		for _, n := range notes {
			fmt.Println(ui.RenderNote(n))
		}

		unread := a.bridge.GetUnreadCount(listTag)
		if unread > 0 {
			fmt.Printf("\n%s\n", ui.RenderMuted(fmt.Sprintf("%d unread", unread)))
		}

		if !listWatch {
			return nil
		}

		if err := a.connectRelay(10 * time.Second); err != nil {
			return err
		}
		fmt.Printf("%s watching %s (ctrl-c to stop)\n", ui.RenderAccent("▸"), a.cfg.RelayURL)

		// Follow config file edits while watching: a relay URL change
		// reconnects without restarting the command.
		if loader, lerr := config.NewLoader(flagConfig); lerr == nil {
			current := a.cfg.RelayURL
			loader.Watch(func(cfg config.Config) {
				if cfg.RelayURL == "" || cfg.RelayURL == current {
					return
				}
				current = cfg.RelayURL
				fmt.Printf("%s relay changed, reconnecting to %s\n", ui.RenderAccent("▸"), cfg.RelayURL)
				a.bridge.SendCommand(bridge.ConnectRelay{URL: cfg.RelayURL})
			})
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		seen := make(map[string]bool, len(notes))
		for _, n := range notes {
			seen[n.ID] = true
		}

		for {
			select {
			case <-sigCh:
				return nil
			case ev := <-a.events:
				switch e := ev.(type) {
				case bridge.NoteAdded:
					if matchesTag(e.Note.Tags, listTag) && !seen[e.Note.ID] {
						seen[e.Note.ID] = true
						fmt.Println(ui.RenderNote(e.Note))
					}
				case bridge.NotesLoaded:
					for _, n := range e.Notes {
						if matchesTag(n.Tags, listTag) && !seen[n.ID] {
							seen[n.ID] = true
							fmt.Println(ui.RenderNote(n))
						}
					}
				case bridge.Error:
					fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), e.Message)
				}
			}
		}
	},
}

func matchesTag(tags []string, want string) bool {
	if want == "" {
		return true
	}
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 100, "maximum notes to show (0 = all)")
	listCmd.Flags().StringVar(&listTag, "tag", "", "only show notes carrying this tag")
	listCmd.Flags().BoolVar(&listWatch, "watch", false, "stay connected and stream new notes")
}
