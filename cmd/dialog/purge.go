package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/keys"
	"github.com/futurepaul/dialog-final-v2/internal/store"
	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var purgeYes bool

var purgeCmd = &cobra.Command{
	Use:    "purge",
	Hidden: true,
	Short:  "Delete the local database for the current identity",
	Long: `Delete all locally stored notes for the current identity.

Relays keep their copies; a later sync restores whatever they still have.
The identity file is not touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		k, err := keys.Resolve(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("no identity found: %w", err)
		}

		if !purgeYes {
			what := "all local notes"
			if db, derr := store.Open(store.DataPath(cfg.DataDir, k.PublicHex())); derr == nil {
				if n, cerr := db.EventCount(cmd.Context()); cerr == nil {
					what = fmt.Sprintf("%d locally stored events", n)
				}
				_ = db.Close()
			}
			fmt.Printf("%s Delete %s for %s? [y/N] ",
				ui.RenderWarn("⚠"), what, ui.RenderAccent(k.Npub()))
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
				fmt.Println("aborted")
				return nil
			}
		}

		if err := store.Destroy(cfg.DataDir, k.PublicHex()); err != nil {
			return fmt.Errorf("failed to purge local data: %w", err)
		}
		fmt.Printf("%s Local data removed\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "skip confirmation")
}
