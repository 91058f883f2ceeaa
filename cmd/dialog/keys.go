package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/futurepaul/dialog-final-v2/internal/keys"
	"github.com/futurepaul/dialog-final-v2/internal/ui"
)

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new identity",
	Long: `Generate a new identity key and store it in the data directory.

The secret key is written to <data-dir>/identity with owner-only
permissions. Setting ` + keys.EnvSecret + ` overrides the stored identity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		identityPath := filepath.Join(cfg.DataDir, "identity")
		if !keygenForce {
			if _, err := (keys.FileStore{Path: identityPath}).IdentityKey(); err == nil {
				return fmt.Errorf("identity already exists at %s (use --force to replace)", identityPath)
			}
		}

		k, err := keys.Generate()
		if err != nil {
			return fmt.Errorf("failed to generate identity: %w", err)
		}
		if err := keys.WriteIdentity(identityPath, k.Nsec()); err != nil {
			return fmt.Errorf("failed to store identity: %w", err)
		}

		fmt.Printf("%s Identity written to %s\n", ui.RenderPass("✓"), identityPath)
		fmt.Printf("   public key: %s\n", ui.RenderAccent(k.Npub()))
		fmt.Printf("   %s\n", ui.RenderMuted("back up the identity file; losing it loses your notes"))
		return nil
	},
}

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Show the current identity's public key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		k, err := keys.Resolve(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("no identity found: %w (run 'dialog keygen' or set %s)", err, keys.EnvSecret)
		}
		fmt.Println(k.Npub())
		fmt.Println(ui.RenderMuted(k.PublicHex()))
		return nil
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "replace an existing identity")
}
