package cmd

import (
	"fmt"

	"github.com/marcus/dsync/internal/config"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <identity-id>",
	Short: "Set the identity id used to scope local and remote data",
	Long: `Stores the identity id in the credentials cache. Data written before any
login lives under the unknown identity and is rekeyed to the real id by the
login command itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := config.LoadAuth()
		if err != nil {
			return err
		}
		auth.IdentityID = args[0]
		if err := config.SaveAuth(auth); err != nil {
			return err
		}

		// Touch the binding once so the rekey listener runs now rather than
		// on the next data command.
		app, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Printf("Logged in as %s\n", app.binding.IdentityID())
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config <server-url> [pool-id]",
	Short: "Set the sync server URL and identity pool",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.Sync.URL = args[0]
		if len(args) > 1 {
			cfg.Sync.PoolID = args[1]
		}
		if err := config.Save(cfg); err != nil {
			return err
		}
		fmt.Printf("Server set to %s (pool %s)\n", cfg.ServerURL(), poolID(cfg))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(configCmd)
}
