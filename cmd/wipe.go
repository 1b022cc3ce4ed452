package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var wipeForce bool

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Clear cached credentials and all local data",
	Long: `Sign-out: clears the credentials cache, then removes every dataset and
record of every identity from the local database. Remote data is untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !wipeForce {
			confirm := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title("Wipe all local dsync data?").
					Description("Unsynced changes will be lost. Remote data is untouched.").
					Value(&confirm),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirm {
				fmt.Println("aborted")
				return nil
			}
		}

		app, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := app.manager.WipeData(); err != nil {
			return err
		}
		fmt.Println("local data wiped")
		return nil
	},
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeForce, "force", false, "skip the confirmation prompt")
	rootCmd.AddCommand(wipeCmd)
}
