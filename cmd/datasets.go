package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var datasetsRefresh bool

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List datasets of the current identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if datasetsRefresh {
			if _, err := app.manager.RefreshDatasetMetadata(); err != nil {
				return fmt.Errorf("refresh metadata: %w", err)
			}
		}

		metadata, err := app.manager.ListDatasets()
		if err != nil {
			return err
		}
		if len(metadata) == 0 {
			fmt.Println("no datasets")
			return nil
		}
		for _, m := range metadata {
			state := fmt.Sprintf("lsc=%d", m.LastSyncCount)
			if m.PendingDelete() {
				state = "pending delete"
			}
			fmt.Printf("%s\t%d records\t%d bytes\t%s\n",
				m.Name, m.RecordCount, m.StorageSizeBytes, state)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <dataset>",
	Short: "Delete a dataset",
	Long: `Marks the dataset deleted locally. The deletion reaches the server on the
next sync, after which the local rows are purged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ds, err := app.manager.OpenOrCreateDataset(args[0])
		if err != nil {
			return err
		}
		if err := ds.Delete(); err != nil {
			return err
		}
		fmt.Printf("%s marked deleted; run 'dsync sync %s' to remove it remotely\n", args[0], args[0])
		return nil
	},
}

func init() {
	datasetsCmd.Flags().BoolVar(&datasetsRefresh, "refresh", false, "pull dataset metadata from the server first")
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(deleteCmd)
}
