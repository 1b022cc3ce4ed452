package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put <dataset> <key> <value>",
	Short: "Write a value into a dataset",
	Args:  cobra.ExactArgs(3),
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
		return ds.Put(args[1], args[2])
	},
}

var getCmd = &cobra.Command{
	Use:   "get <dataset> <key>",
	Short: "Read a value from a dataset",
	Args:  cobra.ExactArgs(2),
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
		v, err := ds.Get(args[1])
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("key %q not found", args[1])
		}
		fmt.Println(*v)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <dataset> <key>",
	Short: "Remove a key from a dataset",
	Long: `Removal is a write: the record becomes a tombstone and the deletion is
pushed to the server on the next sync.`,
	Args: cobra.ExactArgs(2),
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
		return ds.Remove(args[1])
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records <dataset>",
	Short: "List the records of a dataset, tombstones included",
	Args:  cobra.ExactArgs(1),
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
		records, err := ds.GetAllRecords()
		if err != nil {
			return err
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
		for _, r := range records {
			state := ""
			if r.Modified {
				state += " *"
			}
			if r.Deleted {
				fmt.Printf("%s\t<deleted>\tsc=%d%s\n", r.Key, r.SyncCount, state)
				continue
			}
			fmt.Printf("%s\t%s\tsc=%d%s\n", r.Key, r.Value, r.SyncCount, state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(recordsCmd)
}
