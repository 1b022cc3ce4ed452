package cmd

import (
	"fmt"
	"os"

	"github.com/marcus/dsync/pkg/monitor"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive dataset dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("monitor requires a terminal")
		}

		app, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		return monitor.Run(app.manager)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
