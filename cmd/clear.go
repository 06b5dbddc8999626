package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove finished downloads from history",
	Long:  `Remove completed, stopped and failed downloads from the running Blaze instance.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		service, err := remoteService(cmd)
		exitOnError(err)
		defer func() { _ = service.Shutdown() }()

		n, err := service.ClearHistory()
		exitOnError(err)
		fmt.Printf("Removed %d finished downloads.\n", n)
	},
}

func init() {
	rootCmd.AddCommand(clearCmd)
	addHostFlag(clearCmd)
}
