package cmd

import (
	"github.com/spf13/cobra"

	"github.com/blazeload/blaze/internal/core"
)

var stopCmd = &cobra.Command{
	Use:     "stop <ID>",
	Aliases: []string{"cancel"},
	Short:   "Stop a download",
	Long:    `Stop a download by its ID (or a unique prefix). Use --all to stop every downloading or waiting job.`,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		runControl(cmd, args, all, "Stopped", (*core.RemoteDownloadService).Stop, (*core.RemoteDownloadService).StopAll)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().Bool("all", false, "Stop all downloads")
	addHostFlag(stopCmd)
}
