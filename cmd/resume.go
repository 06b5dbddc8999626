package cmd

import (
	"github.com/spf13/cobra"

	"github.com/blazeload/blaze/internal/core"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <ID>",
	Short: "Resume a paused download",
	Long: `Resume a paused download by its ID (or a unique prefix).
Downloads paused by an engine outage, or never handed to the engine, go back to the queue.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runControl(cmd, args, false, "Resumed", (*core.RemoteDownloadService).Resume, nil)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	addHostFlag(resumeCmd)
}
