package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blazeload/blaze/internal/core"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <ID>",
	Short: "Pause a download",
	Long:  `Pause a download by its ID (or a unique prefix). Use --all to pause every downloading or waiting job.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		runControl(cmd, args, all, "Paused", (*core.RemoteDownloadService).Pause, (*core.RemoteDownloadService).PauseAll)
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	pauseCmd.Flags().Bool("all", false, "Pause all downloads")
	addHostFlag(pauseCmd)
}

type (
	singleOp func(*core.RemoteDownloadService, string) error
	bulkOp   func(*core.RemoteDownloadService) (core.BulkResult, error)
)

// runControl applies a per-job or bulk control operation on the daemon.
func runControl(cmd *cobra.Command, args []string, all bool, verb string, one singleOp, many bulkOp) {
	if !all && len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: provide a download ID or use --all")
		os.Exit(1)
	}
	if all && len(args) > 0 {
		fmt.Fprintln(os.Stderr, "Error: --all does not take an ID")
		os.Exit(1)
	}

	service, err := remoteService(cmd)
	exitOnError(err)
	defer func() { _ = service.Shutdown() }()

	if all {
		if many == nil {
			fmt.Fprintln(os.Stderr, "Error: --all is not supported for this command")
			os.Exit(1)
		}
		res, err := many(service)
		exitOnError(err)
		fmt.Printf("%s %d downloads", verb, res.Affected)
		if res.Failed > 0 {
			fmt.Printf(", %d failed", res.Failed)
		}
		fmt.Println(".")
		return
	}

	id, err := resolveDownloadID(service, args[0])
	exitOnError(err)
	exitOnError(one(service, id))
	fmt.Printf("%s download %s\n", verb, shortID(id))
}
