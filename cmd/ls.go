package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/blazeload/blaze/internal/core"
	"github.com/blazeload/blaze/internal/engine/types"
	"github.com/blazeload/blaze/internal/utils"
)

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List downloads",
	Long:    `List the active, queued and finished downloads of the running Blaze instance.`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		service, err := remoteService(cmd)
		exitOnError(err)
		defer func() { _ = service.Shutdown() }()

		snap, err := service.List()
		exitOnError(err)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			exitOnError(enc.Encode(snap))
			return
		}
		printSnapshot(os.Stdout, snap)
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("json", false, "Print the raw snapshot as JSON")
	addHostFlag(lsCmd)
}

func printSnapshot(out io.Writer, snap core.Snapshot) {
	status := "connected"
	if !snap.Connected {
		status = "DISCONNECTED"
	}
	fmt.Fprintf(out, "Engine %s, %d active, %d queued, %s\n\n",
		status, snap.ActiveCount(), snap.QueuedCount(), utils.FormatSpeed(snap.TotalSpeed))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPROGRESS\tSPEED\tNAME")
	for _, bucket := range [][]types.Job{snap.Active, snap.Queued, snap.History} {
		for _, j := range bucket {
			state := j.State.String()
			if j.PausedDueToDisconnect {
				state += "*"
			}
			speed := "-"
			if j.Speed > 0 {
				speed = utils.FormatSpeed(j.Speed)
			}
			fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%s\n", shortID(j.ID), state, j.Percent(), speed, j.DisplayName())
		}
	}
	_ = tw.Flush()
}
