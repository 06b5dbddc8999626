package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blazeload/blaze/internal/utils"
)

var addCmd = &cobra.Command{
	Use:     "add [url]...",
	Aliases: []string{"get"},
	Short:   "Queue downloads on the running Blaze instance",
	Long:    `Add one or more URLs to the download queue of a running Blaze instance. New downloads always start out waiting.`,
	Run: func(cmd *cobra.Command, args []string) {
		batchFile, _ := cmd.Flags().GetString("batch")
		output, _ := cmd.Flags().GetString("output")
		filename, _ := cmd.Flags().GetString("filename")
		connections, _ := cmd.Flags().GetInt("connections")

		urls := append([]string(nil), args...)
		if batchFile != "" {
			fileUrls, err := readURLsFromFile(batchFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading batch file: %v\n", err)
				os.Exit(1)
			}
			urls = append(urls, fileUrls...)
		}

		if len(urls) == 0 {
			_ = cmd.Help()
			return
		}
		if filename != "" && len(urls) > 1 {
			fmt.Fprintln(os.Stderr, "Error: --filename can only be used with a single URL")
			os.Exit(1)
		}
		if output != "" {
			output = utils.EnsureAbsPath(output)
		}

		service, err := remoteService(cmd)
		exitOnError(err)
		defer func() { _ = service.Shutdown() }()

		count := 0
		for _, url := range urls {
			id, err := service.Add(url, output, filename, connections)
			if err != nil {
				fmt.Printf("Error adding %s: %v\n", url, err)
				continue
			}
			fmt.Printf("Queued: %s [%s]\n", url, shortID(id))
			count++
		}

		if count > 1 {
			fmt.Printf("Successfully added %d downloads.\n", count)
		}
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("batch", "b", "", "File containing URLs to download (one per line)")
	addCmd.Flags().StringP("output", "o", "", "Output directory")
	addCmd.Flags().StringP("filename", "f", "", "Output file name (single URL only)")
	addCmd.Flags().IntP("connections", "c", 0, "Connections per download (default: settings)")
	addHostFlag(addCmd)
}

// addHostFlag registers --host on commands that talk to the daemon.
func addHostFlag(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "Daemon address host:port (default: local instance)")
}
