package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blazeload/blaze/internal/config"
	"github.com/blazeload/blaze/internal/core"
	"github.com/blazeload/blaze/internal/engine/types"
)

var errNotRunning = errors.New("blaze is not running; start it with 'blaze' and try again")

// readActivePort reads the port from the port file
func readActivePort() int {
	data, err := os.ReadFile(filepath.Join(config.GetBlazeDir(), "port"))
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return port
}

// readURLsFromFile reads URLs from a file, one per line
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	return urls, scanner.Err()
}

// resolveAPIConnection returns the daemon base URL and bearer token. An explicit
// host wins over the local port file; the token comes from BLAZE_TOKEN or, for
// the local daemon, its token file.
func resolveAPIConnection(host string) (string, string, error) {
	token := strings.TrimSpace(os.Getenv(config.EnvToken))

	if host == "" {
		port := readActivePort()
		if port == 0 {
			return "", "", errNotRunning
		}
		host = "127.0.0.1:" + strconv.Itoa(port)
	}

	baseURL := host
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	if token == "" {
		h := strings.TrimPrefix(strings.TrimPrefix(baseURL, "http://"), "https://")
		if i := strings.LastIndex(h, ":"); i != -1 {
			h = h[:i]
		}
		if h != "127.0.0.1" && h != "localhost" {
			return "", "", fmt.Errorf("no token provided for %s: set %s", host, config.EnvToken)
		}
		token = ensureAuthToken()
	}
	return baseURL, token, nil
}

// remoteService connects to the running daemon selected by the --host flag.
func remoteService(cmd *cobra.Command) (*core.RemoteDownloadService, error) {
	if _, err := initializeGlobalState(); err != nil {
		return nil, err
	}
	host, _ := cmd.Flags().GetString("host")
	baseURL, token, err := resolveAPIConnection(host)
	if err != nil {
		return nil, err
	}
	return core.NewRemoteDownloadService(baseURL, token), nil
}

// resolveDownloadID resolves a unique ID prefix against the daemon's jobs.
// Full IDs and unmatched prefixes are returned unchanged.
func resolveDownloadID(service core.DownloadService, partialID string) (string, error) {
	if len(partialID) >= 32 {
		return partialID, nil // Already a full UUID
	}

	snap, err := service.List()
	if err != nil {
		return "", err
	}

	var matches []string
	for _, bucket := range [][]types.Job{snap.Active, snap.Queued, snap.History} {
		for _, j := range bucket {
			if strings.HasPrefix(j.ID, partialID) {
				matches = append(matches, j.ID)
			}
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return partialID, nil // will fail with "not found" on the daemon
	default:
		return "", fmt.Errorf("ambiguous ID prefix '%s' matches %d downloads", partialID, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
