package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment overrides, applied on top of settings.json.
const (
	EnvRPCURL        = "BLAZE_RPC_URL"
	EnvRPCSecret     = "BLAZE_RPC_SECRET"
	EnvMaxConcurrent = "BLAZE_MAX_CONCURRENT"
	EnvPollInterval  = "BLAZE_POLL_INTERVAL"
	EnvListenAddr    = "BLAZE_LISTEN_ADDR"
	EnvDownloadDir   = "BLAZE_DOWNLOAD_DIR"

	// EnvToken is read by CLI subcommands, not by the daemon.
	EnvToken = "BLAZE_TOKEN"
)

// LoadEnvFiles loads the given .env files (default ".env") into the process
// environment. Variables already set are left alone; missing files are ignored.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides s with any BLAZE_* variables found in the environment.
func ApplyEnv(s *Settings) error {
	if v, ok := os.LookupEnv(EnvRPCURL); ok && v != "" {
		s.Backend.RPCURL = v
	}
	if v, ok := os.LookupEnv(EnvRPCSecret); ok {
		s.Backend.RPCSecret = v
	}
	if v, ok := os.LookupEnv(EnvMaxConcurrent); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxConcurrent, err)
		}
		s.Queue.MaxConcurrentDownloads = n
	}
	if v, ok := os.LookupEnv(EnvPollInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		s.Queue.PollInterval = d
	}
	if v, ok := os.LookupEnv(EnvListenAddr); ok && v != "" {
		s.Server.ListenAddr = v
	}
	if v, ok := os.LookupEnv(EnvDownloadDir); ok && v != "" {
		s.General.DefaultDownloadDir = v
	}
	return nil
}
