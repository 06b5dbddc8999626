package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blazeload/blaze/internal/backend"
	"github.com/blazeload/blaze/internal/config"
	"github.com/blazeload/blaze/internal/core"
	"github.com/blazeload/blaze/internal/engine/state"
	"github.com/blazeload/blaze/internal/observability"
	"github.com/blazeload/blaze/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 5 * time.Second

// rootCmd runs the daemon when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "blaze",
	Short:   "Download queue daemon for aria2",
	Long:    `Blaze keeps a durable download queue in sync with an aria2 instance, admitting at most N concurrent transfers and surviving restarts of either side.`,
	Version: Version,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := initializeGlobalState()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if v, _ := cmd.Flags().GetString("rpc-url"); v != "" {
			settings.Backend.RPCURL = v
		}
		if v, _ := cmd.Flags().GetString("output"); v != "" {
			settings.General.DefaultDownloadDir = utils.EnsureAbsPath(v)
		}
		if v, _ := cmd.Flags().GetInt("max-concurrent"); v > 0 {
			settings.Queue.MaxConcurrentDownloads = v
		}
		if v, _ := cmd.Flags().GetInt("port"); v > 0 {
			settings.Server.ListenAddr = net.JoinHostPort("127.0.0.1", strconv.Itoa(v))
		}

		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Printf("Error acquiring lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: Blaze is already running.")
			fmt.Fprintln(os.Stderr, "Use 'blaze add <url>' to queue a download on the running instance.")
			os.Exit(1)
		}
		defer func() {
			if err := ReleaseLock(); err != nil {
				utils.Debug("Error releasing lock: %v", err)
			}
		}()

		if err := runDaemon(settings); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// runDaemon serves the HTTP API and reconciles the queue until SIGINT or SIGTERM.
func runDaemon(settings *config.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		metrics        *observability.Metrics
		metricsHandler http.Handler
	)
	if settings.Server.MetricsEnabled {
		m, h, err := observability.NewMetrics(ctx)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		metrics, metricsHandler = m, h
		defer func() {
			if err := metrics.Shutdown(context.Background()); err != nil {
				utils.Debug("Error shutting down metrics: %v", err)
			}
		}()
	}

	client := backend.NewAria2Client(settings.Backend.RPCURL, settings.Backend.RPCSecret, settings.Backend.RequestTimeout)
	opts := core.OptionsFromSettings(settings)
	opts.Metrics = metrics
	service := core.NewLocalDownloadService(client, state.NewStore(), opts)
	defer state.CloseDB()

	listener, err := net.Listen("tcp", settings.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", settings.Server.ListenAddr, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	// Save port for CLI discovery
	saveActivePort(port)
	defer removeActivePort()

	server := &http.Server{
		Handler:           newRouter(service, ensureAuthToken(), metrics, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- service.Run(ctx)
	}()

	fmt.Printf("Blaze %s listening on %s, engine at %s\n", Version, listener.Addr(), settings.Backend.RPCURL)
	utils.Debug("daemon started: listen=%s rpc=%s max=%d", listener.Addr(), settings.Backend.RPCURL, settings.Queue.MaxConcurrentDownloads)

	loopErr, loopDone := awaitExit(ctx, serveErr, runDone)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Debug("HTTP server shutdown: %v", err)
	}

	// Let the in-flight tick finish before the final flush.
	if !loopDone {
		if err := <-runDone; err != nil {
			utils.Debug("reconcile loop: %v", err)
		}
	}
	if err := service.Shutdown(); err != nil {
		return errors.Join(loopErr, err)
	}
	if loopErr != nil {
		return fmt.Errorf("reconcile loop stopped: %w", loopErr)
	}
	fmt.Println("Blaze stopped.")
	return nil
}

// awaitExit blocks until a signal arrives, the HTTP server fails or the
// reconcile loop returns. loopDone reports the last case; loopErr is what
// Run returned then.
func awaitExit(ctx context.Context, serveErr, runDone <-chan error) (loopErr error, loopDone bool) {
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			utils.Debug("HTTP server error: %v", err)
		}
	case err := <-runDone:
		if err == nil && ctx.Err() == nil {
			err = errors.New("returned before shutdown")
		}
		if err != nil {
			utils.Debug("reconcile loop exited: %v", err)
		}
		return err, true
	}
	return nil, false
}

// saveActivePort writes the active port to <app dir>/port for CLI discovery
func saveActivePort(port int) {
	portFile := filepath.Join(config.GetBlazeDir(), "port")
	if err := os.WriteFile(portFile, []byte(strconv.Itoa(port)), 0o644); err != nil {
		utils.Debug("Error writing port file: %v", err)
	}
	utils.Debug("HTTP server listening on port %d", port)
}

// removeActivePort cleans up the port file on exit
func removeActivePort() {
	portFile := filepath.Join(config.GetBlazeDir(), "port")
	if err := os.Remove(portFile); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing port file: %v", err)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: settings server.listen_addr)")
	rootCmd.Flags().StringP("output", "o", "", "Default download directory")
	rootCmd.Flags().String("rpc-url", "", "aria2 JSON-RPC endpoint")
	rootCmd.Flags().IntP("max-concurrent", "n", 0, "Maximum concurrent downloads")
	rootCmd.SetVersionTemplate("Blaze version {{.Version}}\n")
}

// initializeGlobalState sets up directories, the state database and logging,
// and returns the effective settings (settings.json, then .env, then BLAZE_* variables).
func initializeGlobalState() (*config.Settings, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create app directories: %w", err)
	}

	// Config engine state
	state.Configure(config.GetDBPath())

	// Config logging
	utils.ConfigureDebug(config.GetLogsDir())

	settings, err := config.LoadSettings()
	if err != nil {
		utils.Debug("Error loading settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	// Clean up old logs
	utils.CleanupLogs(settings.General.LogRetentionCount)
	return settings, nil
}
