package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General GeneralSettings `json:"general"`
	Backend BackendSettings `json:"backend"`
	Queue   QueueSettings   `json:"queue"`
	Server  ServerSettings  `json:"server"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir string `json:"default_download_dir"`
	DefaultConnections int    `json:"default_connections"`
	LogRetentionCount  int    `json:"log_retention_count"`
}

// BackendSettings describes how to reach the external download engine.
type BackendSettings struct {
	RPCURL         string        `json:"rpc_url"`
	RPCSecret      string        `json:"rpc_secret"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// QueueSettings controls admission and the reconciliation cadence.
type QueueSettings struct {
	MaxConcurrentDownloads int           `json:"max_concurrent_downloads"`
	PollInterval           time.Duration `json:"poll_interval"`
	DisconnectCooldown     time.Duration `json:"disconnect_cooldown"`
}

// ServerSettings configures the local HTTP API.
type ServerSettings struct {
	ListenAddr     string `json:"listen_addr"`
	MetricsEnabled bool   `json:"metrics_enabled"`
}

// SettingMeta provides metadata for a single setting.
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "bool", "duration"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "default_download_dir", Label: "Default Download Dir", Description: "Directory used when a download does not name one. Empty lets the engine decide.", Type: "string"},
			{Key: "default_connections", Label: "Default Connections", Description: "Connections per download when not specified (1-16).", Type: "int"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
		},
		"Backend": {
			{Key: "rpc_url", Label: "RPC URL", Description: "aria2 JSON-RPC endpoint (e.g. http://127.0.0.1:6800/jsonrpc).", Type: "string"},
			{Key: "rpc_secret", Label: "RPC Secret", Description: "Value of aria2's --rpc-secret. Leave empty if unset.", Type: "string"},
			{Key: "request_timeout", Label: "Request Timeout", Description: "HTTP timeout for a single RPC call (e.g., 10s).", Type: "duration"},
		},
		"Queue": {
			{Key: "max_concurrent_downloads", Label: "Max Concurrent Downloads", Description: "Maximum number of downloads the engine runs at once.", Type: "int"},
			{Key: "poll_interval", Label: "Poll Interval", Description: "Time between reconciliation ticks (e.g., 500ms).", Type: "duration"},
			{Key: "disconnect_cooldown", Label: "Disconnect Cooldown", Description: "Delay after a failed status poll before the next tick.", Type: "duration"},
		},
		"Server": {
			{Key: "listen_addr", Label: "Listen Address", Description: "Address of the local HTTP API. Port 0 picks a free port.", Type: "string"},
			{Key: "metrics_enabled", Label: "Metrics", Description: "Expose Prometheus metrics on /metrics.", Type: "bool"},
		},
	}
}

// CategoryOrder returns the order of categories.
func CategoryOrder() []string {
	return []string{"General", "Backend", "Queue", "Server"}
}

const (
	MinConnections = 1
	MaxConnections = 16
)

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()

	defaultDir := ""

	// Check XDG_DOWNLOAD_DIR
	if xdgDir := os.Getenv("XDG_DOWNLOAD_DIR"); xdgDir != "" {
		if info, err := os.Stat(xdgDir); err == nil && info.IsDir() {
			defaultDir = xdgDir
		}
	}

	// Check ~/Downloads if not set
	if defaultDir == "" && homeDir != "" {
		downloadsDir := filepath.Join(homeDir, "Downloads")
		if info, err := os.Stat(downloadsDir); err == nil && info.IsDir() {
			defaultDir = downloadsDir
		}
	}

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir: defaultDir,
			DefaultConnections: 8,
			LogRetentionCount:  5,
		},
		Backend: BackendSettings{
			RPCURL:         "http://127.0.0.1:6800/jsonrpc",
			RequestTimeout: 10 * time.Second,
		},
		Queue: QueueSettings{
			MaxConcurrentDownloads: 2,
			PollInterval:           500 * time.Millisecond,
			DisconnectCooldown:     time.Second,
		},
		Server: ServerSettings{
			ListenAddr:     "127.0.0.1:0",
			MetricsEnabled: true,
		},
	}
}

// Validate reports the first setting that cannot be used as-is.
func (s *Settings) Validate() error {
	if s.Backend.RPCURL == "" {
		return fmt.Errorf("backend.rpc_url must not be empty")
	}
	if s.Queue.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("queue.max_concurrent_downloads must be at least 1, got %d", s.Queue.MaxConcurrentDownloads)
	}
	if s.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive, got %s", s.Queue.PollInterval)
	}
	if s.Queue.DisconnectCooldown < 0 {
		return fmt.Errorf("queue.disconnect_cooldown must not be negative, got %s", s.Queue.DisconnectCooldown)
	}
	if s.General.DefaultConnections < MinConnections || s.General.DefaultConnections > MaxConnections {
		return fmt.Errorf("general.default_connections must be between %d and %d, got %d",
			MinConnections, MaxConnections, s.General.DefaultConnections)
	}
	return nil
}

// GetSettingsPath returns the path to the settings JSON file.
func GetSettingsPath() string {
	return filepath.Join(GetBlazeDir(), "settings.json")
}

// LoadSettings loads settings from disk. Returns defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(s *Settings) error {
	path := GetSettingsPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}
