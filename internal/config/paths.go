package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "blaze"

func GetBlazeDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		return filepath.Join(appData, appName)
	case "darwin": // MacOS
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", appName)
	default: // Linux
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, _ := os.UserHomeDir()
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName)
	}
}

// Returns directory for the job database
func GetStateDir() string {
	return filepath.Join(GetBlazeDir(), "state")
}

// Returns directory for logs
func GetLogsDir() string {
	return filepath.Join(GetBlazeDir(), "logs")
}

// GetDBPath returns the path of the job database.
func GetDBPath() string {
	return filepath.Join(GetStateDir(), "blaze.db")
}

// GetLockPath returns the path of the single-instance lock file.
func GetLockPath() string {
	return filepath.Join(GetBlazeDir(), "blaze.lock")
}

// EnsureDirs creates all required directories
func EnsureDirs() error {
	dirs := []string{GetBlazeDir(), GetStateDir(), GetLogsDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
