package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	debugFile *os.File
	debugOnce sync.Once
	logsDir   string
	mu        sync.RWMutex
	writeMu   sync.Mutex
)

const debugPrefix = "debug-"

// ConfigureDebug sets the directory for debug logs
func ConfigureDebug(dir string) {
	mu.Lock()
	defer mu.Unlock()
	logsDir = dir
}

// Debug writes a message to debug.log file in the configured directory
func Debug(format string, args ...any) {
	// add timestamp to each debug message
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	mu.RLock()
	dir := logsDir
	mu.RUnlock()

	// If no logs directory is configured, do nothing
	if dir == "" {
		return
	}

	debugOnce.Do(func() {
		_ = os.MkdirAll(dir, 0o755)
		debugFile, _ = os.Create(filepath.Join(dir, fmt.Sprintf("%s%s.log", debugPrefix, time.Now().Format("20060102-150405"))))
	})

	if debugFile != nil {
		writeMu.Lock()
		fmt.Fprintf(debugFile, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
		writeMu.Unlock()
	}
}

// CleanupLogs removes all but the newest keep debug logs. keep <= 0 disables cleanup.
func CleanupLogs(keep int) {
	mu.RLock()
	dir := logsDir
	mu.RUnlock()

	if dir == "" || keep <= 0 {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var logs []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, debugPrefix) && strings.HasSuffix(name, ".log") {
			logs = append(logs, name)
		}
	}
	if len(logs) <= keep {
		return
	}

	// Timestamped names sort chronologically.
	sort.Strings(logs)
	for _, name := range logs[:len(logs)-keep] {
		_ = os.Remove(filepath.Join(dir, name))
	}
}
