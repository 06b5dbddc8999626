package utils

import "path/filepath"

// EnsureAbsPath returns path made absolute against the working directory.
// On failure the input is returned unchanged.
func EnsureAbsPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
