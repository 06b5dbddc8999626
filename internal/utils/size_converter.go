package utils

import "fmt"

// ConvertBytesToHumanReadable formats a byte count using binary units.
func ConvertBytesToHumanReadable(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTP"[exp])
}

// FormatSpeed renders a transfer rate. Negative rates read as zero.
func FormatSpeed(bytesPerSec int64) string {
	return ConvertBytesToHumanReadable(max(bytesPerSec, 0)) + "/s"
}
