package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertBytesToHumanReadable(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1025, "1.0 KB"},
		{1536, "1.5 KB"},
		{1023 * 1024, "1023.0 KB"},
		{1024 * 1024, "1.0 MB"},
		{700 * 1024 * 1024, "700.0 MB"},
		{4_700_000_000, "4.4 GB"}, // single layer DVD image
		{3 << 40, "3.0 TB"},
		{1 << 50, "1.0 PB"},
		{2048 << 50, "2048.0 PB"}, // no unit past PB
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ConvertBytesToHumanReadable(tt.bytes))
		})
	}
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "0 B/s", FormatSpeed(0))
	assert.Equal(t, "0 B/s", FormatSpeed(-10))
	assert.Equal(t, "900 B/s", FormatSpeed(900))
	assert.Equal(t, "2.5 MB/s", FormatSpeed(2560*1024))
}
