// Package source classifies the URIs a job can be created from.
package source

import (
	"net/url"
	"strings"
)

type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindHTTP       Kind = "http"
	KindFTP        Kind = "ftp"
	KindTorrentURL Kind = "torrent"
	KindMagnet     Kind = "magnet"
)

func Normalize(raw string) string {
	return strings.TrimSpace(raw)
}

func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func IsFTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "ftp" || u.Scheme == "sftp"
}

func IsTorrentURL(raw string) bool {
	if !IsHTTPURL(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".torrent")
}

func IsMagnet(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if strings.ToLower(u.Scheme) != "magnet" {
		return false
	}
	// Accept any non-empty magnet payload (opaque or query).
	return u.Opaque != "" || u.RawQuery != ""
}

func KindOf(raw string) Kind {
	s := Normalize(raw)
	switch {
	case s == "":
		return KindUnknown
	case IsMagnet(s):
		return KindMagnet
	case IsTorrentURL(s):
		return KindTorrentURL
	case IsHTTPURL(s):
		return KindHTTP
	case IsFTPURL(s):
		return KindFTP
	default:
		return KindUnknown
	}
}

// IsSupported reports whether the download engine can take raw as a URI.
func IsSupported(raw string) bool {
	return KindOf(raw) != KindUnknown
}
