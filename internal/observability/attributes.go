// Package observability provides the Prometheus-backed metrics of the daemon.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrOutcome = "outcome"
	attrBucket  = "bucket"
)

// Tick outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeDisconnected = "disconnected"
	OutcomeSkipped      = "skipped"
	OutcomeFailed       = "failed"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func bucketAttr(bucket string) attribute.KeyValue {
	return attribute.String(attrBucket, bucket)
}

// normalizePath replaces job ids with a placeholder to bound cardinality.
// /api/downloads/abc/pause -> /api/downloads/{id}/pause
func normalizePath(path string) string {
	const prefix = "/api/downloads/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	switch rest {
	case "pause-all", "stop-all", "history":
		return path
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return prefix + "{id}" + rest[i:]
	}
	return prefix + "{id}"
}
