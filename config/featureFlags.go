package config

import (
	"os"
	"strings"
)

// OutboxDispatcherEnabled controls whether the background event dispatcher
// runs in this process. Disable when a dedicated dispatcher deployment owns
// the outbox.
//
// Set via env:
// - OUTBOX_DISPATCHER_ENABLED=true (default true)
func OutboxDispatcherEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DISPATCHER_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// VarianceAutoRebuildEnabled controls the rebuild-on-read behavior of the
// variance cache. When disabled, a query for an uncached period returns empty
// rows and the cache is only populated by the scheduled rebuild job.
//
// Set via env:
// - VARIANCE_AUTO_REBUILD=false
func VarianceAutoRebuildEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("VARIANCE_AUTO_REBUILD")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
