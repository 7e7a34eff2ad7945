// Package logging holds structured logging helpers shared by the reconciler
// components.
package logging

import (
	"sort"

	"github.com/go-logr/logr"
)

// AuditMessage is the message of every audit entry.
const AuditMessage = "Snapshot repository audit event"

// LogAuditEvent logs a structured audit event for a change made to a remote
// endpoint. Entries are tagged "audit=true" so they can be filtered out of the
// regular stream; fields are emitted in key order.
func LogAuditEvent(logger logr.Logger, eventType string, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	kvs := make([]any, 0, 4+2*len(keys))
	kvs = append(kvs, "audit", "true", "event_type", eventType)
	for _, key := range keys {
		kvs = append(kvs, key, fields[key])
	}
	logger.Info(AuditMessage, kvs...)
}

// Warn logs msg at info level with the "warning" marker used for
// diagnostics that are not failures.
func Warn(logger logr.Logger, msg string, keysAndValues ...any) {
	logger.Info(msg, append([]any{"warning", true}, keysAndValues...)...)
}
