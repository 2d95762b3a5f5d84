// Package svcfields holds the shared log field conventions.
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey tags every entry with the emitting subsystem.
const SubsystemKey = pslog.TrustedString("sys")

// Field keys used across packages so log queries stay stable.
const (
	DocumentIDKey = "document_id"
	KeyKey        = "key"
	ErrorKey      = "error"
)

// Subsystem joins non-empty parts with dots.
func Subsystem(parts ...string) string {
	filtered := parts[:0:0]
	for _, part := range parts {
		if part = strings.Trim(part, ". "); part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ".")
}

// WithSubsystem returns logger tagged with subsystem. A nil logger becomes a no-op logger.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if subsystem = strings.Trim(subsystem, ". "); subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}
