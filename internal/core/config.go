package core

import (
	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/clock"
	"pkt.systems/docsync/internal/docpath"
	"pkt.systems/docsync/internal/locks"
	"pkt.systems/docsync/internal/storage"
)

// DefaultBlobConcurrency bounds parallel blob writes within one sync.
const DefaultBlobConcurrency = 8

// Config captures the dependencies and knobs of the sync service.
type Config struct {
	Store    storage.Backend
	Locks    *locks.Manager
	Resolver docpath.Resolver
	Layout   docpath.Layout

	// BaseURL and StaticPrefix compose rewritten blob links as
	// <BaseURL>/<StaticPrefix>/<dir>/<blob>.
	BaseURL      string
	StaticPrefix string
	RewriteLinks bool

	BlobConcurrency int
	// LockRetryAfter is the Retry-After hint, in seconds, on lock conflicts.
	LockRetryAfter int64

	Logger pslog.Logger
	Clock  clock.Clock
}
