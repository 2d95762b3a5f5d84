// Package core implements document synchronisation independent of transport.
package core

import (
	"context"
	"strings"

	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/clock"
	"pkt.systems/docsync/internal/docpath"
	"pkt.systems/docsync/internal/locks"
	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/svcfields"
)

// Service coordinates locked document writes.
type Service struct {
	store           storage.Backend
	locks           *locks.Manager
	resolver        docpath.Resolver
	layout          docpath.Layout
	baseURL         string
	staticPrefix    string
	rewriteLinks    bool
	blobConcurrency int
	lockRetryAfter  int64
	logger          pslog.Logger
	clock           clock.Clock
	metrics         *syncMetrics
}

// New constructs the Service, filling unset knobs with defaults.
func New(cfg Config) *Service {
	logger := svcfields.WithSubsystem(cfg.Logger, "sync.core")
	if cfg.Locks == nil {
		cfg.Locks = locks.NewManager(cfg.Clock)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Layout == "" {
		cfg.Layout = docpath.LayoutFlat
	}
	if cfg.BlobConcurrency <= 0 {
		cfg.BlobConcurrency = DefaultBlobConcurrency
	}
	if cfg.LockRetryAfter <= 0 {
		cfg.LockRetryAfter = 1
	}
	s := &Service{
		store:           cfg.Store,
		locks:           cfg.Locks,
		resolver:        cfg.Resolver,
		layout:          cfg.Layout,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		staticPrefix:    strings.Trim(cfg.StaticPrefix, "/"),
		rewriteLinks:    cfg.RewriteLinks,
		blobConcurrency: cfg.BlobConcurrency,
		lockRetryAfter:  cfg.LockRetryAfter,
		logger:          logger,
		clock:           cfg.Clock,
	}
	s.metrics = newSyncMetrics(logger, s)
	return s
}

// Locks returns the lock table used by the service.
func (s *Service) Locks() *locks.Manager { return s.locks }

// Layout returns the blob layout.
func (s *Service) Layout() docpath.Layout { return s.layout }

func (s *Service) loggerFor(ctx context.Context) pslog.Logger {
	if logger := pslog.LoggerFromContext(ctx); logger != nil {
		return svcfields.WithSubsystem(logger, "sync.core")
	}
	return s.logger
}
