package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/storage"
)

type syncMetrics struct {
	requests  metric.Int64Counter
	duration  metric.Int64Histogram
	blobs     metric.Int64Counter
	heldLocks metric.Int64ObservableGauge
	diskUsed  metric.Int64ObservableGauge
}

func newSyncMetrics(logger pslog.Logger, svc *Service) *syncMetrics {
	meter := otel.Meter("pkt.systems/docsync/sync")
	m := &syncMetrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"docsync.sync.requests",
		metric.WithDescription("Sync requests by outcome"),
	)
	logMetricInitError(logger, "docsync.sync.requests", err)

	m.duration, err = meter.Int64Histogram(
		"docsync.sync.duration_ms",
		metric.WithDescription("Sync duration"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "docsync.sync.duration_ms", err)

	m.blobs, err = meter.Int64Counter(
		"docsync.sync.blobs",
		metric.WithDescription("Blobs written by successful syncs"),
	)
	logMetricInitError(logger, "docsync.sync.blobs", err)

	m.heldLocks, err = meter.Int64ObservableGauge(
		"docsync.locks.held",
		metric.WithDescription("Document locks currently held"),
	)
	logMetricInitError(logger, "docsync.locks.held", err)

	m.diskUsed, err = meter.Int64ObservableGauge(
		"docsync.storage.used_bytes",
		metric.WithDescription("Bytes used on the filesystem holding the store"),
		metric.WithUnit("By"),
	)
	logMetricInitError(logger, "docsync.storage.used_bytes", err)

	var instruments []metric.Observable
	if m.heldLocks != nil {
		instruments = append(instruments, m.heldLocks)
	}
	if m.diskUsed != nil {
		instruments = append(instruments, m.diskUsed)
	}
	if len(instruments) > 0 {
		_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			if m.heldLocks != nil {
				o.ObserveInt64(m.heldLocks, int64(svc.locks.Len()))
			}
			if m.diskUsed != nil && svc.store != nil {
				if usage, ok, err := storage.UsageOf(ctx, svc.store); ok && err == nil {
					o.ObserveInt64(m.diskUsed, int64(usage.Used))
				}
			}
			return nil
		}, instruments...)
		logMetricInitError(logger, "docsync.sync.callback", err)
	}
	return m
}

func (m *syncMetrics) recordSync(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Milliseconds(), attrs)
	}
}

func (m *syncMetrics) recordBlobs(ctx context.Context, n int) {
	if m == nil || m.blobs == nil || n == 0 {
		return
	}
	m.blobs.Add(ctx, int64(n))
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
