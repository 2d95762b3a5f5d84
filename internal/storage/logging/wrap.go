// Package logging decorates storage backends with structured logs and spans.
package logging

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/correlation"
	"pkt.systems/docsync/internal/storage"
)

type backend struct {
	inner  storage.Backend
	logger pslog.Logger
	tracer trace.Tracer
	sys    string
}

// Wrap decorates inner with trace/debug logging and one span per operation.
func Wrap(inner storage.Backend, logger pslog.Logger, sys string) storage.Backend {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &backend{
		inner:  inner,
		logger: logger,
		tracer: otel.Tracer("pkt.systems/docsync/storage"),
		sys:    sys,
	}
}

// Unwrap returns the decorated backend.
func (b *backend) Unwrap() storage.Backend { return b.inner }

func (b *backend) start(ctx context.Context, op, key string) (context.Context, pslog.Logger, func(error)) {
	begin := time.Now()
	ctx, span := b.tracer.Start(ctx, "docsync.storage."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("docsync.storage.operation", op),
		attribute.String("docsync.storage.key", key),
		attribute.String("docsync.sys", b.sys),
	)
	logger := b.logger
	if ctxLogger := pslog.LoggerFromContext(ctx); ctxLogger != nil {
		logger = ctxLogger
	}
	if corr := correlation.ID(ctx); corr != "" {
		span.SetAttributes(attribute.String("docsync.correlation_id", corr))
	}
	ctx = pslog.ContextWithLogger(ctx, logger)
	logger.Trace("storage."+op+".begin", "key", key)
	return ctx, logger, func(err error) {
		elapsed := time.Since(begin)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "storage_error")
			logger.Debug("storage."+op+".error", "key", key, "error", err, "elapsed", elapsed)
		} else {
			span.SetStatus(codes.Ok, "")
			logger.Trace("storage."+op+".success", "key", key, "elapsed", elapsed)
		}
		span.End()
	}
}

func (b *backend) PutObject(ctx context.Context, key string, body io.Reader, opts storage.PutObjectOptions) (*storage.ObjectInfo, error) {
	ctx, _, finish := b.start(ctx, "put_object", key)
	info, err := b.inner.PutObject(ctx, key, body, opts)
	finish(err)
	return info, err
}

func (b *backend) GetObject(ctx context.Context, key string) (storage.GetObjectResult, error) {
	ctx, _, finish := b.start(ctx, "get_object", key)
	res, err := b.inner.GetObject(ctx, key)
	finish(err)
	return res, err
}

func (b *backend) DeleteObject(ctx context.Context, key string) error {
	ctx, _, finish := b.start(ctx, "delete_object", key)
	err := b.inner.DeleteObject(ctx, key)
	finish(err)
	return err
}

func (b *backend) ListObjects(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	ctx, logger, finish := b.start(ctx, "list_objects", opts.Prefix)
	res, err := b.inner.ListObjects(ctx, opts)
	if err == nil {
		logger.Trace("storage.list_objects.count", "prefix", opts.Prefix, "count", len(res.Objects))
	}
	finish(err)
	return res, err
}

func (b *backend) Close() error {
	b.logger.Debug("storage.close", "backend", b.sys)
	return b.inner.Close()
}
