// Package httpapi exposes the document sync service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/docsync/api"
	"pkt.systems/docsync/internal/core"
	"pkt.systems/docsync/internal/correlation"
	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/svcfields"
)

const (
	// DefaultJSONMaxBytes bounds sync request bodies.
	DefaultJSONMaxBytes = 500 << 20
	// DefaultStaticPrefix is the URL prefix the stored tree is served under.
	DefaultStaticPrefix = "/static"
)

// Config wires a Handler.
type Config struct {
	Sync   *core.Service
	Store  storage.Backend
	Logger pslog.Logger
	// JSONMaxBytes caps the /sync body. Zero selects DefaultJSONMaxBytes.
	JSONMaxBytes int64
	StaticPrefix string
	// EditorDist is the directory the editor single page app is served from.
	// Empty disables the fallback route.
	EditorDist     string
	CORS           bool
	BackendName    string
	TracingEnabled bool
}

// Handler serves the docsync HTTP API.
type Handler struct {
	sync           *core.Service
	store          storage.Backend
	logger         pslog.Logger
	tracer         trace.Tracer
	jsonMaxBytes   int64
	staticPrefix   string
	editorDist     string
	cors           bool
	backendName    string
	tracingEnabled bool
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// New constructs a Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	maxBytes := cfg.JSONMaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultJSONMaxBytes
	}
	prefix := "/" + strings.Trim(cfg.StaticPrefix, "/")
	if prefix == "/" {
		prefix = DefaultStaticPrefix
	}
	return &Handler{
		sync:           cfg.Sync,
		store:          cfg.Store,
		logger:         logger,
		tracer:         otel.Tracer("pkt.systems/docsync/httpapi"),
		jsonMaxBytes:   maxBytes,
		staticPrefix:   prefix,
		editorDist:     cfg.EditorDist,
		cors:           cfg.CORS,
		backendName:    cfg.BackendName,
		tracingEnabled: cfg.TracingEnabled,
	}
}

// Register wires every route onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/sync", h.wrap("sync", h.handleSync))
	mux.Handle(h.staticPrefix+"/", h.wrap("static", h.handleStatic))
	mux.Handle("/healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("/readyz", h.wrap("readyz", h.handleReady))
	mux.Handle("/", h.wrap("editor", h.handleEditor))
}

// Middleware applies CORS and path normalisation ahead of next. It must sit
// in front of the mux so duplicate slashes are rewritten rather than
// redirected.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cors {
			applyCORSHeaders(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		if collapsed := collapseSlashes(r.URL.Path); collapsed != r.URL.Path {
			r.URL.Path = collapsed
			r.URL.RawPath = ""
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := routerSys(operation)
	txSpanName := "docsync.tx." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		reqID := correlation.NewID()
		var span trace.Span
		if h.tracingEnabled {
			ctx, span = h.tracer.Start(ctx, txSpanName,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("docsync.sys", sys),
					attribute.String("docsync.operation", operation),
					attribute.String("docsync.route", r.URL.Path),
				),
			)
			defer span.End()
		} else {
			span = trace.SpanFromContext(ctx)
		}

		corr, ok := correlation.Normalize(r.Header.Get(correlation.Header))
		if !ok {
			corr = correlation.NewID()
		}
		ctx = correlation.WithID(ctx, corr)
		w.Header().Set(correlation.Header, corr)

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"cid", corr,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = pslog.ContextWithLogger(ctx, logger)
		if h.tracingEnabled {
			span.SetAttributes(attribute.String("docsync.correlation_id", corr))
		}
		r = r.WithContext(ctx)
		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)

		err := fn(w, r)
		if err == nil {
			if h.tracingEnabled {
				span.SetStatus(codes.Ok, "")
			}
			logger.Trace("http.request.complete", "elapsed", time.Since(start))
			return
		}
		if h.tracingEnabled {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler_error")
			var httpErr httpError
			if errors.As(err, &httpErr) {
				span.SetAttributes(
					attribute.String("docsync.error_code", httpErr.Code),
					attribute.Int("docsync.error_status", httpErr.Status),
				)
			} else {
				span.SetAttributes(attribute.String("docsync.error_code", "internal"))
			}
		}
		if errors.Is(err, context.Canceled) {
			logger.Trace("http.request.canceled", "elapsed", time.Since(start))
			err = httpError{Status: http.StatusServiceUnavailable, Code: "request_canceled", Detail: "request canceled"}
		}
		logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
		h.handleError(ctx, w, err)
	})

	if !h.tracingEnabled {
		return handler
	}
	return otelhttp.NewHandler(handler, "docsync.http."+operation,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
			"retry_after", httpErr.RetryAfter,
		)
		headers := map[string]string{}
		if httpErr.RetryAfter > 0 {
			headers["Retry-After"] = strconv.FormatInt(httpErr.RetryAfter, 10)
		}
		h.writeJSON(w, httpErr.Status, api.ErrorResponse{
			ErrorCode:         httpErr.Code,
			Detail:            httpErr.Detail,
			RetryAfterSeconds: httpErr.RetryAfter,
		}, headers)
		return
	}
	logger.Error("http.request.internal_error", svcfields.ErrorKey, err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: "internal_error",
		Detail:    "internal server error",
	}, nil)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type httpError struct {
	Status     int
	Code       string
	Detail     string
	RetryAfter int64
}

func (h httpError) Error() string {
	if h.Detail != "" {
		return fmt.Sprintf("%s: %s", h.Code, h.Detail)
	}
	return h.Code
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) error {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "method not allowed"}
}

func (h *Handler) loggerFor(r *http.Request) pslog.Logger {
	if logger := pslog.LoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return h.logger
}
