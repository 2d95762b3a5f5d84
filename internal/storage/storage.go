// Package storage defines the object store contract used for documents and blobs.
//
// Keys are slash separated relative paths such as "course/week1/README.md".
// Backends expose them verbatim so the static route can resolve any key the
// sync path wrote.
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

// Content types assigned when the key extension is unknown.
const (
	ContentTypeOctetStream = "application/octet-stream"
	ContentTypeMarkdown    = "text/markdown; charset=utf-8"
)

var (
	// ErrNotFound indicates the requested key is missing.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidKey indicates a key that cannot be mapped onto the store.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Backend is implemented by every object store.
type Backend interface {
	// PutObject writes body to key, replacing any existing object.
	PutObject(ctx context.Context, key string, body io.Reader, opts PutObjectOptions) (*ObjectInfo, error)
	// GetObject returns a reader for key. Callers must close the reader.
	GetObject(ctx context.Context, key string) (GetObjectResult, error)
	// DeleteObject removes key. Missing keys return ErrNotFound.
	DeleteObject(ctx context.Context, key string) error
	// ListObjects enumerates keys under opts.Prefix in ascending order.
	ListObjects(ctx context.Context, opts ListOptions) (*ListResult, error)
	// Close releases backend resources.
	Close() error
}

// UsageReporter is implemented by backends that can report capacity.
type UsageReporter interface {
	Usage(ctx context.Context) (Usage, error)
}

// Usage describes capacity of the filesystem holding a backend.
type Usage struct {
	Path  string
	Total uint64
	Used  uint64
	Free  uint64
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// PutObjectOptions carries metadata for PutObject.
type PutObjectOptions struct {
	ContentType string
	// Size is the body length when known, -1 otherwise.
	Size int64
}

// GetObjectResult is an object reader with its metadata.
type GetObjectResult struct {
	Reader io.ReadCloser
	Info   *ObjectInfo
}

// ListOptions guides ListObjects traversal.
type ListOptions struct {
	Prefix     string
	StartAfter string
	Limit      int
}

// ListResult is one page of ListObjects output.
type ListResult struct {
	Objects        []ObjectInfo
	NextStartAfter string
	Truncated      bool
}

// NormalizeKey cleans key into a relative slash path and rejects keys that
// escape the store root or name a directory.
func NormalizeKey(key string) (string, error) {
	if strings.ContainsAny(key, "\\\x00") || strings.HasSuffix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// JoinPrefix prepends a backend prefix to key.
func JoinPrefix(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// ContentTypeFor guesses a content type from the key extension.
func ContentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	switch ext {
	case "":
		return ContentTypeOctetStream
	case ".md", ".markdown":
		return ContentTypeMarkdown
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return ContentTypeOctetStream
}

// Unwrapper is implemented by decorators around a Backend.
type Unwrapper interface {
	Unwrap() Backend
}

// UsageOf reports capacity for b or any backend it decorates. ok is false when
// no layer implements UsageReporter.
func UsageOf(ctx context.Context, b Backend) (usage Usage, ok bool, err error) {
	for b != nil {
		if r, isReporter := b.(UsageReporter); isReporter {
			usage, err = r.Usage(ctx)
			return usage, true, err
		}
		u, isWrapper := b.(Unwrapper)
		if !isWrapper {
			break
		}
		b = u.Unwrap()
	}
	return Usage{}, false, nil
}

// Pinger is implemented by remote backends that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingOf pings b or the first backend it decorates that implements Pinger.
// Backends without a remote dependency are considered reachable.
func PingOf(ctx context.Context, b Backend) error {
	for b != nil {
		if p, ok := b.(Pinger); ok {
			return p.Ping(ctx)
		}
		u, ok := b.(Unwrapper)
		if !ok {
			return nil
		}
		b = u.Unwrap()
	}
	return nil
}
