// Package memory provides an in-process storage.Backend for tests and mem:// stores.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/docsync/internal/storage"
)

type object struct {
	payload     []byte
	etag        string
	contentType string
	updated     time.Time
}

// Store keeps objects in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	objs map[string]*object
	now  func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{objs: make(map[string]*object), now: time.Now}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// PutObject stores a copy of body under key.
func (s *Store) PutObject(_ context.Context, key string, body io.Reader, opts storage.PutObjectOptions) (*storage.ObjectInfo, error) {
	normalized, err := storage.NormalizeKey(key)
	if err != nil {
		return nil, fmt.Errorf("memory: key %q: %w", key, err)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("memory: read body for %q: %w", normalized, err)
	}
	sum := sha256.Sum256(payload)
	ct := opts.ContentType
	if ct == "" {
		ct = storage.ContentTypeFor(normalized)
	}
	obj := &object{
		payload:     payload,
		etag:        hex.EncodeToString(sum[:]),
		contentType: ct,
		updated:     s.now(),
	}
	s.mu.Lock()
	s.objs[normalized] = obj
	s.mu.Unlock()
	return obj.info(normalized), nil
}

// GetObject returns a reader over a snapshot of key.
func (s *Store) GetObject(_ context.Context, key string) (storage.GetObjectResult, error) {
	normalized, err := storage.NormalizeKey(key)
	if err != nil {
		return storage.GetObjectResult{}, fmt.Errorf("memory: key %q: %w", key, err)
	}
	s.mu.RLock()
	obj, ok := s.objs[normalized]
	s.mu.RUnlock()
	if !ok {
		return storage.GetObjectResult{}, storage.ErrNotFound
	}
	return storage.GetObjectResult{
		Reader: io.NopCloser(bytes.NewReader(obj.payload)),
		Info:   obj.info(normalized),
	}, nil
}

// DeleteObject removes key.
func (s *Store) DeleteObject(_ context.Context, key string) error {
	normalized, err := storage.NormalizeKey(key)
	if err != nil {
		return fmt.Errorf("memory: key %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[normalized]; !ok {
		return storage.ErrNotFound
	}
	delete(s.objs, normalized)
	return nil
}

// ListObjects returns keys under opts.Prefix in lexical order.
func (s *Store) ListObjects(_ context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.objs))
	for key := range s.objs {
		if strings.HasPrefix(key, opts.Prefix) && (opts.StartAfter == "" || key > opts.StartAfter) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	result := &storage.ListResult{}
	for _, key := range keys {
		if opts.Limit > 0 && len(result.Objects) == opts.Limit {
			result.Truncated = true
			result.NextStartAfter = result.Objects[len(result.Objects)-1].Key
			break
		}
		result.Objects = append(result.Objects, *s.objs[key].info(key))
	}
	s.mu.RUnlock()
	return result, nil
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}

func (o *object) info(key string) *storage.ObjectInfo {
	return &storage.ObjectInfo{
		Key:          key,
		ETag:         o.etag,
		Size:         int64(len(o.payload)),
		LastModified: o.updated,
		ContentType:  o.contentType,
	}
}
