package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/docsync/internal/docpath"
	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/svcfields"
)

// Sync persists cmd's blobs and content under the document's lock.
//
// Identifier and blob validation happen before the lock is taken, so malformed
// input never writes anything. Once the lock is held the writes run to
// completion even if ctx is cancelled, and the lock is released on every exit
// path. Blobs already written when a later write fails are not rolled back.
func (s *Service) Sync(ctx context.Context, cmd SyncCommand) (res *SyncResult, err error) {
	begin := time.Now()
	outcome := "error"
	defer func() { s.metrics.recordSync(ctx, outcome, time.Since(begin)) }()

	logger := s.loggerFor(ctx).With(svcfields.DocumentIDKey, cmd.DocumentID)
	doc, err := s.resolver.Resolve(cmd.DocumentID, cmd.FileName)
	if err != nil {
		outcome = "invalid"
		logger.Debug("sync.resolve.invalid", svcfields.ErrorKey, err)
		return nil, Failure{Code: CodeInvalidDocumentID, Detail: err.Error(), HTTPStatus: http.StatusBadRequest}
	}
	logger = logger.With(svcfields.KeyKey, doc.Key)
	blobs, err := decodeBlobs(cmd.Blobs)
	if err != nil {
		outcome = "invalid"
		logger.Debug("sync.blobs.invalid", svcfields.ErrorKey, err)
		return nil, err
	}

	guard, ok := s.locks.Acquire(doc.Key)
	if !ok {
		outcome = "locked"
		logger.Warn("sync.lock.conflict")
		return nil, Failure{
			Code:       CodeDocumentLocked,
			Detail:     "document is locked, please try again later",
			RetryAfter: s.lockRetryAfter,
			HTTPStatus: http.StatusLocked,
		}
	}
	defer func() {
		guard.Release()
		logger.Trace("sync.lock.released", "held", time.Since(guard.AcquiredAt()))
	}()
	logger.Trace("sync.lock.acquired", "acquired_at", guard.AcquiredAt())

	writeCtx := context.WithoutCancel(ctx)
	res = &SyncResult{
		Key:       doc.Key,
		Directory: doc.Dir,
		FileName:  doc.File,
		Content:   cmd.Content,
	}
	stored, err := s.writeBlobs(writeCtx, doc, blobs)
	if err != nil {
		logger.Error("sync.blobs.write_failed", svcfields.ErrorKey, err)
		return nil, err
	}
	res.Blobs = stored
	s.metrics.recordBlobs(ctx, len(stored))

	if s.rewriteLinks && len(stored) > 0 {
		urls := make(map[string]string, len(stored))
		for _, b := range stored {
			urls[b.Name] = b.URL
		}
		res.Content, res.Rewritten = RewriteBlobLinks(cmd.Content, urls)
	}
	for _, b := range stored {
		res.Bytes += b.Size
	}

	contentKey := doc.ContentKey()
	if _, err := s.store.PutObject(writeCtx, contentKey, strings.NewReader(res.Content), storage.PutObjectOptions{
		ContentType: storage.ContentTypeFor(contentKey),
		Size:        int64(len(res.Content)),
	}); err != nil {
		logger.Error("sync.content.write_failed", svcfields.ErrorKey, err)
		return nil, fmt.Errorf("write content %s: %w", contentKey, err)
	}
	res.Bytes += int64(len(res.Content))
	outcome = "success"
	logger.Info("sync.success", "blobs", len(stored), "bytes", res.Bytes, "rewritten", res.Rewritten, "elapsed", time.Since(begin))
	return res, nil
}

func (s *Service) writeBlobs(ctx context.Context, doc docpath.Document, blobs []decodedBlob) ([]StoredBlob, error) {
	if len(blobs) == 0 {
		return nil, nil
	}
	stored := make([]StoredBlob, len(blobs))
	var g errgroup.Group
	g.SetLimit(s.blobConcurrency)
	for i, blob := range blobs {
		key := doc.BlobKey(s.layout, blob.name)
		stored[i] = StoredBlob{
			Name: blob.name,
			Key:  key,
			Size: int64(len(blob.data)),
			URL:  BlobURL(s.baseURL, s.staticPrefix, key),
		}
		g.Go(func() error {
			_, err := s.store.PutObject(ctx, key, bytes.NewReader(blob.data), storage.PutObjectOptions{
				ContentType: storage.ContentTypeFor(key),
				Size:        int64(len(blob.data)),
			})
			if err != nil {
				return fmt.Errorf("write blob %s: %w", key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stored, nil
}

// IsFailure reports whether err carries a Failure and returns it.
func IsFailure(err error) (Failure, bool) {
	var failure Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return Failure{}, false
}
