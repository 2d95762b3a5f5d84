// Package s3 stores objects in an S3-compatible bucket through minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/storage"
)

// Config controls the S3 backend.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	// PartSize overrides the multipart chunk size when > 0.
	PartSize uint64
	// ServerSideEnc is "", "AES256" or "aws:kms".
	ServerSideEnc string
	KMSKeyID      string
	CustomCreds   *credentials.Credentials
	Transport     http.RoundTripper
}

// Store implements storage.Backend on a bucket.
type Store struct {
	client *minio.Client
	cfg    Config
}

// New constructs a Store. No request is sent until the first operation.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	creds := cfg.CustomCreds
	if creds == nil {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{client: client, cfg: cfg}, nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Client exposes the underlying minio client.
func (s *Store) Client() *minio.Client { return s.client }

// Close is a no-op; minio clients hold no resources that need closing.
func (s *Store) Close() error { return nil }

// Ping verifies the bucket exists.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("s3: bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("s3: bucket %s does not exist", s.cfg.Bucket)
	}
	return nil
}

func (s *Store) logger(ctx context.Context) pslog.Logger {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return logger.With("storage_backend", "s3", "bucket", s.cfg.Bucket)
}

func (s *Store) object(key string) (string, string, error) {
	normalized, err := storage.NormalizeKey(key)
	if err != nil {
		return "", "", fmt.Errorf("s3: key %q: %w", key, err)
	}
	return normalized, storage.JoinPrefix(s.cfg.Prefix, normalized), nil
}

func (s *Store) applySSE(opts *minio.PutObjectOptions) error {
	switch strings.ToLower(s.cfg.ServerSideEnc) {
	case "":
		return nil
	case "aes256":
		opts.ServerSideEncryption = encrypt.NewSSE()
		return nil
	case "aws:kms":
		sse, err := encrypt.NewSSEKMS(s.cfg.KMSKeyID, nil)
		if err != nil {
			return fmt.Errorf("s3: configure kms: %w", err)
		}
		opts.ServerSideEncryption = sse
		return nil
	default:
		return fmt.Errorf("s3: unsupported server side encryption %q", s.cfg.ServerSideEnc)
	}
}

// PutObject uploads body to key.
func (s *Store) PutObject(ctx context.Context, key string, body io.Reader, opts storage.PutObjectOptions) (*storage.ObjectInfo, error) {
	logger := s.logger(ctx)
	normalized, object, err := s.object(key)
	if err != nil {
		return nil, err
	}
	logger.Trace("s3.put_object.begin", "key", normalized, "object", object)
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType, PartSize: s.cfg.PartSize}
	if putOpts.ContentType == "" {
		putOpts.ContentType = storage.ContentTypeFor(normalized)
	}
	if err := s.applySSE(&putOpts); err != nil {
		return nil, err
	}
	length := opts.Size
	if length == 0 {
		length = -1
	}
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, object, body, length, putOpts)
	if err != nil {
		logger.Debug("s3.put_object.error", "key", normalized, "error", err)
		return nil, fmt.Errorf("s3: put object %q: %w", normalized, err)
	}
	logger.Debug("s3.put_object.success", "key", normalized, "size", info.Size)
	return &storage.ObjectInfo{
		Key:          normalized,
		ETag:         stripETag(info.ETag),
		Size:         info.Size,
		LastModified: time.Now().UTC(),
		ContentType:  putOpts.ContentType,
	}, nil
}

// GetObject streams key.
func (s *Store) GetObject(ctx context.Context, key string) (storage.GetObjectResult, error) {
	logger := s.logger(ctx)
	normalized, object, err := s.object(key)
	if err != nil {
		return storage.GetObjectResult{}, err
	}
	logger.Trace("s3.get_object.begin", "key", normalized, "object", object)
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return storage.GetObjectResult{}, fmt.Errorf("s3: get object %q: %w", normalized, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			return storage.GetObjectResult{}, storage.ErrNotFound
		}
		logger.Debug("s3.get_object.stat_error", "key", normalized, "error", err)
		return storage.GetObjectResult{}, fmt.Errorf("s3: stat object %q: %w", normalized, err)
	}
	return storage.GetObjectResult{
		Reader: obj,
		Info: &storage.ObjectInfo{
			Key:          normalized,
			ETag:         stripETag(info.ETag),
			Size:         info.Size,
			LastModified: info.LastModified,
			ContentType:  info.ContentType,
		},
	}, nil
}

// DeleteObject removes key.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	normalized, object, err := s.object(key)
	if err != nil {
		return err
	}
	if _, err := s.client.StatObject(ctx, s.cfg.Bucket, object, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("s3: stat object %q: %w", normalized, err)
	}
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3: delete object %q: %w", normalized, err)
	}
	s.logger(ctx).Debug("s3.delete_object.success", "key", normalized)
	return nil
}

// ListObjects enumerates keys under opts.Prefix.
func (s *Store) ListObjects(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	root := ""
	if s.cfg.Prefix != "" {
		root = s.cfg.Prefix + "/"
	}
	listOpts := minio.ListObjectsOptions{
		Prefix:    root + strings.TrimPrefix(opts.Prefix, "/"),
		Recursive: true,
	}
	if opts.StartAfter != "" {
		listOpts.StartAfter = root + strings.TrimPrefix(opts.StartAfter, "/")
	}
	if opts.Limit > 0 {
		listOpts.MaxKeys = opts.Limit + 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	result := &storage.ListResult{}
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, listOpts) {
		if object.Err != nil {
			return nil, fmt.Errorf("s3: list objects: %w", object.Err)
		}
		if opts.Limit > 0 && len(result.Objects) >= opts.Limit {
			result.Truncated = true
			break
		}
		result.Objects = append(result.Objects, storage.ObjectInfo{
			Key:          strings.TrimPrefix(object.Key, root),
			ETag:         stripETag(object.ETag),
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	if n := len(result.Objects); result.Truncated && n > 0 {
		result.NextStartAfter = result.Objects[n-1].Key
	}
	return result, nil
}

func isNotFound(err error) bool {
	var errResp minio.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return minio.ToErrorResponse(err).StatusCode == http.StatusNotFound
}

func stripETag(etag string) string {
	return strings.Trim(etag, "\"")
}
