// Package aws stores objects in AWS S3 through aws-sdk-go-v2.
package aws

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/storage"
)

// Config controls the AWS backend.
type Config struct {
	Endpoint string
	Region   string
	Bucket   string
	Prefix   string
	Insecure bool
	// PathStyle forces path-style addressing, mostly for S3 emulators.
	PathStyle     bool
	ServerSideEnc string
	KMSKeyID      string
}

// Store implements storage.Backend on an S3 bucket.
type Store struct {
	client *s3.Client
	cfg    Config
}

// New loads the default AWS credential chain and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("aws: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws: region is required")
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(&http.Client{Transport: transport(cfg.Insecure)}),
	)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint == "" {
			return
		}
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			scheme := "https"
			if cfg.Insecure {
				scheme = "http"
			}
			endpoint = scheme + "://" + endpoint
		}
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &Store{client: client, cfg: cfg}, nil
}

func transport(insecure bool) http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	clone.MaxIdleConnsPerHost = 64
	clone.IdleConnTimeout = 90 * time.Second
	if insecure {
		clone.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return clone
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Ping verifies the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("aws: head bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

func (s *Store) logger(ctx context.Context) pslog.Logger {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return logger.With("storage_backend", "aws", "bucket", s.cfg.Bucket)
}

func (s *Store) object(key string) (string, string, error) {
	normalized, err := storage.NormalizeKey(key)
	if err != nil {
		return "", "", fmt.Errorf("aws: key %q: %w", key, err)
	}
	return normalized, storage.JoinPrefix(s.cfg.Prefix, normalized), nil
}

// PutObject uploads body to key. Non-seekable bodies are buffered because the
// SDK needs a rewindable payload to sign.
func (s *Store) PutObject(ctx context.Context, key string, body io.Reader, opts storage.PutObjectOptions) (*storage.ObjectInfo, error) {
	logger := s.logger(ctx)
	normalized, object, err := s.object(key)
	if err != nil {
		return nil, err
	}
	if _, ok := body.(io.ReadSeeker); !ok {
		buf, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("aws: buffer object %q: %w", normalized, err)
		}
		body = bytes.NewReader(buf)
		opts.Size = int64(len(buf))
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(normalized)
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(object),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	switch strings.ToLower(s.cfg.ServerSideEnc) {
	case "":
	case "aes256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if s.cfg.KMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(s.cfg.KMSKeyID)
		}
	default:
		return nil, fmt.Errorf("aws: unsupported server side encryption %q", s.cfg.ServerSideEnc)
	}
	logger.Trace("aws.put_object.begin", "key", normalized, "object", object)
	resp, err := s.client.PutObject(ctx, input)
	if err != nil {
		logger.Debug("aws.put_object.error", "key", normalized, "error", err)
		return nil, fmt.Errorf("aws: put object %q: %w", normalized, err)
	}
	info := &storage.ObjectInfo{
		Key:          normalized,
		ETag:         stripETag(aws.ToString(resp.ETag)),
		Size:         opts.Size,
		LastModified: time.Now().UTC(),
		ContentType:  contentType,
	}
	logger.Debug("aws.put_object.success", "key", normalized, "etag", info.ETag)
	return info, nil
}

// GetObject streams key.
func (s *Store) GetObject(ctx context.Context, key string) (storage.GetObjectResult, error) {
	normalized, object, err := s.object(key)
	if err != nil {
		return storage.GetObjectResult{}, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		if isNotFound(err) {
			return storage.GetObjectResult{}, storage.ErrNotFound
		}
		s.logger(ctx).Debug("aws.get_object.error", "key", normalized, "error", err)
		return storage.GetObjectResult{}, fmt.Errorf("aws: get object %q: %w", normalized, err)
	}
	return storage.GetObjectResult{
		Reader: resp.Body,
		Info: &storage.ObjectInfo{
			Key:          normalized,
			ETag:         stripETag(aws.ToString(resp.ETag)),
			Size:         aws.ToInt64(resp.ContentLength),
			LastModified: aws.ToTime(resp.LastModified),
			ContentType:  aws.ToString(resp.ContentType),
		},
	}, nil
}

// DeleteObject removes key.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	normalized, object, err := s.object(key)
	if err != nil {
		return err
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(object),
	}); err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("aws: head object %q: %w", normalized, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(object),
	}); err != nil {
		return fmt.Errorf("aws: delete object %q: %w", normalized, err)
	}
	return nil
}

// ListObjects enumerates keys under opts.Prefix, following continuation tokens.
func (s *Store) ListObjects(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	root := ""
	if s.cfg.Prefix != "" {
		root = s.cfg.Prefix + "/"
	}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(root + strings.TrimPrefix(opts.Prefix, "/")),
	}
	if opts.StartAfter != "" {
		input.StartAfter = aws.String(root + strings.TrimPrefix(opts.StartAfter, "/"))
	}
	result := &storage.ListResult{}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws: list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if opts.Limit > 0 && len(result.Objects) == opts.Limit {
				result.Truncated = true
				result.NextStartAfter = result.Objects[len(result.Objects)-1].Key
				return result, nil
			}
			result.Objects = append(result.Objects, storage.ObjectInfo{
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), root),
				ETag:         stripETag(aws.ToString(obj.ETag)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return result, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

func stripETag(etag string) string {
	return strings.Trim(etag, "\"")
}
