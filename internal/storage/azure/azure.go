// Package azure stores objects in an Azure Blob Storage container.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/storage"
)

// Config controls connectivity to Azure Blob Storage.
type Config struct {
	Account    string
	AccountKey string
	Endpoint   string
	SASToken   string
	Container  string
	Prefix     string
}

// Store implements storage.Backend on a blob container.
type Store struct {
	client    *azblob.Client
	container string
	prefix    string
}

// New builds a client and ensures the container exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	var (
		client *azblob.Client
		err    error
	)
	if cfg.SASToken != "" {
		withSAS, serr := appendSASToken(endpoint, cfg.SASToken)
		if serr != nil {
			return nil, serr
		}
		client, err = azblob.NewClientWithNoCredential(withSAS, nil)
	} else {
		if cfg.AccountKey == "" {
			return nil, fmt.Errorf("azure: account key or SAS token required")
		}
		cred, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure: build credentials: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := client.CreateContainer(ctx, cfg.Container, nil); err != nil && !isContainerExists(err) {
		return nil, fmt.Errorf("azure: create container: %w", err)
	}
	return &Store{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery += "&" + sas
	} else {
		u.RawQuery = sas
	}
	return u.String(), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Ping fetches the container properties.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.ServiceClient().NewContainerClient(s.container).GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("azure: container %s: %w", s.container, err)
	}
	return nil
}

func (s *Store) logger(ctx context.Context) pslog.Logger {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return logger.With("storage_backend", "azure", "container", s.container)
}

func (s *Store) blobName(key string) (string, string, error) {
	normalized, err := storage.NormalizeKey(key)
	if err != nil {
		return "", "", fmt.Errorf("azure: key %q: %w", key, err)
	}
	return normalized, storage.JoinPrefix(s.prefix, normalized), nil
}

// PutObject uploads body to key.
func (s *Store) PutObject(ctx context.Context, key string, body io.Reader, opts storage.PutObjectOptions) (*storage.ObjectInfo, error) {
	normalized, name, err := s.blobName(key)
	if err != nil {
		return nil, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(normalized)
	}
	counter := &countingReader{r: body}
	resp, err := s.client.UploadStream(ctx, s.container, name, counter, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		s.logger(ctx).Debug("azure.put_object.error", "key", normalized, "error", err)
		return nil, fmt.Errorf("azure: upload %q: %w", normalized, err)
	}
	info := &storage.ObjectInfo{
		Key:          normalized,
		Size:         counter.n,
		LastModified: time.Now().UTC(),
		ContentType:  contentType,
	}
	if resp.ETag != nil {
		info.ETag = string(*resp.ETag)
	}
	if resp.LastModified != nil {
		info.LastModified = resp.LastModified.UTC()
	}
	return info, nil
}

// GetObject streams key.
func (s *Store) GetObject(ctx context.Context, key string) (storage.GetObjectResult, error) {
	normalized, name, err := s.blobName(key)
	if err != nil {
		return storage.GetObjectResult{}, err
	}
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		if isNotFound(err) {
			return storage.GetObjectResult{}, storage.ErrNotFound
		}
		return storage.GetObjectResult{}, fmt.Errorf("azure: download %q: %w", normalized, err)
	}
	info := &storage.ObjectInfo{Key: normalized}
	if resp.ETag != nil {
		info.ETag = string(*resp.ETag)
	}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		info.LastModified = resp.LastModified.UTC()
	}
	if resp.ContentType != nil {
		info.ContentType = *resp.ContentType
	}
	return storage.GetObjectResult{Reader: resp.Body, Info: info}, nil
}

// DeleteObject removes key.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	normalized, name, err := s.blobName(key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, s.container, name, nil); err != nil {
		if isNotFound(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("azure: delete %q: %w", normalized, err)
	}
	return nil
}

// ListObjects enumerates keys under opts.Prefix. Blob listings are already
// lexically ordered.
func (s *Store) ListObjects(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}
	prefix := root + strings.TrimPrefix(opts.Prefix, "/")
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	result := &storage.ListResult{}
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure: list objects: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			logical := strings.TrimPrefix(*item.Name, root)
			if opts.StartAfter != "" && logical <= opts.StartAfter {
				continue
			}
			if opts.Limit > 0 && len(result.Objects) == opts.Limit {
				result.Truncated = true
				result.NextStartAfter = result.Objects[len(result.Objects)-1].Key
				return result, nil
			}
			info := storage.ObjectInfo{Key: logical}
			if p := item.Properties; p != nil {
				if p.ETag != nil {
					info.ETag = string(*p.ETag)
				}
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					info.LastModified = p.LastModified.UTC()
				}
				if p.ContentType != nil {
					info.ContentType = *p.ContentType
				}
			}
			result.Objects = append(result.Objects, info)
		}
	}
	return result, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict && strings.EqualFold(respErr.ErrorCode, "ContainerAlreadyExists")
	}
	return false
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
