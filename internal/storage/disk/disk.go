// Package disk stores objects as plain files beneath a root directory.
//
// The tree under Root mirrors object keys one to one, so the stored documents
// are browsable with ordinary tools. Writes land in a hidden temp directory
// and are renamed into place, so readers never observe partial files.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	psdisk "github.com/shirou/gopsutil/v4/disk"
	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/storage"
)

// TempDirName is the hidden directory holding in-flight writes.
const TempDirName = ".docsync-tmp"

// Config captures the tunables for the disk backend.
type Config struct {
	Root string
	// DirMode and FileMode default to 0o755 and 0o644.
	DirMode  os.FileMode
	FileMode os.FileMode
}

// Store implements storage.Backend on the local filesystem.
type Store struct {
	root     string
	tmpDir   string
	dirMode  os.FileMode
	fileMode os.FileMode
}

// New prepares cfg.Root and returns a Store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("disk: root path required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}
	root, err := filepath.Abs(filepath.Clean(cfg.Root))
	if err != nil {
		return nil, fmt.Errorf("disk: resolve root %q: %w", cfg.Root, err)
	}
	tmpDir := filepath.Join(root, TempDirName)
	if err := os.MkdirAll(tmpDir, cfg.DirMode); err != nil {
		return nil, fmt.Errorf("disk: prepare directory %q: %w", tmpDir, err)
	}
	return &Store{
		root:     root,
		tmpDir:   tmpDir,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
	}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string { return s.root }

// Close is a no-op; the store holds no open handles between calls.
func (s *Store) Close() error { return nil }

func (s *Store) logger(ctx context.Context) pslog.Logger {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return logger.With("storage_backend", "disk")
}

func (s *Store) objectPath(key string) (string, string, error) {
	normalized, err := storage.NormalizeKey(key)
	if err != nil {
		return "", "", fmt.Errorf("disk: key %q: %w", key, err)
	}
	first, _, _ := strings.Cut(normalized, "/")
	if first == TempDirName {
		return "", "", fmt.Errorf("disk: key %q: %w", key, storage.ErrInvalidKey)
	}
	return normalized, filepath.Join(s.root, filepath.FromSlash(normalized)), nil
}

// PutObject writes body to <root>/<key>, creating parent directories.
func (s *Store) PutObject(ctx context.Context, key string, body io.Reader, opts storage.PutObjectOptions) (*storage.ObjectInfo, error) {
	logger := s.logger(ctx)
	logger.Trace("disk.put_object.begin", "key", key)
	normalized, dataPath, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), s.dirMode); err != nil {
		return nil, fmt.Errorf("disk: prepare object directory for %q: %w", normalized, err)
	}
	tmp, err := os.CreateTemp(s.tmpDir, "object-*")
	if err != nil {
		return nil, fmt.Errorf("disk: create temp object for %q: %w", normalized, err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("disk: write object %q: %w", normalized, err)
	}
	if err := syncFile(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("disk: sync object %q: %w", normalized, err)
	}
	if err := tmp.Chmod(s.fileMode); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("disk: chmod object %q: %w", normalized, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("disk: close object %q: %w", normalized, err)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("disk: rename object %q: %w", normalized, err)
	}
	if err := syncDir(filepath.Dir(dataPath)); err != nil {
		logger.Debug("disk.put_object.sync_dir_error", "key", normalized, "error", err)
	}
	fi, err := os.Stat(dataPath)
	if err != nil {
		return nil, fmt.Errorf("disk: stat object %q: %w", normalized, err)
	}
	info := objectInfo(normalized, fi)
	if opts.ContentType != "" {
		info.ContentType = opts.ContentType
	}
	logger.Debug("disk.put_object.success", "key", normalized, "size", info.Size)
	return info, nil
}

// GetObject opens <root>/<key>.
func (s *Store) GetObject(ctx context.Context, key string) (storage.GetObjectResult, error) {
	logger := s.logger(ctx)
	logger.Trace("disk.get_object.begin", "key", key)
	normalized, dataPath, err := s.objectPath(key)
	if err != nil {
		return storage.GetObjectResult{}, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.GetObjectResult{}, storage.ErrNotFound
		}
		return storage.GetObjectResult{}, fmt.Errorf("disk: open object %q: %w", normalized, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return storage.GetObjectResult{}, fmt.Errorf("disk: stat object %q: %w", normalized, err)
	}
	if fi.IsDir() {
		f.Close()
		return storage.GetObjectResult{}, storage.ErrNotFound
	}
	return storage.GetObjectResult{Reader: f, Info: objectInfo(normalized, fi)}, nil
}

// DeleteObject removes <root>/<key>. Empty parent directories are left in place.
func (s *Store) DeleteObject(ctx context.Context, key string) error {
	logger := s.logger(ctx)
	logger.Trace("disk.delete_object.begin", "key", key)
	normalized, dataPath, err := s.objectPath(key)
	if err != nil {
		return err
	}
	fi, err := os.Stat(dataPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("disk: stat object %q: %w", normalized, err)
	}
	if fi.IsDir() {
		return storage.ErrNotFound
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("disk: remove object %q: %w", normalized, err)
	}
	logger.Debug("disk.delete_object.success", "key", normalized)
	return nil
}

// ListObjects walks the tree and returns keys under opts.Prefix, skipping
// hidden entries.
func (s *Store) ListObjects(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	logger := s.logger(ctx)
	start := time.Now()
	logger.Trace("disk.list_objects.begin", "prefix", opts.Prefix, "start_after", opts.StartAfter, "limit", opts.Limit)
	var objects []storage.ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == s.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, opts.Prefix) || (opts.StartAfter != "" && key <= opts.StartAfter) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, *objectInfo(key, fi))
		return nil
	})
	if err != nil {
		logger.Debug("disk.list_objects.walk_error", "error", err)
		return nil, fmt.Errorf("disk: list objects: %w", err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	result := &storage.ListResult{Objects: objects}
	if opts.Limit > 0 && len(objects) > opts.Limit {
		result.Objects = objects[:opts.Limit]
		result.Truncated = true
		result.NextStartAfter = result.Objects[opts.Limit-1].Key
	}
	logger.Debug("disk.list_objects.success",
		"prefix", opts.Prefix,
		"count", len(result.Objects),
		"truncated", result.Truncated,
		"elapsed", time.Since(start),
	)
	return result, nil
}

// Usage reports capacity of the filesystem holding the root.
func (s *Store) Usage(ctx context.Context) (storage.Usage, error) {
	stat, err := psdisk.UsageWithContext(ctx, s.root)
	if err != nil {
		return storage.Usage{}, fmt.Errorf("disk: usage %q: %w", s.root, err)
	}
	return storage.Usage{Path: s.root, Total: stat.Total, Used: stat.Used, Free: stat.Free}, nil
}

func objectInfo(key string, fi os.FileInfo) *storage.ObjectInfo {
	return &storage.ObjectInfo{
		Key:          key,
		ETag:         fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size()),
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		ContentType:  storage.ContentTypeFor(key),
	}
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
