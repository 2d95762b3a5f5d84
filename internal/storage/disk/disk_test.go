package disk

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/docsync/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutObjectWritesPlainFile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	info, err := store.PutObject(ctx, "a/b/doc.md", strings.NewReader("# hello"), storage.PutObjectOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "a/b/doc.md" || info.Size != int64(len("# hello")) {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.ContentType != storage.ContentTypeMarkdown {
		t.Fatalf("content type = %q", info.ContentType)
	}
	raw, err := os.ReadFile(filepath.Join(store.Root(), "a", "b", "doc.md"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(raw) != "# hello" {
		t.Fatalf("file content = %q", raw)
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), TempDirName))
	if err != nil {
		t.Fatalf("read tmp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp files left behind: %d", len(entries))
	}
}

func TestPutObjectOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, body := range []string{"first version", "v2"} {
		if _, err := store.PutObject(ctx, "d/f.txt", strings.NewReader(body), storage.PutObjectOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	res, err := store.GetObject(ctx, "d/f.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Reader.Close()
	data, _ := io.ReadAll(res.Reader)
	if string(data) != "v2" {
		t.Fatalf("got %q, want v2", data)
	}
}

func TestGetObjectMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetObject(context.Background(), "nope/missing.md"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.PutObject(context.Background(), "dir/x.md", strings.NewReader("x"), storage.PutObjectOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.GetObject(context.Background(), "dir"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("directory get should be ErrNotFound, got %v", err)
	}
}

func TestKeysStayInsideRoot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.PutObject(ctx, "../../escape.md", strings.NewReader("x"), storage.PutObjectOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "escape.md")); err != nil {
		t.Fatalf("expected traversal key to be confined to root: %v", err)
	}
	if _, err := store.PutObject(ctx, TempDirName+"/x", strings.NewReader("x"), storage.PutObjectOptions{}); !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("expected temp dir key to be rejected, got %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"a/b/doc.md", "a/b/img1", "a/c/other.md", "z/top.md"} {
		if _, err := store.PutObject(ctx, key, strings.NewReader(key), storage.PutObjectOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	res, err := store.ListObjects(ctx, storage.ListOptions{Prefix: "a/"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, obj := range res.Objects {
		keys = append(keys, obj.Key)
	}
	if got := strings.Join(keys, ","); got != "a/b/doc.md,a/b/img1,a/c/other.md" {
		t.Fatalf("list keys = %s", got)
	}
	page, err := store.ListObjects(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if !page.Truncated || page.NextStartAfter != "a/b/img1" {
		t.Fatalf("unexpected page %+v", page)
	}
	if err := store.DeleteObject(ctx, "a/b/img1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteObject(ctx, "a/b/img1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestUsage(t *testing.T) {
	store := newTestStore(t)
	usage, err := store.Usage(context.Background())
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Total == 0 || usage.Path != store.Root() {
		t.Fatalf("unexpected usage %+v", usage)
	}
}
