package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"pkt.systems/docsync/internal/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()
	info, err := store.PutObject(ctx, "/a/b/doc.md", strings.NewReader("hello"), storage.PutObjectOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "a/b/doc.md" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	res, err := store.GetObject(ctx, "a/b/doc.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(res.Reader)
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestDeleteAndMissing(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.GetObject(ctx, "x/y"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	store.PutObject(ctx, "x/y", strings.NewReader("1"), storage.PutObjectOptions{})
	if err := store.DeleteObject(ctx, "x/y"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteObject(ctx, "x/y"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestListPaging(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"d/3", "d/1", "d/2", "e/1"} {
		store.PutObject(ctx, key, strings.NewReader(key), storage.PutObjectOptions{})
	}
	page, err := store.ListObjects(ctx, storage.ListOptions{Prefix: "d/", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Objects) != 2 || !page.Truncated || page.NextStartAfter != "d/2" {
		t.Fatalf("unexpected page %+v", page)
	}
	rest, _ := store.ListObjects(ctx, storage.ListOptions{Prefix: "d/", StartAfter: page.NextStartAfter})
	if len(rest.Objects) != 1 || rest.Objects[0].Key != "d/3" || rest.Truncated {
		t.Fatalf("unexpected remainder %+v", rest)
	}
}
