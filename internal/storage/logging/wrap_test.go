package logging

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/storage/disk"
	"pkt.systems/docsync/internal/storage/memory"
)

func TestWrapDelegates(t *testing.T) {
	inner := memory.New()
	wrapped := Wrap(inner, nil, "storage.backend.mem")
	ctx := context.Background()
	if _, err := wrapped.PutObject(ctx, "a/b.md", strings.NewReader("x"), storage.PutObjectOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	res, err := wrapped.GetObject(ctx, "a/b.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(res.Reader)
	if string(data) != "x" {
		t.Fatalf("got %q", data)
	}
	list, err := wrapped.ListObjects(ctx, storage.ListOptions{})
	if err != nil || len(list.Objects) != 1 {
		t.Fatalf("list = %+v, %v", list, err)
	}
	if err := wrapped.DeleteObject(ctx, "a/b.md"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := wrapped.GetObject(ctx, "a/b.md"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if inner.Len() != 0 {
		t.Fatal("delete did not reach inner store")
	}
}

func TestUsageThroughWrapper(t *testing.T) {
	store, err := disk.New(disk.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk: %v", err)
	}
	usage, ok, err := storage.UsageOf(context.Background(), Wrap(store, nil, "storage.backend.disk"))
	if !ok || err != nil || usage.Total == 0 {
		t.Fatalf("usage = %+v ok=%v err=%v", usage, ok, err)
	}
	if _, ok, _ := storage.UsageOf(context.Background(), Wrap(memory.New(), nil, "mem")); ok {
		t.Fatal("memory store should not report usage")
	}
}
