package docpath

import (
	"errors"
	"testing"
)

func TestResolvePathMode(t *testing.T) {
	r, err := NewResolver(ModePath, "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	cases := []struct {
		id   string
		want Document
	}{
		{"a/b/doc.md", Document{Key: "a/b/doc.md", Dir: "a/b", File: "doc.md"}},
		{"/course/README.md", Document{Key: "course/README.md", Dir: "course", File: "README.md"}},
		{"x/y z/notes.md", Document{Key: "x/y z/notes.md", Dir: "x/y z", File: "notes.md"}},
	}
	for _, tc := range cases {
		got, err := r.Resolve(tc.id, "ignored.md")
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("Resolve(%q) = %+v, want %+v", tc.id, got, tc.want)
		}
	}
}

func TestResolveRejectsMalformed(t *testing.T) {
	r, _ := NewResolver(ModePath, "")
	for _, id := range []string{
		"",
		"   ",
		"doc.md",
		"a/b/",
		"a//b.md",
		"a/../b.md",
		"./b.md",
		"a\\b/c.md",
		"a/b\x00/c.md",
	} {
		_, err := r.Resolve(id, "")
		var inv *InvalidError
		if !errors.As(err, &inv) {
			t.Fatalf("Resolve(%q) error = %v, want *InvalidError", id, err)
		}
		if inv.Value != id {
			t.Fatalf("Resolve(%q) reported value %q", id, inv.Value)
		}
	}
}

func TestResolveIDMode(t *testing.T) {
	r, _ := NewResolver(ModeID, "")
	got, err := r.Resolve("3f2a9c", "README.md")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Dir != "3f2a9c" || got.File != "README.md" || got.Key != "3f2a9c/README.md" {
		t.Fatalf("unexpected document %+v", got)
	}
	if _, err := r.Resolve("3f2a9c", ""); err == nil {
		t.Fatal("expected missing file name to fail")
	}
	if _, err := r.Resolve("3f2a9c", "sub/README.md"); err == nil {
		t.Fatal("expected nested file name to fail")
	}
}

func TestResolvePrefixMode(t *testing.T) {
	r, err := NewResolver(ModePrefix, "https://editor.example/docs")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	got, err := r.Resolve("https://editor.example/docs/team/intro.md", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Key != "team/intro.md" {
		t.Fatalf("Key = %q", got.Key)
	}
	if _, err := r.Resolve("https://other.example/docs/team/intro.md", ""); err == nil {
		t.Fatal("expected foreign prefix to fail")
	}
	if _, err := NewResolver(ModePrefix, " "); err == nil {
		t.Fatal("expected empty prefix to fail")
	}
}

func TestBlobKeys(t *testing.T) {
	d := Document{Key: "a/b/doc.md", Dir: "a/b", File: "doc.md"}
	if got := d.BlobKey(LayoutFlat, "img1"); got != "a/b/img1" {
		t.Fatalf("flat blob key = %q", got)
	}
	if got := d.BlobKey(LayoutBlobs, "img1"); got != "a/b/blobs/img1" {
		t.Fatalf("blobs blob key = %q", got)
	}
}

func TestParseModeAndLayout(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModePath {
		t.Fatalf("ParseMode empty = %q, %v", m, err)
	}
	if m, err := ParseMode("ID"); err != nil || m != ModeID {
		t.Fatalf("ParseMode ID = %q, %v", m, err)
	}
	if _, err := ParseMode("uuid"); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
	if l, err := ParseLayout("blobs"); err != nil || l != LayoutBlobs {
		t.Fatalf("ParseLayout = %q, %v", l, err)
	}
	if _, err := ParseLayout("nested"); err == nil {
		t.Fatal("expected unknown layout to fail")
	}
}
