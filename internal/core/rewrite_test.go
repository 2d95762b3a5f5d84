package core

import "testing"

func TestBlobURL(t *testing.T) {
	cases := []struct {
		base, prefix, key, want string
	}{
		{"http://localhost:9000", "static", "a/b/img1", "http://localhost:9000/static/a/b/img1"},
		{"http://localhost:9000/", "/static/", "a/b/img1", "http://localhost:9000/static/a/b/img1"},
		{"https://docs.example", "", "x y/z.png", "https://docs.example/x%20y/z.png"},
	}
	for _, tc := range cases {
		if got := BlobURL(tc.base, tc.prefix, tc.key); got != tc.want {
			t.Fatalf("BlobURL(%q, %q, %q) = %q, want %q", tc.base, tc.prefix, tc.key, got, tc.want)
		}
	}
}

func TestRewriteBlobLinks(t *testing.T) {
	out, changed := RewriteBlobLinks("(a) (b) (a)", map[string]string{"a": "u/a", "c": "u/c"})
	if !changed || out != "(u/a) (b) (u/a)" {
		t.Fatalf("got %q changed=%v", out, changed)
	}
	out, changed = RewriteBlobLinks("nothing here", map[string]string{"a": "u/a"})
	if changed || out != "nothing here" {
		t.Fatalf("got %q changed=%v", out, changed)
	}
}

func TestDecodeBase64Variants(t *testing.T) {
	want := "\xfb\xff\xfehello"
	for _, in := range []string{
		"+//+aGVsbG8=",
		"+//+aGVsbG8",
		"-__-aGVsbG8",
		"+//+\naGVs bG8=",
	} {
		got, err := DecodeBase64(in)
		if err != nil {
			t.Fatalf("DecodeBase64(%q): %v", in, err)
		}
		if string(got) != want {
			t.Fatalf("DecodeBase64(%q) = %q", in, got)
		}
	}
	if _, err := DecodeBase64("not*base64"); err == nil {
		t.Fatal("expected invalid input to fail")
	}
}
