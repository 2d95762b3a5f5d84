package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/docsync/api"
	"pkt.systems/docsync/internal/core"
	"pkt.systems/docsync/internal/correlation"
	"pkt.systems/docsync/internal/docpath"
	"pkt.systems/docsync/internal/locks"
	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/storage/disk"
	"pkt.systems/docsync/internal/storage/memory"
)

type testEnv struct {
	server *httptest.Server
	store  storage.Backend
	locks  *locks.Manager
}

func newTestEnv(t *testing.T, store storage.Backend, mutate func(*Config)) *testEnv {
	t.Helper()
	resolver, err := docpath.NewResolver(docpath.ModePath, "")
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	lockMgr := locks.NewManager(nil)
	svc := core.New(core.Config{
		Store:        store,
		Locks:        lockMgr,
		Resolver:     resolver,
		BaseURL:      "http://localhost:9000",
		StaticPrefix: "static",
	})
	cfg := Config{
		Sync:        svc,
		Store:       store,
		CORS:        true,
		BackendName: "mem",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := New(cfg)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(h.Middleware(mux))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: store, locks: lockMgr}
}

func (e *testEnv) postSync(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/sync", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readErrorResponse(t *testing.T, resp *http.Response) api.ErrorResponse {
	t.Helper()
	var out api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return out
}

func syncBody(t *testing.T, req api.SyncRequest) string {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestSyncEndpointPersistsDocument(t *testing.T) {
	env := newTestEnv(t, memory.New(), nil)
	png := []byte{0x89, 'P', 'N', 'G'}
	body := `{"documentId":"course/README.md","fileContent":"# Hi\n![](img.png)","blobs":{` +
		`"img.png":"` + base64.StdEncoding.EncodeToString(png) + `",` +
		`"notes.txt":{"content":"` + base64.StdEncoding.EncodeToString([]byte("n")) + `"}}}`
	resp := env.postSync(t, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(correlation.Header) == "" {
		t.Fatalf("missing correlation header")
	}
	var out api.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.FileContent != "# Hi\n![](img.png)" {
		t.Fatalf("response = %+v", out)
	}

	get, err := http.Get(env.server.URL + "/static/course/img.png")
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	defer get.Body.Close()
	data, _ := io.ReadAll(get.Body)
	if get.StatusCode != http.StatusOK || !bytes.Equal(data, png) {
		t.Fatalf("static blob = %d %v", get.StatusCode, data)
	}
	if env.locks.Len() != 0 {
		t.Fatalf("locks left held: %d", env.locks.Len())
	}
}

func TestSyncEndpointLockedDocument(t *testing.T) {
	store := memory.New()
	env := newTestEnv(t, store, nil)
	if !env.locks.TryAcquire("course/README.md") {
		t.Fatalf("pre-acquire failed")
	}
	resp := env.postSync(t, syncBody(t, api.SyncRequest{DocumentID: "course/README.md", FileContent: "x"}))
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("status = %d, want 423", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	if errResp := readErrorResponse(t, resp); errResp.ErrorCode != core.CodeDocumentLocked {
		t.Fatalf("error code = %q", errResp.ErrorCode)
	}
	if store.Len() != 0 {
		t.Fatalf("locked sync wrote %d objects", store.Len())
	}
	if _, held := env.locks.Held("course/README.md"); !held {
		t.Fatalf("conflicting request released the holder's lock")
	}
}

func TestSyncEndpointRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "not json", body: "{", status: http.StatusBadRequest, code: "invalid_body"},
		{name: "trailing value", body: `{"documentId":"a/b.md"} {}`, status: http.StatusBadRequest, code: "invalid_body"},
		{name: "blob number", body: `{"documentId":"a/b.md","blobs":{"x.png":42}}`, status: http.StatusBadRequest, code: core.CodeInvalidBlobPayload},
		{name: "blob bad base64", body: `{"documentId":"a/b.md","blobs":{"x.png":"!!!"}}`, status: http.StatusBadRequest, code: core.CodeInvalidBlobPayload},
		{name: "blob name traversal", body: `{"documentId":"a/b.md","blobs":{"..":"aGk="}}`, status: http.StatusBadRequest, code: core.CodeInvalidBlobName},
		{name: "missing id", body: `{"fileContent":"x"}`, status: http.StatusBadRequest, code: core.CodeInvalidDocumentID},
		{name: "single segment id", body: `{"documentId":"README.md"}`, status: http.StatusBadRequest, code: core.CodeInvalidDocumentID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.New()
			env := newTestEnv(t, store, nil)
			resp := env.postSync(t, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if got := readErrorResponse(t, resp).ErrorCode; got != tc.code {
				t.Fatalf("code = %q, want %q", got, tc.code)
			}
			if store.Len() != 0 {
				t.Fatalf("malformed request wrote %d objects", store.Len())
			}
			if env.locks.Len() != 0 {
				t.Fatalf("malformed request left %d locks", env.locks.Len())
			}
		})
	}
}

func TestSyncEndpointBodyLimit(t *testing.T) {
	env := newTestEnv(t, memory.New(), func(cfg *Config) { cfg.JSONMaxBytes = 64 })
	resp := env.postSync(t, syncBody(t, api.SyncRequest{DocumentID: "a/b.md", FileContent: strings.Repeat("x", 256)}))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
}

func TestSyncEndpointMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, memory.New(), nil)
	resp, err := http.Get(env.server.URL + "/sync")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("status = %d allow = %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	env := newTestEnv(t, memory.New(), nil)
	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", nil)
	req.Header.Set(correlation.Header, "trace-me")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get(correlation.Header); got != "trace-me" {
		t.Fatalf("correlation = %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, memory.New(), nil)
	req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/sync", nil)
	req.Header.Set("Origin", "http://editor.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("allow origin = %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
	if resp.Header.Get("Access-Control-Allow-Headers") != "content-type" {
		t.Fatalf("allow headers = %q", resp.Header.Get("Access-Control-Allow-Headers"))
	}
}

func TestCORSDisabled(t *testing.T) {
	env := newTestEnv(t, memory.New(), func(cfg *Config) { cfg.CORS = false })
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("CORS header present when disabled")
	}
}

func TestStaticServesDiskObjects(t *testing.T) {
	store, err := disk.New(disk.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk: %v", err)
	}
	env := newTestEnv(t, store, nil)
	if _, err := store.PutObject(context.Background(), "course/README.md", strings.NewReader("# doc"), storage.PutObjectOptions{Size: 5}); err != nil {
		t.Fatalf("put: %v", err)
	}
	resp, err := http.Get(env.server.URL + "/static//course/README.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(data) != "# doc" {
		t.Fatalf("static = %d %q", resp.StatusCode, data)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("content type = %q", ct)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/static/course/README.md", nil)
	req.Header.Set("If-None-Match", etag)
	cached, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional get: %v", err)
	}
	defer cached.Body.Close()
	if cached.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional status = %d, want 304", cached.StatusCode)
	}
}

func TestStaticNotFound(t *testing.T) {
	env := newTestEnv(t, memory.New(), nil)
	for _, p := range []string{"/static/missing.md", "/static/course/"} {
		resp, err := http.Get(env.server.URL + p)
		if err != nil {
			t.Fatalf("get %s: %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", p, resp.StatusCode)
		}
	}
}

func TestReadyReportsBackend(t *testing.T) {
	store, err := disk.New(disk.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("disk: %v", err)
	}
	env := newTestEnv(t, store, func(cfg *Config) { cfg.BackendName = "disk" })
	resp, err := http.Get(env.server.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var out api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || out.Status != "ready" || out.Backend != "disk" {
		t.Fatalf("ready = %d %+v", resp.StatusCode, out)
	}
	if out.DiskFree == "" {
		t.Fatalf("disk usage missing: %+v", out)
	}
}

func TestEditorFallback(t *testing.T) {
	dist := t.TempDir()
	mustWrite := func(rel, body string) {
		t.Helper()
		full := filepath.Join(dist, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	mustWrite("index.html", "root-index")
	mustWrite("app.js", "js")
	mustWrite("docs/index.html", "docs-index")
	env := newTestEnv(t, memory.New(), func(cfg *Config) { cfg.EditorDist = dist })

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/", status: http.StatusOK, body: "root-index"},
		{path: "//app.js", status: http.StatusOK, body: "js"},
		{path: "/docs/", status: http.StatusOK, body: "docs-index"},
		{path: "/docs//", status: http.StatusOK, body: "docs-index"},
		{path: "/show/some/course", status: http.StatusOK, body: "root-index"},
		{path: "/missing.css", status: http.StatusNotFound},
		{path: "/syncing", status: http.StatusNotFound},
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	for _, tc := range cases {
		resp, err := client.Get(env.server.URL + tc.path)
		if err != nil {
			t.Fatalf("get %s: %v", tc.path, err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s status = %d, want %d", tc.path, resp.StatusCode, tc.status)
		}
		if tc.body != "" && string(data) != tc.body {
			t.Fatalf("%s body = %q, want %q", tc.path, data, tc.body)
		}
	}
}

func TestEditorDisabled(t *testing.T) {
	env := newTestEnv(t, memory.New(), nil)
	resp, err := http.Get(env.server.URL + "/anything")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCollapseSlashes(t *testing.T) {
	cases := map[string]string{
		"/":         "/",
		"//a///b/":  "/a/b/",
		"/a/b":      "/a/b",
		"":          "",
		"///static": "/static",
	}
	for in, want := range cases {
		if got := collapseSlashes(in); got != want {
			t.Fatalf("collapseSlashes(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRouterSys(t *testing.T) {
	if got := routerSys("sync"); got != "api.http.router.sync" {
		t.Fatalf("routerSys(sync) = %q", got)
	}
	if got := routerSys(""); got != "api.http.router" {
		t.Fatalf("routerSys(\"\") = %q", got)
	}
}
