package storagecheck

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/docsync"
	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/storage/memory"
)

func TestVerifyMemoryBackendPasses(t *testing.T) {
	store := memory.New()
	checks := Verify(context.Background(), store)
	res := Result{Checks: checks}
	if !res.Passed() {
		t.Fatalf("expected all checks to pass: %+v", checks)
	}
	if store.Len() != 0 {
		t.Fatalf("expected probe objects removed, %d left", store.Len())
	}
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.Name)
	}
	want := "Ping,ListObjects,PutDocument,PutBlob,GetDocument,GetBlob,ListProbe,DeleteObjects,VerifyDeleted"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("checks=%s want %s", got, want)
	}
}

type failingPut struct {
	storage.Backend
}

func (f failingPut) PutObject(ctx context.Context, key string, body io.Reader, opts storage.PutObjectOptions) (*storage.ObjectInfo, error) {
	return nil, errors.New("access denied")
}

func TestVerifySkipsAfterFailureButCleansUp(t *testing.T) {
	checks := Verify(context.Background(), failingPut{Backend: memory.New()})
	byName := map[string]error{}
	for _, c := range checks {
		byName[c.Name] = c.Err
	}
	if err := byName["PutDocument"]; err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("PutDocument err=%v", err)
	}
	if !errors.Is(byName["GetBlob"], errSkipped) {
		t.Fatalf("expected GetBlob skipped, got %v", byName["GetBlob"])
	}
	if err := byName["DeleteObjects"]; err != nil {
		t.Fatalf("DeleteObjects should tolerate missing probes: %v", err)
	}
	if err := byName["VerifyDeleted"]; err != nil {
		t.Fatalf("VerifyDeleted err=%v", err)
	}
}

func TestVerifyStoreDisk(t *testing.T) {
	root := t.TempDir()
	res, err := VerifyStore(context.Background(), docsync.Config{Store: "disk://" + root}, nil)
	if err != nil {
		t.Fatalf("VerifyStore: %v", err)
	}
	if res.Provider != "disk" || res.Path != filepath.Clean(root) {
		t.Fatalf("unexpected result header: %+v", res)
	}
	if !res.Passed() {
		t.Fatalf("expected disk verification to pass: %+v", res.Checks)
	}
	if !strings.Contains(res.AdditionalMessage, "free") {
		t.Fatalf("expected usage message, got %q", res.AdditionalMessage)
	}
}

func TestVerifyStoreRejectsBadConfig(t *testing.T) {
	if _, err := VerifyStore(context.Background(), docsync.Config{Store: "ftp://host/x"}, nil); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestBuildAWSPolicyScopesPrefix(t *testing.T) {
	var policy iamPolicy
	if err := json.Unmarshal([]byte(buildAWSPolicy("docs", "/team/")), &policy); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if len(policy.Statement) != 2 {
		t.Fatalf("statements=%d", len(policy.Statement))
	}
	if got := policy.Statement[1].Resource[0]; got != "arn:aws:s3:::docs/team/*" {
		t.Fatalf("object resource=%q", got)
	}
	if policy.Statement[0].Condition == nil {
		t.Fatalf("expected list condition for prefix")
	}
	var unscoped iamPolicy
	if err := json.Unmarshal([]byte(buildAWSPolicy("docs", "")), &unscoped); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if unscoped.Statement[0].Condition != nil {
		t.Fatalf("unexpected condition without prefix")
	}
}
