package docsync

import (
	"context"
	"path/filepath"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/storage"
)

func TestStoreScheme(t *testing.T) {
	cases := map[string]string{
		"disk://./storage":        "disk",
		"./storage":               "disk",
		"/var/lib/docsync":        "disk",
		"mem://":                  "mem",
		"memory://":               "mem",
		"s3://minio:9000/bucket":  "s3",
		"aws://bucket/prefix":     "aws",
		"azure://acct/container":  "azure",
		"DISK:///var/lib/docsync": "disk",
	}
	for in, want := range cases {
		got, err := storeScheme(in)
		if err != nil || got != want {
			t.Fatalf("storeScheme(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := storeScheme("gopher://x"); err == nil {
		t.Fatalf("expected error for unknown scheme")
	}
}

func TestBuildDiskConfig(t *testing.T) {
	cases := map[string]string{
		"disk://./storage":        "storage",
		"disk:///var/lib/docsync": "/var/lib/docsync",
		"./data/":                 "data",
		"disk://rel/dir?x=1":      filepath.Join("rel", "dir"),
	}
	for in, want := range cases {
		cfg, err := BuildDiskConfig(Config{Store: in})
		if err != nil {
			t.Fatalf("BuildDiskConfig(%q): %v", in, err)
		}
		if cfg.Root != filepath.FromSlash(want) {
			t.Fatalf("BuildDiskConfig(%q).Root = %q, want %q", in, cfg.Root, want)
		}
	}
	if _, err := BuildDiskConfig(Config{Store: "disk://"}); err == nil {
		t.Fatalf("expected error for empty disk path")
	}
}

func TestBuildGenericS3Config(t *testing.T) {
	cfg := Config{
		Store:             "s3://localhost:9000/docs/tenant-a?insecure=1&path-style=true",
		S3AccessKeyID:     "minio",
		S3SecretAccessKey: "minio123",
	}
	s3cfg, summary, err := BuildGenericS3Config(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s3cfg.Endpoint != "localhost:9000" || s3cfg.Bucket != "docs" || s3cfg.Prefix != "tenant-a" {
		t.Fatalf("config = %+v", s3cfg)
	}
	if !s3cfg.Insecure || !s3cfg.ForcePathStyle {
		t.Fatalf("flags = insecure:%v path-style:%v", s3cfg.Insecure, s3cfg.ForcePathStyle)
	}
	if summary.Source != "config" || summary.AccessKey != "minio" || !summary.HasSecret || s3cfg.CustomCreds == nil {
		t.Fatalf("summary = %+v", summary)
	}

	if _, _, err := BuildGenericS3Config(Config{Store: "s3://host:9000", S3AccessKeyID: "a", S3SecretAccessKey: "b"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, _, err := BuildGenericS3Config(Config{Store: "s3://host:9000/b", S3AccessKeyID: "only-key"}); err == nil {
		t.Fatalf("expected incomplete credentials error")
	}
}

func TestBuildGenericS3ConfigEnvCredentials(t *testing.T) {
	t.Setenv("DOCSYNC_S3_ACCESS_KEY_ID", "env-key")
	t.Setenv("DOCSYNC_S3_SECRET_ACCESS_KEY", "env-secret")
	_, summary, err := BuildGenericS3Config(Config{Store: "s3://host:9000/bucket"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if summary.AccessKey != "env-key" || summary.Source != "env:DOCSYNC_S3_ACCESS_KEY_ID" {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestBuildAWSConfig(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	awscfg, err := BuildAWSConfig(Config{Store: "aws://docs-bucket/course?region=eu-north-1&kms-key-id=alias/docs", S3SSE: "aws:kms"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if awscfg.Bucket != "docs-bucket" || awscfg.Prefix != "course" || awscfg.Region != "eu-north-1" || awscfg.KMSKeyID != "alias/docs" {
		t.Fatalf("config = %+v", awscfg)
	}
	if _, err := BuildAWSConfig(Config{Store: "aws://bucket"}); err == nil {
		t.Fatalf("expected region error")
	}
}

func TestBuildAzureConfig(t *testing.T) {
	azcfg, err := BuildAzureConfig(Config{Store: "azure://acct/docs/site?sas=sv%3D1", AzureAccountKey: "key"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if azcfg.Account != "acct" || azcfg.Container != "docs" || azcfg.Prefix != "site" || azcfg.SASToken != "sv=1" || azcfg.AccountKey != "key" {
		t.Fatalf("config = %+v", azcfg)
	}
	if _, err := BuildAzureConfig(Config{Store: "azure://acct"}); err == nil {
		t.Fatalf("expected missing container error")
	}
}

func TestOpenBackendWrapsWithLogging(t *testing.T) {
	root := t.TempDir()
	backend, name, err := openBackend(context.Background(), Config{Store: "disk://" + root}, pslog.NoopLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer backend.Close()
	if name != "disk" {
		t.Fatalf("name = %q", name)
	}
	if _, ok := backend.(storage.Unwrapper); !ok {
		t.Fatalf("backend %T is not decorated", backend)
	}
	if _, ok, err := storage.UsageOf(context.Background(), backend); !ok || err != nil {
		t.Fatalf("UsageOf = %v, %v", ok, err)
	}
}
