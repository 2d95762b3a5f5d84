// Package storagecheck exercises a configured object store with the same
// operations a sync performs and reports each step.
package storagecheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"pkt.systems/pslog"

	"pkt.systems/docsync"
	"pkt.systems/docsync/internal/correlation"
	"pkt.systems/docsync/internal/storage"
)

// DiagnosticsPrefix is the key prefix probe objects are written under.
const DiagnosticsPrefix = "docsync-diagnostics"

const verifyTimeout = 15 * time.Second

// Result captures the outcome of store verification checks.
type Result struct {
	Provider          string
	Bucket            string
	Prefix            string
	Path              string
	Endpoint          string
	Insecure          bool
	Credentials       docsync.CredentialSummary
	Checks            []CheckResult
	RecommendedPolicy string
	AdditionalMessage string
}

// Passed reports whether all checks succeeded.
func (r Result) Passed() bool {
	for _, check := range r.Checks {
		if check.Err != nil {
			return false
		}
	}
	return true
}

// CheckResult is the outcome of a single verification step.
type CheckResult struct {
	Name string
	Err  error
}

// VerifyStore opens the backend configured in cfg and runs Verify against it.
// Connection failures are reported as a failed "Open" check rather than an error.
func VerifyStore(ctx context.Context, cfg docsync.Config, logger pslog.Logger) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	result, err := describe(cfg)
	if err != nil {
		return Result{}, err
	}
	backend, provider, err := docsync.OpenStore(ctx, cfg, logger)
	if err != nil {
		result.Checks = append(result.Checks, CheckResult{Name: "Open", Err: err})
		if result.Provider == "aws" {
			result.RecommendedPolicy = buildAWSPolicy(result.Bucket, result.Prefix)
		}
		return result, nil
	}
	defer backend.Close()
	result.Provider = provider
	result.Checks = append(result.Checks, CheckResult{Name: "Open"})
	result.Checks = append(result.Checks, Verify(ctx, backend)...)
	if usage, ok, err := storage.UsageOf(ctx, backend); ok && err == nil {
		result.AdditionalMessage = fmt.Sprintf("Filesystem %s: %s used, %s free.", usage.Path, humanize.Bytes(usage.Used), humanize.Bytes(usage.Free))
	}
	if result.Provider == "aws" && !result.Passed() {
		result.RecommendedPolicy = buildAWSPolicy(result.Bucket, result.Prefix)
	}
	return result, nil
}

func describe(cfg docsync.Config) (Result, error) {
	scheme := "disk"
	if i := strings.Index(cfg.Store, "://"); i >= 0 {
		scheme = strings.ToLower(cfg.Store[:i])
	}
	switch scheme {
	case "disk":
		diskCfg, err := docsync.BuildDiskConfig(cfg)
		if err != nil {
			return Result{}, err
		}
		return Result{Provider: "disk", Path: diskCfg.Root}, nil
	case "s3":
		s3cfg, summary, err := docsync.BuildGenericS3Config(cfg)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Provider:    "s3",
			Bucket:      s3cfg.Bucket,
			Prefix:      s3cfg.Prefix,
			Endpoint:    s3cfg.Endpoint,
			Insecure:    s3cfg.Insecure,
			Credentials: summary,
		}, nil
	case "aws":
		awsCfg, err := docsync.BuildAWSConfig(cfg)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Provider: "aws",
			Bucket:   awsCfg.Bucket,
			Prefix:   awsCfg.Prefix,
			Endpoint: awsCfg.Endpoint,
			Insecure: awsCfg.Insecure,
		}, nil
	case "azure":
		azureCfg, err := docsync.BuildAzureConfig(cfg)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Provider:    "azure",
			Bucket:      azureCfg.Container,
			Prefix:      azureCfg.Prefix,
			Endpoint:    azureCfg.Endpoint,
			Credentials: docsync.CredentialSummary{AccessKey: azureCfg.Account, HasSecret: azureCfg.AccountKey != "" || azureCfg.SASToken != "", Source: azureCredentialSource(azureCfg.AccountKey, azureCfg.SASToken)},
		}, nil
	default:
		return Result{Provider: scheme}, nil
	}
}

func azureCredentialSource(accountKey, sas string) string {
	switch {
	case accountKey != "":
		return "shared-key"
	case sas != "":
		return "sas"
	default:
		return "default-azure-credential"
	}
}

// Verify round-trips a probe document and blob through backend, then removes
// them. Every step is reported, including those skipped after a failure.
func Verify(ctx context.Context, backend storage.Backend) []CheckResult {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	var checks []CheckResult
	failed := false
	run := func(name string, fn func(context.Context) error) {
		if failed {
			checks = append(checks, CheckResult{Name: name, Err: errSkipped})
			return
		}
		err := fn(ctx)
		if err != nil {
			failed = true
		}
		checks = append(checks, CheckResult{Name: name, Err: err})
	}

	probe := path.Join(DiagnosticsPrefix, correlation.NewID())
	docKey := probe + "/README.md"
	blobKey := probe + "/probe.png"
	docBody := []byte("# docsync diagnostics\n![probe](probe.png)\n")
	blobBody := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00, 0xff}

	run("Ping", func(ctx context.Context) error {
		return storage.PingOf(ctx, backend)
	})
	run("ListObjects", func(ctx context.Context) error {
		_, err := backend.ListObjects(ctx, storage.ListOptions{Limit: 1})
		return err
	})
	run("PutDocument", func(ctx context.Context) error {
		_, err := backend.PutObject(ctx, docKey, bytes.NewReader(docBody), storage.PutObjectOptions{
			ContentType: storage.ContentTypeFor(docKey),
			Size:        int64(len(docBody)),
		})
		return err
	})
	run("PutBlob", func(ctx context.Context) error {
		_, err := backend.PutObject(ctx, blobKey, bytes.NewReader(blobBody), storage.PutObjectOptions{
			ContentType: storage.ContentTypeFor(blobKey),
			Size:        int64(len(blobBody)),
		})
		return err
	})
	run("GetDocument", func(ctx context.Context) error {
		return expectContent(ctx, backend, docKey, docBody)
	})
	run("GetBlob", func(ctx context.Context) error {
		return expectContent(ctx, backend, blobKey, blobBody)
	})
	run("ListProbe", func(ctx context.Context) error {
		res, err := backend.ListObjects(ctx, storage.ListOptions{Prefix: probe + "/"})
		if err != nil {
			return err
		}
		if len(res.Objects) != 2 {
			return fmt.Errorf("listed %d probe objects, want 2", len(res.Objects))
		}
		return nil
	})

	// Probe objects are removed even when an earlier step failed.
	failed = false
	run("DeleteObjects", func(ctx context.Context) error {
		var errs []error
		for _, key := range []string{docKey, blobKey} {
			if err := backend.DeleteObject(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			}
		}
		return errors.Join(errs...)
	})
	run("VerifyDeleted", func(ctx context.Context) error {
		obj, err := backend.GetObject(ctx, docKey)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		obj.Reader.Close()
		return fmt.Errorf("%s still present after delete", docKey)
	})
	return checks
}

var errSkipped = errors.New("skipped after earlier failure")

func expectContent(ctx context.Context, backend storage.Backend, key string, want []byte) error {
	obj, err := backend.GetObject(ctx, key)
	if err != nil {
		return err
	}
	defer obj.Reader.Close()
	got, err := io.ReadAll(obj.Reader)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%s: read %d bytes that differ from the %d written", key, len(got), len(want))
	}
	return nil
}
