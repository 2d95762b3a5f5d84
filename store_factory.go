package docsync

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"
	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/storage"
	awsstore "pkt.systems/docsync/internal/storage/aws"
	azurestore "pkt.systems/docsync/internal/storage/azure"
	"pkt.systems/docsync/internal/storage/disk"
	"pkt.systems/docsync/internal/storage/logging"
	"pkt.systems/docsync/internal/storage/memory"
	"pkt.systems/docsync/internal/storage/s3"
	"pkt.systems/docsync/internal/svcfields"
)

const storeReadyTimeout = 10 * time.Second

// CredentialSummary describes which credentials were selected for object storage.
type CredentialSummary struct {
	AccessKey string
	HasSecret bool
	Source    string
}

// storeScheme returns the backend name for a store DSN. Strings without a
// scheme are disk paths.
func storeScheme(store string) (string, error) {
	if !strings.Contains(store, "://") {
		return "disk", nil
	}
	scheme := strings.ToLower(store[:strings.Index(store, "://")])
	switch scheme {
	case "disk", "aws", "s3", "azure":
		return scheme, nil
	case "mem", "memory":
		return "mem", nil
	default:
		return "", fmt.Errorf("config: store scheme %q not supported", scheme)
	}
}

// openBackend builds the backend named by cfg.Store and decorates it with
// structured logging.
func openBackend(ctx context.Context, cfg Config, logger pslog.Logger) (storage.Backend, string, error) {
	scheme, err := storeScheme(cfg.Store)
	if err != nil {
		return nil, "", err
	}
	var backend storage.Backend
	switch scheme {
	case "mem":
		backend = memory.New()
	case "disk":
		diskCfg, err := BuildDiskConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		store, err := disk.New(diskCfg)
		if err != nil {
			return nil, "", err
		}
		backend = store
	case "s3":
		s3cfg, summary, err := BuildGenericS3Config(cfg)
		if err != nil {
			return nil, "", err
		}
		logger.Info("storage.s3.credentials", "source", summary.Source, "access_key", summary.AccessKey, "has_secret", summary.HasSecret)
		store, err := s3.New(s3cfg)
		if err != nil {
			return nil, "", err
		}
		backend = store
	case "aws":
		awscfg, err := BuildAWSConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		store, err := awsstore.New(ctx, awscfg)
		if err != nil {
			return nil, "", err
		}
		backend = store
	case "azure":
		azureCfg, err := BuildAzureConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		store, err := azurestore.New(ctx, azureCfg)
		if err != nil {
			return nil, "", err
		}
		backend = store
	}
	if err := ensureStoreReady(ctx, backend); err != nil {
		_ = backend.Close()
		return nil, "", err
	}
	sys := svcfields.Subsystem("storage.backend", scheme)
	return logging.Wrap(backend, svcfields.WithSubsystem(logger, sys), sys), scheme, nil
}

func ensureStoreReady(ctx context.Context, backend storage.Backend) error {
	pinger, ok := backend.(storage.Pinger)
	if !ok {
		return nil
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, storeReadyTimeout)
	defer cancel()
	if err := pinger.Ping(timeoutCtx); err != nil {
		return fmt.Errorf("object store connectivity check failed: %w", err)
	}
	return nil
}

// BuildDiskConfig parses disk:// URLs and bare paths into a disk.Config.
// Relative paths such as disk://./storage resolve against the working directory.
func BuildDiskConfig(cfg Config) (disk.Config, error) {
	root := cfg.Store
	if strings.Contains(root, "://") {
		if !strings.HasPrefix(strings.ToLower(root), "disk://") {
			return disk.Config{}, fmt.Errorf("store %q is not a disk store", cfg.Store)
		}
		root = root[len("disk://"):]
	}
	if i := strings.IndexByte(root, '?'); i >= 0 {
		root = root[:i]
	}
	root = strings.TrimSpace(root)
	if root == "" || root == "/" {
		return disk.Config{}, fmt.Errorf("disk store path required (e.g. disk:///var/lib/docsync or disk://./storage)")
	}
	return disk.Config{Root: filepath.Clean(filepath.FromSlash(root))}, nil
}

// BuildGenericS3Config parses s3:// URLs that target S3-compatible services (MinIO etc.).
func BuildGenericS3Config(cfg Config) (s3.Config, CredentialSummary, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("parse store URL: %w", err)
	}
	if u.Scheme != "s3" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("s3 store missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	bucket, prefix := splitBucketPath(u.Path)
	if bucket == "" {
		return s3.Config{}, CredentialSummary{}, fmt.Errorf("s3 store missing bucket (expected s3://host[:port]/bucket[/prefix])")
	}
	query := u.Query()
	insecure := queryBool(query, "insecure", false) || !queryBool(query, "tls", true)
	kmsKey := cfg.S3KMSKeyID
	if v := query.Get("kms-key-id"); v != "" {
		kmsKey = v
	}
	cred, summary, err := resolveGenericS3Credentials(cfg)
	if err != nil {
		return s3.Config{}, summary, err
	}
	return s3.Config{
		Endpoint:       endpoint,
		Region:         query.Get("region"),
		Bucket:         bucket,
		Prefix:         prefix,
		Insecure:       insecure,
		ForcePathStyle: queryBool(query, "path-style", false),
		PartSize:       cfg.S3MaxPartSize,
		ServerSideEnc:  cfg.S3SSE,
		KMSKeyID:       kmsKey,
		CustomCreds:    cred,
	}, summary, nil
}

// BuildAWSConfig parses aws://bucket[/prefix] URLs for the AWS SDK backend.
func BuildAWSConfig(cfg Config) (awsstore.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return awsstore.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	if u.Scheme != "aws" {
		return awsstore.Config{}, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	bucket := strings.TrimSpace(u.Host)
	if bucket == "" {
		return awsstore.Config{}, fmt.Errorf("aws store missing bucket (expected aws://bucket[/prefix])")
	}
	query := u.Query()
	region := strings.TrimSpace(cfg.AWSRegion)
	if v := strings.TrimSpace(query.Get("region")); v != "" {
		region = v
	}
	if region == "" {
		region = firstEnv("AWS_REGION", "AWS_DEFAULT_REGION")
	}
	if region == "" {
		return awsstore.Config{}, fmt.Errorf("aws store requires region (set --aws-region or DOCSYNC_AWS_REGION)")
	}
	kmsKey := cfg.AWSKMSKeyID
	if kmsKey == "" {
		kmsKey = cfg.S3KMSKeyID
	}
	if v := query.Get("kms-key-id"); v != "" {
		kmsKey = v
	}
	return awsstore.Config{
		Endpoint:      query.Get("endpoint"),
		Region:        region,
		Bucket:        bucket,
		Prefix:        strings.Trim(u.Path, "/"),
		Insecure:      queryBool(query, "insecure", false),
		PathStyle:     queryBool(query, "path-style", false),
		ServerSideEnc: cfg.S3SSE,
		KMSKeyID:      kmsKey,
	}, nil
}

// BuildAzureConfig parses azure://account/container[/prefix] URLs.
func BuildAzureConfig(cfg Config) (azurestore.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return azurestore.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	if u.Scheme != "azure" {
		return azurestore.Config{}, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	account := strings.TrimSpace(u.Host)
	if cfg.AzureAccount != "" {
		account = cfg.AzureAccount
	}
	if account == "" {
		account = firstEnv("AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME")
	}
	if account == "" {
		return azurestore.Config{}, fmt.Errorf("azure: account name required (set azure://account/... or AZURE_STORAGE_ACCOUNT)")
	}
	container, prefix := splitBucketPath(u.Path)
	if container == "" {
		return azurestore.Config{}, fmt.Errorf("azure store missing container (expected azure://account/container[/prefix])")
	}
	query := u.Query()
	endpoint := strings.TrimSpace(cfg.AzureEndpoint)
	if v := strings.TrimSpace(query.Get("endpoint")); v != "" {
		endpoint = v
	}
	accountKey := strings.TrimSpace(cfg.AzureAccountKey)
	if accountKey == "" {
		accountKey = firstEnv("DOCSYNC_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_STORAGE_KEY")
	}
	sas := strings.TrimSpace(cfg.AzureSASToken)
	if v := strings.TrimSpace(query.Get("sas")); v != "" {
		sas = v
	}
	if sas == "" {
		sas = firstEnv("DOCSYNC_AZURE_SAS_TOKEN", "AZURE_STORAGE_SAS_TOKEN")
	}
	return azurestore.Config{
		Account:    account,
		AccountKey: accountKey,
		Endpoint:   endpoint,
		SASToken:   sas,
		Container:  container,
		Prefix:     prefix,
	}, nil
}

func resolveGenericS3Credentials(cfg Config) (*minioCredentials.Credentials, CredentialSummary, error) {
	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := cfg.S3SecretAccessKey
	sessionToken := cfg.S3SessionToken
	source := "config"
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		accessKey = strings.TrimSpace(os.Getenv("DOCSYNC_S3_ACCESS_KEY_ID"))
		secretKey = os.Getenv("DOCSYNC_S3_SECRET_ACCESS_KEY")
		sessionToken = os.Getenv("DOCSYNC_S3_SESSION_TOKEN")
		source = "env:DOCSYNC_S3_ACCESS_KEY_ID"
	}
	summary := CredentialSummary{AccessKey: accessKey, HasSecret: secretKey != "", Source: source}
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		// Fall through to the minio env/file credential chain.
		summary.Source = "chain"
		return nil, summary, nil
	}
	if accessKey == "" || secretKey == "" {
		return nil, summary, fmt.Errorf("s3 credentials incomplete (need access key and secret key)")
	}
	return minioCredentials.NewStaticV4(accessKey, secretKey, sessionToken), summary, nil
}

func splitBucketPath(p string) (bucket, prefix string) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", ""
	}
	parts := strings.SplitN(p, "/", 2)
	bucket = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix
}

func queryBool(q url.Values, name string, fallback bool) bool {
	v := q.Get(name)
	if v == "" {
		return fallback
	}
	ok, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return ok
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}

// OpenStore validates cfg and opens its backend exactly as NewServer would.
// Callers own the returned backend and must close it.
func OpenStore(ctx context.Context, cfg Config, logger pslog.Logger) (storage.Backend, string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return openBackend(ctx, cfg, logger)
}
