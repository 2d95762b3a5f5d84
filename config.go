package docsync

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/docsync/internal/docpath"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":9000"
	// DefaultStore keeps documents under ./storage on the local disk.
	DefaultStore = "disk://./storage"
	// DefaultStaticPrefix is the URL prefix the stored tree is served under.
	DefaultStaticPrefix = "/static"
	// DefaultJSONMaxBytes bounds incoming sync requests.
	DefaultJSONMaxBytes = 500 << 20
	// DefaultDocumentIDMode treats identifiers as "<dir>/<file>" paths.
	DefaultDocumentIDMode = string(docpath.ModePath)
	// DefaultBlobLayout writes blobs next to the document.
	DefaultBlobLayout = string(docpath.LayoutFlat)
	// DefaultBlobConcurrency bounds parallel blob writes per request.
	DefaultBlobConcurrency = 8
	// DefaultLockRetryAfter is the Retry-After hint on lock conflicts.
	DefaultLockRetryAfter = time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultMetricsListen is empty, which disables the Prometheus endpoint.
	DefaultMetricsListen = ""

	defaultProtocol = "http"
	defaultHost     = "localhost"
	defaultPort     = "9000"
)

// Config captures the tunables for a docsync.Server instance.
type Config struct {
	// Listen is the server bind address (for example ":9000").
	Listen string
	// BaseURL prefixes rewritten blob links. Empty derives it from the
	// PROTOCOL, HOST and PORT environment variables.
	BaseURL string
	// Store is the backend DSN (disk://, mem://, s3://, aws://, azure://) or a bare path.
	Store string
	// StaticPrefix is the URL prefix serving stored objects.
	StaticPrefix string
	// EditorDist is the editor bundle directory; empty disables the SPA fallback.
	EditorDist string
	// DisableCORS turns off the allow-all CORS middleware.
	DisableCORS bool
	// JSONMaxBytes caps the sync request body.
	JSONMaxBytes int64

	// DocumentIDMode selects how identifiers map to storage paths (path, id, prefix).
	DocumentIDMode string
	// DocumentIDPrefix is stripped from identifiers in prefix mode.
	DocumentIDPrefix string
	// BlobLayout places blobs next to the document (flat) or under blobs/.
	BlobLayout string
	// RewriteLinks substitutes (<blob>) references with static URLs.
	RewriteLinks bool
	// BlobConcurrency bounds parallel blob writes per request.
	BlobConcurrency int
	// LockRetryAfter is advertised to clients that hit a held lock.
	LockRetryAfter time.Duration

	// MetricsListen is the Prometheus scrape address; empty disables metrics.
	MetricsListen string
	// EnableRuntimeMetrics adds Go runtime metrics to the metrics endpoint.
	EnableRuntimeMetrics bool
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// OTLPEndpoint enables trace export (grpc://, grpcs://, http://, https:// or host:port).
	OTLPEndpoint string
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// S3 and AWS options.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3SessionToken    string
	S3SSE             string
	S3KMSKeyID        string
	S3MaxPartSize     uint64
	AWSRegion         string
	AWSKMSKeyID       string

	// Azure options.
	AzureAccount    string
	AzureAccountKey string
	AzureEndpoint   string
	AzureSASToken   string
}

// Validate applies defaults and sanity-checks the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = defaultListen()
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if _, err := storeScheme(c.Store); err != nil {
		return err
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL()
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("config: base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: base url must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	c.StaticPrefix = "/" + strings.Trim(c.StaticPrefix, "/")
	if c.StaticPrefix == "/" {
		c.StaticPrefix = DefaultStaticPrefix
	}
	if c.StaticPrefix == "/sync" || c.StaticPrefix == "/healthz" || c.StaticPrefix == "/readyz" {
		return fmt.Errorf("config: static prefix %q collides with an API route", c.StaticPrefix)
	}
	if c.EditorDist != "" {
		info, err := os.Stat(c.EditorDist)
		if err != nil {
			return fmt.Errorf("config: editor dist: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("config: editor dist %s is not a directory", c.EditorDist)
		}
	}
	if c.JSONMaxBytes <= 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}

	if c.DocumentIDMode == "" {
		c.DocumentIDMode = DefaultDocumentIDMode
	}
	mode, err := docpath.ParseMode(c.DocumentIDMode)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.DocumentIDMode = string(mode)
	if mode == docpath.ModePrefix && strings.TrimSpace(c.DocumentIDPrefix) == "" {
		return fmt.Errorf("config: document id mode %q requires a prefix", mode)
	}
	if c.BlobLayout == "" {
		c.BlobLayout = DefaultBlobLayout
	}
	layout, err := docpath.ParseLayout(c.BlobLayout)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.BlobLayout = string(layout)
	if c.BlobConcurrency <= 0 {
		c.BlobConcurrency = DefaultBlobConcurrency
	}
	if c.LockRetryAfter <= 0 {
		c.LockRetryAfter = DefaultLockRetryAfter
	}

	if c.EnableRuntimeMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: runtime metrics require metrics-listen")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	switch strings.ToUpper(c.S3SSE) {
	case "", "AES256", "AWS:KMS":
	default:
		return fmt.Errorf("config: unsupported s3 sse mode %q", c.S3SSE)
	}
	return nil
}

// DefaultBaseURL composes the public base URL from PROTOCOL, HOST and PORT,
// defaulting to http://localhost:9000.
func DefaultBaseURL() string {
	protocol := envOr("PROTOCOL", defaultProtocol)
	host := envOr("HOST", defaultHost)
	port := envOr("PORT", defaultPort)
	return protocol + "://" + net.JoinHostPort(host, port)
}

func defaultListen() string {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		return ":" + port
	}
	return DefaultListen
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

// DefaultConfigDir returns the default configuration directory ($HOME/.docsync).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("DOCSYNC_CONFIG_DIR")); override != "" {
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".docsync"), nil
}

// DefaultConfigFile returns the default YAML config path.
func DefaultConfigFile() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
