package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/docsync"
	"pkt.systems/docsync/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("DOCSYNC_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "docsync")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	executed, err := cmd.ExecuteContextC(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			if executed == cmd {
				svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return 1
	}
	return 0
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if candidate, err := docsync.DefaultConfigFile(); err == nil {
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

var rootFlagNames = []string{
	"config",
	"listen", "base-url", "store", "static-prefix", "editor-dist", "cors", "json-max",
	"document-id-mode", "document-id-prefix", "blob-layout", "rewrite-links", "blob-concurrency", "lock-retry-after",
	"metrics-listen", "enable-runtime-metrics", "pprof-listen", "otlp-endpoint", "shutdown-timeout",
	"s3-access-key-id", "s3-secret-access-key", "s3-session-token", "s3-sse", "s3-kms-key-id", "s3-max-part-size",
	"aws-region", "aws-kms-key-id",
	"azure-account", "azure-key", "azure-endpoint", "azure-sas-token",
	"log-level",
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg docsync.Config

	cmd := &cobra.Command{
		Use:           "docsync",
		Short:         "docsync stores documents and their attachments pushed by the editor and serves them back",
		SilenceErrors: true,
		Example: `
  # Local disk under ./storage, editor bundle served from ./dist
  docsync --editor-dist ./dist

  # Rewrite (image.png) links to public URLs and keep blobs in a subdirectory
  docsync --base-url https://docs.example.com --rewrite-links --blob-layout blobs

  # MinIO backend (TLS on by default; append ?insecure=1 for HTTP)
  DOCSYNC_STORE=s3://localhost:9000/docs?insecure=1 DOCSYNC_S3_ACCESS_KEY_ID=minioadmin DOCSYNC_S3_SECRET_ACCESS_KEY=minioadmin docsync

  # AWS S3 backend (expects AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY)
  DOCSYNC_STORE=aws://my-bucket/docs DOCSYNC_AWS_REGION=eu-north-1 docsync

  # In-memory storage (tests/dev only)
  docsync --store mem://
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true
			svcfields.WithSubsystem(logger, "server.lifecycle.init").Info(
				"welcome to docsync",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}
			if err := bindConfig(&cfg); err != nil {
				return err
			}

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			level, ok := pslog.ParseLevel(logLevel)
			if !ok {
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			logger = logger.LogLevel(level)
			cliLogger = svcfields.WithSubsystem(logger, "cli.root")

			server, err := docsync.NewServer(cfg, docsync.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				_ = server.Close()
			}()

			go func() {
				<-ctx.Done()
				if err := server.Close(); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.docsync/config.yaml)")
	persistentFlags.String("log-level", "info", "log level (trace|debug|info|warn|error)")

	flags := cmd.Flags()
	flags.String("listen", "", "listen address (defaults to :$PORT or "+docsync.DefaultListen+")")
	flags.String("base-url", "", "public base URL used in rewritten links (defaults to $PROTOCOL://$HOST:$PORT)")
	flags.String("store", docsync.DefaultStore, "storage backend URL (disk:///path, mem://, s3://host[:port]/bucket, aws://bucket, azure://account/container)")
	flags.String("static-prefix", docsync.DefaultStaticPrefix, "URL prefix serving the stored tree")
	flags.String("editor-dist", "", "editor bundle directory served at / (empty disables)")
	flags.Bool("cors", true, "answer cross-origin requests from any origin")
	flags.String("json-max", humanizeBytes(docsync.DefaultJSONMaxBytes), "maximum sync request body size")
	flags.String("document-id-mode", docsync.DefaultDocumentIDMode, "how document identifiers map to storage paths (path, id, prefix)")
	flags.String("document-id-prefix", "", "identifier prefix stripped in prefix mode")
	flags.String("blob-layout", docsync.DefaultBlobLayout, "where blobs are written relative to the document (flat, blobs)")
	flags.Bool("rewrite-links", false, "rewrite (blob) references in content to public static URLs")
	flags.Int("blob-concurrency", docsync.DefaultBlobConcurrency, "maximum parallel blob writes per sync")
	flags.Duration("lock-retry-after", docsync.DefaultLockRetryAfter, "Retry-After hint returned when a document is locked")
	flags.String("metrics-listen", docsync.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.Bool("enable-runtime-metrics", false, "add Go runtime metrics to the Prometheus endpoint")
	flags.String("pprof-listen", "", "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.Duration("shutdown-timeout", docsync.DefaultShutdownTimeout, "graceful shutdown timeout")
	flags.String("s3-access-key-id", "", "access key for s3:// backends (or DOCSYNC_S3_ACCESS_KEY_ID)")
	flags.String("s3-secret-access-key", "", "secret key for s3:// backends (or DOCSYNC_S3_SECRET_ACCESS_KEY)")
	flags.String("s3-session-token", "", "session token for s3:// backends")
	flags.String("s3-sse", "", "server-side encryption mode for S3 objects (AES256, aws:kms)")
	flags.String("s3-kms-key-id", "", "KMS key ID for S3 server-side encryption")
	flags.String("s3-max-part-size", "", "maximum S3 multipart upload part size (empty uses the client default)")
	flags.String("aws-region", "", "AWS region for aws:// backends")
	flags.String("aws-kms-key-id", "", "KMS key ID for aws:// backends")
	flags.String("azure-account", "", "Azure Storage account (overrides the store URL host)")
	flags.String("azure-key", "", "Azure Storage account key (or DOCSYNC_AZURE_ACCOUNT_KEY)")
	flags.String("azure-endpoint", "", "Azure Blob service endpoint (defaults to https://<account>.blob.core.windows.net)")
	flags.String("azure-sas-token", "", "Azure SAS token (optional alternative to account key)")

	bindFlag := func(name string) {
		flag := lookupFlag(cmd, name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("DOCSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range rootFlagNames {
		bindFlag(name)
	}

	cmd.AddCommand(newVerifyCommand(svcfields.WithSubsystem(baseLogger, "cli.verify")))
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// lookupFlag finds name among the local flags of cmd, then its persistent flags.
func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag
	}
	return cmd.PersistentFlags().Lookup(name)
}

func bindConfig(cfg *docsync.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.BaseURL = viper.GetString("base-url")
	cfg.Store = viper.GetString("store")
	cfg.StaticPrefix = viper.GetString("static-prefix")
	if dist := viper.GetString("editor-dist"); dist != "" {
		expanded, err := expandPath(dist)
		if err != nil {
			return fmt.Errorf("expand editor-dist: %w", err)
		}
		cfg.EditorDist = expanded
	}
	cfg.DisableCORS = !viper.GetBool("cors")
	if maxBytes := viper.GetString("json-max"); maxBytes != "" {
		size, err := humanize.ParseBytes(maxBytes)
		if err != nil {
			return fmt.Errorf("parse json-max: %w", err)
		}
		cfg.JSONMaxBytes = int64(size)
	}
	cfg.DocumentIDMode = viper.GetString("document-id-mode")
	cfg.DocumentIDPrefix = viper.GetString("document-id-prefix")
	cfg.BlobLayout = viper.GetString("blob-layout")
	cfg.RewriteLinks = viper.GetBool("rewrite-links")
	cfg.BlobConcurrency = viper.GetInt("blob-concurrency")
	cfg.LockRetryAfter = viper.GetDuration("lock-retry-after")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.EnableRuntimeMetrics = viper.GetBool("enable-runtime-metrics")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.S3AccessKeyID = viper.GetString("s3-access-key-id")
	cfg.S3SecretAccessKey = viper.GetString("s3-secret-access-key")
	cfg.S3SessionToken = viper.GetString("s3-session-token")
	cfg.S3SSE = viper.GetString("s3-sse")
	cfg.S3KMSKeyID = viper.GetString("s3-kms-key-id")
	if partSize := viper.GetString("s3-max-part-size"); partSize != "" {
		size, err := humanize.ParseBytes(partSize)
		if err != nil {
			return fmt.Errorf("parse s3-max-part-size: %w", err)
		}
		cfg.S3MaxPartSize = size
	}
	cfg.AWSRegion = viper.GetString("aws-region")
	cfg.AWSKMSKeyID = viper.GetString("aws-kms-key-id")
	cfg.AzureAccount = viper.GetString("azure-account")
	cfg.AzureAccountKey = viper.GetString("azure-key")
	cfg.AzureEndpoint = viper.GetString("azure-endpoint")
	cfg.AzureSASToken = viper.GetString("azure-sas-token")
	return nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
