package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/docsync"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage docsync configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.docsync/config.yaml"
	if path, err := docsync.DefaultConfigFile(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default docsync configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				path, err := docsync.DefaultConfigFile()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = path
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	Listen               string `yaml:"listen"`
	BaseURL              string `yaml:"base-url"`
	Store                string `yaml:"store"`
	StaticPrefix         string `yaml:"static-prefix"`
	EditorDist           string `yaml:"editor-dist"`
	CORS                 bool   `yaml:"cors"`
	JSONMax              string `yaml:"json-max"`
	DocumentIDMode       string `yaml:"document-id-mode"`
	DocumentIDPrefix     string `yaml:"document-id-prefix"`
	BlobLayout           string `yaml:"blob-layout"`
	RewriteLinks         bool   `yaml:"rewrite-links"`
	BlobConcurrency      int    `yaml:"blob-concurrency"`
	LockRetryAfter       string `yaml:"lock-retry-after"`
	MetricsListen        string `yaml:"metrics-listen"`
	EnableRuntimeMetrics bool   `yaml:"enable-runtime-metrics"`
	PprofListen          string `yaml:"pprof-listen"`
	OTLPEndpoint         string `yaml:"otlp-endpoint"`
	ShutdownTimeout      string `yaml:"shutdown-timeout"`
	S3SSE                string `yaml:"s3-sse"`
	S3KMSKeyID           string `yaml:"s3-kms-key-id"`
	S3MaxPartSize        string `yaml:"s3-max-part-size"`
	AWSRegion            string `yaml:"aws-region"`
	AWSKMSKeyID          string `yaml:"aws-kms-key-id"`
	AzureAccount         string `yaml:"azure-account"`
	AzureEndpoint        string `yaml:"azure-endpoint"`
	LogLevel             string `yaml:"log-level"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	defaults := configDefaults{
		Listen:          docsync.DefaultListen,
		BaseURL:         docsync.DefaultBaseURL(),
		Store:           docsync.DefaultStore,
		StaticPrefix:    docsync.DefaultStaticPrefix,
		CORS:            true,
		JSONMax:         humanizeBytes(docsync.DefaultJSONMaxBytes),
		DocumentIDMode:  docsync.DefaultDocumentIDMode,
		BlobLayout:      docsync.DefaultBlobLayout,
		BlobConcurrency: docsync.DefaultBlobConcurrency,
		LockRetryAfter:  docsync.DefaultLockRetryAfter.String(),
		MetricsListen:   docsync.DefaultMetricsListen,
		ShutdownTimeout: docsync.DefaultShutdownTimeout.String(),
		LogLevel:        "info",
	}
	for _, override := range overrides {
		override(&defaults)
	}
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	return data, nil
}
