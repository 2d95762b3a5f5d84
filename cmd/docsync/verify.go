package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"pkt.systems/docsync"
	"pkt.systems/docsync/internal/diagnostics/storagecheck"
)

func newVerifyCommand(logger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run diagnostic checks",
	}
	cmd.AddCommand(newVerifyStoreCommand(logger))
	return cmd
}

func newVerifyStoreCommand(logger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:          "store",
		Short:        "Verify the storage backend accepts document and blob writes",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
# Verify disk backend
DOCSYNC_STORE=disk:///var/lib/docsync docsync verify store

# Verify Azure Blob using Shared Key credentials
DOCSYNC_STORE=azure://myacct/docs DOCSYNC_AZURE_ACCOUNT_KEY=... docsync verify store

# Verify S3-compatible service (MinIO)
DOCSYNC_STORE=s3://localhost:9000/docs?insecure=1 DOCSYNC_S3_ACCESS_KEY_ID=minio DOCSYNC_S3_SECRET_ACCESS_KEY=minio123 docsync verify store

# Verify AWS S3
DOCSYNC_STORE=aws://my-bucket DOCSYNC_AWS_REGION=us-west-2 docsync verify store
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfigFile(); err != nil {
				return err
			}
			var cfg docsync.Config
			if err := bindConfig(&cfg); err != nil {
				return err
			}
			res, err := storagecheck.VerifyStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Store: %s\n", cfg.Store)
			if res.Provider != "" {
				fmt.Fprintf(out, "Provider: %s\n", res.Provider)
			}
			if res.Path != "" {
				fmt.Fprintf(out, "Path: %s\n", res.Path)
			}
			if res.Endpoint != "" {
				fmt.Fprintf(out, "Endpoint: %s (insecure:%t)\n", res.Endpoint, res.Insecure)
			}
			if res.Bucket != "" {
				fmt.Fprintf(out, "Bucket/Container: %s\n", res.Bucket)
			}
			if res.Prefix != "" {
				fmt.Fprintf(out, "Prefix: %s\n", res.Prefix)
			}
			cred := res.Credentials
			if cred.Source != "" || cred.AccessKey != "" {
				accessKey := cred.AccessKey
				if accessKey == "" {
					accessKey = "(none)"
				}
				fmt.Fprintf(out, "AccessKey: %s (has_secret:%t source:%s)\n", accessKey, cred.HasSecret, cred.Source)
			}
			if res.AdditionalMessage != "" {
				fmt.Fprintln(out, res.AdditionalMessage)
			}
			fmt.Fprintln(out)

			for _, check := range res.Checks {
				if check.Err == nil {
					fmt.Fprintf(out, "✔ %s\n", check.Name)
				} else {
					fmt.Fprintf(out, "✘ %s: %v\n", check.Name, check.Err)
				}
			}
			if res.Passed() {
				fmt.Fprintln(out, "Storage verification succeeded.")
				return nil
			}
			if res.RecommendedPolicy != "" {
				fmt.Fprintf(out, "\nRecommended AWS IAM policy:\n%s\n", res.RecommendedPolicy)
			}
			return fmt.Errorf("storage verification failed")
		},
	}
}
