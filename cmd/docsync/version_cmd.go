package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/docsync/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docsync version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "docsync %s\n", version.Current())
			return err
		},
	}
}
