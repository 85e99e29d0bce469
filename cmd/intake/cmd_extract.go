package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"waitroom-intake/internal/document"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Print the text the assistant would read from a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Intake.DocumentTimeout)
		defer cancel()
		text, err := document.NewFileExtractor("").Extract(ctx, args[0])
		if err != nil {
			return describeExtractError(args[0], err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}
