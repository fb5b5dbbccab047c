package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/spend-enricher/internal/columns"
	"github.com/dvloznov/spend-enricher/internal/ingest"
)

type detectReport struct {
	File              string             `json:"file"`
	Format            ingest.Format      `json:"format"`
	Headers           []string           `json:"headers"`
	Mapping           columns.Mapping    `json:"mapping"`
	Confidence        columns.Confidence `json:"confidence"`
	Unmapped          []string           `json:"unmapped"`
	NeedsConfirmation bool               `json:"needs_confirmation"`
	HomeZip           string             `json:"home_zip,omitempty"`
}

func newDetectCommand(opts *globalOptions) *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "detect <file|-> ...",
		Short: "Show the detected column mapping of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			srcs, err := flags.loadSources(ctx, opts, cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			registry := ingest.DefaultRegistry(nil)

			reports := make([]detectReport, 0, len(srcs))
			for _, src := range srcs {
				parsed, err := registry.Parse(ctx, src)
				if err != nil {
					return err
				}
				if parsed.Structured() {
					return fmt.Errorf("%s: documents have no columns to detect", src.Name)
				}
				mapping, conf, unmapped := columns.DetectColumns(parsed.Headers)
				reports = append(reports, detectReport{
					File:              parsed.Name,
					Format:            parsed.Format,
					Headers:           parsed.Headers,
					Mapping:           mapping,
					Confidence:        conf,
					Unmapped:          unmapped,
					NeedsConfirmation: columns.NeedsConfirmation(mapping, conf),
					HomeZip:           parsed.HomeZip,
				})
			}
			return writeOutput(ctx, opts, cmd.OutOrStdout(), "", reports)
		},
	}
	flags.register(cmd)
	return cmd
}
