package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/pipeline"
)

type ingestReport struct {
	Files        []fileReport         `json:"files"`
	Transactions []domain.Transaction `json:"transactions"`
}

type fileReport struct {
	File     string `json:"file"`
	Status   string `json:"status"`
	Imported int    `json:"imported,omitempty"`
	Rejected int    `json:"rejected,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newIngestCommand(opts *globalOptions) *cobra.Command {
	var (
		flags  importFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file|gs://uri|-> ...",
		Short: "Parse and validate files into canonical transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			report, err := runIngest(cmd, opts, &flags, args)
			if err != nil {
				return err
			}
			if err := writeOutput(ctx, opts, cmd.OutOrStdout(), output, report); err != nil {
				return err
			}
			if len(report.Transactions) == 0 {
				return fmt.Errorf("no transactions imported")
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "out", "o", "", "write JSON to a path or gs:// URI instead of stdout")
	return cmd
}

// runIngest imports every argument independently; one failing file never
// stops the others.
func runIngest(cmd *cobra.Command, opts *globalOptions, flags *importFlags, args []string) (*ingestReport, error) {
	ctx := cmd.Context()
	srcs, err := flags.loadSources(ctx, opts, cmd.InOrStdin(), args)
	if err != nil {
		return nil, err
	}
	ing, err := flags.ingestor(ctx, opts)
	if err != nil {
		return nil, err
	}

	report := &ingestReport{Transactions: []domain.Transaction{}}
	for _, r := range ing.IngestAll(ctx, srcs) {
		fr := fileReport{File: r.File}
		switch {
		case r.Result != nil:
			fr.Status = "imported"
			fr.Imported = len(r.Result.Transactions)
			fr.Rejected = len(r.Result.Rejected)
			report.Transactions = append(report.Transactions, r.Result.Transactions...)
		case r.Pending != nil:
			fr.Status = "needs_confirmation"
			fr.Error = (&pipeline.ConfirmationRequiredError{Proposal: r.Pending}).Error() + "; pass --map field=header or --accept-low-confidence"
		default:
			fr.Status = "failed"
			fr.Error = r.Err.Error()
		}
		opts.log.Info().Str("file", fr.File).Str("status", fr.Status).Int("imported", fr.Imported).Msg("File processed")
		report.Files = append(report.Files, fr)
	}
	return report, nil
}
