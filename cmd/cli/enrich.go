package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dvloznov/spend-enricher/internal/app"
	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/enrich"
)

type enrichReport struct {
	Files        []fileReport                 `json:"files"`
	Status       enrich.Status                `json:"status"`
	Transactions []domain.EnrichedTransaction `json:"transactions"`
}

func newEnrichCommand(opts *globalOptions) *cobra.Command {
	var (
		flags   importFlags
		output  string
		baseURL string
		apiKey  string
	)

	cmd := &cobra.Command{
		Use:   "enrich <file|gs://uri|-> ...",
		Short: "Import files, classify the transactions and annotate travel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if baseURL != "" {
				opts.cfg.Classifier.BaseURL = baseURL
			}
			if apiKey != "" {
				opts.cfg.Classifier.APIKey = apiKey
			}

			imported, err := runIngest(cmd, opts, &flags, args)
			if err != nil {
				return err
			}
			if len(imported.Transactions) == 0 {
				_ = writeOutput(ctx, opts, cmd.OutOrStdout(), output, imported)
				return errors.New("no transactions imported")
			}

			homeZip := flags.homeZip
			session := enrich.NewSession()
			updates, release := session.Subscribe()
			go func() {
				for st := range updates {
					opts.log.Info().Str("phase", string(st.Phase)).Int("batches_done", st.BatchesDone).Int("batches_total", st.BatchesTotal).Msg(st.Message)
				}
			}()

			results, runErr := app.NewEnricher(opts.cfg).Run(ctx, session, imported.Transactions, homeZip)
			release()

			report := enrichReport{Files: imported.Files, Status: session.Status(), Transactions: results}
			if err := writeOutput(ctx, opts, cmd.OutOrStdout(), output, report); err != nil {
				return err
			}
			if runErr != nil {
				return errors.New(enrich.UserMessage(runErr))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "out", "o", "", "write JSON to a path or gs:// URI instead of stdout")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "classification service base URL (overrides config)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "classification service API key (overrides config)")
	return cmd
}
