package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/logger"
	"github.com/dvloznov/spend-enricher/internal/pipeline"
)

// Ingester ingests a set of sources independently. pipeline.Ingestor
// implements it.
type Ingester interface {
	IngestAll(ctx context.Context, srcs []ingest.Source) []pipeline.FileResult
}

// NewImportHandler returns a JobHandler that runs every file of an
// ImportJob through ing and records one outcome per file. Per-file failures
// are outcomes, not handler errors.
func NewImportHandler(ing Ingester) JobHandler {
	return func(ctx context.Context, job Job) error {
		imp, ok := job.(*ImportJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		log := logger.FromContext(ctx).With().Str("job_id", imp.JobID).Logger()
		ctx = logger.WithContext(ctx, log)

		srcs := make([]ingest.Source, len(imp.Files))
		for i, f := range imp.Files {
			srcs[i] = ingest.Source{Name: f.Name, Format: f.Format, Data: f.Data, HomeZip: imp.HomeZip}
		}

		results := ing.IngestAll(ctx, srcs)
		imp.Outcomes = make([]FileOutcome, len(results))
		for i, r := range results {
			imp.Outcomes[i] = OutcomeOf(r)
		}

		log.Info().Int("files", len(imp.Files)).Str("status", string(imp.Settle())).Msg("Import processed")
		return nil
	}
}

// OutcomeOf converts a pipeline result into a job outcome.
func OutcomeOf(r pipeline.FileResult) FileOutcome {
	o := FileOutcome{File: r.File}
	switch {
	case r.Result != nil:
		o.Status = FileStatusImported
		o.Result = r.Result
	case r.Pending != nil:
		o.Status = FileStatusNeedsConfirmation
		o.Proposal = r.Pending
	default:
		o.Status = FileStatusFailed
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
	}
	return o
}
