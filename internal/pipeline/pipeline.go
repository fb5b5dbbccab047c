package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/spend-enricher/internal/columns"
	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/logger"
)

// MappingProposal is what a reviewer sees when a mapping is ambiguous.
type MappingProposal struct {
	File       string              `json:"file"`
	Headers    []string            `json:"headers"`
	Sample     []map[string]string `json:"sample"`
	Mapping    columns.Mapping     `json:"mapping"`
	Confidence columns.Confidence  `json:"confidence"`
	Unmapped   []string            `json:"unmapped"`
	HomeZip    string              `json:"home_zip,omitempty"`

	// Parsed keeps the full row set so ingestion can resume after review.
	Parsed *ingest.ParsedFile `json:"-"`
}

func newProposal(state *PipelineState) *MappingProposal {
	rows := state.Parsed.Rows
	if len(rows) > ProposalSampleRows {
		rows = rows[:ProposalSampleRows]
	}
	sample := make([]map[string]string, len(rows))
	for i, r := range rows {
		sample[i] = r.Map()
	}
	return &MappingProposal{
		File:       state.Parsed.Name,
		Headers:    state.Parsed.Headers,
		Sample:     sample,
		Mapping:    state.Mapping.Clone(),
		Confidence: state.Confidence,
		Unmapped:   state.Unmapped,
		HomeZip:    state.HomeZip,
		Parsed:     state.Parsed,
	}
}

// ConfirmationRequiredError suspends a file until its mapping is confirmed.
// It is not a failure; resume with Ingestor.Resume.
type ConfirmationRequiredError struct {
	Proposal *MappingProposal
}

func (e *ConfirmationRequiredError) Error() string {
	var missing []string
	for _, f := range columns.RequiredFields {
		if e.Proposal.Mapping[f] == "" || e.Proposal.Confidence[f] < columns.ConfirmThreshold {
			missing = append(missing, string(f))
		}
	}
	return fmt.Sprintf("%s: column mapping needs confirmation (%s)", e.Proposal.File, strings.Join(missing, ", "))
}

// Result is one successfully ingested file.
type Result struct {
	File         string               `json:"file"`
	Format       ingest.Format        `json:"format"`
	HomeZip      string               `json:"home_zip,omitempty"`
	Mapping      columns.Mapping      `json:"mapping,omitempty"`
	Transactions []domain.Transaction `json:"transactions"`
	Rejected     []*RowError          `json:"rejected,omitempty"`
}

// FileResult pairs a source with its outcome in a multi-file import.
// Exactly one of Result, Pending and Err is set.
type FileResult struct {
	File    string
	Result  *Result
	Pending *MappingProposal
	Err     error
}

// Ingestor runs sources through parsing, column detection, confirmation and
// validation.
type Ingestor struct {
	registry  *ingest.Registry
	validator *Validator
	confirmer MappingConfirmer
}

// NewIngestor creates an ingestor. confirmer may be nil, in which case
// ambiguous files stop with a ConfirmationRequiredError.
func NewIngestor(registry *ingest.Registry, validator *Validator, confirmer MappingConfirmer) *Ingestor {
	return &Ingestor{registry: registry, validator: validator, confirmer: confirmer}
}

// Ingest parses and validates a single source.
func (in *Ingestor) Ingest(ctx context.Context, src ingest.Source) (*Result, error) {
	state := &PipelineState{Source: src}
	p := NewPipeline(
		&ParseSourceStep{Registry: in.registry},
		&DetectColumnsStep{},
		&ConfirmMappingStep{Confirmer: in.confirmer},
		&ValidateRowsStep{Validator: in.validator},
	)
	if err := p.Execute(ctx, state); err != nil {
		return nil, err
	}
	return in.result(ctx, state), nil
}

// Resume validates a suspended file with a reviewer's mapping.
func (in *Ingestor) Resume(ctx context.Context, proposal *MappingProposal, mapping columns.Mapping) (*Result, error) {
	if proposal == nil || proposal.Parsed == nil {
		return nil, errors.New("resume: proposal has no parsed rows")
	}
	if err := checkRequiredMapped(mapping); err != nil {
		return nil, err
	}

	full := columns.NewMapping()
	for f, h := range mapping {
		full[f] = h
	}
	state := &PipelineState{
		Source:    ingest.Source{Name: proposal.File, HomeZip: proposal.HomeZip},
		Parsed:    proposal.Parsed,
		HomeZip:   proposal.HomeZip,
		Mapping:   full,
		Confirmed: true,
	}
	if err := NewPipeline(&ValidateRowsStep{Validator: in.validator}).Execute(ctx, state); err != nil {
		return nil, err
	}
	return in.result(ctx, state), nil
}

// IngestAll ingests every source independently. A failing or suspended file
// never affects its siblings.
func (in *Ingestor) IngestAll(ctx context.Context, srcs []ingest.Source) []FileResult {
	log := logger.FromContext(ctx)

	out := make([]FileResult, len(srcs))
	for i, src := range srcs {
		out[i].File = src.Name
		res, err := in.Ingest(ctx, src)
		var pending *ConfirmationRequiredError
		switch {
		case err == nil:
			out[i].Result = res
		case errors.As(err, &pending):
			out[i].Pending = pending.Proposal
		default:
			log.Error().Err(err).Str("file", src.Name).Msg("Import failed")
			out[i].Err = err
		}
	}
	return out
}

func (in *Ingestor) result(ctx context.Context, state *PipelineState) *Result {
	log := logger.FromContext(ctx)
	log.Info().
		Str("file", state.Parsed.Name).
		Int("transactions", len(state.Transactions)).
		Int("rejected", len(state.Rejected)).
		Bool("home_zip", state.HomeZip != "").
		Msg("Ingested file")

	return &Result{
		File:         state.Parsed.Name,
		Format:       state.Parsed.Format,
		HomeZip:      state.HomeZip,
		Mapping:      state.Mapping,
		Transactions: state.Transactions,
		Rejected:     state.Rejected,
	}
}

func checkRequiredMapped(m columns.Mapping) error {
	for _, f := range columns.RequiredFields {
		if m[f] == "" {
			return fmt.Errorf("mapping: required field %s is unmapped", f)
		}
	}
	return nil
}

// OverrideConfirmer confirms mappings non-interactively by applying fixed
// field to header overrides on top of the detected mapping.
type OverrideConfirmer struct {
	Overrides map[string]string
	// AcceptLowConfidence keeps detected low-confidence fields instead of failing.
	AcceptLowConfidence bool
}

// Confirm implements MappingConfirmer.
func (c *OverrideConfirmer) Confirm(ctx context.Context, proposal *MappingProposal) (columns.Mapping, error) {
	mapping, err := columns.ApplyOverrides(proposal.Mapping, proposal.Headers, c.Overrides)
	if err != nil {
		return nil, err
	}
	if c.AcceptLowConfidence {
		return mapping, nil
	}
	for _, f := range columns.RequiredFields {
		if _, overridden := c.Overrides[string(f)]; overridden {
			continue
		}
		if proposal.Confidence[f] < columns.ConfirmThreshold {
			return nil, &ConfirmationRequiredError{Proposal: proposal}
		}
	}
	return mapping, nil
}
