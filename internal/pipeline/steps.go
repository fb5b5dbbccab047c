package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/spend-enricher/internal/columns"
	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/logger"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Source     ingest.Source
	Parsed     *ingest.ParsedFile
	HomeZip    string
	Mapping    columns.Mapping
	Confidence columns.Confidence
	Unmapped   []string

	// Confirmed is set once a mapping no longer needs review.
	Confirmed bool

	Transactions []domain.Transaction
	Rejected     []*RowError
}

// Step 1: ParseSourceStep dispatches the source to its format parser.
type ParseSourceStep struct {
	Registry *ingest.Registry
}

func (s *ParseSourceStep) Execute(ctx context.Context, state *PipelineState) error {
	parsed, err := s.Registry.Parse(ctx, state.Source)
	if err != nil {
		return err
	}
	state.Parsed = parsed

	// A home ZIP found inside the file wins over the declared one.
	state.HomeZip = domain.ParseHomeZip(parsed.HomeZip)
	if state.HomeZip == "" {
		state.HomeZip = domain.ParseHomeZip(state.Source.HomeZip)
	}
	return nil
}

// Step 2: DetectColumnsStep proposes a column mapping for tabular sources.
type DetectColumnsStep struct{}

func (s *DetectColumnsStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Parsed.Structured() || state.Mapping != nil {
		return nil
	}
	state.Mapping, state.Confidence, state.Unmapped = columns.DetectColumns(state.Parsed.Headers)

	log := logger.FromContext(ctx)
	log.Debug().
		Str("file", state.Parsed.Name).
		Interface("mapping", state.Mapping).
		Strs("unmapped", state.Unmapped).
		Msg("Detected columns")
	return nil
}

// Step 3: ConfirmMappingStep suspends ambiguous mappings for review.
// Without a confirmer it stops the pipeline with a ConfirmationRequiredError.
type ConfirmMappingStep struct {
	Confirmer MappingConfirmer
}

func (s *ConfirmMappingStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Parsed.Structured() || state.Confirmed {
		return nil
	}
	if !columns.NeedsConfirmation(state.Mapping, state.Confidence) {
		state.Confirmed = true
		return nil
	}

	proposal := newProposal(state)
	if s.Confirmer == nil {
		return &ConfirmationRequiredError{Proposal: proposal}
	}

	mapping, err := s.Confirmer.Confirm(ctx, proposal)
	if err != nil {
		return fmt.Errorf("confirm mapping for %s: %w", state.Parsed.Name, err)
	}
	if err := checkRequiredMapped(mapping); err != nil {
		return err
	}
	state.Mapping = mapping
	state.Confirmed = true
	return nil
}

// Step 4: ValidateRowsStep turns rows into transactions.
type ValidateRowsStep struct {
	Validator *Validator
}

func (s *ValidateRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Parsed.Structured() {
		txs := make([]domain.Transaction, len(state.Parsed.Transactions))
		for i, tx := range state.Parsed.Transactions {
			if tx.HomeZip == "" {
				tx.HomeZip = state.HomeZip
			}
			txs[i] = tx
		}
		state.Transactions = txs
		return nil
	}

	res, err := s.Validator.ValidateRows(ctx, state.Parsed.Rows, state.Mapping, state.HomeZip)
	state.Rejected = res.Rejected
	if err != nil {
		return &ingest.InputError{File: state.Parsed.Name, Err: err}
	}
	state.Transactions = res.Transactions
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
