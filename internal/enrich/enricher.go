package enrich

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/logger"
	"github.com/dvloznov/spend-enricher/internal/travel"
)

// DefaultBatchSize is the number of records per classification submission.
const DefaultBatchSize = 24

// Status messages for the terminal states.
const (
	MsgClassificationComplete = "Classification complete"
	MsgEnrichmentComplete     = "Enrichment complete"
	MsgNoTravelCandidates     = "Enrichment complete: no travel candidates"
)

// Classifier is the remote capability used by an Enricher. Client
// implements it.
type Classifier interface {
	Classify(ctx context.Context, txs []domain.Transaction, progress ProgressFunc) ([]Classification, error)
	AnnotateTravel(ctx context.Context, candidates []domain.TravelCandidate, homeZip string, progress ProgressFunc) ([]TravelUpdate, error)
}

// Enricher runs the two-phase enrichment of a validated transaction set.
type Enricher struct {
	classifier Classifier
	batchSize  int
	travelOpts travel.Options
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) EnricherOption {
	return func(e *Enricher) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithTravelOptions overrides the pre-filter options.
func WithTravelOptions(o travel.Options) EnricherOption {
	return func(e *Enricher) { e.travelOpts = o }
}

// NewEnricher creates an Enricher backed by classifier.
func NewEnricher(classifier Classifier, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		classifier: classifier,
		batchSize:  DefaultBatchSize,
		travelOpts: travel.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run enriches txs and drives session through its phases. homeZip falls
// back to the first valid HomeZip carried by the records.
//
// Records sharing an ID are re-keyed first (see UniqueIDs), so every result
// carries a distinct ID. The returned slice always holds one record per input. A non-nil error
// means no batch could be classified or the run was cancelled; the session
// is then idle with the error recorded. Partial batch failures and travel
// failures are reported as session warnings.
func (e *Enricher) Run(ctx context.Context, session *Session, txs []domain.Transaction, homeZip string) ([]domain.EnrichedTransaction, error) {
	log := logger.FromContext(ctx).With().Str("session_id", session.ID()).Logger()
	ctx = logger.WithContext(ctx, log)

	txs, rekeyed := UniqueIDs(txs)
	batches := splitBatches(txs, e.batchSize)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := session.begin(cancel, len(batches)); err != nil {
		return nil, err
	}
	if rekeyed > 0 {
		log.Warn().Int("rekeyed", rekeyed).Msg("Duplicate transaction IDs renamed")
		session.warn(fmt.Sprintf("%d transactions shared an ID and were renamed", rekeyed))
	}
	log.Info().Int("transactions", len(txs)).Int("batches", len(batches)).Msg("Starting classification")

	classifications, failed, firstErr := e.classifyAll(ctx, session, batches)
	merged := Merge(txs, classifications)

	if ctx.Err() != nil {
		session.fail(ctx.Err(), merged)
		return merged, ctx.Err()
	}
	if len(batches) > 0 && failed == len(batches) {
		err := fmt.Errorf("all %d classification batches failed: %w", failed, firstErr)
		log.Error().Err(err).Msg("Classification failed")
		session.fail(firstErr, merged)
		return merged, err
	}
	if failed > 0 {
		session.warn(fmt.Sprintf("%d of %d batches failed and were marked unclassified: %s", failed, len(batches), UserMessage(firstErr)))
	}
	session.setResults(merged)

	home := domain.ParseHomeZip(homeZip)
	if home == "" {
		home = homeZipOf(txs)
	}
	if home == "" {
		log.Info().Msg("No home ZIP, skipping travel analysis")
		return merged, session.complete(merged, MsgClassificationComplete)
	}

	if err := session.transition(PhaseTravel, "Analyzing travel patterns"); err != nil {
		return merged, err
	}
	pf := travel.PreFilter(merged, home, e.travelOpts)
	session.setTravelStats(pf.Stats)
	log.Info().
		Int("candidates", pf.Stats.Candidates).
		Float64("reduction_percent", pf.Stats.ReductionPercent).
		Msg("Travel pre-filter done")

	if len(pf.Candidates) == 0 {
		return merged, session.complete(merged, MsgNoTravelCandidates)
	}

	updates, err := e.classifier.AnnotateTravel(ctx, pf.Candidates, home, func(p Progress) {
		if p.Kind == EventStatus && p.Message != "" {
			session.setMessage(p.Message)
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			session.fail(err, merged)
			return merged, err
		}
		log.Warn().Err(err).Msg("Travel analysis failed, keeping classification results")
		session.warn("Travel analysis failed: " + UserMessage(err))
		return merged, session.complete(merged, MsgClassificationComplete)
	}

	final := ApplyTravelUpdates(merged, pf.Candidates, updates)
	log.Info().Int("updates", len(updates)).Msg("Travel annotation merged")
	return final, session.complete(final, MsgEnrichmentComplete)
}

// classifyAll submits every batch concurrently. A failed batch never
// cancels its siblings; each goroutine writes only its own slot.
func (e *Enricher) classifyAll(ctx context.Context, session *Session, batches [][]domain.Transaction) ([]Classification, int, error) {
	log := logger.FromContext(ctx)
	results := make([][]Classification, len(batches))
	errs := make([]error, len(batches))

	var g errgroup.Group
	for i, batch := range batches {
		g.Go(func() error {
			defer session.batchDone()
			res, err := e.classifier.Classify(ctx, batch, func(p Progress) {
				if p.Kind == EventStatus && p.Message != "" {
					session.setMessage(p.Message)
				}
			})
			if err != nil {
				log.Warn().Err(err).Int("batch", i+1).Int("size", len(batch)).Msg("Batch classification failed")
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var (
		all      []Classification
		failed   int
		firstErr error
	)
	for i := range batches {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		all = append(all, results[i]...)
	}
	return all, failed, firstErr
}

func splitBatches(txs []domain.Transaction, size int) [][]domain.Transaction {
	var out [][]domain.Transaction
	for start := 0; start < len(txs); start += size {
		end := start + size
		if end > len(txs) {
			end = len(txs)
		}
		out = append(out, txs[start:end])
	}
	return out
}

func homeZipOf(txs []domain.Transaction) string {
	for _, tx := range txs {
		if z := domain.ParseHomeZip(tx.HomeZip); z != "" {
			return z
		}
	}
	return ""
}
