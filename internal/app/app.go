// Package app builds the configured ingestion and enrichment components
// shared by the API server and the CLI.
package app

import (
	"context"

	"github.com/dvloznov/spend-enricher/internal/config"
	"github.com/dvloznov/spend-enricher/internal/enrich"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/logger"
	"github.com/dvloznov/spend-enricher/internal/pipeline"
	"github.com/dvloznov/spend-enricher/internal/travel"
)

// NewEnricher returns an Enricher talking to the configured classification
// service.
func NewEnricher(cfg *config.Config) *enrich.Enricher {
	client := enrich.NewClient(cfg.Classifier.BaseURL,
		enrich.WithAPIKey(cfg.Classifier.APIKey),
		enrich.WithPaths(cfg.Classifier.ClassifyPath, cfg.Classifier.TravelPath),
		enrich.WithTimeout(cfg.Classifier.Timeout),
		enrich.WithRetryPolicy(RetryPolicy(cfg)),
	)
	return enrich.NewEnricher(client,
		enrich.WithBatchSize(cfg.Classifier.BatchSize),
		enrich.WithTravelOptions(TravelOptions(cfg)),
	)
}

// RetryPolicy is the per-submission retry policy from cfg.
func RetryPolicy(cfg *config.Config) enrich.RetryPolicy {
	return enrich.RetryPolicy{
		MaxAttempts: cfg.Classifier.MaxAttempts,
		Delay:       cfg.Classifier.RetryDelay,
		Retryable:   enrich.IsRetryable,
	}
}

// TravelOptions are the pre-filter options from cfg.
func TravelOptions(cfg *config.Config) travel.Options {
	return travel.Options{WindowDays: cfg.Travel.WindowDays, Keywords: cfg.Travel.Keywords}
}

// NewRegistry returns the parser registry. PDF support depends on a Gemini
// client being constructible; without one the document parser rejects
// every file.
func NewRegistry(ctx context.Context, cfg *config.Config) *ingest.Registry {
	extractor, err := pipeline.NewGeminiExtractor(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Gemini unavailable - PDF imports disabled")
		return ingest.DefaultRegistry(nil)
	}
	return ingest.DefaultRegistry(extractor)
}

// NewIngestor returns an ingestor over NewRegistry. confirmer may be nil.
func NewIngestor(ctx context.Context, cfg *config.Config, confirmer pipeline.MappingConfirmer) *pipeline.Ingestor {
	return pipeline.NewIngestor(NewRegistry(ctx, cfg), pipeline.NewValidator(), confirmer)
}
