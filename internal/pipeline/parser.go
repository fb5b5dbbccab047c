package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/logger"
)

// GeminiExtractor reads transactions out of PDF statements with a Gemini
// model. It implements ingest.DocumentExtractor.
type GeminiExtractor struct {
	models    ContentGenerator
	model     string
	validator *Validator
}

// NewGeminiExtractor creates a Gemini client. An empty apiKey falls back to
// the environment (GOOGLE_API_KEY or Vertex AI settings).
func NewGeminiExtractor(ctx context.Context, apiKey, model string) (*GeminiExtractor, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiExtractor: create genai client: %w", err)
	}
	return NewGeminiExtractorWithGenerator(client.Models, model), nil
}

// NewGeminiExtractorWithGenerator wires an existing generator, typically a
// fake in tests.
func NewGeminiExtractorWithGenerator(gen ContentGenerator, model string) *GeminiExtractor {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiExtractor{models: gen, model: model, validator: NewValidator()}
}

// Extract sends the PDF to the model and validates what comes back the same
// way tabular rows are validated. Items the validator rejects are dropped.
func (e *GeminiExtractor) Extract(ctx context.Context, pdfBytes []byte, homeZip string) ([]domain.Transaction, error) {
	log := logger.FromContext(ctx)

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildExtractionPrompt(homeZip)},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     pdfBytes,
					},
				},
			},
		},
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("extract: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("extract: empty response from model")
	}

	// Clean up Markdown fences / extra text if the model ignored instructions.
	clean := cleanModelJSON(rawText)

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()
	var parsed interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("extract: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	rows, err := transformModelOutputToRows(parsed, homeZip)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	res, err := e.validator.ValidateRows(ctx, rows, modelOutputMapping(), homeZip)
	if errors.Is(err, ErrNoValidRows) {
		log.Warn().Int("items", len(rows)).Msg("Model returned no usable transactions")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res.Transactions, nil
}

var _ ingest.DocumentExtractor = (*GeminiExtractor)(nil)

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost array if there is still text around it.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
