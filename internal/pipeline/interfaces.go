package pipeline

import (
	"context"

	"google.golang.org/genai"

	"github.com/dvloznov/spend-enricher/internal/columns"
)

// MappingConfirmer resolves an ambiguous column mapping, usually by asking a
// person. It returns the mapping to validate rows with.
type MappingConfirmer interface {
	Confirm(ctx context.Context, proposal *MappingProposal) (columns.Mapping, error)
}

// ContentGenerator is the slice of the Gemini API the extractor needs.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}
