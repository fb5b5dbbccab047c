package ingest

import (
	"context"
	"fmt"

	"github.com/dvloznov/spend-enricher/internal/logger"
)

// Registry holds one parser per format.
type Registry struct {
	parsers map[Format]Parser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[Format]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	if _, ok := r.parsers[p.Format()]; ok {
		panic("duplicate parser format: " + string(p.Format()))
	}
	r.parsers[p.Format()] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format Format) Parser {
	return r.parsers[format]
}

// DefaultRegistry returns a registry with all built-in parsers. extractor
// backs the document format and may be nil when PDFs are not accepted.
func DefaultRegistry(extractor DocumentExtractor) *Registry {
	r := NewRegistry()
	r.Register(&DelimitedParser{})
	r.Register(&SpreadsheetParser{})
	r.Register(&JSONParser{})
	r.Register(&PastedParser{})
	r.Register(&DocumentParser{Extractor: extractor})
	return r
}

// Parse dispatches src to the parser for its declared format, falling back
// to the filename extension. Every failure is returned as an *InputError.
func (r *Registry) Parse(ctx context.Context, src Source) (*ParsedFile, error) {
	log := logger.FromContext(ctx)

	format := src.Format
	if format == "" {
		f, err := FormatFromFilename(src.Name)
		if err != nil {
			return nil, &InputError{File: src.Name, Err: err}
		}
		format = f
	}

	p := r.Get(format)
	if p == nil {
		return nil, &InputError{File: src.Name, Err: fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)}
	}

	parsed, err := p.Parse(ctx, src)
	if err != nil {
		return nil, &InputError{File: src.Name, Err: err}
	}
	parsed.Name = src.Name
	parsed.Format = format

	log.Debug().
		Str("file", src.Name).
		Str("format", string(format)).
		Int("headers", len(parsed.Headers)).
		Int("rows", len(parsed.Rows)).
		Int("transactions", len(parsed.Transactions)).
		Msg("Parsed source")

	return parsed, nil
}
