package ingest

import (
	"context"
	"fmt"
)

// DocumentParser hands binary statements to a DocumentExtractor and trusts
// the transactions it returns.
type DocumentParser struct {
	Extractor DocumentExtractor
}

// Format returns the parser name.
func (p *DocumentParser) Format() Format { return FormatDocument }

// Parse extracts transactions from the document in src.
func (p *DocumentParser) Parse(ctx context.Context, src Source) (*ParsedFile, error) {
	if p.Extractor == nil {
		return nil, fmt.Errorf("%w: document extraction is not configured", ErrUnsupportedFormat)
	}
	if len(src.Data) == 0 {
		return nil, ErrEmptyInput
	}

	txs, err := p.Extractor.Extract(ctx, src.Data, src.HomeZip)
	if err != nil {
		return nil, fmt.Errorf("extract transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil, ErrEmptyDocument
	}
	return &ParsedFile{HomeZip: src.HomeZip, Transactions: txs}, nil
}
