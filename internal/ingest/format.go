package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dvloznov/spend-enricher/internal/domain"
)

// Format names one of the accepted input shapes.
type Format string

const (
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "spreadsheet"
	FormatJSON        Format = "json"
	FormatPasted      Format = "pasted"
	FormatDocument    Format = "document"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file type")
	ErrEmptyInput        = errors.New("file is empty")
	ErrNotArray          = errors.New("JSON must be an array of transactions")
	ErrTooFewLines       = errors.New("pasted text needs a header line and at least one row")
	ErrEmptyDocument     = errors.New("no transactions found in document")
)

// InputError is a file-level failure. It is fatal for the file it names
// and nothing else.
type InputError struct {
	File string
	Err  error
}

func (e *InputError) Error() string {
	if e.File == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// Source is one file or paste submitted for import.
type Source struct {
	// Name is the original filename. Its extension picks the parser when
	// Format is empty.
	Name    string
	Format  Format
	Data    []byte
	HomeZip string
}

// ParsedFile is the uniform output of every parser.
// Document sources fill Transactions directly and leave Headers and Rows empty.
type ParsedFile struct {
	Name         string
	Format       Format
	Headers      []string
	Rows         []Row
	HomeZip      string
	Transactions []domain.Transaction
}

// Structured reports whether the parser produced transactions without
// needing column detection.
func (p *ParsedFile) Structured() bool {
	return p.Format == FormatDocument
}

// Parser turns one input shape into a ParsedFile.
type Parser interface {
	Parse(ctx context.Context, src Source) (*ParsedFile, error)
	Format() Format
}

// DocumentExtractor reads transactions out of a binary statement.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, homeZip string) ([]domain.Transaction, error)
}

// FormatFromFilename maps a file extension to a Format.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv":
		return FormatCSV, nil
	case ".xlsx", ".xls":
		return FormatSpreadsheet, nil
	case ".json":
		return FormatJSON, nil
	case ".txt":
		return FormatPasted, nil
	case ".pdf":
		return FormatDocument, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}
