package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DelimitedParser reads comma or tab separated text. The first line holds
// the headers; a tab in the first data line switches the delimiter to tab.
type DelimitedParser struct{}

// Format returns the parser name.
func (p *DelimitedParser) Format() Format { return FormatCSV }

// Parse reads the delimited text in src.
func (p *DelimitedParser) Parse(ctx context.Context, src Source) (*ParsedFile, error) {
	data := bytes.TrimPrefix(src.Data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}

	headers, rows, err := readDelimited(string(data), detectDelimiter(string(data)), src.HomeZip)
	if err != nil {
		return nil, err
	}
	return &ParsedFile{Headers: headers, Rows: rows, HomeZip: src.HomeZip}, nil
}

// detectDelimiter looks only at the first data line.
func detectDelimiter(text string) rune {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
		if len(lines) == 2 {
			break
		}
	}
	if strings.Contains(firstDataLine(lines), "\t") {
		return '\t'
	}
	return ','
}

// firstDataLine returns the line after the header, or the header itself
// when nothing follows it.
func firstDataLine(lines []string) string {
	switch {
	case len(lines) > 1:
		return lines[1]
	case len(lines) == 1:
		return lines[0]
	}
	return ""
}

func readDelimited(text string, delim rune, homeZip string) ([]string, []Row, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyInput
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	headers := trimAll(header)

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading line %d: %w", len(rows)+2, err)
		}
		values := trimAll(rec)
		if isBlank(values) {
			continue
		}
		rows = append(rows, NewRow(headers, values, homeZip))
	}
	return headers, rows, nil
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
