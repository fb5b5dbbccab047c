package ingest

import (
	"context"
	"regexp"
	"strings"

	"github.com/dvloznov/spend-enricher/internal/domain"
)

var homeZipLine = regexp.MustCompile(`(?i)^#\s*home\s*zip\s*:\s*(.*)$`)

// indexHeaders name a leading row-number column in markdown tables.
var indexHeaders = map[string]bool{
	"#":      true,
	"id":     true,
	"index":  true,
	"no":     true,
	"number": true,
}

// PastedParser reads free-form pasted tables: comma or tab separated text,
// or a markdown pipe table. A leading "# Home ZIP: 12345" line sets the home
// ZIP for every row.
type PastedParser struct{}

// Format returns the parser name.
func (p *PastedParser) Format() Format { return FormatPasted }

// Parse reads the pasted text in src.
func (p *PastedParser) Parse(ctx context.Context, src Source) (*ParsedFile, error) {
	text := strings.TrimPrefix(string(src.Data), string(utf8BOM))
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}

	homeZip := src.HomeZip
	if len(lines) > 0 {
		if m := homeZipLine.FindStringSubmatch(strings.TrimSpace(lines[0])); m != nil {
			if zip := domain.ParseHomeZip(m[1]); zip != "" {
				homeZip = zip
			}
			lines = lines[1:]
		}
	}
	if len(lines) < 2 {
		return nil, ErrTooFewLines
	}

	var (
		headers []string
		rows    []Row
		err     error
	)
	if strings.Contains(firstDataLine(lines), "|") {
		headers, rows = readMarkdownTable(lines, homeZip)
	} else {
		headers, rows, err = readDelimited(strings.Join(lines, "\n"), detectDelimiter(strings.Join(lines[:2], "\n")), homeZip)
		if err != nil {
			return nil, err
		}
	}
	return &ParsedFile{Headers: headers, Rows: rows, HomeZip: homeZip}, nil
}

func readMarkdownTable(lines []string, homeZip string) ([]string, []Row) {
	var table [][]string
	for _, l := range lines {
		cells := splitPipeRow(l)
		if isSeparatorRow(cells) {
			continue
		}
		table = append(table, cells)
	}
	if len(table) == 0 {
		return nil, nil
	}

	skip := 0
	if len(table[0]) > 0 && indexHeaders[strings.ToLower(table[0][0])] {
		skip = 1
	}
	headers := table[0][skip:]

	var rows []Row
	for _, cells := range table[1:] {
		if len(cells) > skip {
			cells = cells[skip:]
		} else {
			cells = nil
		}
		if isBlank(cells) {
			continue
		}
		rows = append(rows, NewRow(headers, cells, homeZip))
	}
	return headers, rows
}

// splitPipeRow splits "| a | b |" into ["a", "b"]. Outer pipes are optional.
func splitPipeRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	return trimAll(strings.Split(line, "|"))
}

// isSeparatorRow matches rows such as |---|:---:|===|.
func isSeparatorRow(cells []string) bool {
	seen := false
	for _, c := range cells {
		for _, r := range c {
			switch r {
			case '-', '=':
				seen = true
			case ':', ' ':
			default:
				return false
			}
		}
	}
	return seen
}
