package ingest

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var (
	// numFmtLiterals matches bracketed sections and quoted text in a number
	// format code, neither of which formats the value.
	numFmtLiterals = regexp.MustCompile(`\[[^\]]*\]|"[^"]*"`)

	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// SpreadsheetParser reads the first sheet of an .xlsx or legacy .xls
// workbook. The first row holds the headers.
type SpreadsheetParser struct{}

// Format returns the parser name.
func (p *SpreadsheetParser) Format() Format { return FormatSpreadsheet }

// Parse reads the workbook in src. The container is picked from the file's
// magic bytes rather than its extension.
func (p *SpreadsheetParser) Parse(ctx context.Context, src Source) (*ParsedFile, error) {
	var (
		cells [][]string
		err   error
	)
	switch {
	case bytes.HasPrefix(src.Data, zipMagic):
		cells, err = readXLSX(src.Data)
	case bytes.HasPrefix(src.Data, ole2Magic):
		cells, err = readXLS(src.Data)
	case len(src.Data) == 0:
		return nil, ErrEmptyInput
	default:
		return nil, fmt.Errorf("%w: not a spreadsheet", ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}

	if len(cells) == 0 {
		return nil, ErrEmptyInput
	}
	headers := trimAll(cells[0])
	var rows []Row
	for _, rec := range cells[1:] {
		values := trimAll(rec)
		if isBlank(values) {
			continue
		}
		rows = append(rows, NewRow(headers, values, src.HomeZip))
	}
	return &ParsedFile{Headers: headers, Rows: rows, HomeZip: src.HomeZip}, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyInput
	}
	sheet := sheets[0]
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if err := isoDateCells(f, sheet, rows); err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// isoDateCells replaces the display text of date-formatted cells with an ISO
// date built from the cell's serial value. Display text depends on the
// workbook's number format ("03-01-25") and cannot be parsed reliably.
func isoDateCells(f *excelize.File, sheet string, rows [][]string) error {
	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	dateStyle := make(map[int]bool)
	for r, row := range rows {
		for c, display := range row {
			if display == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			styleID, err := f.GetCellStyle(sheet, cell)
			if err != nil || styleID == 0 {
				continue
			}
			isDate, ok := dateStyle[styleID]
			if !ok {
				isDate = isDateStyle(f, styleID)
				dateStyle[styleID] = isDate
			}
			if !isDate {
				continue
			}
			raw, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
			if err != nil {
				continue
			}
			serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				continue
			}
			t, err := excelize.ExcelDateToTime(serial, date1904)
			if err != nil {
				continue
			}
			row[c] = t.Format("2006-01-02")
		}
	}
	return nil
}

// isDateStyle reports whether the style formats numbers as calendar dates.
// Built-in ids follow ECMA-376 Part 1, 18.8.30.
func isDateStyle(f *excelize.File, styleID int) bool {
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return false
	}
	if style.CustomNumFmt != nil {
		code := strings.ToLower(numFmtLiterals.ReplaceAllString(*style.CustomNumFmt, ""))
		return strings.Contains(code, "yy") || (strings.Contains(code, "d") && strings.Contains(code, "m"))
	}
	switch n := style.NumFmt; {
	case n >= 14 && n <= 17, n == 22:
		return true
	case n >= 27 && n <= 36, n >= 50 && n <= 58:
		return true
	}
	return false
}

func readXLS(data []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, ErrEmptyInput
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrEmptyInput
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		values := make([]string, row.LastCol())
		for c := range values {
			values[c] = row.Col(c)
		}
		rows = append(rows, values)
	}
	// Leading empty rows never carry headers.
	for len(rows) > 0 && isBlank(rows[0]) {
		rows = rows[1:]
	}
	return rows, nil
}
