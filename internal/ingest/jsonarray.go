package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// JSONParser reads a top-level array of flat objects. Headers are the keys
// of the first object in document order.
type JSONParser struct{}

// Format returns the parser name.
func (p *JSONParser) Format() Format { return FormatJSON }

// Parse reads the JSON array in src.
func (p *JSONParser) Parse(ctx context.Context, src Source) (*ParsedFile, error) {
	data := bytes.TrimSpace(bytes.TrimPrefix(src.Data, utf8BOM))
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	if data[0] != '[' {
		return nil, ErrNotArray
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	if len(elems) == 0 {
		return nil, ErrEmptyInput
	}

	var (
		headers []string
		rows    []Row
	)
	for i, raw := range elems {
		keys, values, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if i == 0 {
			headers = keys
		}
		rec := make([]string, len(headers))
		for j, h := range headers {
			rec[j] = values[h]
		}
		rows = append(rows, NewRow(headers, rec, src.HomeZip))
	}
	return &ParsedFile{Headers: headers, Rows: rows, HomeZip: src.HomeZip}, nil
}

// decodeObject returns an object's keys in document order and its values
// rendered as strings.
func decodeObject(raw json.RawMessage) ([]string, map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("want object, got %s", describeJSON(raw))
	}

	var keys []string
	values := make(map[string]string)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := values[key]; !dup {
			keys = append(keys, key)
		}
		values[key] = scalarString(v)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, nil, err
	}
	return keys, values, nil
}

// scalarString renders strings unquoted, null as "", and anything else as
// its JSON text. Numbers keep their exact source digits.
func scalarString(v json.RawMessage) string {
	s := strings.TrimSpace(string(v))
	switch {
	case s == "null":
		return ""
	case strings.HasPrefix(s, `"`):
		var out string
		if err := json.Unmarshal(v, &out); err == nil {
			return out
		}
	}
	return s
}

func describeJSON(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return "nothing"
	}
	switch s[0] {
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
