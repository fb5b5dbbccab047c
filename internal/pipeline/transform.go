package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/spend-enricher/internal/columns"
	"github.com/dvloznov/spend-enricher/internal/ingest"
)

// modelOutputHeaders are the keys the extraction prompt asks for.
var modelOutputHeaders = []string{
	string(columns.FieldTransactionID),
	string(columns.FieldMerchant),
	string(columns.FieldDescription),
	string(columns.FieldAmount),
	string(columns.FieldDate),
	string(columns.FieldMCC),
	string(columns.FieldZipCode),
}

// modelOutputMapping maps every canonical field to the header of the same name.
func modelOutputMapping() columns.Mapping {
	m := columns.NewMapping()
	for _, f := range columns.Fields {
		m[f] = string(f)
	}
	return m
}

// transformModelOutputToRows converts the decoded model reply into rows.
func transformModelOutputToRows(rawOutput interface{}, homeZip string) ([]ingest.Row, error) {
	txSlice, ok := rawOutput.([]interface{})
	if !ok {
		return nil, fmt.Errorf("transformModelOutputToRows: output is %T, want []interface{}", rawOutput)
	}

	rows := make([]ingest.Row, 0, len(txSlice))
	for i, item := range txSlice {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transformModelOutputToRows: element %d is %T, want map[string]interface{}", i, item)
		}

		values := make([]string, len(modelOutputHeaders))
		for j, key := range modelOutputHeaders {
			var (
				v   string
				err error
			)
			if key == string(columns.FieldAmount) {
				v, err = getNumberField(obj, key)
			} else {
				v, err = getOptionalStringField(obj, key)
			}
			if err != nil {
				return nil, fmt.Errorf("transaction %d: %w", i, err)
			}
			values[j] = v
		}
		rows = append(rows, ingest.NewRow(modelOutputHeaders, values, homeZip))
	}
	return rows, nil
}

func getOptionalStringField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), nil
	case json.Number:
		return val.String(), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

// getNumberField renders a numeric field as text, keeping the model's digits.
// Numbers sent as strings are passed through for the validator to judge.
func getNumberField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	switch val := v.(type) {
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case string:
		return strings.TrimSpace(val), nil
	default:
		return "", fmt.Errorf("field %q has type %T, want number", key, v)
	}
}
