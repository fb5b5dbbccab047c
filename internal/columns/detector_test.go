package columns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectColumns_ExactMatches(t *testing.T) {
	mapping, confidence, unmapped := DetectColumns([]string{"Merchant", "Date", "Amount", "Zip Code"})

	assert.Equal(t, "Merchant", mapping[FieldMerchant])
	assert.Equal(t, "Date", mapping[FieldDate])
	assert.Equal(t, "Amount", mapping[FieldAmount])
	assert.Equal(t, "Zip Code", mapping[FieldZipCode])
	for _, f := range []Field{FieldMerchant, FieldDate, FieldAmount, FieldZipCode} {
		assert.Equal(t, 1.0, confidence[f], "field %s", f)
	}
	assert.Empty(t, unmapped)
	assert.False(t, NeedsConfirmation(mapping, confidence))
}

func TestDetectColumns_EveryFieldPresent(t *testing.T) {
	mapping, confidence, unmapped := DetectColumns(nil)

	require.Len(t, mapping, len(Fields))
	for _, f := range Fields {
		v, ok := mapping[f]
		assert.True(t, ok, "field %s missing", f)
		assert.Empty(t, v)
		assert.Zero(t, confidence[f])
	}
	assert.Empty(t, unmapped)
	assert.True(t, NeedsConfirmation(mapping, confidence))
}

func TestDetectColumns_NoHeaderAssignedTwice(t *testing.T) {
	// Both headers are exact merchant synonyms. The earlier one wins and the
	// later one falls through to the next field that can use it.
	mapping, confidence, _ := DetectColumns([]string{"Name", "Merchant"})

	assert.Equal(t, "Name", mapping[FieldMerchant])
	assert.Equal(t, 1.0, confidence[FieldMerchant])
	assert.Equal(t, "Merchant", mapping[FieldMCC])
	assert.InDelta(t, 0.32, confidence[FieldMCC], 1e-9)

	seen := map[string]Field{}
	for f, h := range mapping {
		if h == "" {
			continue
		}
		prev, dup := seen[h]
		assert.False(t, dup, "header %q assigned to %s and %s", h, prev, f)
		seen[h] = f
	}
}

func TestDetectColumns_PriorityOrderClaimsFirst(t *testing.T) {
	// "Description" is claimed by description before mcc or anything else.
	mapping, _, unmapped := DetectColumns([]string{"Transaction Date", "Description", "Category", "Amount", "Memo"})

	assert.Empty(t, mapping[FieldMerchant])
	assert.Equal(t, "Description", mapping[FieldDescription])
	assert.Equal(t, "Amount", mapping[FieldAmount])
	assert.Equal(t, "Transaction Date", mapping[FieldDate])
	assert.Equal(t, "Category", mapping[FieldMCC])
	assert.Equal(t, []string{"Memo"}, unmapped)
}

func TestDetectColumns_ContainmentScore(t *testing.T) {
	mapping, confidence, _ := DetectColumns([]string{"Merchant", "Date", "Total Amount"})

	assert.Equal(t, "Total Amount", mapping[FieldAmount])
	assert.InDelta(t, 0.8*6.0/11.0, confidence[FieldAmount], 1e-9)
	assert.True(t, NeedsConfirmation(mapping, confidence))
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		keyword string
		want    float64
	}{
		{"exact ignores case and punctuation", "Posted-Date", "posteddate", 1.0},
		{"exact ignores whitespace", "  AMOUNT ", "amount", 1.0},
		{"containment", "Amount USD", "amount", 0.8 * 6 / 9},
		{"reverse containment", "desc", "description", 0.8 * 4 / 11},
		{"token overlap", "card holder", "holder name", 0.6 * 1 / 2},
		{"no match", "balance", "amount", 0},
		{"empty header", "---", "amount", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, similarity(tt.header, tt.keyword), 1e-9)
		})
	}
}

func TestNeedsConfirmation(t *testing.T) {
	full := func() (Mapping, Confidence) {
		m := NewMapping()
		m[FieldMerchant], m[FieldDate], m[FieldAmount] = "m", "d", "a"
		c := Confidence{FieldMerchant: 1, FieldDate: 1, FieldAmount: 1}
		return m, c
	}

	m, c := full()
	assert.False(t, NeedsConfirmation(m, c))

	m, c = full()
	c[FieldDate] = 0.7
	assert.False(t, NeedsConfirmation(m, c), "threshold is inclusive")

	for _, f := range RequiredFields {
		m, c = full()
		m[f] = ""
		assert.True(t, NeedsConfirmation(m, c), "unmapped %s", f)

		m, c = full()
		c[f] = 0.69
		assert.True(t, NeedsConfirmation(m, c), "low confidence %s", f)
	}
}

func TestApplyOverrides(t *testing.T) {
	headers := []string{"Payee", "When", "Value"}
	mapping, _, _ := DetectColumns(headers)

	out, err := ApplyOverrides(mapping, headers, map[string]string{"amount": "Value", "zip_code": ""})
	require.NoError(t, err)
	assert.Equal(t, "Value", out[FieldAmount])
	assert.Len(t, out, len(Fields))

	_, err = ApplyOverrides(mapping, headers, map[string]string{"amount": "Missing"})
	assert.Error(t, err)

	_, err = ApplyOverrides(mapping, headers, map[string]string{"price": "Value"})
	assert.Error(t, err)
}
