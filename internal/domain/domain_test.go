package domain

import (
	"encoding/json"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeZip(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"94110", "94110"},
		{" 94110 ", "94110"},
		{"94110-1234", "94110"},
		{"9411", ""},
		{"941101", ""},
		{"9411A", ""},
		{"N/A", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeZip(tt.in))
		})
	}
}

func TestParseHomeZip(t *testing.T) {
	assert.Equal(t, "10001", ParseHomeZip("10001"))
	assert.Equal(t, "10001", ParseHomeZip(" 10001\n"))
	assert.Empty(t, ParseHomeZip("10001-2222"))
	assert.Empty(t, ParseHomeZip("N/A"))
	assert.Empty(t, ParseHomeZip("1000"))
}

func TestParsePillar(t *testing.T) {
	p, ok := ParsePillar("  food & dining ")
	require.True(t, ok)
	assert.Equal(t, PillarFoodDining, p)

	_, ok = ParsePillar("Crypto")
	assert.False(t, ok)
}

func TestCoercePillar(t *testing.T) {
	assert.Equal(t, PillarTravel, CoercePillar("Travel & Transportation"))
	assert.Equal(t, PillarUnclassified, CoercePillar("Crypto"))
	assert.Equal(t, PillarUnclassified, CoercePillar(""))
}

func TestPillars_EndWithCatchAll(t *testing.T) {
	require.NotEmpty(t, Pillars)
	assert.Equal(t, PillarUnclassified, Pillars[len(Pillars)-1])
}

func TestEnrichedTransaction_JSON(t *testing.T) {
	start := civil.Date{Year: 2024, Month: 3, Day: 1}
	et := EnrichedTransaction{
		Transaction: Transaction{
			ID:       "t1",
			Merchant: "Hilton",
			Amount:   decimal.RequireFromString("210.50"),
			Date:     start,
		},
		NormalizedMerchant: "Hilton",
		Pillar:             PillarTravel,
		Confidence:         0.9,
		Travel: &TravelContext{
			IsTravel:       true,
			PeriodStart:    &start,
			OriginalPillar: PillarHome,
		},
	}

	data, err := json.Marshal(et)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "t1", got["id"])
	assert.Equal(t, "2024-03-01", got["date"])
	assert.Equal(t, "210.5", got["amount"])
	assert.Equal(t, string(PillarTravel), got["pillar"])

	travel, ok := got["travel_context"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2024-03-01", travel["travel_period_start"])
	assert.Equal(t, string(PillarHome), travel["original_pillar"])
}
