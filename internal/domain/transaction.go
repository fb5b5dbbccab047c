package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction is one canonical record produced by validation.
// Values are copied, never mutated, once a batch has been validated.
type Transaction struct {
	ID           string          `json:"id"`
	Merchant     string          `json:"merchant"`
	Description  string          `json:"description,omitempty"`
	CategoryCode string          `json:"category_code,omitempty"` // e.g. an MCC
	Amount       decimal.Decimal `json:"amount"`
	Date         civil.Date      `json:"date"`               // serialized as YYYY-MM-DD
	ZipCode      string          `json:"zip_code,omitempty"` // where the purchase happened
	HomeZip      string          `json:"home_zip,omitempty"` // cardholder's home, shared by a batch
}

// TravelContext annotates a transaction that belongs to a trip.
type TravelContext struct {
	IsTravel    bool        `json:"is_travel_related"`
	PeriodStart *civil.Date `json:"travel_period_start,omitempty"`
	PeriodEnd   *civil.Date `json:"travel_period_end,omitempty"`
	Destination string      `json:"travel_destination,omitempty"`

	// OriginalPillar is the category held before travel reclassification.
	OriginalPillar Pillar `json:"original_pillar,omitempty"`
	Reason         string `json:"reclassification_reason,omitempty"`
}

// EnrichedTransaction is a Transaction plus classification metadata.
type EnrichedTransaction struct {
	Transaction

	NormalizedMerchant string         `json:"normalized_merchant"`
	Pillar             Pillar         `json:"pillar"`
	Subcategory        string         `json:"subcategory,omitempty"`
	Confidence         float64        `json:"confidence"`
	Explanation        string         `json:"explanation,omitempty"`
	Travel             *TravelContext `json:"travel_context,omitempty"`
}

// TravelCandidate pairs a record with the reason it was picked for travel analysis.
type TravelCandidate struct {
	Transaction EnrichedTransaction
	Reason      string
}
