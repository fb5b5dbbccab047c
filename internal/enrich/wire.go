package enrich

import (
	"encoding/json"

	"github.com/dvloznov/spend-enricher/internal/domain"
)

// Event names on the classification and travel streams.
const (
	EventStatus        = "status"
	EventBatchComplete = "batch_complete"
	EventTravelUpdates = "travel_updates"
	EventDone          = "done"
	EventError         = "error"
)

// Record is the per-transaction payload sent to the service.
type Record struct {
	ID          string  `json:"id"`
	Merchant    string  `json:"merchant"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Zip         string  `json:"zip,omitempty"`
	Pillar      string  `json:"pillar,omitempty"`
	Subcategory string  `json:"subcategory,omitempty"`
	Reason      string  `json:"candidate_reason,omitempty"`
}

func recordOf(tx domain.Transaction) Record {
	return Record{
		ID:       tx.ID,
		Merchant: tx.Merchant,
		Amount:   tx.Amount.InexactFloat64(),
		Date:     tx.Date.String(),
		Zip:      tx.ZipCode,
	}
}

// ClassifyRequest is the body of a classification submission.
type ClassifyRequest struct {
	Transactions []Record `json:"transactions"`
}

// TravelRequest is the body of the travel annotation call.
type TravelRequest struct {
	Transactions []Record `json:"transactions"`
	HomeZip      string   `json:"homeZip"`
}

// StatusEvent is informational progress text.
type StatusEvent struct {
	Message string `json:"message"`
}

// BatchCompleteEvent reports how many records a batch classified.
type BatchCompleteEvent struct {
	BatchNum     int `json:"batchNum"`
	TotalBatches int `json:"totalBatches"`
	Count        int `json:"count"`
}

// ErrorEvent ends a stream with a failure.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Classification is one result from the classifier, keyed by ID.
type Classification struct {
	ID                 string  `json:"id"`
	NormalizedMerchant string  `json:"normalized_merchant"`
	Pillar             string  `json:"pillar"`
	Subcategory        string  `json:"subcategory"`
	Confidence         float64 `json:"confidence"`
	Explanation        string  `json:"explanation,omitempty"`
}

// ClassifyDoneEvent carries the full result list of one submission.
type ClassifyDoneEvent struct {
	EnrichedTransactions []Classification `json:"enriched_transactions"`
}

// TravelUpdate annotates one candidate. Reclassification fields are optional.
type TravelUpdate struct {
	TransactionID           string  `json:"transaction_id"`
	IsTravelRelated         bool    `json:"is_travel_related"`
	TravelPeriodStart       string  `json:"travel_period_start,omitempty"`
	TravelPeriodEnd         string  `json:"travel_period_end,omitempty"`
	TravelDestination       string  `json:"travel_destination,omitempty"`
	ReclassifiedPillar      *string `json:"reclassified_pillar,omitempty"`
	ReclassifiedSubcategory *string `json:"reclassified_subcategory,omitempty"`
	ReclassificationReason  string  `json:"reclassification_reason,omitempty"`
}

// decodeTravelUpdates accepts either a bare array or an object wrapping it
// under "updates" or "travel_updates".
func decodeTravelUpdates(data []byte) ([]TravelUpdate, error) {
	var list []TravelUpdate
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Updates       []TravelUpdate `json:"updates"`
		TravelUpdates []TravelUpdate `json:"travel_updates"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Updates != nil {
		return wrapped.Updates, nil
	}
	return wrapped.TravelUpdates, nil
}
