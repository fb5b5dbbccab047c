package enrich

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/spend-enricher/internal/domain"
)

// Fallback values for records the classifier never answered for.
const (
	FallbackConfidence  = 0.1
	FallbackExplanation = "classification failed"
)

// Fallback is the deterministic default for an unclassified record.
func Fallback(tx domain.Transaction) domain.EnrichedTransaction {
	return domain.EnrichedTransaction{
		Transaction:        tx,
		NormalizedMerchant: tx.Merchant,
		Pillar:             domain.PillarUnclassified,
		Confidence:         FallbackConfidence,
		Explanation:        FallbackExplanation,
	}
}

// UniqueIDs returns a copy of txs in which every ID is distinct, and how many
// records were re-keyed. Later duplicates get a "#n" suffix; empty IDs are
// treated as duplicates of each other.
func UniqueIDs(txs []domain.Transaction) ([]domain.Transaction, int) {
	out := make([]domain.Transaction, len(txs))
	copy(out, txs)

	seen := make(map[string]bool, len(out))
	for _, t := range out {
		seen[t.ID] = false
	}
	rekeyed := 0
	for i := range out {
		id := out[i].ID
		if !seen[id] {
			seen[id] = true
			continue
		}
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s#%d", id, n)
			if _, taken := seen[candidate]; !taken {
				out[i].ID = candidate
				seen[candidate] = true
				break
			}
		}
		rekeyed++
	}
	return out, rekeyed
}

// Merge produces exactly one enriched record per original, in input order.
// Classifications are matched by ID; unknown IDs are ignored and originals
// without a match get the fallback.
func Merge(original []domain.Transaction, classifications []Classification) []domain.EnrichedTransaction {
	byID := make(map[string]Classification, len(classifications))
	for _, c := range classifications {
		if _, seen := byID[c.ID]; !seen {
			byID[c.ID] = c
		}
	}

	out := make([]domain.EnrichedTransaction, len(original))
	for i, tx := range original {
		c, ok := byID[tx.ID]
		if !ok {
			out[i] = Fallback(tx)
			continue
		}
		merchant := strings.TrimSpace(c.NormalizedMerchant)
		if merchant == "" {
			merchant = tx.Merchant
		}
		out[i] = domain.EnrichedTransaction{
			Transaction:        tx,
			NormalizedMerchant: merchant,
			Pillar:             domain.CoercePillar(c.Pillar),
			Subcategory:        c.Subcategory,
			Confidence:         clamp01(c.Confidence),
			Explanation:        c.Explanation,
		}
	}
	return out
}

// ApplyTravelUpdates returns a copy of results with travel context attached
// to the records named by updates. Only IDs present in candidates are
// touched. The pillar held before any reclassification is always kept in
// the travel context.
func ApplyTravelUpdates(results []domain.EnrichedTransaction, candidates []domain.TravelCandidate, updates []TravelUpdate) []domain.EnrichedTransaction {
	allowed := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		allowed[c.Transaction.ID] = struct{}{}
	}
	byID := make(map[string]TravelUpdate, len(updates))
	for _, u := range updates {
		if _, ok := allowed[u.TransactionID]; ok {
			byID[u.TransactionID] = u
		}
	}

	out := make([]domain.EnrichedTransaction, len(results))
	copy(out, results)
	for i := range out {
		u, ok := byID[out[i].ID]
		if !ok {
			continue
		}
		tc := &domain.TravelContext{
			IsTravel:       u.IsTravelRelated,
			PeriodStart:    parseOptionalDate(u.TravelPeriodStart),
			PeriodEnd:      parseOptionalDate(u.TravelPeriodEnd),
			Destination:    u.TravelDestination,
			OriginalPillar: out[i].Pillar,
			Reason:         u.ReclassificationReason,
		}
		if u.IsTravelRelated {
			if u.ReclassifiedPillar != nil {
				out[i].Pillar = domain.CoercePillar(*u.ReclassifiedPillar)
			}
			if u.ReclassifiedSubcategory != nil {
				out[i].Subcategory = *u.ReclassifiedSubcategory
			}
		}
		out[i].Travel = tc
	}
	return out
}

func parseOptionalDate(s string) *civil.Date {
	if s == "" {
		return nil
	}
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &d
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
