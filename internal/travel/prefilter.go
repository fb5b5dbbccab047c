package travel

import (
	"regexp"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/spend-enricher/internal/domain"
)

// Candidate reasons.
const (
	ReasonZipDiffers    = "postal code differs from home"
	ReasonAnchor        = "travel-anchor merchant detected"
	ReasonNearCandidate = "near a travel candidate"
)

// DefaultWindowDays groups purchases made around a trip.
const DefaultWindowDays = 2

// Options tunes the pre-filter.
type Options struct {
	// WindowDays pulls in records dated within this many days of a record
	// picked by ZIP or merchant. Zero disables clustering.
	WindowDays int

	// Keywords replaces AnchorKeywords when non-nil.
	Keywords []string
}

// DefaultOptions returns the standard window and keyword set.
func DefaultOptions() Options {
	return Options{WindowDays: DefaultWindowDays}
}

// Stats summarizes a partition for observability.
type Stats struct {
	Total            int     `json:"total"`
	HomeZone         int     `json:"home_zone"`
	Candidates       int     `json:"candidates"`
	ReductionPercent float64 `json:"reduction_percent"`
}

// Result partitions the input. Both slices keep input order.
type Result struct {
	HomeZone   []domain.EnrichedTransaction
	Candidates []domain.TravelCandidate
	Stats      Stats
}

// PreFilter splits txs into a home zone and travel candidates.
//
// A record is a candidate when its ZIP is present and differs from homeZip,
// when its merchant matches an anchor keyword, or when it is dated within
// the window of a record chosen by one of those two rules. Clustering does
// not chain: a record pulled in by date does not pull in others.
func PreFilter(txs []domain.EnrichedTransaction, homeZip string, opts Options) Result {
	anchors := defaultAnchors
	if opts.Keywords != nil {
		anchors = compileAnchors(opts.Keywords)
	}
	home := domain.ParseHomeZip(homeZip)

	reasons := make([]string, len(txs))
	var seeds []civil.Date
	for i, tx := range txs {
		if r := seedReason(tx, home, anchors); r != "" {
			reasons[i] = r
			seeds = append(seeds, tx.Date)
		}
	}

	if opts.WindowDays > 0 {
		for i, tx := range txs {
			if reasons[i] == "" && nearAny(tx.Date, seeds, opts.WindowDays) {
				reasons[i] = ReasonNearCandidate
			}
		}
	}

	res := Result{}
	for i, tx := range txs {
		if reasons[i] == "" {
			res.HomeZone = append(res.HomeZone, tx)
			continue
		}
		res.Candidates = append(res.Candidates, domain.TravelCandidate{Transaction: tx, Reason: reasons[i]})
	}

	res.Stats = Stats{
		Total:      len(txs),
		HomeZone:   len(res.HomeZone),
		Candidates: len(res.Candidates),
	}
	if len(txs) > 0 {
		res.Stats.ReductionPercent = 100 * float64(len(res.HomeZone)) / float64(len(txs))
	}
	return res
}

func seedReason(tx domain.EnrichedTransaction, home string, anchors *regexp.Regexp) string {
	if home != "" && tx.ZipCode != "" {
		zip := domain.NormalizeZip(tx.ZipCode)
		if zip == "" {
			zip = tx.ZipCode
		}
		if zip != home {
			return ReasonZipDiffers
		}
	}
	if anchors != nil && anchors.MatchString(tx.Merchant) {
		return ReasonAnchor
	}
	return ""
}

func nearAny(d civil.Date, seeds []civil.Date, window int) bool {
	for _, s := range seeds {
		diff := d.DaysSince(s)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			return true
		}
	}
	return false
}
