package travel

import (
	"regexp"
	"strings"
)

// AnchorKeywords are merchant fragments that on their own suggest a trip:
// lodging, airlines, car rental and ride-share. Multi-word entries match
// any run of whitespace between words.
var AnchorKeywords = []string{
	// lodging
	"hotel", "hotels", "motel", "inn", "resort", "lodge", "hostel", "suites",
	"airbnb", "vrbo", "marriott", "hilton", "hyatt", "sheraton", "westin",
	"best western", "wyndham", "ihg", "expedia", "booking.com", "hotels.com",
	// airlines
	"airline", "airlines", "airways", "air lines", "delta air", "united airlines",
	"american airlines", "southwest", "jetblue", "alaska air", "spirit airlines",
	"frontier airlines", "lufthansa", "air canada", "british airways",
	// car rental
	"hertz", "avis", "enterprise rent", "budget rent", "national car", "alamo",
	"sixt", "thrifty", "dollar rent", "turo", "car rental", "rent a car",
	// ride-share
	"uber", "lyft",
}

// compileAnchors builds one case-insensitive, word-bounded alternation.
func compileAnchors(keywords []string) *regexp.Regexp {
	if len(keywords) == 0 {
		return nil
	}
	parts := make([]string, len(keywords))
	for i, kw := range keywords {
		words := strings.Fields(kw)
		for j, w := range words {
			words[j] = regexp.QuoteMeta(w)
		}
		parts[i] = strings.Join(words, `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}

var defaultAnchors = compileAnchors(AnchorKeywords)
