package matching

import (
	"math"
	"strings"

	"github.com/mkarev/realtor-outreach/internal/domain"
)

// Criterion weights. They sum to 1.0 so a listing satisfying everything
// scores exactly 1.0.
const (
	weightPrice        = 0.30
	weightBedrooms     = 0.15
	weightBathrooms    = 0.15
	weightNeighborhood = 0.15
	weightCategory     = 0.15
	weightMustHave     = 0.10
)

// Reason strings surfaced to the agent alongside a score.
const (
	ReasonPrice        = "Within your price range"
	ReasonBedrooms     = "Within your bedroom preference"
	ReasonBathrooms    = "Within your bathroom preference"
	ReasonNeighborhood = "Matches your neighborhood preference"
	ReasonCategory     = "Matches your preferred property type"
	ReasonMustHave     = "Has all of your must-have features"
)

// ScoreResult is a bounded match score with the reasons that earned it.
type ScoreResult struct {
	Value   float64  `json:"value"`
	Reasons []string `json:"reasons,omitempty"`
}

// Score rates one listing against one preference profile. The result is a
// weighted sum in [0,1]. A deal-breaker feature on the listing is a hard
// veto: score 0, no reasons, nothing else considered.
//
// A criterion the client left open (nil bounds, empty set) contributes its
// weight but no reason string; we never claim a preference matched when the
// client expressed none. Pure: identical inputs always yield identical
// output.
func Score(prefs domain.Preferences, listing domain.Listing) ScoreResult {
	features := normalizedSet(listing.Features)
	for _, db := range prefs.DealBreakers {
		if _, ok := features[normalizeTag(db)]; ok {
			return ScoreResult{Value: 0}
		}
	}

	var total float64
	var reasons []string

	credit := func(weight float64, open bool, reason string) {
		total += weight
		if !open {
			reasons = append(reasons, reason)
		}
	}

	if prefs.Price.Open() {
		credit(weightPrice, true, "")
	} else if prefs.Price.Contains(listing.Price) {
		credit(weightPrice, false, ReasonPrice)
	}

	if prefs.Bedrooms.Open() {
		credit(weightBedrooms, true, "")
	} else if prefs.Bedrooms.Contains(listing.Bedrooms) {
		credit(weightBedrooms, false, ReasonBedrooms)
	}

	if prefs.Bathrooms.Open() {
		credit(weightBathrooms, true, "")
	} else if prefs.Bathrooms.Contains(listing.Bathrooms) {
		credit(weightBathrooms, false, ReasonBathrooms)
	}

	if len(prefs.Neighborhoods) == 0 {
		credit(weightNeighborhood, true, "")
	} else if containsFold(prefs.Neighborhoods, listing.Neighborhood) {
		credit(weightNeighborhood, false, ReasonNeighborhood)
	}

	if len(prefs.Categories) == 0 {
		credit(weightCategory, true, "")
	} else if containsCategory(prefs.Categories, listing.Category) {
		credit(weightCategory, false, ReasonCategory)
	}

	if len(prefs.MustHave) == 0 {
		credit(weightMustHave, true, "")
	} else if hasAll(features, prefs.MustHave) {
		credit(weightMustHave, false, ReasonMustHave)
	}

	// Weights are decimal fractions; round away float drift so a full house
	// is exactly 1.0.
	return ScoreResult{Value: math.Round(total*100) / 100, Reasons: reasons}
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizedSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if n := normalizeTag(t); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func hasAll(have map[string]struct{}, want []string) bool {
	for _, w := range want {
		n := normalizeTag(w)
		if n == "" {
			continue
		}
		if _, ok := have[n]; !ok {
			return false
		}
	}
	return true
}

func containsFold(set []string, v string) bool {
	n := normalizeTag(v)
	for _, s := range set {
		if normalizeTag(s) == n {
			return true
		}
	}
	return false
}

func containsCategory(set []domain.PropertyCategory, c domain.PropertyCategory) bool {
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}
