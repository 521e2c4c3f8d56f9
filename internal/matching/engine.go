// Package matching scores a client's preference profile against listings and
// turns the ranked result into a persistence plan for match records.
package matching

import (
	"sort"

	"github.com/google/uuid"

	"github.com/mkarev/realtor-outreach/internal/domain"
)

// Engine ranks scored listings and reconciles them against the client's
// existing active matches. It holds configuration only; all data comes in as
// arguments and all decisions go out as a Plan.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultConfig().MinScore
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultConfig().MaxResults
	}
	return &Engine{cfg: cfg}
}

// Plan is the mutation set a matching run decided on. The caller persists it;
// the engine never touches storage.
type Plan struct {
	// Create holds new active matches for pairs that had none.
	Create []domain.Match
	// Update holds existing active matches with refreshed score/reasons.
	Update []domain.Match
	// Deactivate holds active matches whose listing fell out of the
	// survivor set; their history is kept, their active flag dropped.
	Deactivate []domain.Match

	// ranked preserves the run's full ordering across Create and Update,
	// which cannot be reconstructed from the match rows alone (the price
	// tiebreak lives on the listing).
	ranked []domain.Match
}

// Matches returns the surviving (created + updated) matches in rank order.
func (p Plan) Matches() []domain.Match {
	return append([]domain.Match(nil), p.ranked...)
}

// GenerateMatches runs one matching pass for a client: filter candidates to
// active listings, score, drop results under the threshold, rank, cap, then
// reconcile with existing active matches so at most one active match exists
// per (client, listing) pair.
//
// Ranking order: score descending, then price ascending (cheaper first),
// then listing id ascending. The last key makes the order total, so runs
// are reproducible.
func (e *Engine) GenerateMatches(client domain.Client, candidates []domain.Listing, existing []domain.Match, maxResults int) Plan {
	if maxResults <= 0 {
		maxResults = e.cfg.MaxResults
	}

	type scored struct {
		listing domain.Listing
		result  ScoreResult
	}
	var ranked []scored
	for _, l := range candidates {
		if l.Status != domain.ListingActive {
			continue
		}
		res := Score(client.Preferences, l)
		if res.Value < e.cfg.MinScore {
			continue
		}
		ranked = append(ranked, scored{listing: l, result: res})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.result.Value != b.result.Value {
			return a.result.Value > b.result.Value
		}
		if a.listing.Price != b.listing.Price {
			return a.listing.Price < b.listing.Price
		}
		return a.listing.ID < b.listing.ID
	})
	if len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}

	existingByListing := make(map[string]domain.Match, len(existing))
	for _, m := range existing {
		if m.Active && m.ClientID == client.ID {
			existingByListing[m.ListingID] = m
		}
	}

	var plan Plan
	survivors := make(map[string]struct{}, len(ranked))
	for _, s := range ranked {
		survivors[s.listing.ID] = struct{}{}
		if prev, ok := existingByListing[s.listing.ID]; ok {
			prev.Score = s.result.Value
			prev.Reasons = s.result.Reasons
			plan.Update = append(plan.Update, prev)
			plan.ranked = append(plan.ranked, prev)
			continue
		}
		created := domain.Match{
			ID:        uuid.NewString(),
			AccountID: client.AccountID,
			ClientID:  client.ID,
			ListingID: s.listing.ID,
			Score:     s.result.Value,
			Reasons:   s.result.Reasons,
			Active:    true,
		}
		plan.Create = append(plan.Create, created)
		plan.ranked = append(plan.ranked, created)
	}

	for _, m := range existing {
		if !m.Active || m.ClientID != client.ID {
			continue
		}
		if _, ok := survivors[m.ListingID]; !ok {
			m.Active = false
			plan.Deactivate = append(plan.Deactivate, m)
		}
	}

	return plan
}
