package matching

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarev/realtor-outreach/internal/domain"
)

func buyer() domain.Client {
	return domain.Client{
		ID:        "cl-1",
		AccountID: "acc-1",
		Name:      "Dana",
		Email:     "dana@example.com",
		Preferences: domain.Preferences{
			Price:         domain.PriceRange{Min: int64Ptr(300000), Max: int64Ptr(500000)},
			Neighborhoods: []string{"Downtown"},
			Bedrooms:      domain.IntRange{Min: intPtr(2)},
		},
	}
}

func listing(id string, price int64, neighborhood string, status domain.ListingStatus) domain.Listing {
	return domain.Listing{
		ID:           id,
		AccountID:    "acc-1",
		Price:        price,
		Category:     domain.CategoryHouse,
		Neighborhood: neighborhood,
		Bedrooms:     3,
		Bathrooms:    2,
		Status:       status,
	}
}

func TestGenerateMatches_EmptyCandidatesYieldEmptyPlan(t *testing.T) {
	e := NewEngine(DefaultConfig())

	plan := e.GenerateMatches(buyer(), nil, nil, 10)

	assert.Empty(t, plan.Create)
	assert.Empty(t, plan.Update)
	assert.Empty(t, plan.Deactivate)
}

func TestGenerateMatches_FiltersNonActiveListings(t *testing.T) {
	e := NewEngine(DefaultConfig())
	candidates := []domain.Listing{
		listing("ls-1", 400000, "Downtown", domain.ListingActive),
		listing("ls-2", 400000, "Downtown", domain.ListingSold),
		listing("ls-3", 400000, "Downtown", domain.ListingPending),
		listing("ls-4", 400000, "Downtown", domain.ListingWithdrawn),
	}

	plan := e.GenerateMatches(buyer(), candidates, nil, 10)

	require.Len(t, plan.Create, 1)
	assert.Equal(t, "ls-1", plan.Create[0].ListingID)
}

func TestGenerateMatches_DropsBelowThreshold(t *testing.T) {
	e := NewEngine(DefaultConfig())
	client := buyer()
	client.Preferences.Bathrooms = domain.IntRange{Min: intPtr(3)}

	// Misses price, neighborhood, bedrooms and bathrooms: only the open
	// category and must-have weights remain (0.25).
	weak := listing("ls-weak", 900000, "Suburbs", domain.ListingActive)
	weak.Bedrooms = 1

	res := Score(client.Preferences, weak)
	require.Less(t, res.Value, e.cfg.MinScore)

	plan := e.GenerateMatches(client, []domain.Listing{weak}, nil, 10)
	assert.Empty(t, plan.Matches())
}

func TestGenerateMatches_ThresholdIsInclusive(t *testing.T) {
	e := NewEngine(DefaultConfig())
	client := buyer()

	// Misses everything the client constrained; the open bathroom,
	// category and must-have weights add to exactly 0.40.
	borderline := listing("ls-edge", 900000, "Suburbs", domain.ListingActive)
	borderline.Bedrooms = 1

	res := Score(client.Preferences, borderline)
	require.Equal(t, 0.40, res.Value)

	plan := e.GenerateMatches(client, []domain.Listing{borderline}, nil, 10)
	assert.Len(t, plan.Matches(), 1, "exactly the floor is kept; only below is discarded")
}

func TestGenerateMatches_RankingIsTotalOrder(t *testing.T) {
	e := NewEngine(DefaultConfig())
	client := buyer()
	candidates := []domain.Listing{
		listing("ls-c", 450000, "Downtown", domain.ListingActive),
		listing("ls-a", 450000, "Downtown", domain.ListingActive), // ties with ls-c on score and price
		listing("ls-b", 350000, "Downtown", domain.ListingActive), // same score, cheaper
		listing("ls-d", 400000, "Suburbs", domain.ListingActive),  // lower score
	}

	plan := e.GenerateMatches(client, candidates, nil, 10)
	got := plan.Create

	require.Len(t, got, 4)
	// Equal scores rank cheaper-first, then id ascending.
	assert.Equal(t, "ls-b", got[0].ListingID)
	assert.Equal(t, "ls-a", got[1].ListingID)
	assert.Equal(t, "ls-c", got[2].ListingID)
	assert.Equal(t, "ls-d", got[3].ListingID)
}

func TestGenerateMatches_CapsAtMaxResults(t *testing.T) {
	e := NewEngine(DefaultConfig())
	var candidates []domain.Listing
	for i := 0; i < 20; i++ {
		candidates = append(candidates, listing(fmt.Sprintf("ls-%02d", i), 400000, "Downtown", domain.ListingActive))
	}

	plan := e.GenerateMatches(buyer(), candidates, nil, 3)

	assert.Len(t, plan.Matches(), 3)
}

func TestGenerateMatches_UpdatesExistingActiveMatchInPlace(t *testing.T) {
	e := NewEngine(DefaultConfig())
	client := buyer()
	l := listing("ls-1", 400000, "Downtown", domain.ListingActive)
	existing := []domain.Match{{
		ID:        "m-1",
		AccountID: "acc-1",
		ClientID:  client.ID,
		ListingID: "ls-1",
		Score:     0.45,
		Active:    true,
	}}

	plan := e.GenerateMatches(client, []domain.Listing{l}, existing, 10)

	assert.Empty(t, plan.Create, "re-scoring the same pair must not duplicate")
	require.Len(t, plan.Update, 1)
	assert.Equal(t, "m-1", plan.Update[0].ID)
	assert.Greater(t, plan.Update[0].Score, 0.45)
	assert.Empty(t, plan.Deactivate)
}

func TestGenerateMatches_DeactivatesMatchesOutsideSurvivorSet(t *testing.T) {
	e := NewEngine(DefaultConfig())
	client := buyer()
	existing := []domain.Match{
		{ID: "m-gone", ClientID: client.ID, ListingID: "ls-gone", Active: true},
		{ID: "m-hist", ClientID: client.ID, ListingID: "ls-hist", Active: false},
	}

	plan := e.GenerateMatches(client, []domain.Listing{listing("ls-1", 400000, "Downtown", domain.ListingActive)}, existing, 10)

	require.Len(t, plan.Deactivate, 1)
	assert.Equal(t, "m-gone", plan.Deactivate[0].ID)
	assert.False(t, plan.Deactivate[0].Active)
}

func TestGenerateMatches_NoDuplicateActivePairs(t *testing.T) {
	e := NewEngine(DefaultConfig())
	client := buyer()
	candidates := []domain.Listing{
		listing("ls-1", 400000, "Downtown", domain.ListingActive),
		listing("ls-2", 420000, "Downtown", domain.ListingActive),
	}
	existing := []domain.Match{
		{ID: "m-1", ClientID: client.ID, ListingID: "ls-1", Active: true},
	}

	plan := e.GenerateMatches(client, candidates, existing, 10)

	seen := map[string]int{}
	for _, m := range plan.Matches() {
		seen[m.ClientID+"/"+m.ListingID]++
	}
	for pair, n := range seen {
		assert.Equal(t, 1, n, "pair %s appears %d times", pair, n)
	}
}
