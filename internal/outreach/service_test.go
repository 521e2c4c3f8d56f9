package outreach

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarev/realtor-outreach/internal/dispatch"
	"github.com/mkarev/realtor-outreach/internal/domain"
	"github.com/mkarev/realtor-outreach/internal/mailer"
	"github.com/mkarev/realtor-outreach/internal/matching"
	"github.com/mkarev/realtor-outreach/internal/platform/logger"
	"github.com/mkarev/realtor-outreach/internal/storage"
)

type recordingSender struct {
	mu      sync.Mutex
	sent    []mailer.Message
	failFor map[string]error
	nextID  int
}

func (r *recordingSender) Send(_ context.Context, msg mailer.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failFor[msg.To]; ok {
		return "", err
	}
	r.sent = append(r.sent, msg)
	r.nextID++
	return fmt.Sprintf("prov-%d", r.nextID), nil
}

type fixture struct {
	svc    *Service
	store  *storage.Store
	sender *recordingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema())

	sender := &recordingSender{failFor: map[string]error{}}
	d := dispatch.New(sender, 2, logger.NewNop(), nil)
	svc := NewService(store, matching.NewEngine(matching.DefaultConfig()), d, mailer.TemplateDrafter{}, logger.NewNop(), nil, 14)
	return &fixture{svc: svc, store: store, sender: sender}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func (f *fixture) seedClient(t *testing.T, accountID string) domain.Client {
	t.Helper()
	c, err := f.store.CreateClient(context.Background(), domain.Client{
		AccountID: accountID,
		Name:      "Dana",
		Email:     "dana@example.com",
		Preferences: domain.Preferences{
			Price:         domain.PriceRange{Min: int64Ptr(300000), Max: int64Ptr(500000)},
			Neighborhoods: []string{"Downtown"},
			Bedrooms:      domain.IntRange{Min: intPtr(2)},
		},
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) seedListing(t *testing.T, accountID, id string, price int64) domain.Listing {
	t.Helper()
	l, err := f.store.CreateListing(context.Background(), domain.Listing{
		ID:           id,
		AccountID:    accountID,
		Title:        "Listing " + id,
		Price:        price,
		Category:     domain.CategoryHouse,
		Neighborhood: "Downtown",
		Bedrooms:     3,
		Bathrooms:    2,
		Status:       domain.ListingActive,
	})
	require.NoError(t, err)
	return l
}

func date(t *testing.T, s string) domain.Date {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestGenerateMatches_PersistsAndRerunsWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.seedClient(t, "acc-1")
	f.seedListing(t, "acc-1", "ls-1", 400000)
	f.seedListing(t, "acc-1", "ls-2", 350000)

	got, err := f.svc.GenerateMatches(ctx, "acc-1", client.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ls-2", got[0].ListingID, "equal scores rank cheaper first")

	again, err := f.svc.GenerateMatches(ctx, "acc-1", client.ID, 10)
	require.NoError(t, err)
	assert.Len(t, again, 2)

	persisted, err := f.store.ListMatches(ctx, "acc-1", client.ID, true)
	require.NoError(t, err)
	assert.Len(t, persisted, 2, "re-scoring updates in place")
}

func TestGenerateMatches_SoldListingDropsOutAndMatchDeactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.seedClient(t, "acc-1")
	f.seedListing(t, "acc-1", "ls-1", 400000)
	f.seedListing(t, "acc-1", "ls-2", 350000)

	_, err := f.svc.GenerateMatches(ctx, "acc-1", client.ID, 10)
	require.NoError(t, err)

	require.NoError(t, f.store.SetListingStatus(ctx, "acc-1", "ls-1", domain.ListingSold))

	got, err := f.svc.GenerateMatches(ctx, "acc-1", client.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ls-2", got[0].ListingID)

	all, err := f.store.ListMatches(ctx, "acc-1", client.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2, "deactivated match kept as history")
}

func TestSweepMilestones_SendsDueAndAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.seedClient(t, "acc-1")

	_, err := f.store.CreateMilestone(ctx, domain.Milestone{
		AccountID: "acc-1",
		ClientID:  client.ID,
		Type:      domain.MilestoneBirthday,
		Anchor:    date(t, "1984-06-15"),
		Active:    true,
	})
	require.NoError(t, err)

	today := date(t, "2025-06-15")
	res, err := f.svc.SweepMilestones(ctx, today)
	require.NoError(t, err)
	require.Len(t, res.Sent, 1)
	assert.Len(t, f.sender.sent, 1)
	assert.Contains(t, f.sender.sent[0].Subject, "birthday")

	ms, err := f.store.ListMilestones(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	require.NotNil(t, ms[0].LastSent)
	assert.Equal(t, "2026-06-15", ms[0].NextDue.String(), "advanced past today")

	// Same-day re-run: nothing is due anymore, and the re-run's recompute
	// leaves the advanced schedule where the send put it.
	res, err = f.svc.SweepMilestones(ctx, today)
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	assert.Len(t, f.sender.sent, 1)

	ms, err = f.store.ListMilestones(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "2026-06-15", ms[0].NextDue.String())
}

func TestSweepMilestones_UpcomingNotSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.seedClient(t, "acc-1")

	_, err := f.store.CreateMilestone(ctx, domain.Milestone{
		AccountID: "acc-1",
		ClientID:  client.ID,
		Type:      domain.MilestoneBirthday,
		Anchor:    date(t, "1984-06-15"),
		Active:    true,
	})
	require.NoError(t, err)

	res, err := f.svc.SweepMilestones(ctx, date(t, "2025-06-01"))
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
}

func TestSweepMilestones_OneOffGoesInertAfterSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.seedClient(t, "acc-1")

	_, err := f.store.CreateMilestone(ctx, domain.Milestone{
		AccountID: "acc-1",
		ClientID:  client.ID,
		Type:      domain.MilestonePersonalEvent,
		Anchor:    date(t, "2025-09-01"),
		Message:   "Good luck with the marathon!",
		Active:    true,
	})
	require.NoError(t, err)

	res, err := f.svc.SweepMilestones(ctx, date(t, "2025-09-01"))
	require.NoError(t, err)
	require.Len(t, res.Sent, 1)

	// Next sweep: sent one-off is no longer due, and once past its date it
	// goes inert for good.
	res, err = f.svc.SweepMilestones(ctx, date(t, "2025-09-02"))
	require.NoError(t, err)
	assert.Empty(t, res.Sent)

	active, err := f.store.ListActiveMilestones(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSweepMilestones_FailureDoesNotBlockSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := f.seedClient(t, "acc-1")
	bad, err := f.store.CreateClient(ctx, domain.Client{
		AccountID: "acc-1", Name: "Rex", Email: "rex@example.com",
	})
	require.NoError(t, err)
	f.sender.failFor["rex@example.com"] = fmt.Errorf("bounced")

	for _, c := range []domain.Client{good, bad} {
		_, err := f.store.CreateMilestone(ctx, domain.Milestone{
			AccountID: "acc-1", ClientID: c.ID,
			Type: domain.MilestoneBirthday, Anchor: date(t, "1984-06-15"), Active: true,
		})
		require.NoError(t, err)
	}

	res, err := f.svc.SweepMilestones(ctx, date(t, "2025-06-15"))
	require.NoError(t, err)
	assert.Len(t, res.Sent, 1)
	assert.Len(t, res.Failed, 1)

	// The failed milestone stays due and is retried by the next sweep.
	f.sender.failFor = map[string]error{}
	res, err = f.svc.SweepMilestones(ctx, date(t, "2025-06-15"))
	require.NoError(t, err)
	assert.Len(t, res.Sent, 1)
}

func TestDispatchMatches_RecordsProviderIDAndSkipsOnRerun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.seedClient(t, "acc-1")
	f.seedListing(t, "acc-1", "ls-1", 400000)

	matches, err := f.svc.GenerateMatches(ctx, "acc-1", client.ID, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	res, err := f.svc.DispatchMatches(ctx, "acc-1", []string{matches[0].ID})
	require.NoError(t, err)
	require.Len(t, res.Sent, 1)

	got, err := f.store.GetMatch(ctx, "acc-1", matches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, res.Sent[0].ProviderID, got.SentEmailID)

	rerun, err := f.svc.DispatchMatches(ctx, "acc-1", []string{matches[0].ID})
	require.NoError(t, err)
	assert.Empty(t, rerun.Sent)
	assert.Equal(t, []string{matches[0].ID}, rerun.AlreadySent)
}

func TestDispatchMatches_UnknownMatchReportedFailed(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.DispatchMatches(context.Background(), "acc-1", []string{"missing"})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing", res.Failed[0].ID)
}

func TestMilestoneOverview_ClassifiesAndBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.seedClient(t, "acc-1")

	anchors := map[string]string{
		"due":   "1984-06-15",
		"soon":  "1990-06-20",
		"later": "1970-09-30",
	}
	for _, anchor := range anchors {
		_, err := f.store.CreateMilestone(ctx, domain.Milestone{
			AccountID: "acc-1", ClientID: client.ID,
			Type: domain.MilestoneBirthday, Anchor: date(t, anchor), Active: true,
		})
		require.NoError(t, err)
	}

	overview, err := f.svc.MilestoneOverview(ctx, "acc-1", date(t, "2025-06-15"))
	require.NoError(t, err)
	require.Len(t, overview, 3)

	byDue := map[string]MilestoneStatus{}
	for _, st := range overview {
		byDue[st.Milestone.NextDue.String()] = st
	}
	assert.Equal(t, "due_today", string(byDue["2025-06-15"].Status))
	assert.True(t, byDue["2025-06-20"].WithinHorizon)
	assert.False(t, byDue["2025-09-30"].WithinHorizon)
}
