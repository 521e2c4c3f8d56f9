// Package outreach ties the engine together: matching runs, milestone
// sweeps and dispatching, with the store as the single source of record.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkarev/realtor-outreach/internal/dispatch"
	"github.com/mkarev/realtor-outreach/internal/domain"
	"github.com/mkarev/realtor-outreach/internal/mailer"
	"github.com/mkarev/realtor-outreach/internal/matching"
	"github.com/mkarev/realtor-outreach/internal/metrics"
	"github.com/mkarev/realtor-outreach/internal/milestone"
	"github.com/mkarev/realtor-outreach/internal/platform/logger"
	"github.com/mkarev/realtor-outreach/internal/recurrence"
	"github.com/mkarev/realtor-outreach/internal/storage"
)

type Service struct {
	store       *storage.Store
	engine      *matching.Engine
	dispatcher  *dispatch.Dispatcher
	drafter     mailer.Drafter
	log         *logger.Logger
	metrics     *metrics.Metrics
	horizonDays int
}

func NewService(
	store *storage.Store,
	engine *matching.Engine,
	dispatcher *dispatch.Dispatcher,
	drafter mailer.Drafter,
	log *logger.Logger,
	m *metrics.Metrics,
	horizonDays int,
) *Service {
	return &Service{
		store:       store,
		engine:      engine,
		dispatcher:  dispatcher,
		drafter:     drafter,
		log:         log,
		metrics:     m,
		horizonDays: horizonDays,
	}
}

// GenerateMatches runs one matching pass for a client and persists the
// result. The returned matches are the surviving set in rank order.
func (s *Service) GenerateMatches(ctx context.Context, accountID, clientID string, maxResults int) ([]domain.Match, error) {
	client, err := s.store.GetClient(ctx, accountID, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	// The engine filters on status itself; hand it the full catalog.
	listings, err := s.store.ListListings(ctx, accountID, "")
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}
	existing, err := s.store.ListMatches(ctx, accountID, clientID, true)
	if err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}

	plan := s.engine.GenerateMatches(client, listings, existing, maxResults)
	if err := s.store.ApplyMatchPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("persist match plan: %w", err)
	}

	if s.metrics != nil {
		s.metrics.MatchRuns.Inc()
		s.metrics.MatchesCreated.Add(float64(len(plan.Create)))
	}
	s.log.Info("matching run complete",
		"account_id", accountID, "client_id", clientID,
		"created", len(plan.Create), "updated", len(plan.Update), "deactivated", len(plan.Deactivate))

	return plan.Matches(), nil
}

// MilestoneStatus is one milestone's schedule state, for display.
type MilestoneStatus struct {
	Milestone     domain.Milestone  `json:"milestone"`
	Status        recurrence.Status `json:"status"`
	WithinHorizon bool              `json:"within_horizon"`
}

// MilestoneOverview recomputes and persists due dates for one account's
// active milestones, then classifies each against today.
func (s *Service) MilestoneOverview(ctx context.Context, accountID string, today domain.Date) ([]MilestoneStatus, error) {
	ms, err := s.store.ListMilestones(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load milestones: %w", err)
	}

	var out []MilestoneStatus
	for _, m := range ms {
		if !m.Active {
			continue
		}
		m = s.refreshMilestone(ctx, m, today)
		out = append(out, MilestoneStatus{
			Milestone:     m,
			Status:        recurrence.Classify(today, m.NextDue),
			WithinHorizon: recurrence.WithinHorizon(today, m.NextDue, s.horizonDays),
		})
	}
	return out, nil
}

// SweepMilestones recomputes every active milestone across all accounts,
// dispatches the ones due today or overdue, and records send outcomes.
// Safe to re-run: sent milestones advance past today, and stale-version
// writes are skipped rather than fought over.
func (s *Service) SweepMilestones(ctx context.Context, today domain.Date) (dispatch.Result, error) {
	ms, err := s.store.ListActiveMilestones(ctx)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("load milestones: %w", err)
	}

	var items []dispatch.Item
	byID := make(map[string]domain.Milestone, len(ms))
	for _, m := range ms {
		m = s.refreshMilestone(ctx, m, today)
		if !milestone.Due(m, today) {
			continue
		}
		client, err := s.store.GetClient(ctx, m.AccountID, m.ClientID)
		if err != nil {
			s.log.Warn("skipping milestone without client", "milestone_id", m.ID, "err", err)
			continue
		}
		draft, err := s.drafter.Draft(ctx, mailer.DraftContext{Client: client, Milestone: &m})
		if err != nil {
			s.log.Warn("draft failed", "milestone_id", m.ID, "err", err)
			continue
		}
		byID[m.ID] = m
		items = append(items, dispatch.Item{
			ID:        m.ID,
			Recipient: client.Email,
			ToName:    client.Name,
			Subject:   draft.Subject,
			Body:      draft.Body,
		})
	}

	s.log.Info("milestone sweep dispatching", "due", len(items), "scanned", len(ms))
	res := s.dispatcher.Dispatch(ctx, items)

	// The wall clock stamps the record; the schedule advance follows the
	// sweep's own date so overridden and backfilled sweeps stay consistent.
	now := time.Now().UTC()
	for _, d := range res.Sent {
		m, ok := byID[d.ID]
		if !ok {
			continue
		}
		updated := milestone.MarkSent(m, now, today)
		if _, err := s.store.UpdateMilestone(ctx, updated); err != nil {
			if errors.Is(err, storage.ErrStale) {
				s.log.Warn("milestone changed during sweep; send recorded elsewhere", "milestone_id", m.ID)
				continue
			}
			return res, fmt.Errorf("record milestone send %s: %w", m.ID, err)
		}
	}
	return res, nil
}

// DispatchMatches sends outreach for the given matches. Matches that were
// already sent are skipped via their stored provider id, so the operation
// is safe to repeat.
func (s *Service) DispatchMatches(ctx context.Context, accountID string, matchIDs []string) (dispatch.Result, error) {
	var items []dispatch.Item
	var preFailed []dispatch.Failure

	for _, id := range matchIDs {
		m, err := s.store.GetMatch(ctx, accountID, id)
		if err != nil {
			preFailed = append(preFailed, dispatch.Failure{ID: id, Reason: err.Error()})
			continue
		}
		client, err := s.store.GetClient(ctx, accountID, m.ClientID)
		if err != nil {
			preFailed = append(preFailed, dispatch.Failure{ID: id, Reason: err.Error()})
			continue
		}
		listing, err := s.store.GetListing(ctx, accountID, m.ListingID)
		if err != nil {
			preFailed = append(preFailed, dispatch.Failure{ID: id, Reason: err.Error()})
			continue
		}
		draft, err := s.drafter.Draft(ctx, mailer.DraftContext{Client: client, Match: &m, Listing: &listing})
		if err != nil {
			preFailed = append(preFailed, dispatch.Failure{ID: id, Reason: err.Error()})
			continue
		}
		items = append(items, dispatch.Item{
			ID:        m.ID,
			Recipient: client.Email,
			ToName:    client.Name,
			Subject:   draft.Subject,
			Body:      draft.Body,
			SentRef:   m.SentEmailID,
		})
	}

	res := s.dispatcher.Dispatch(ctx, items)
	res.Failed = append(res.Failed, preFailed...)

	for _, d := range res.Sent {
		if err := s.store.SetMatchSent(ctx, accountID, d.ID, d.ProviderID); err != nil {
			return res, fmt.Errorf("record match send %s: %w", d.ID, err)
		}
	}
	return res, nil
}

// refreshMilestone recomputes a milestone's schedule and persists it when it
// changed. On a version conflict the fresher row wins and is returned.
func (s *Service) refreshMilestone(ctx context.Context, m domain.Milestone, today domain.Date) domain.Milestone {
	updated := milestone.Recompute(m, today)
	if updated.NextDue == m.NextDue && updated.Active == m.Active {
		return m
	}
	persisted, err := s.store.UpdateMilestone(ctx, updated)
	if err != nil {
		if errors.Is(err, storage.ErrStale) {
			if fresh, gerr := s.store.GetMilestone(ctx, m.AccountID, m.ID); gerr == nil {
				return fresh
			}
		}
		s.log.Warn("milestone recompute not persisted", "milestone_id", m.ID, "err", err)
		return updated
	}
	return persisted
}
