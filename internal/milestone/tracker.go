// Package milestone owns the milestone lifecycle: recomputing due dates,
// recording sends, and deciding what is due for dispatch. Functions take a
// milestone value and return the updated value; persistence is the caller's.
package milestone

import (
	"time"

	"github.com/mkarev/realtor-outreach/internal/domain"
	"github.com/mkarev/realtor-outreach/internal/recurrence"
)

// Recompute refreshes a milestone's next-due date against today. Recurring
// types roll forward to the next anniversary; once a send was recorded the
// due date never moves backwards, so recomputing on the anniversary day
// itself cannot undo the advance MarkSent made. One-off types keep the
// anchor as their due date and go inactive once the date has passed and a
// send was recorded; that state is terminal.
func Recompute(m domain.Milestone, today domain.Date) domain.Milestone {
	if !m.Active {
		return m
	}
	if m.Type.Recurring() {
		next := recurrence.NextOccurrence(m.Anchor, today)
		if m.LastSent != nil && next.Before(m.NextDue) {
			next = m.NextDue
		}
		m.NextDue = next
		return m
	}
	m.NextDue = m.Anchor
	if m.Anchor.Before(today) && m.LastSent != nil {
		m.Active = false
	}
	return m
}

// MarkSent records a send. sentAt is the wall-clock timestamp kept for the
// record; sendDate is the sweep's logical date and drives the schedule. For
// recurring types the next-due date advances past sendDate so the same cycle
// cannot trigger a second send, even when the sweep ran against an
// overridden date.
func MarkSent(m domain.Milestone, sentAt time.Time, sendDate domain.Date) domain.Milestone {
	sent := sentAt
	m.LastSent = &sent
	if m.Type.Recurring() {
		m.NextDue = recurrence.NextOccurrence(m.Anchor, sendDate.AddDays(1))
	}
	return m
}

// Due reports whether a milestone should be dispatched today. Recurring
// milestones rely on MarkSent having advanced next-due; one-off milestones
// additionally require that no send was ever recorded.
func Due(m domain.Milestone, today domain.Date) bool {
	if !m.Active || m.NextDue.After(today) {
		return false
	}
	if !m.Type.Recurring() && m.LastSent != nil {
		return false
	}
	return true
}
