// Package recurrence computes next occurrences of annually recurring civil
// dates and classifies due dates against "today". All functions are pure.
package recurrence

import (
	"time"

	"github.com/mkarev/realtor-outreach/internal/domain"
)

// NextOccurrence returns the earliest date on or after reference that shares
// the anchor's month and day. A February 29 anchor falls back to February 28
// in non-leap years; the occurrence is moved, never dropped.
func NextOccurrence(anchor, reference domain.Date) domain.Date {
	cand := occurrenceIn(reference.Year, anchor)
	if cand.Before(reference) {
		cand = occurrenceIn(reference.Year+1, anchor)
	}
	return cand
}

func occurrenceIn(year int, anchor domain.Date) domain.Date {
	day := anchor.Day
	if anchor.Month == time.February && day == 29 && !isLeapYear(year) {
		day = 28
	}
	return domain.Date{Year: year, Month: anchor.Month, Day: day}
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// Status classifies a due date relative to today.
type Status string

const (
	StatusOverdue  Status = "overdue"
	StatusDueToday Status = "due_today"
	StatusUpcoming Status = "upcoming"
)

// Classify buckets nextDue against today. Horizon filtering is a separate,
// caller-side concern; see WithinHorizon.
func Classify(today, nextDue domain.Date) Status {
	switch {
	case nextDue.Before(today):
		return StatusOverdue
	case nextDue.Equal(today):
		return StatusDueToday
	default:
		return StatusUpcoming
	}
}

// WithinHorizon reports whether nextDue falls within horizonDays of today.
// Overdue and due-today dates are always within the horizon.
func WithinHorizon(today, nextDue domain.Date, horizonDays int) bool {
	return today.DaysUntil(nextDue) <= horizonDays
}
