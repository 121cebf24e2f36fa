package domain

import (
	"strings"
	"time"
)

// DefaultDueSoonDays is the look-ahead used by IsDueSoon when none is given.
const DefaultDueSoonDays = 3

const dateLayout = "2006-01-02"

// Date is a calendar date as received on the wire (yyyy-MM-dd). The raw text is
// kept so that malformed values survive a round trip and simply never match.
type Date string

// NewDate formats t's calendar day.
func NewDate(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

func (d Date) IsZero() bool { return strings.TrimSpace(string(d)) == "" }

// Parse returns the calendar day at midnight UTC.
func (d Date) Parse() (time.Time, bool) {
	raw := strings.TrimSpace(string(d))
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return civilDay(t), true
	}
	return time.Time{}, false
}

// civilDay drops the time of day, keeping t's own calendar date.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsOverdue reports whether a task due on due is late as of today.
// A missing or unparsable date is never overdue.
func IsOverdue(due Date, status Status, today time.Time) bool {
	if status == StatusCompleted {
		return false
	}
	day, ok := due.Parse()
	if !ok {
		return false
	}
	return day.Before(civilDay(today))
}

// IsDueSoon reports whether due falls within [today, today+horizonDays]. A
// horizon of 0 means due today; a negative one falls back to the default.
func IsDueSoon(due Date, status Status, today time.Time, horizonDays int) bool {
	if status == StatusCompleted {
		return false
	}
	if horizonDays < 0 {
		horizonDays = DefaultDueSoonDays
	}
	day, ok := due.Parse()
	if !ok {
		return false
	}
	start := civilDay(today)
	end := start.AddDate(0, 0, horizonDays)
	return !day.Before(start) && !day.After(end)
}

// View is a task together with its derived display fields.
type View struct {
	Task
	Labels
	Overdue bool `json:"isOverdue"`
	DueSoon bool `json:"isDueSoon"`
}

// NewView derives labels and due-date flags for t relative to today.
func NewView(t Task, today time.Time, horizonDays int) (View, error) {
	labels, err := DeriveLabels(t)
	if err != nil {
		return View{}, err
	}
	return View{
		Task:    t,
		Labels:  labels,
		Overdue: IsOverdue(t.DueDate, t.Status, today),
		DueSoon: IsDueSoon(t.DueDate, t.Status, today, horizonDays),
	}, nil
}
