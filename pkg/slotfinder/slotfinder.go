// Package slotfinder implements the scheduling slot finder (C3, spec.md
// §4.3): given scheduling preferences, it asks the Calendar collaborator
// for candidate slots and scores/ranks them. It never reserves a slot —
// booking stays the Calendar collaborator's responsibility. Grounded on
// spec.md §4.3 and original_source/.../gesundheit/scheduling.py and
// .../handwerk/scheduling.py for the scoring weights.
package slotfinder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/clock"
	"github.com/handwerkcall/phoneagent/pkg/external"
)

// TimeOfDay buckets a slot's start time for preference matching.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
)

// bucketOf classifies an hour-of-day into a TimeOfDay bucket.
func bucketOf(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h < 12:
		return Morning
	case h < 17:
		return Afternoon
	default:
		return Evening
	}
}

// Preferences is the scheduling request shape of spec.md §4.3.
type Preferences struct {
	PreferredDate      *time.Time
	PreferredTimeOfDay TimeOfDay // empty means "no preference"
	PreferredProvider  string    // provider id, empty means "no preference"
	MaxWaitHours       *int
	DurationMinutes    int
	FlexibleDate       bool
	FlexibleProvider   bool
	// UrgencyWindowHours, if set, grants a +20 score bonus to any slot
	// within this many hours of now (spec.md §4.3 "within urgency window").
	UrgencyWindowHours *int
}

// ScoredSlot pairs a candidate Slot with its computed score.
type ScoredSlot struct {
	Slot  external.Slot
	Score int
}

// Finder scores and ranks calendar slots against Preferences.
type Finder struct {
	calendar external.Calendar
	clock    clock.Clock
}

// NewFinder builds a Finder. clock is taken as a collaborator (never
// time.Now() directly) so any TTL/window computation a real Calendar cache
// performs stays insulated from DST/NTP wall-clock steps (Design Decision
// D4 / Open Question 5).
func NewFinder(calendar external.Calendar, c clock.Clock) *Finder {
	return &Finder{calendar: calendar, clock: c}
}

// Find returns up to limit candidate slots, scored and sorted descending by
// score, ties broken by earliest start, per spec.md §4.3.
func (f *Finder) Find(ctx context.Context, prefs Preferences, appointmentType string, limit int) ([]ScoredSlot, error) {
	now := f.clock.Now()
	start := now
	if prefs.PreferredDate != nil {
		start = *prefs.PreferredDate
	}

	end := start.AddDate(0, 0, 14)
	if prefs.MaxWaitHours != nil {
		alt := start.Add(time.Duration(*prefs.MaxWaitHours) * time.Hour)
		if alt.Before(end) {
			end = alt
		}
	}

	candidates, err := f.calendar.GetAvailableSlots(ctx, start, end, prefs.PreferredProvider, appointmentType, prefs.DurationMinutes)
	if err != nil {
		return nil, fmt.Errorf("slotfinder: get available slots: %w", err)
	}

	preferredDate := start
	scored := make([]ScoredSlot, 0, len(candidates))
	for _, s := range candidates {
		scored = append(scored, ScoredSlot{Slot: s, Score: f.score(s, prefs, preferredDate, now)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Slot.Start.Before(scored[j].Slot.Start)
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// score computes a candidate's score starting at 100, per spec.md §4.3.
func (f *Finder) score(s external.Slot, prefs Preferences, preferredDate, now time.Time) int {
	score := 100

	if prefs.PreferredTimeOfDay != "" && bucketOf(s.Start) != prefs.PreferredTimeOfDay {
		score -= 20
	}

	dayDiff := daysBetween(preferredDate, s.Start)
	score -= 10 * dayDiff

	if prefs.PreferredProvider != "" && s.ProviderID != prefs.PreferredProvider {
		score -= 15
	}

	if prefs.UrgencyWindowHours != nil {
		if s.Start.Sub(now) <= time.Duration(*prefs.UrgencyWindowHours)*time.Hour {
			score += 20
		}
	}

	return score
}

// daysBetween returns the absolute number of whole days between two
// instants, truncating at the day boundary (not rounding).
func daysBetween(a, b time.Time) int {
	d := b.Sub(a)
	days := int(d.Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
