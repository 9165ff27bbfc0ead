// Package clock provides the single authoritative wall-clock source (C1)
// and the business-hours gate all outbound dialing decisions are made
// against. It is the only component in this module that reads wall-clock
// time directly; every other component takes a Clock handle so tests stay
// deterministic (spec.md §4.1).
package clock

import (
	"fmt"
	"time"

	"github.com/handwerkcall/phoneagent/pkg/config"
)

// Clock is a monotonic-safe time source. SystemClock wraps time.Now();
// tests inject Fixed or their own fake.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now().
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Fixed is a Clock that always returns the same instant, for deterministic
// tests of time-sensitive logic.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// BusinessHoursGate implements the "may outbound call proceed now?"
// predicate of spec.md §4.1: now.local_time in [start, end) and, if
// WeekdaysOnly, now.local_weekday in Mon..Fri.
type BusinessHoursGate struct {
	clock  Clock
	cfg    *config.BusinessHoursConfig
	loc    *time.Location
}

// NewBusinessHoursGate builds a gate from a Clock and configuration. The
// timezone is resolved once via time.LoadLocation; all later comparisons
// use the Clock-supplied time converted into that location, never
// time.Now() directly (Design Decision D4 / Open Question 5).
func NewBusinessHoursGate(c Clock, cfg *config.BusinessHoursConfig) (*BusinessHoursGate, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &BusinessHoursGate{clock: c, cfg: cfg, loc: loc}, nil
}

// MayDial reports whether an outbound call may start right now, and if not,
// when the next business window opens.
func (g *BusinessHoursGate) MayDial() (ok bool, nextWindowStart time.Time) {
	now := g.clock.Now().In(g.loc)
	return g.mayDialAt(now)
}

func (g *BusinessHoursGate) mayDialAt(now time.Time) (bool, time.Time) {
	if g.isWeekdayOK(now) && g.isHourOK(now) {
		return true, time.Time{}
	}
	return false, g.nextWindowStart(now)
}

func (g *BusinessHoursGate) isWeekdayOK(t time.Time) bool {
	if !g.cfg.WeekdaysOnly {
		return true
	}
	wd := t.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

func (g *BusinessHoursGate) isHourOK(t time.Time) bool {
	h := t.Hour()
	return h >= g.cfg.StartHour && h < g.cfg.EndHour
}

// nextWindowStart walks forward day by day (bounded at 8, comfortably more
// than a long weekend) to find the next instant MayDial would return true.
func (g *BusinessHoursGate) nextWindowStart(now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), g.cfg.StartHour, 0, 0, 0, g.loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for i := 0; i <= 8; i++ {
		if g.isWeekdayOK(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
