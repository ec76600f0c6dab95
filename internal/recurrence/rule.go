package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks malformed rule parameters. It is returned (wrapped)
// from NewRule and Rule.Validate, before anything is persisted.
var ErrValidation = errors.New("invalid recurrence rule")

// Rule describes a weekly recurrence: fire on each listed weekday at
// Hour:Minute, every IntervalWeeks weeks, with week arithmetic anchored at
// the Anchor date.
//
// The anchor does not itself have to fall on one of the listed weekdays; it
// only fixes where the interval windows start.
type Rule struct {
	Weekdays      []time.Weekday
	IntervalWeeks int
	Hour          int
	Minute        int
	Anchor        time.Time
}

// NewRule validates the parameters and returns a normalized rule (anchor
// truncated to its calendar date, weekdays in Monday-first order).
func NewRule(weekdays []time.Weekday, intervalWeeks, hour, minute int, anchor time.Time) (Rule, error) {
	r := Rule{
		Weekdays:      SortWeekdays(weekdays),
		IntervalWeeks: intervalWeeks,
		Hour:          hour,
		Minute:        minute,
		Anchor:        truncateToDate(anchor),
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

func (r Rule) Validate() error {
	if len(r.Weekdays) == 0 {
		return fmt.Errorf("%w: weekday list is empty", ErrValidation)
	}
	seen := map[time.Weekday]bool{}
	for _, d := range r.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: unknown weekday %d", ErrValidation, int(d))
		}
		if seen[d] {
			return fmt.Errorf("%w: duplicate weekday %s", ErrValidation, WeekdayName(d))
		}
		seen[d] = true
	}
	if r.IntervalWeeks < 1 {
		return fmt.Errorf("%w: interval must be >= 1 week, got %d", ErrValidation, r.IntervalWeeks)
	}
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("%w: hour must be 0..23, got %d", ErrValidation, r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("%w: minute must be 0..59, got %d", ErrValidation, r.Minute)
	}
	if r.Anchor.IsZero() {
		return fmt.Errorf("%w: anchor date is not set", ErrValidation)
	}
	return nil
}

// NextFire computes the next datetime at which (target weekday, hour:minute)
// occurs, consistent with an intervalWeeks recurrence anchored at anchor.
//
// Pure function of its inputs: no clock reads, no state. Each weekday is
// computed independently; results are never merged into one scalar.
//
// Rules, per the anchored-week arithmetic:
//   - target == anchor weekday: the candidate is the anchor date itself at
//     hour:minute. If that instant is strictly before now, it moves forward
//     one full interval (the anchor day must not double-fire when its time
//     already passed).
//   - otherwise: the nearest occurrence of target on or after the anchor
//     within the current interval window; when the target already passed
//     inside that window, the window rolls forward by intervalWeeks first.
//     The result is always >= the anchor date.
func NextFire(anchor time.Time, intervalWeeks int, target time.Weekday, hour, minute int, now time.Time) time.Time {
	if intervalWeeks < 1 {
		intervalWeeks = 1
	}
	anchorDate := truncateToDate(anchor)
	day := anchorDate

	if target == anchorDate.Weekday() {
		candidate := at(day, hour, minute)
		if candidate.Before(now) {
			day = day.AddDate(0, 0, 7*intervalWeeks)
		}
	} else {
		// Monday-first indices keep the offset arithmetic aligned with the
		// week window (Go's time.Weekday starts the week on Sunday).
		diff := mondayIndex(anchorDate.Weekday()) - mondayIndex(target)
		if diff < 0 {
			day = day.AddDate(0, 0, -diff)
		} else {
			day = day.AddDate(0, 0, 7*intervalWeeks-diff)
		}
	}

	return at(day, hour, minute)
}

// FirstFires computes the initial per-weekday fire timestamps for a new
// entry, one per weekday in the rule.
func FirstFires(r Rule, now time.Time) map[time.Weekday]time.Time {
	fires := make(map[time.Weekday]time.Time, len(r.Weekdays))
	for _, d := range r.Weekdays {
		fires[d] = NextFire(r.Anchor, r.IntervalWeeks, d, r.Hour, r.Minute, now)
	}
	return fires
}

// Advance moves a fire timestamp forward by one interval, preserving the
// time of day.
func Advance(t time.Time, intervalWeeks int) time.Time {
	if intervalWeeks < 1 {
		intervalWeeks = 1
	}
	return t.AddDate(0, 0, 7*intervalWeeks)
}

// AdvancePast moves a fire timestamp forward by whole intervals until it is
// strictly after now. This is the catch-up fast-forward: an entry overdue by
// many cycles lands in the future in one step instead of one cycle per run.
func AdvancePast(t time.Time, intervalWeeks int, now time.Time) time.Time {
	if intervalWeeks < 1 {
		intervalWeeks = 1
	}
	for !t.After(now) {
		t = t.AddDate(0, 0, 7*intervalWeeks)
	}
	return t
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func truncateToDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
