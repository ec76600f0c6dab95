package schedule

import (
	"errors"
	"fmt"
	"time"

	"mergesched/internal/recurrence"
)

var (
	// ErrNotFound is returned by Delete for a key that is not in the store.
	ErrNotFound = errors.New("schedule entry not found")

	// ErrCorrupt means the backing medium exists but cannot be parsed. The
	// store never repairs or truncates in this case; the state may still be
	// recoverable by hand.
	ErrCorrupt = errors.New("schedule store corrupt")

	// ErrMalformed marks a single stored record whose fields fail
	// validation. It isolates to that entry; the rest of the store loads.
	ErrMalformed = errors.New("schedule entry malformed")
)

// TimeLayout is the persisted fire-timestamp format. Naive local time, as
// the engine is explicitly not timezone-aware across regions.
const TimeLayout = "2006-01-02T15:04:05"

// Payload is carried verbatim to the action executor. The engine never
// interprets any of these fields.
type Payload struct {
	ConnString   string
	Query        string
	TemplatePath string
	OutputName   string
}

// Field is one raw persisted field. Fields the engine does not recognize
// are kept here and written back unchanged, in order.
type Field struct {
	Name  string
	Value string
}

// Entry is one persisted recurring schedule.
//
// The weekday set of the rule is the key set of NextFire: each weekday
// carries its own next concrete fire timestamp and advances independently.
// The time of day is embedded in the timestamps (and must agree across
// them); the anchor date is not persisted, as advancement after creation is
// pure week addition.
type Entry struct {
	Key           string
	IntervalWeeks int
	NextFire      map[time.Weekday]time.Time
	Payload       Payload
	Extra         []Field
}

// Validate checks the invariants of a decoded entry.
func (e *Entry) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformed)
	}
	if e.IntervalWeeks < 1 {
		return fmt.Errorf("%w: interval_weeks must be >= 1, got %d", ErrMalformed, e.IntervalWeeks)
	}
	if len(e.NextFire) == 0 {
		return fmt.Errorf("%w: no fire timestamps", ErrMalformed)
	}
	hour, minute := -1, -1
	for d, ts := range e.NextFire {
		if ts.Weekday() != d {
			return fmt.Errorf("%w: fire %s scheduled under weekday %s",
				ErrMalformed, ts.Format(TimeLayout), recurrence.WeekdayName(d))
		}
		if hour == -1 {
			hour, minute = ts.Hour(), ts.Minute()
			continue
		}
		if ts.Hour() != hour || ts.Minute() != minute {
			return fmt.Errorf("%w: fire timestamps disagree on time of day", ErrMalformed)
		}
	}
	return nil
}

// Weekdays returns the entry's weekday set in Monday-first order.
func (e *Entry) Weekdays() []time.Weekday {
	days := make([]time.Weekday, 0, len(e.NextFire))
	for d := range e.NextFire {
		days = append(days, d)
	}
	return recurrence.SortWeekdays(days)
}
