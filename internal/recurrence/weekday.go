package recurrence

import (
	"fmt"
	"sort"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
	"Sunday":    time.Sunday,
}

// ParseWeekday accepts the full English day name, capitalized
// ("Monday" .. "Sunday"). No abbreviations, no case folding: the name is
// also a persisted store token, so the accepted form stays strict.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[s]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q (use full capitalized names, e.g. \"Monday\")", ErrValidation, s)
	}
	return d, nil
}

// ParseWeekdays parses a list of day names, rejecting duplicates.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: weekday list is empty", ErrValidation)
	}
	out := make([]time.Weekday, 0, len(names))
	seen := map[time.Weekday]bool{}
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return nil, err
		}
		if seen[d] {
			return nil, fmt.Errorf("%w: duplicate weekday %q", ErrValidation, n)
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}

// WeekdayName returns the canonical persisted token for a weekday.
func WeekdayName(d time.Weekday) string {
	return d.String()
}

// SortWeekdays returns a Monday-first sorted copy.
func SortWeekdays(days []time.Weekday) []time.Weekday {
	out := append([]time.Weekday(nil), days...)
	sort.Slice(out, func(i, j int) bool {
		return mondayIndex(out[i]) < mondayIndex(out[j])
	})
	return out
}

// mondayIndex maps time.Weekday to a Monday=0 .. Sunday=6 index.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
