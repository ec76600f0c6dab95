package recurrence

import (
	"errors"
	"testing"
	"time"
)

// anchorWed is Wednesday 2026-01-07.
var anchorWed = time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)

func TestNewRuleValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		days     []time.Weekday
		interval int
		hour     int
		minute   int
		wantErr  bool
	}{
		{name: "ok", days: []time.Weekday{time.Monday}, interval: 1, hour: 9, minute: 0},
		{name: "empty days", days: nil, interval: 1, hour: 9, minute: 0, wantErr: true},
		{name: "duplicate days", days: []time.Weekday{time.Monday, time.Monday}, interval: 1, hour: 9, minute: 0, wantErr: true},
		{name: "zero interval", days: []time.Weekday{time.Monday}, interval: 0, hour: 9, minute: 0, wantErr: true},
		{name: "hour high", days: []time.Weekday{time.Monday}, interval: 1, hour: 24, minute: 0, wantErr: true},
		{name: "minute high", days: []time.Weekday{time.Monday}, interval: 1, hour: 9, minute: 60, wantErr: true},
		{name: "negative hour", days: []time.Weekday{time.Monday}, interval: 1, hour: -1, minute: 0, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRule(tt.days, tt.interval, tt.hour, tt.minute, anchorWed)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("error %v is not ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRule error: %v", err)
			}
		})
	}
}

func TestNewRuleRejectsZeroAnchor(t *testing.T) {
	t.Parallel()
	_, err := NewRule([]time.Weekday{time.Monday}, 1, 9, 0, time.Time{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

// The concrete scenario: anchor Wednesday 09:00, days {Monday, Wednesday},
// every 2 weeks.
func TestNextFireAnchorWeekdayScenario(t *testing.T) {
	t.Parallel()

	// Invoked at 08:59 on the anchor Wednesday: fires that same day.
	before := time.Date(2026, 1, 7, 8, 59, 0, 0, time.UTC)
	got := NextFire(anchorWed, 2, time.Wednesday, 9, 0, before)
	want := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("at 08:59: got %v, want %v", got, want)
	}

	// Invoked at 09:01: Wednesday rolls two weeks forward, no same-day fire.
	after := time.Date(2026, 1, 7, 9, 1, 0, 0, time.UTC)
	got = NextFire(anchorWed, 2, time.Wednesday, 9, 0, after)
	want = time.Date(2026, 1, 21, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("at 09:01: got %v, want %v", got, want)
	}

	// Monday precedes Wednesday within the window, so it lands in the rolled
	// window: Monday 2026-01-19. Identical for both invocation times, and
	// never before the anchor date.
	for _, now := range []time.Time{before, after} {
		got = NextFire(anchorWed, 2, time.Monday, 9, 0, now)
		want = time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Fatalf("monday at %v: got %v, want %v", now, got, want)
		}
		if got.Before(anchorWed) {
			t.Fatalf("monday fire %v precedes anchor %v", got, anchorWed)
		}
	}
}

func TestNextFireExactlyAtFireTime(t *testing.T) {
	t.Parallel()
	// Only a strictly-past instant rolls forward; exactly-now keeps the day.
	now := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)
	got := NextFire(anchorWed, 1, time.Wednesday, 9, 0, now)
	if !got.Equal(now) {
		t.Fatalf("got %v, want %v", got, now)
	}
}

func TestNextFireLaterWeekday(t *testing.T) {
	t.Parallel()
	// Friday follows the Wednesday anchor inside the first window.
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	got := NextFire(anchorWed, 2, time.Friday, 17, 30, now)
	want := time.Date(2026, 1, 9, 17, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextFireWeeklyDegenerate(t *testing.T) {
	t.Parallel()
	// Interval 1 means every occurrence of the weekday.
	now := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	got := NextFire(anchorWed, 1, time.Wednesday, 9, 0, now)
	want := time.Date(2026, 1, 14, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextFirePureAndMonotonic(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	var prev time.Time
	for i := 0; i < 40; i++ {
		now := base.Add(time.Duration(i) * 6 * time.Hour)
		a := NextFire(anchorWed, 2, time.Wednesday, 9, 0, now)
		b := NextFire(anchorWed, 2, time.Wednesday, 9, 0, now)
		if !a.Equal(b) {
			t.Fatalf("not idempotent at %v: %v != %v", now, a, b)
		}
		if !prev.IsZero() && a.Before(prev) {
			t.Fatalf("not monotonic: now=%v fire=%v < previous %v", now, a, prev)
		}
		// Never more than one interval window in the past.
		if now.Sub(a) > 14*24*time.Hour {
			t.Fatalf("fire %v is more than one window before now %v", a, now)
		}
		prev = a
	}
}

func TestFirstFiresCoversEveryWeekday(t *testing.T) {
	t.Parallel()
	r, err := NewRule([]time.Weekday{time.Monday, time.Wednesday, time.Friday}, 2, 9, 15, anchorWed)
	if err != nil {
		t.Fatalf("NewRule: %v", err)
	}
	now := time.Date(2026, 1, 7, 8, 0, 0, 0, time.UTC)
	fires := FirstFires(r, now)
	if len(fires) != 3 {
		t.Fatalf("got %d fires, want 3", len(fires))
	}
	for d, ts := range fires {
		if ts.Weekday() != d {
			t.Fatalf("fire for %s lands on %s", WeekdayName(d), ts.Weekday())
		}
		if ts.Hour() != 9 || ts.Minute() != 15 {
			t.Fatalf("fire %v lost the time of day", ts)
		}
	}
}

func TestAdvancePastSkipsAllMissedCycles(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := now.AddDate(0, 0, -20) // 20 days overdue, weekly interval

	got := AdvancePast(stale, 1, now)
	if !got.After(now) {
		t.Fatalf("AdvancePast left %v at or before now %v", got, now)
	}
	if got.Sub(now) > 7*24*time.Hour {
		t.Fatalf("AdvancePast overshot: %v is more than one interval after %v", got, now)
	}
	if got.Hour() != stale.Hour() || got.Minute() != stale.Minute() {
		t.Fatalf("AdvancePast changed the time of day: %v", got)
	}

	// Already-future timestamps are untouched.
	future := now.AddDate(0, 0, 3)
	if got := AdvancePast(future, 1, now); !got.Equal(future) {
		t.Fatalf("AdvancePast moved a future timestamp: %v", got)
	}
}

func TestParseWeekdaysStrict(t *testing.T) {
	t.Parallel()
	days, err := ParseWeekdays([]string{"Monday", "Wednesday", "Friday"})
	if err != nil {
		t.Fatalf("ParseWeekdays: %v", err)
	}
	if len(days) != 3 || days[0] != time.Monday {
		t.Fatalf("unexpected days: %v", days)
	}

	for _, bad := range [][]string{
		{"monday"},
		{"Mon"},
		{"MONDAY"},
		{"Monday", "Monday"},
		{},
	} {
		if _, err := ParseWeekdays(bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseWeekdays(%v): want ErrValidation, got %v", bad, err)
		}
	}
}

func TestSortWeekdaysMondayFirst(t *testing.T) {
	t.Parallel()
	got := SortWeekdays([]time.Weekday{time.Sunday, time.Wednesday, time.Monday})
	want := []time.Weekday{time.Monday, time.Wednesday, time.Sunday}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
