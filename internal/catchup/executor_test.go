package catchup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mergesched/internal/schedule"
	logx "mergesched/pkg/logx"
)

var testNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local) // a Wednesday

func newTestStore(t *testing.T) (schedule.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduled_merges.ini")
	st, err := schedule.Open(schedule.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func entryFiring(key string, interval int, fires map[time.Weekday]time.Time) schedule.Entry {
	return schedule.Entry{
		Key:           key,
		IntervalWeeks: interval,
		NextFire:      fires,
		Payload: schedule.Payload{
			ConnString:   "file:data.db",
			Query:        "SELECT 1",
			TemplatePath: "tpl.tmpl",
		},
	}
}

// countingExecutor records executions and can fail selected keys (matched by
// query marker, since the executor only ever sees the payload).
type countingExecutor struct {
	calls   []schedule.Payload
	failFor string
}

func (c *countingExecutor) Execute(ctx context.Context, p schedule.Payload) error {
	c.calls = append(c.calls, p)
	if c.failFor != "" && p.Query == c.failFor {
		return errors.New("executor: boom")
	}
	return nil
}

func TestRunDueCatchUpFiresOnceAndLandsInFuture(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	ctx := context.Background()

	// 20 days overdue on a weekly interval.
	stale := testNow.AddDate(0, 0, -20)
	stale = time.Date(stale.Year(), stale.Month(), stale.Day(), 9, 0, 0, 0, time.Local)
	e := entryFiring("overdue", 1, map[time.Weekday]time.Time{stale.Weekday(): stale})
	if err := st.Save(ctx, e); err != nil {
		t.Fatal(err)
	}

	exec := &countingExecutor{}
	rep, err := NewRunner(st, exec, Config{}, logx.Nop()).RunDue(ctx, testNow)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if rep.Fired != 1 || len(exec.calls) != 1 {
		t.Fatalf("fired %d times (report %+v), want exactly once", len(exec.calls), rep)
	}

	entries, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	next := entries[0].NextFire[stale.Weekday()]
	if !next.After(testNow) {
		t.Fatalf("next fire %v not in the future of %v", next, testNow)
	}
	if next.Sub(testNow) > 7*24*time.Hour {
		t.Fatalf("next fire %v overshot by more than one interval", next)
	}

	// Re-invocation right away must not fire again.
	rep, err = NewRunner(st, exec, Config{}, logx.Nop()).RunDue(ctx, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Fired != 0 || len(exec.calls) != 1 {
		t.Fatalf("second run re-fired: report %+v, calls %d", rep, len(exec.calls))
	}
}

func TestRunDueFailureIsolation(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	ctx := context.Background()

	past := testNow.AddDate(0, 0, -1)
	past = time.Date(past.Year(), past.Month(), past.Day(), 8, 0, 0, 0, time.Local)

	for _, key := range []string{"first", "second", "third"} {
		e := entryFiring(key, 1, map[time.Weekday]time.Time{past.Weekday(): past})
		e.Payload.Query = "SELECT " + key
		if err := st.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	exec := &countingExecutor{failFor: "SELECT second"}
	rep, err := NewRunner(st, exec, Config{}, logx.Nop()).RunDue(ctx, testNow)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if rep.Fired != 2 || rep.Failed != 1 {
		t.Fatalf("report %+v, want 2 fired / 1 failed", rep)
	}
	if len(exec.calls) != 3 {
		t.Fatalf("executor saw %d calls, want all 3 entries attempted", len(exec.calls))
	}

	entries, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		next := e.NextFire[past.Weekday()]
		switch e.Key {
		case "second":
			if !next.Equal(past) {
				t.Fatalf("failed entry was advanced to %v", next)
			}
		default:
			if !next.After(testNow) {
				t.Fatalf("entry %q not advanced (next %v)", e.Key, next)
			}
		}
	}
}

func TestRunDueAdvancesOnlyDueWeekdays(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	ctx := context.Background()

	overdueMon := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)  // Monday before testNow
	futureFri := time.Date(2026, 3, 6, 9, 0, 0, 0, time.Local)   // Friday after testNow
	overdueWed := time.Date(2026, 2, 18, 9, 0, 0, 0, time.Local) // two weeks back

	e := entryFiring("mixed", 2, map[time.Weekday]time.Time{
		time.Monday:    overdueMon,
		time.Wednesday: overdueWed,
		time.Friday:    futureFri,
	})
	if err := st.Save(ctx, e); err != nil {
		t.Fatal(err)
	}

	exec := &countingExecutor{}
	rep, err := NewRunner(st, exec, Config{}, logx.Nop()).RunDue(ctx, testNow)
	if err != nil {
		t.Fatal(err)
	}
	// Two overdue weekdays, one execution.
	if rep.Fired != 1 || len(exec.calls) != 1 {
		t.Fatalf("want one execution for the whole entry, got %d (report %+v)", len(exec.calls), rep)
	}

	entries, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := entries[0].NextFire
	if !got[time.Monday].After(testNow) || !got[time.Wednesday].After(testNow) {
		t.Fatalf("due weekdays not advanced: %v", got)
	}
	if !got[time.Friday].Equal(futureFri) {
		t.Fatalf("future weekday was touched: %v", got[time.Friday])
	}
}

func TestRunDueLeavesNotDueEntriesUnwritten(t *testing.T) {
	t.Parallel()
	st, path := newTestStore(t)
	ctx := context.Background()

	future := testNow.AddDate(0, 0, 2)
	future = time.Date(future.Year(), future.Month(), future.Day(), 9, 0, 0, 0, time.Local)
	if err := st.Save(ctx, entryFiring("calm", 1, map[time.Weekday]time.Time{future.Weekday(): future})); err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	exec := &countingExecutor{}
	rep, err := NewRunner(st, exec, Config{}, logx.Nop()).RunDue(ctx, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped != 1 || len(exec.calls) != 0 {
		t.Fatalf("not-due entry was touched: report %+v", rep)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("store rewritten although nothing fired")
	}
}

func TestRunDueSurfacesCorruptStore(t *testing.T) {
	t.Parallel()
	st, path := newTestStore(t)
	ctx := context.Background()

	if err := os.WriteFile(path, []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewRunner(st, &countingExecutor{}, Config{}, logx.Nop()).RunDue(ctx, testNow)
	if !errors.Is(err, schedule.ErrCorrupt) {
		t.Fatalf("want ErrCorrupt, got %v", err)
	}
}

func TestRunDueRecoversFromExecutorPanic(t *testing.T) {
	t.Parallel()
	st, _ := newTestStore(t)
	ctx := context.Background()

	past := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	a := entryFiring("panicky", 1, map[time.Weekday]time.Time{time.Monday: past})
	a.Payload.Query = "PANIC"
	b := entryFiring("steady", 1, map[time.Weekday]time.Time{time.Monday: past})
	for _, e := range []schedule.Entry{a, b} {
		if err := st.Save(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	exec := ExecutorFunc(func(ctx context.Context, p schedule.Payload) error {
		if p.Query == "PANIC" {
			panic("template exploded")
		}
		return nil
	})
	rep, err := NewRunner(st, exec, Config{}, logx.Nop()).RunDue(ctx, testNow)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if rep.Failed != 1 || rep.Fired != 1 {
		t.Fatalf("report %+v, want the panic isolated to one entry", rep)
	}
}
