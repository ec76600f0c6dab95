package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mergesched/internal/catchup"
	logx "mergesched/pkg/logx"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	ran   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan struct{}, 16)}
}

func (f *fakeRunner) RunDue(ctx context.Context, now time.Time) (catchup.Report, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.ran <- struct{}{}
	return catchup.Report{}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type notifyLog struct {
	mu     sync.Mutex
	states []string
}

func (n *notifyLog) record(state string) {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
}

func (n *notifyLog) has(state string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.states {
		if s == state {
			return true
		}
	}
	return false
}

func TestRunFiresImmediatelyAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	notes := &notifyLog{}
	s := New(Config{RunSpec: "@hourly"}, runner, logx.Nop())
	s.notify = notes.record

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-runner.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("no immediate run")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if runner.count() != 1 {
		t.Errorf("runner ran %d times, want 1", runner.count())
	}
	if !notes.has("READY=1") {
		t.Error("READY=1 never sent")
	}
	if !notes.has("STOPPING=1") {
		t.Error("STOPPING=1 never sent")
	}
}

func TestRunRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := New(Config{RunSpec: "not a cron spec"}, newFakeRunner(), logx.Nop())
	s.notify = func(string) {}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run accepted a bad spec")
	}
}

func TestApplySurvivesBadSpec(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	s := New(Config{RunSpec: "@hourly"}, runner, logx.Nop())
	s.notify = func(string) {}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-runner.ran

	// old schedule stays armed
	s.Apply(Config{RunSpec: "@@broken"})
	// a valid replacement takes over without disturbing the loop
	s.Apply(Config{RunSpec: "@daily"})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
