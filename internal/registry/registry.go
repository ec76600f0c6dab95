// Package registry is the write side of the scheduler: it turns a recurrence
// rule plus an action payload into a persisted schedule entry, and removes
// entries on request.
package registry

import (
	"context"
	"fmt"
	"time"

	"mergesched/internal/recurrence"
	"mergesched/internal/schedule"
	logx "mergesched/pkg/logx"
)

// Checker validates an action payload before it is persisted. The merge
// generator implements it; a nil Checker skips payload validation.
type Checker interface {
	Check(ctx context.Context, p schedule.Payload) error
}

type Registry struct {
	store schedule.Store
	keys  schedule.KeyGenerator
	check Checker
	log   logx.Logger

	now func() time.Time
}

func New(st schedule.Store, keys schedule.KeyGenerator, check Checker, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store: st,
		keys:  keys,
		check: check,
		log:   log,
		now:   time.Now,
	}
}

// Add registers a new schedule entry and returns its key. The rule and the
// payload are both validated up front; nothing is written if either fails.
// First fire times are computed from the rule's anchor, so a fire earlier
// today is deferred a full interval rather than firing immediately.
func (r *Registry) Add(ctx context.Context, rule recurrence.Rule, p schedule.Payload) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	if r.check != nil {
		if err := r.check.Check(ctx, p); err != nil {
			return "", fmt.Errorf("payload rejected: %w", err)
		}
	}

	key, err := r.keys.Generate(ctx, r.store, p.TemplatePath, rule.Hour, rule.Minute, rule.IntervalWeeks)
	if err != nil {
		return "", err
	}

	e := schedule.Entry{
		Key:           key,
		IntervalWeeks: rule.IntervalWeeks,
		NextFire:      recurrence.FirstFires(rule, r.now()),
		Payload:       p,
	}
	if err := r.store.Save(ctx, e); err != nil {
		return "", fmt.Errorf("save entry: %w", err)
	}

	r.log.Info("schedule registered",
		logx.String("key", key), logx.Int("weekdays", len(e.NextFire)))
	return key, nil
}

// Remove deletes the entry with the given key. Unknown keys fail with
// schedule.ErrNotFound.
func (r *Registry) Remove(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return err
	}
	r.log.Info("schedule removed", logx.String("key", key))
	return nil
}

// List returns every entry in store order.
func (r *Registry) List(ctx context.Context) ([]schedule.Entry, error) {
	return r.store.LoadAll(ctx)
}
