package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// StateMachine holds one entry's current state
type StateMachine interface {
	State() State
	// CanFire reports whether trigger has any edge from the current state; guards are not run
	CanFire(trigger Trigger) bool
	// Fire takes the first edge whose guard passes. When every guard fails the state is
	// unchanged and the guard errors are joined under ErrGuardFailed.
	Fire(ctx context.Context, trigger Trigger) error
	// PermittedTriggers lists the triggers leaving the current state, sorted
	PermittedTriggers() []Trigger
}

type machine struct {
	current State
	table   table
}

func (m *machine) State() State {
	return m.current
}

func (m *machine) CanFire(trigger Trigger) bool {
	return len(m.table[m.current][trigger]) > 0
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	edges := m.table[m.current][trigger]
	if len(edges) == 0 {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, m.current)
	}

	var blocked []error
	for _, e := range edges {
		if e.guard != nil {
			if err := e.guard(ctx); err != nil {
				blocked = append(blocked, err)
				continue
			}
		}
		m.current = e.to
		return nil
	}
	return fmt.Errorf("%w: %s from %s: %w", ErrGuardFailed, trigger, m.current, errors.Join(blocked...))
}

func (m *machine) PermittedTriggers() []Trigger {
	triggers := make([]Trigger, 0, len(m.table[m.current]))
	for trigger, edges := range m.table[m.current] {
		if len(edges) > 0 {
			triggers = append(triggers, trigger)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
