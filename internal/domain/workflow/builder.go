package workflow

import (
	"context"
	"fmt"
)

// GuardFunc decides whether a transition may happen; a non-nil error blocks it and is
// reported wrapped in ErrGuardFailed
type GuardFunc func(ctx context.Context) error

// StateMachineBuilder collects the transition table of an entry lifecycle
type StateMachineBuilder interface {
	Configure(state State) StateConfiguration
	// Build snapshots the table; later Configure calls do not affect the machine
	Build(initialState State) StateMachine
}

// StateConfiguration adds the transitions leaving one state
type StateConfiguration interface {
	Permit(trigger Trigger, toState State) StateConfiguration
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type edge struct {
	to    State
	guard GuardFunc
}

// table maps a state and trigger to candidate edges, tried in order
type table map[State]map[Trigger][]edge

func (t table) clone() table {
	cp := make(table, len(t))
	for state, byTrigger := range t {
		cp[state] = make(map[Trigger][]edge, len(byTrigger))
		for trigger, edges := range byTrigger {
			cp[state][trigger] = append([]edge(nil), edges...)
		}
	}
	return cp
}

type builder struct {
	table table
}

type stateRow struct {
	from  State
	table table
}

// NewBuilder creates an empty lifecycle builder. Unknown states panic, since tables are
// static program data.
func NewBuilder() StateMachineBuilder {
	return &builder{table: table{}}
}

func (b *builder) Configure(state State) StateConfiguration {
	mustBeValid("state", state)
	if _, ok := b.table[state]; !ok {
		b.table[state] = map[Trigger][]edge{}
	}
	return &stateRow{from: state, table: b.table}
}

func (b *builder) Build(initialState State) StateMachine {
	mustBeValid("initial state", initialState)
	return &machine{current: initialState, table: b.table.clone()}
}

func (r *stateRow) Permit(trigger Trigger, toState State) StateConfiguration {
	return r.PermitIf(trigger, toState, nil)
}

func (r *stateRow) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	mustBeValid("target state", toState)
	r.table[r.from][trigger] = append(r.table[r.from][trigger], edge{to: toState, guard: guard})
	return r
}

func mustBeValid(what string, s State) {
	if !s.IsValid() {
		panic(fmt.Sprintf("workflow: invalid %s %q", what, s))
	}
}
