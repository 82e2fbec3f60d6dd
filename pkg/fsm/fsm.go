// Package fsm provides the small finite-state machine used by the router and
// the compliance workflow. A machine is a set of named states, each bound to
// a step that mutates a typed context and names the next state. Steps carry
// no error return: expected failures are recorded on the context, and the
// machine itself only fails on programming errors or caller cancellation.
package fsm

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/capitalize-ai/compliance-intelligence/pkg/tracing"
)

// State names one node of a machine.
type State string

// Done is the terminal state shared by every machine.
const Done State = "done"

// DefaultMaxSteps bounds a single run.
const DefaultMaxSteps = 32

var (
	// ErrUnknownState is returned when a step names a state with no handler.
	ErrUnknownState = errors.New("fsm: unknown state")
	// ErrStepLimit is returned when a run exceeds its step bound.
	ErrStepLimit = errors.New("fsm: step limit exceeded")
	// ErrAbandoned is returned when the caller's context ends between states.
	ErrAbandoned = errors.New("fsm: run abandoned")
)

// Step executes one state against the context and returns the next state.
type Step[C any] func(ctx context.Context, c *C) State

// Machine is an immutable-after-build set of states.
type Machine[C any] struct {
	name     string
	start    State
	steps    map[State]Step[C]
	order    []State
	maxSteps int
}

// New creates a machine that begins at start.
func New[C any](name string, start State) *Machine[C] {
	return &Machine[C]{
		name:     name,
		start:    start,
		steps:    make(map[State]Step[C]),
		maxSteps: DefaultMaxSteps,
	}
}

// Handle binds a step to a state. It returns the machine for chaining.
func (m *Machine[C]) Handle(s State, step Step[C]) *Machine[C] {
	if _, ok := m.steps[s]; !ok {
		m.order = append(m.order, s)
	}
	m.steps[s] = step
	return m
}

// WithMaxSteps overrides the step bound.
func (m *Machine[C]) WithMaxSteps(n int) *Machine[C] {
	if n > 0 {
		m.maxSteps = n
	}
	return m
}

// Name returns the machine name.
func (m *Machine[C]) Name() string {
	return m.name
}

// States returns the start state followed by the other registered states
// in the order they were first handled.
func (m *Machine[C]) States() []State {
	out := []State{m.start}
	for _, s := range m.order {
		if s != m.start {
			out = append(out, s)
		}
	}
	return out
}

// Run drives c from the start state until Done. The returned trace lists
// every state entered, in order, excluding Done.
func (m *Machine[C]) Run(ctx context.Context, c *C) ([]State, error) {
	trace := make([]State, 0, 8)
	current := m.start

	for i := 0; current != Done; i++ {
		if i >= m.maxSteps {
			return trace, fmt.Errorf("%w: %s after %d steps", ErrStepLimit, m.name, m.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return trace, fmt.Errorf("%w: %s at %s: %w", ErrAbandoned, m.name, current, err)
		}

		step, ok := m.steps[current]
		if !ok {
			return trace, fmt.Errorf("%w: %s has no state %q", ErrUnknownState, m.name, current)
		}

		trace = append(trace, current)
		current = m.exec(ctx, current, step, c)
	}

	return trace, nil
}

func (m *Machine[C]) exec(ctx context.Context, s State, step Step[C], c *C) State {
	ctx, span := tracing.Tracer().Start(ctx, m.name+"."+string(s))
	defer span.End()

	next := step(ctx, c)

	span.SetAttributes(attribute.String("fsm.next", string(next)))
	if _, ok := m.steps[next]; !ok && next != Done {
		span.SetStatus(codes.Error, "unknown next state")
	}
	return next
}
