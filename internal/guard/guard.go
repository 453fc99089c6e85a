// Package guard holds the transition tables of the workflow state machines.
package guard

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid_transition")

// InvalidTransitionError reports an edge that the state machine does not
// allow. It matches ErrInvalidTransition with errors.Is.
type InvalidTransitionError struct {
	Entity    string
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid_transition: %s %s -> %s", e.Entity, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Table lists the allowed target states for every source state.
type Table[S ~string] struct {
	entity string
	edges  map[S]map[S]struct{}
}

func NewTable[S ~string](entity string, edges map[S][]S) Table[S] {
	t := Table[S]{entity: entity, edges: make(map[S]map[S]struct{}, len(edges))}
	for from, targets := range edges {
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			set[to] = struct{}{}
		}
		t.edges[from] = set
	}
	return t
}

func (t Table[S]) Allows(from, to S) bool {
	_, ok := t.edges[from][to]
	return ok
}

// Terminal reports states with no outgoing edges.
func (t Table[S]) Terminal(state S) bool {
	return len(t.edges[state]) == 0
}

// Ensure returns an *InvalidTransitionError when from -> to is not an edge.
func (t Table[S]) Ensure(from, to S) error {
	if t.Allows(from, to) {
		return nil
	}
	return &InvalidTransitionError{Entity: t.entity, Current: string(from), Requested: string(to)}
}
