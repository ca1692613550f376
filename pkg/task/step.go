// Package task runs ordered steps as a negotiated pipeline.
//
// Each step's output is validated by the step after it. A rejection sends
// the explanation back to the producing step, which runs again. A failing
// step rolls back exactly one step: the previous step runs once more with the
// error and its fresh output replaces the last history entry.
package task

import (
	"context"
	"errors"

	"kollektiv/pkg/llm"
)

var (
	// ErrEmptyPipeline is returned when a chain is built without steps.
	ErrEmptyPipeline = errors.New("pipeline has no steps")
	// ErrNegotiationLimit is returned when an opt-in rejection or rollback
	// ceiling is reached.
	ErrNegotiationLimit = errors.New("negotiation limit reached")
)

// Step is one unit of a pipeline.
type Step interface {
	Name() string
	Description() string
	// Instructions tell the previous step what this step expects as input.
	Instructions() string
	// Validate accepts or rejects the message produced by the previous step.
	// A non-nil error is the rejection, its text goes back to that step.
	Validate(msg llm.Message) error
	// Execute produces this step's message. The request is the last entry
	// of input.
	Execute(ctx context.Context, input llm.History) (llm.Message, error)
}

// Link is a position in a Chain.
type Link struct {
	Index int
	Step  Step
	chain *Chain
}

// Prev returns the link before l.
func (l Link) Prev() (Link, bool) {
	return l.chain.Link(l.Index - 1)
}

// Next returns the link after l.
func (l Link) Next() (Link, bool) {
	return l.chain.Link(l.Index + 1)
}

// Chain is an immutable ordered list of steps. Neighbors are resolved by
// index, so links hold no pointers to each other.
type Chain struct {
	steps []Step
}

// NewChain builds a chain from steps, in order.
func NewChain(steps ...Step) (*Chain, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyPipeline
	}
	cp := make([]Step, len(steps))
	copy(cp, steps)
	return &Chain{steps: cp}, nil
}

func (c *Chain) Len() int {
	return len(c.steps)
}

// Link returns the link at index i.
func (c *Chain) Link(i int) (Link, bool) {
	if i < 0 || i >= len(c.steps) {
		return Link{}, false
	}
	return Link{Index: i, Step: c.steps[i], chain: c}, true
}

// First returns the head of the chain.
func (c *Chain) First() Link {
	l, _ := c.Link(0)
	return l
}
