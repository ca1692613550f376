// Package handler turns free-form backend text into typed results.
//
// A Handler owns a retry budget. Each failed resolution consumes one attempt
// and yields a feedback message for the backend; once the budget is spent the
// next failure is returned as an error wrapping ErrRetryBudgetExhausted.
// The budget covers whatever scope the caller constructs the handler for:
// one whole free-order exchange or one forced step. Handlers are not safe for
// reuse across exchanges.
package handler

import (
	"context"
	"errors"
	"fmt"

	"kollektiv/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrRetryBudgetExhausted is returned once a handler fails more often than its
// budget allows.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// DefaultBudget is used when a handler is built with a non-positive budget.
const DefaultBudget = 3

// Handler is implemented by ToolHandler and FormatHandler only.
type Handler interface {
	// Instructions is the text appended to the leading system message.
	Instructions() string
	// Resolve interprets one backend response.
	// A nil error with OK=false carries feedback in Message.
	Resolve(ctx context.Context, response string) (Result, error)
	Attempts() int
	Budget() int

	sealed()
}

// Result is the outcome of one Resolve call.
type Result struct {
	OK bool
	// Message is the tool output on success (ToolHandler) or the feedback to
	// append on failure.
	Message llm.Message
	// Value is []Call for ToolHandler and the decoded format value for
	// FormatHandler.
	Value any
}

//----------------------------------------------------------------
// retry bookkeeping shared by both handlers
//----------------------------------------------------------------

type retryState struct {
	budget   int
	attempts int
	// feedbackRole is tool for ToolHandler and system for FormatHandler.
	feedbackRole llm.Role
}

func newRetryState(budget int, role llm.Role) retryState {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return retryState{budget: budget, feedbackRole: role}
}

func (r *retryState) Attempts() int { return r.attempts }
func (r *retryState) Budget() int   { return r.budget }

// fail records one failed attempt. The attempt counter never exceeds budget.
func (r *retryState) fail(cause error) (Result, error) {
	if r.attempts >= r.budget {
		return Result{}, fmt.Errorf("%w after %d retries: %w", ErrRetryBudgetExhausted, r.attempts, cause)
	}
	r.attempts++
	return Result{
		OK:      false,
		Message: llm.NewMessage(r.feedbackRole, Feedback(cause, r.attempts, r.budget)),
	}, nil
}

// Feedback renders the correction message sent back to the backend.
func Feedback(cause error, attempt, budget int) string {
	return fmt.Sprintf(
		"!! [ERROR]: %v\n"+
			"!! If you see this message, it means that your output did not adhere to the requested format.\n"+
			"!! Retry %d of %d.",
		cause, attempt, budget)
}
