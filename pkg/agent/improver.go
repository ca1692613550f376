package agent

import (
	"context"
	"fmt"
	"log/slog"

	"kollektiv/pkg/llm"
)

const reviseRequest = "Revise your previous answer. Address every weakness raised in the critique above " +
	"while keeping its strengths. Reply with the complete revised answer only."

// Improver refines an exchange through judge/revise rounds.
type Improver struct {
	engine     *Engine
	judge      *Judge
	iterations int
}

// NewImprover builds an improver. A non-positive iterations falls back to
// SystemConfig.ImproveIterations at run time.
func NewImprover(engine *Engine, judge *Judge, iterations int) *Improver {
	if judge == nil {
		judge = NewJudge(engine)
	}
	return &Improver{engine: engine, judge: judge, iterations: iterations}
}

// Run executes req once, then critiques and revises the result. A failing
// round stops the loop; the last accepted reply is returned without error.
func (im *Improver) Run(ctx context.Context, req Request) (Reply, error) {
	reply, err := im.engine.Chat(ctx, req)
	if err != nil {
		return Reply{}, err
	}

	iterations := im.iterations
	if iterations <= 0 {
		iterations = im.engine.SystemConfig().ImproveIterations
	}

	for i := 1; i <= iterations; i++ {
		next, err := im.revise(ctx, req)
		if err != nil {
			slog.WarnContext(ctx, "Improvement round failed, keeping last result", "round", i, "error", err)
			break
		}
		reply = next
		slog.InfoContext(ctx, "Improvement round done", "round", i, "of", iterations)
	}
	return reply, nil
}

func (im *Improver) revise(ctx context.Context, req Request) (Reply, error) {
	eval, err := im.judge.Evaluate(ctx, req.History.Transcript())
	if err != nil {
		return Reply{}, err
	}
	slog.DebugContext(ctx, "Critique received", "overall_score", eval.Summary.OverallScore)

	critique, err := json.MarshalIndent(eval, "", "  ")
	if err != nil {
		return Reply{}, fmt.Errorf("encode critique: %w", err)
	}
	// the round works on a copy and lands in the caller's log only when the
	// revised answer does
	caller := req.History
	work := caller.Clone()
	work.Append(llm.NewSystemMessage("Critique of the previous answer:\n```json\n" + string(critique) + "\n```"))

	req.History = &work
	req.Message = reviseRequest
	reply, err := im.engine.Chat(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	*caller = work
	return reply, nil
}
