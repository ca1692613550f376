package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kollektiv/pkg/llm"
)

// Options bound the negotiation loops. Zero means unbounded.
type Options struct {
	// MaxRejections limits the re-runs of one step caused by rejections.
	MaxRejections int
	// MaxRollbacks limits the rollbacks triggered from one step.
	MaxRollbacks int
}

// Pipeline runs a Chain with one role prompt.
type Pipeline struct {
	role  string
	chain *Chain
	opts  Options
}

// NewPipeline builds a pipeline over steps.
func NewPipeline(role string, steps []Step, opts Options) (*Pipeline, error) {
	chain, err := NewChain(steps...)
	if err != nil {
		return nil, err
	}
	return &Pipeline{role: strings.TrimSpace(role), chain: chain, opts: opts}, nil
}

// Chain returns the steps of the pipeline.
func (p *Pipeline) Chain() *Chain {
	return p.chain
}

// Run feeds input to the first step and returns the accumulated history:
// input followed by the accepted message of every step.
func (p *Pipeline) Run(ctx context.Context, input llm.Message) (llm.History, error) {
	history := llm.NewHistory(input)
	if err := p.runStep(ctx, p.chain.First(), &history); err != nil {
		return history, err
	}
	return history, nil
}

func (p *Pipeline) runStep(ctx context.Context, link Link, history *llm.History) error {
	name := link.Step.Name()
	slog.InfoContext(ctx, "Running step", "index", link.Index+1, "of", p.chain.Len(), "step", name)

	input := p.stepInput(link, *history)
	rejections, rollbacks := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := link.Step.Execute(ctx, input)
		if err != nil {
			prev, ok := link.Prev()
			if !ok {
				return fmt.Errorf("step %q: %w", name, err)
			}

			rollbacks++
			if p.opts.MaxRollbacks > 0 && rollbacks > p.opts.MaxRollbacks {
				return fmt.Errorf("step %q: %w: %d rollbacks: %w", name, ErrNegotiationLimit, p.opts.MaxRollbacks, err)
			}
			slog.WarnContext(ctx, "Step failed, rolling back one step", "step", name, "previous", prev.Step.Name(), "error", err)

			redoInput := p.stepInput(prev, *history)
			redoInput.Append(llm.NewSystemMessage("Error: " + err.Error()))
			redo, rerr := prev.Step.Execute(ctx, redoInput)
			if rerr != nil {
				return fmt.Errorf("rollback to step %q: %w", prev.Step.Name(), rerr)
			}
			if err := history.ReplaceLast(redo); err != nil {
				return err
			}
			input = p.stepInput(link, *history)
			continue
		}

		next, ok := link.Next()
		if !ok {
			history.Append(result)
			return nil
		}

		verr := next.Step.Validate(result)
		if verr == nil {
			history.Append(result)
			return p.runStep(ctx, next, history)
		}

		rejections++
		if p.opts.MaxRejections > 0 && rejections > p.opts.MaxRejections {
			return fmt.Errorf("step %q: %w: %d rejections: %w", name, ErrNegotiationLimit, p.opts.MaxRejections, verr)
		}
		slog.InfoContext(ctx, "Output rejected by next step", "step", name, "next", next.Step.Name(), "reason", verr)
		input.Append(llm.NewSystemMessage(verr.Error()))
	}
}

// stepInput is the history with the step's system prompt in front.
func (p *Pipeline) stepInput(link Link, history llm.History) llm.History {
	input := history.Clone()
	input.Prepend(llm.NewSystemMessage(p.SystemPrompt(link)))
	return input
}

// SystemPrompt renders the role, the progress overview and the description
// of link's step, followed by what the next step expects.
func (p *Pipeline) SystemPrompt(link Link) string {
	var overview strings.Builder
	for i := 0; i < p.chain.Len(); i++ {
		l, _ := p.chain.Link(i)
		mark := " "
		switch {
		case i < link.Index:
			mark = "✓"
		case i == link.Index:
			mark = "~"
		}
		fmt.Fprintf(&overview, "- [%s] %d. %s\n", mark, i+1, l.Step.Name())
	}

	var sb strings.Builder
	sb.WriteString("# ROLE of you, the assistant:\n")
	sb.WriteString(p.role)
	sb.WriteString("\n\n# Process:\n")
	sb.WriteString("You will be guided through a multi-step process.\n")
	sb.WriteString("You might only recollect some of the previous steps, but this is the current state of the process:\n")
	sb.WriteString(strings.TrimSpace(overview.String()))
	sb.WriteString("\n\nYou are only responsible for the current step:\n")
	fmt.Fprintf(&sb, "- [~] %d. %s\n\n", link.Index+1, link.Step.Name())
	sb.WriteString("# Description of the current step:\n")
	sb.WriteString(strings.TrimSpace(link.Step.Description()))
	if next, ok := link.Next(); ok {
		if instr := strings.TrimSpace(next.Step.Instructions()); instr != "" {
			sb.WriteString("\n\n")
			sb.WriteString(instr)
		}
	}
	return strings.TrimSpace(sb.String())
}
