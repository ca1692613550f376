package task

import (
	"context"
	"fmt"

	"kollektiv/pkg/agent"
	"kollektiv/pkg/llm"
)

// GenerateStep asks the backend for free text through a plain exchange.
type GenerateStep struct {
	name        string
	description string
	engine      *agent.Engine
	// ContextWindow fixes num_ctx; zero sizes it from the input.
	ContextWindow int
}

func NewGenerateStep(name, description string, engine *agent.Engine) *GenerateStep {
	return &GenerateStep{name: name, description: description, engine: engine}
}

func (s *GenerateStep) Name() string                 { return s.name }
func (s *GenerateStep) Description() string          { return s.description }
func (s *GenerateStep) Instructions() string         { return s.description }
func (s *GenerateStep) Validate(_ llm.Message) error { return nil }

// Execute runs on a copy of input; the caller decides what to keep.
func (s *GenerateStep) Execute(ctx context.Context, input llm.History) (llm.Message, error) {
	h := input.Clone()
	reply, err := s.engine.Chat(ctx, agent.Request{
		History:        &h,
		ContextWindow:  s.ContextWindow,
		DynamicContext: s.ContextWindow == 0,
	})
	if err != nil {
		return llm.Message{}, fmt.Errorf("generate %q: %w", s.name, err)
	}
	return reply.Message, nil
}
