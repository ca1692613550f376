package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kollektiv/pkg/handler"
	"kollektiv/pkg/llm"
	"kollektiv/pkg/tools"
)

// ToolStep executes the invocations found in the previous step's output
// against a single tool.
type ToolStep struct {
	name        string
	description string
	tool        tools.Tool
}

func NewToolStep(name, description string, tool tools.Tool) *ToolStep {
	return &ToolStep{name: name, description: description, tool: tool}
}

func (s *ToolStep) Name() string        { return s.name }
func (s *ToolStep) Description() string { return s.description }

// Instructions describe the tool and the invocation format.
func (s *ToolStep) Instructions() string {
	return "# Tools\n" + handler.ToolInstructions([]tools.Tool{s.tool}, false)
}

// Validate accepts a message whose regions all parse and name this tool.
func (s *ToolStep) Validate(msg llm.Message) error {
	if !strings.Contains(msg.Content, "<tool_call>") || !strings.Contains(msg.Content, "</tool_call>") {
		return errors.New("request must contain <tool_call> tags")
	}

	var failures []string
	for _, r := range handler.ParseInvocations(msg.Content) {
		if r.Err != nil {
			failures = append(failures, fmt.Sprintf("%q caused %q", r.Raw, r.Err.Error()))
			continue
		}
		if r.Invocation.Name != s.tool.Name() {
			failures = append(failures, fmt.Sprintf("Tool name '%s' does not match expected '%s'", r.Invocation.Name, s.tool.Name()))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("tool call validation failed:\n%s", strings.Join(failures, "\n"))
	}
	return nil
}

// Execute runs every region of the last input message and joins the
// results with blank lines. Any tool error fails the step.
func (s *ToolStep) Execute(ctx context.Context, input llm.History) (llm.Message, error) {
	request, ok := input.Last()
	if !ok {
		return llm.Message{}, llm.ErrEmptyHistory
	}

	var parts []string
	for _, r := range handler.ParseInvocations(request.Content) {
		if r.Err != nil {
			return llm.Message{}, fmt.Errorf("tool call #%d: %w", r.Index+1, r.Err)
		}
		res, err := s.tool.Execute(ctx, r.Invocation.Parameters)
		if err != nil {
			return llm.Message{}, fmt.Errorf("tool %s: %w", s.tool.Name(), err)
		}
		if res != nil {
			parts = append(parts, res.Content)
		}
	}
	if len(parts) == 0 {
		return llm.Message{}, handler.ErrNoInvocation
	}
	return llm.NewToolMessage(strings.Join(parts, "\n\n")), nil
}
