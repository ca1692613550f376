package task

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kollektiv/pkg/llm"
)

type fakeStep struct {
	name     string
	exec     func(n int, input llm.History) (llm.Message, error)
	validate func(msg llm.Message) error
	inputs   []llm.History
}

func (s *fakeStep) Name() string         { return s.name }
func (s *fakeStep) Description() string  { return "do " + s.name }
func (s *fakeStep) Instructions() string { return "feed " + s.name }

func (s *fakeStep) Validate(msg llm.Message) error {
	if s.validate == nil {
		return nil
	}
	return s.validate(msg)
}

func (s *fakeStep) Execute(_ context.Context, input llm.History) (llm.Message, error) {
	n := len(s.inputs)
	s.inputs = append(s.inputs, input.Clone())
	if s.exec == nil {
		return llm.NewAssistantMessage(s.name), nil
	}
	return s.exec(n, input)
}

func reply(text string) (llm.Message, error) {
	return llm.NewAssistantMessage(text), nil
}

func contents(h llm.History) []string {
	var out []string
	for _, m := range h.Messages() {
		out = append(out, m.Content)
	}
	return out
}

func TestPipelineRunsAllSteps(t *testing.T) {
	a, b := &fakeStep{name: "a"}, &fakeStep{name: "b"}
	p, err := NewPipeline("tester", []Step{a, b}, Options{})
	require.NoError(t, err)

	history, err := p.Run(context.Background(), llm.NewUserMessage("start"))
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "a", "b"}, contents(history))

	// b sees the system prompt, the input and a's output
	require.Len(t, b.inputs, 1)
	in := b.inputs[0].Messages()
	require.Len(t, in, 3)
	assert.Equal(t, llm.RoleSystem, in[0].Role)
	assert.Contains(t, in[0].Content, "- [~] 2. b")
}

func TestPipelineEmpty(t *testing.T) {
	_, err := NewPipeline("x", nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyPipeline)
}

func TestPipelineRejectionRerunsSameStep(t *testing.T) {
	a := &fakeStep{name: "a", exec: func(n int, _ llm.History) (llm.Message, error) {
		if n == 0 {
			return reply("draft")
		}
		return reply("final")
	}}
	b := &fakeStep{name: "b", validate: func(msg llm.Message) error {
		if msg.Content == "draft" {
			return errors.New("needs more work")
		}
		return nil
	}}
	p, err := NewPipeline("tester", []Step{a, b}, Options{})
	require.NoError(t, err)

	history, err := p.Run(context.Background(), llm.NewUserMessage("start"))
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "final", "b"}, contents(history))

	require.Len(t, a.inputs, 2)
	retry, ok := a.inputs[1].Last()
	require.True(t, ok)
	assert.Equal(t, llm.RoleSystem, retry.Role)
	assert.Equal(t, "needs more work", retry.Content)
}

func TestPipelineRejectionCeiling(t *testing.T) {
	a := &fakeStep{name: "a"}
	b := &fakeStep{name: "b", validate: func(llm.Message) error { return errors.New("never") }}
	p, err := NewPipeline("tester", []Step{a, b}, Options{MaxRejections: 2})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), llm.NewUserMessage("start"))
	assert.ErrorIs(t, err, ErrNegotiationLimit)
	assert.Len(t, a.inputs, 3)
	assert.Empty(t, b.inputs)
}

func TestPipelineRollbackOverwritesOnlyLastEntry(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeStep{name: "a"}
	b := &fakeStep{name: "b", exec: func(n int, _ llm.History) (llm.Message, error) {
		return reply([]string{"b1", "b2"}[min(n, 1)])
	}}
	c := &fakeStep{name: "c", exec: func(n int, input llm.History) (llm.Message, error) {
		if n == 0 {
			return llm.Message{}, boom
		}
		last, _ := input.Last()
		return reply("c after " + last.Content)
	}}
	p, err := NewPipeline("tester", []Step{a, b, c}, Options{})
	require.NoError(t, err)

	history, err := p.Run(context.Background(), llm.NewUserMessage("start"))
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "a", "b2", "c after b2"}, contents(history))

	assert.Len(t, a.inputs, 1, "rollback goes back one step only")
	require.Len(t, b.inputs, 2, "previous step re-invoked exactly once")
	errMsg, ok := b.inputs[1].Last()
	require.True(t, ok)
	assert.Equal(t, "Error: boom", errMsg.Content)
	assert.Contains(t, b.inputs[1].Messages()[0].Content, "- [~] 2. b")
}

func TestPipelineRollbackCeiling(t *testing.T) {
	a := &fakeStep{name: "a"}
	b := &fakeStep{name: "b", exec: func(int, llm.History) (llm.Message, error) {
		return llm.Message{}, errors.New("always")
	}}
	p, err := NewPipeline("tester", []Step{a, b}, Options{MaxRollbacks: 1})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), llm.NewUserMessage("start"))
	assert.ErrorIs(t, err, ErrNegotiationLimit)
	assert.Len(t, a.inputs, 2)
	assert.Len(t, b.inputs, 2)
}

func TestPipelineFirstStepFailureAborts(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeStep{name: "a", exec: func(int, llm.History) (llm.Message, error) { return llm.Message{}, boom }}
	p, err := NewPipeline("tester", []Step{a, &fakeStep{name: "b"}}, Options{})
	require.NoError(t, err)

	history, err := p.Run(context.Background(), llm.NewUserMessage("start"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start"}, contents(history))
}

func TestPipelineStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeStep{name: "a"}
	p, err := NewPipeline("tester", []Step{a}, Options{})
	require.NoError(t, err)

	_, err = p.Run(ctx, llm.NewUserMessage("start"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, a.inputs)
}

func TestSystemPrompt(t *testing.T) {
	steps := []Step{&fakeStep{name: "plan"}, &fakeStep{name: "write"}, &fakeStep{name: "check"}}
	p, err := NewPipeline("  a careful writer  ", steps, Options{})
	require.NoError(t, err)

	link, ok := p.Chain().Link(1)
	require.True(t, ok)
	prompt := p.SystemPrompt(link)

	assert.True(t, strings.HasPrefix(prompt, "# ROLE of you, the assistant:\na careful writer\n"))
	assert.Contains(t, prompt, "- [✓] 1. plan\n- [~] 2. write\n- [ ] 3. check")
	assert.Contains(t, prompt, "# Description of the current step:\ndo write")
	assert.True(t, strings.HasSuffix(prompt, "feed check"))

	last, _ := p.Chain().Link(2)
	assert.True(t, strings.HasSuffix(p.SystemPrompt(last), "do check"))
}

func TestChainLinks(t *testing.T) {
	c, err := NewChain(&fakeStep{name: "a"}, &fakeStep{name: "b"})
	require.NoError(t, err)

	first := c.First()
	_, ok := first.Prev()
	assert.False(t, ok)

	next, ok := first.Next()
	require.True(t, ok)
	assert.Equal(t, "b", next.Step.Name())

	back, ok := next.Prev()
	require.True(t, ok)
	assert.Equal(t, 0, back.Index)

	_, ok = next.Next()
	assert.False(t, ok)
}
