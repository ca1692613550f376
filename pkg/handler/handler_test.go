package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kollektiv/pkg/llm"
	"kollektiv/pkg/tools"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

func echoRegistry(t *testing.T, extra ...tools.Tool) *tools.Registry {
	t.Helper()
	echo := tools.MustFunc("echo", "Echoes the given text.", func(_ context.Context, in echoInput) (*tools.Result, error) {
		return tools.TextResult("echo: " + in.Text), nil
	})
	reg, err := tools.NewRegistry(append([]tools.Tool{echo}, extra...)...)
	require.NoError(t, err)
	return reg
}

func TestToolHandlerEchoScenario(t *testing.T) {
	h := NewToolHandler(echoRegistry(t), 3)

	res, err := h.Resolve(context.Background(), `Sure. <tool_call>{"name": "echo", "parameters": {"text": "hi"}}</tool_call>`)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, llm.RoleTool, res.Message.Role)
	assert.Contains(t, res.Message.Content, "hi")
	assert.Equal(t, 0, h.Attempts())

	calls, ok := res.Value.([]Call)
	require.True(t, ok)
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Name)
}

func TestToolHandlerMalformedResponsesConsumeBudget(t *testing.T) {
	malformed := []string{
		"no region at all",
		`<tool_call>{"name": "echo", "parameters": </tool_call>`,
		`<tool_call>{"name": "nope", "parameters": {}}</tool_call>`,
	}

	for _, resp := range malformed {
		t.Run(resp, func(t *testing.T) {
			h := NewToolHandler(echoRegistry(t), 5)
			res, err := h.Resolve(context.Background(), resp)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, 1, h.Attempts())
			assert.Equal(t, llm.RoleTool, res.Message.Role)
			assert.Contains(t, res.Message.Content, "!! [ERROR]:")
			assert.NotContains(t, res.Message.Content, "!! [ERROR]: !! [ERROR]:")
		})
	}
}

func TestRetryBudgetOfThree(t *testing.T) {
	h := NewToolHandler(echoRegistry(t), 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := h.Resolve(ctx, "garbage")
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.Equal(t, i, h.Attempts())
		assert.Contains(t, res.Message.Content, "Retry")
	}

	_, err := h.Resolve(ctx, "garbage")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.Equal(t, 3, h.Attempts())
}

func TestToolHandlerMultipleRegionsInOrder(t *testing.T) {
	h := NewToolHandler(echoRegistry(t), 3)

	res, err := h.Resolve(context.Background(),
		`<tool_call>{"name": "echo", "parameters": {"text": "first"}}</tool_call>
		 <tool_call>{"name": "ghost", "parameters": {}}</tool_call>
		 <tool_call>{"name": "echo", "parameters": {"text": "second"}}</tool_call>`)
	require.NoError(t, err)
	require.True(t, res.OK)

	content := res.Message.Content
	assert.Contains(t, content, "unknown tool 'ghost'")
	assert.Less(t, indexOf(content, "echo: first"), indexOf(content, "ghost"))
	assert.Less(t, indexOf(content, "ghost"), indexOf(content, "echo: second"))
	assert.Len(t, res.Value.([]Call), 2)
}

func TestToolHandlerArgumentErrorsAreInline(t *testing.T) {
	h := NewToolHandler(echoRegistry(t), 3)

	res, err := h.Resolve(context.Background(), `<tool_call>{"name": "echo", "parameters": {"text": 5}}</tool_call>`)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message.Content, "invalid tool arguments")
}

func TestToolHandlerKeepsCodeFencesInArguments(t *testing.T) {
	h := NewToolHandler(echoRegistry(t), 3)
	text := "# Doc\n```go\nfmt.Println(1)\n```\n"

	res, err := h.Resolve(context.Background(),
		"<tool_call>{\"name\": \"echo\", \"parameters\": {\"text\": \"# Doc\\n```go\\nfmt.Println(1)\\n```\\n\"}}</tool_call>")
	require.NoError(t, err)
	require.True(t, res.OK, res.Message.Content)
	assert.Equal(t, 0, h.Attempts())
	calls := res.Value.([]Call)
	require.Len(t, calls, 1)
	assert.Equal(t, text, calls[0].Parameters["text"])

	// a region wrapped in a fence as a whole is still unwrapped
	res, err = h.Resolve(context.Background(),
		"<tool_call>```json\n{\"name\": \"echo\", \"parameters\": {\"text\": \"hi\"}}\n```</tool_call>")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Contains(t, res.Message.Content, "echo: hi")
}

func TestToolHandlerExecutionErrorPropagates(t *testing.T) {
	boom := errors.New("disk on fire")
	broken := tools.MustFunc("broken", "Always fails.", func(context.Context, struct{}) (*tools.Result, error) {
		return nil, boom
	})
	h := NewToolHandler(echoRegistry(t, broken), 3)

	_, err := h.Resolve(context.Background(), `<tool_call>{"name": "broken", "parameters": {}}</tool_call>`)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRetryBudgetExhausted)
}

func TestToolHandlerMaxCalls(t *testing.T) {
	h := NewToolHandler(echoRegistry(t), 3, WithMaxCalls(1))
	assert.Contains(t, h.Instructions(), "MUST use this tool next")

	res, err := h.Resolve(context.Background(),
		`<tool_call>{"name": "echo", "parameters": {"text": "a"}}</tool_call><tool_call>{"name": "echo", "parameters": {"text": "b"}}</tool_call>`)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Len(t, res.Value.([]Call), 1)
	assert.Contains(t, res.Message.Content, "#2 ignored")
}

func TestToolInstructionsListTools(t *testing.T) {
	h := NewToolHandler(echoRegistry(t), 3)
	text := h.Instructions()
	assert.Contains(t, text, "Name: echo")
	assert.Contains(t, text, "text to echo back")
	assert.Contains(t, text, `<tool_call>{"name": "foo", "parameters": {"query": "bar"}}</tool_call>`)
}

func TestParseInvocations(t *testing.T) {
	regions := ParseInvocations("<tool_call>\n```json\n{\"name\": \"a\"}\n```\n</tool_call> text <tool_call>{\"name\": \"b\", \"arguments\": {}}</tool_call>")
	require.Len(t, regions, 2)
	require.NoError(t, regions[0].Err)
	assert.Equal(t, "a", regions[0].Invocation.Name)
	assert.NotNil(t, regions[0].Invocation.Parameters)
	assert.Error(t, regions[1].Err, "legacy arguments key is not accepted")

	assert.True(t, IsToolCall("x <tool_call> y"))
	assert.False(t, IsToolCall("plain"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
