package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kollektiv/pkg/llm"
)

type fooDoc struct {
	Foo []string `json:"foo" jsonschema:"a list of strings"`
}

type scored struct {
	Score int    `json:"score"`
	Note  string `json:"note,omitempty"`
}

func (s *scored) Validate() error {
	if s.Score < 1 || s.Score > 5 {
		return errors.New("score must be between 1 and 5")
	}
	return nil
}

func TestFormatHandlerFooScenario(t *testing.T) {
	h := NewFormatHandler(MustFormat[fooDoc](), 3)

	res, err := h.Resolve(context.Background(), "```json {\"foo\": [\"a\",\"b\"]} ```")
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, fooDoc{Foo: []string{"a", "b"}}, res.Value)
}

func TestFormatRoundTripIsLossless(t *testing.T) {
	f := MustFormat[fooDoc]()

	first, err := f.Decode("```json\n{\"foo\": [\"x\", \"y z\", \"\"]}\n```")
	require.NoError(t, err)

	data, err := json.Marshal(first)
	require.NoError(t, err)
	second, err := f.Decode(string(data))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFormatAcceptsRawDocument(t *testing.T) {
	v, err := MustFormat[fooDoc]().Decode(`  {"foo": []}  `)
	require.NoError(t, err)
	assert.Equal(t, fooDoc{Foo: []string{}}, v)
}

func TestFormatKeepsFencesInsideValues(t *testing.T) {
	f := MustFormat[fooDoc]()

	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{"raw with inline fence", "{\"foo\": [\"use ```go``` blocks\"]}", []string{"use ```go``` blocks"}},
		{"fenced with inner fence", "```json\n{\"foo\": [\"```sh\\nls\\n```\"]}\n```", []string{"```sh\nls\n```"}},
		{"fence inside prose", "Here it is:\n```json\n{\"foo\": [\"a\"]}\n```\nDone.", []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := f.Decode(tt.response)
			require.NoError(t, err)
			assert.Equal(t, fooDoc{Foo: tt.want}, v)
		})
	}

	h := NewFormatHandler(f, 3)
	res, err := h.Resolve(context.Background(), "{\"foo\": [\"use ```go``` blocks\"]}")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 0, h.Attempts())
}

func TestFormatHandlerFailures(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "I think the answer is foo"},
		{"missing required", `{}`},
		{"wrong type", `{"foo": "a"}`},
		{"unknown field", `{"foo": [], "bar": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewFormatHandler(MustFormat[fooDoc](), 3)
			res, err := h.Resolve(context.Background(), tt.response)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, 1, h.Attempts())
			assert.Equal(t, llm.RoleSystem, res.Message.Role)
			assert.Contains(t, res.Message.Content, "did not adhere to the requested format")
		})
	}
}

func TestFormatRunsValidator(t *testing.T) {
	h := NewFormatHandler(MustFormat[scored](), 1)

	res, err := h.Resolve(context.Background(), `{"score": 9}`)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message.Content, "between 1 and 5")

	_, err = h.Resolve(context.Background(), `{"score": 9}`)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
}

func TestFormatInstructionsEmbedSchemaAndExample(t *testing.T) {
	h := NewFormatHandler(MustFormat[fooDoc](), 3)
	text := h.Instructions()
	assert.Contains(t, text, "a list of strings")
	assert.Contains(t, text, `{"foo": ["bar", "baz"]}`)
	assert.Equal(t, "fooDoc", h.Format().Name)
}

func TestDefaultBudget(t *testing.T) {
	h := NewFormatHandler(MustFormat[fooDoc](), 0)
	assert.Equal(t, DefaultBudget, h.Budget())
}
