package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCloneIsolation(t *testing.T) {
	h := NewHistory(NewSystemMessage("sys"), NewUserMessage("hi"))
	branch := h.Clone()
	branch.Append(NewAssistantMessage("attempt"))
	branch.AugmentSystem("extra instructions")

	assert.Equal(t, 2, h.Len())
	assert.Equal(t, "sys", h.Messages()[0].Content)
	assert.Equal(t, 3, branch.Len())
}

func TestHistoryMessagesReturnsCopy(t *testing.T) {
	h := NewHistory(NewUserMessage("hi"))
	msgs := h.Messages()
	msgs[0].Content = "mutated"
	assert.Equal(t, "hi", h.Messages()[0].Content)
}

func TestAugmentSystemIdempotent(t *testing.T) {
	h := NewHistory(NewSystemMessage("You are helpful."), NewUserMessage("hi"))

	assert.True(t, h.AugmentSystem("Use tools."))
	once := h.Messages()[0].Content

	assert.False(t, h.AugmentSystem("Use tools."))
	assert.Equal(t, once, h.Messages()[0].Content)
	assert.Equal(t, "You are helpful.\n\nUse tools.", once)
	assert.Equal(t, 2, h.Len())
}

func TestAugmentSystemInsertsLeadingSystem(t *testing.T) {
	h := NewHistory(NewUserMessage("hi"))
	require.True(t, h.AugmentSystem("Use tools."))

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, "Use tools.", msgs[0].Content)
	assert.Equal(t, RoleUser, msgs[1].Role)
}

func TestAugmentSystemEmptyHistory(t *testing.T) {
	var h History
	assert.False(t, h.AugmentSystem("   "))
	assert.True(t, h.AugmentSystem("x"))
	assert.Equal(t, 1, h.Len())
}

func TestReplaceLast(t *testing.T) {
	var h History
	assert.ErrorIs(t, h.ReplaceLast(NewUserMessage("x")), ErrEmptyHistory)

	h.Append(NewUserMessage("a"), NewAssistantMessage("b"))
	require.NoError(t, h.ReplaceLast(NewAssistantMessage("c")))

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "c", last.Content)
	assert.Equal(t, "a", h.Messages()[0].Content)
}

func TestTranscript(t *testing.T) {
	h := NewHistory(NewUserMessage("hi"), NewAssistantMessage("hello"))
	assert.Equal(t, "user: hi\n\nassistant: hello", h.Transcript())
	assert.Equal(t, 2, h.WordCount())
}

func TestMessageTitle(t *testing.T) {
	title := NewToolMessage("x").Title()
	assert.Len(t, title, 80)
	assert.Contains(t, title, " Tool ")
}
