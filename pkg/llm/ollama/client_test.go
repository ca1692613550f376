package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kollektiv/pkg/llm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func TestStreamChatThroughGateway(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"m","message":{"role":"assistant","content":"costs \$5"},"done":false}`)
		fmt.Fprintln(w, `{"model":"m","message":{"role":"assistant","content":" today"},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`)
	}))
	defer srv.Close()

	client, err := NewOllamaClient("m", srv.URL, map[string]any{"num_predict": 64})
	require.NoError(t, err)

	seed := 7
	msg, err := llm.NewGateway(client, 5*time.Second).Complete(context.Background(),
		[]llm.Message{llm.NewSystemMessage("sys"), llm.NewUserMessage("price?")},
		llm.Options{Temperature: 0.5, TopP: 0.9, ContextWindow: 4096, Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, "costs $5 today", msg.Content)

	opts, ok := gotBody["options"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 4096, opts["num_ctx"])
	assert.EqualValues(t, 7, opts["seed"])
	assert.EqualValues(t, 64, opts["num_predict"])
	assert.Len(t, gotBody["messages"], 2)
}

func TestRequestOptionsDrawsSeed(t *testing.T) {
	c := &OllamaClient{}
	opts := c.requestOptions(llm.Options{})
	_, ok := opts["seed"]
	assert.True(t, ok)
	_, ok = opts["temperature"]
	assert.False(t, ok)
}

func TestIsTransientError(t *testing.T) {
	c := &OllamaClient{}
	assert.True(t, c.IsTransientError(fmt.Errorf("dial tcp: connection refused")))
	assert.False(t, c.IsTransientError(fmt.Errorf("model not found")))
	assert.False(t, c.IsTransientError(nil))
}
