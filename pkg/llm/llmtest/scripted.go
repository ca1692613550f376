// Package llmtest provides deterministic backends for engine tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"kollektiv/pkg/llm"
)

// Response configures one backend turn in a scripted sequence.
type Response struct {
	Text string
	Err  error
}

// Reply is shorthand for a successful scripted turn.
func Reply(text string) Response {
	return Response{Text: text}
}

// Fail is shorthand for a backend error.
func Fail(err error) Response {
	return Response{Err: err}
}

// Call records what the engine sent on one turn.
type Call struct {
	Messages []llm.Message
	Options  llm.Options
}

// ScriptedCompleter replays responses in order and records every request.
type ScriptedCompleter struct {
	mu        sync.Mutex
	index     int
	responses []Response
	calls     []Call
}

func NewScriptedCompleter(responses ...Response) *ScriptedCompleter {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedCompleter{responses: cloned}
}

var _ llm.Completer = (*ScriptedCompleter)(nil)

func (s *ScriptedCompleter) Complete(_ context.Context, messages []llm.Message, opts llm.Options) (llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sent := make([]llm.Message, len(messages))
	copy(sent, messages)
	s.calls = append(s.calls, Call{Messages: sent, Options: opts})

	if s.index >= len(s.responses) {
		return llm.Message{}, fmt.Errorf("script exhausted at step %d", s.index+1)
	}
	current := s.responses[s.index]
	s.index++
	if current.Err != nil {
		return llm.Message{}, current.Err
	}
	return llm.NewAssistantMessage(current.Text), nil
}

// Calls returns a copy of the recorded requests.
func (s *ScriptedCompleter) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Remaining reports how many scripted responses were not consumed.
func (s *ScriptedCompleter) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses) - s.index
}

// StreamClient is a fake llm.LLMClient that emits pre-built chunks.
type StreamClient struct {
	Chunks    []llm.StreamChunk
	InitErr   error
	Transient bool
	Name      string

	mu        sync.Mutex
	calls     int
	producers sync.WaitGroup
}

var _ llm.LLMClient = (*StreamClient)(nil)

func (c *StreamClient) StreamChat(ctx context.Context, _ []llm.Message, _ llm.Options) (<-chan llm.StreamChunk, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.InitErr != nil {
		return nil, c.InitErr
	}
	// unbuffered like a slow provider: every chunk waits for the reader
	ch := make(chan llm.StreamChunk)
	c.producers.Add(1)
	go func() {
		defer c.producers.Done()
		defer close(ch)
		for _, chunk := range c.Chunks {
			if !llm.SendChunk(ctx, ch, chunk) {
				return
			}
		}
	}()
	return ch, nil
}

// Wait blocks until every stream started by StreamChat has stopped.
func (c *StreamClient) Wait() { c.producers.Wait() }

func (c *StreamClient) IsTransientError(error) bool { return c.Transient }

func (c *StreamClient) Provider() string {
	if c.Name == "" {
		return "stream-fake"
	}
	return c.Name
}

func (c *StreamClient) SetDebug(bool) {}

// CallCount reports how many times StreamChat ran.
func (c *StreamClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
