package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ErrEmptyResponse is returned when a stream finishes without any text.
var ErrEmptyResponse = errors.New("backend returned an empty response")

// Gateway adapts a streaming LLMClient to the blocking Completer contract.
// It owns the wall-clock deadline; the engine above only bounds retry counts.
type Gateway struct {
	client  LLMClient
	timeout atomic.Int64 // time.Duration
}

// NewGateway wraps client. A zero timeout means no deadline.
func NewGateway(client LLMClient, timeout time.Duration) *Gateway {
	g := &Gateway{client: client}
	g.SetTimeout(timeout)
	return g
}

// SetTimeout changes the deadline of later calls; calls in flight keep theirs.
func (g *Gateway) SetTimeout(d time.Duration) { g.timeout.Store(int64(d)) }

// Timeout returns the current per-call deadline.
func (g *Gateway) Timeout() time.Duration { return time.Duration(g.timeout.Load()) }

// Complete sends messages and blocks until the whole reply has streamed in.
// Thinking blocks are dropped and a leading <think>...</think> is stripped
// before the text is handed to any parser.
func (g *Gateway) Complete(ctx context.Context, messages []Message, opts Options) (Message, error) {
	// the stream context always ends with the call so producers stop sending
	var cancel context.CancelFunc
	if d := g.Timeout(); d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	chunkCh, err := g.client.StreamChat(ctx, messages, opts)
	if err != nil {
		return Message{}, fmt.Errorf("stream init (%s): %w", g.client.Provider(), err)
	}

	text, err := CollectText(ctx, chunkCh)
	if err != nil {
		return Message{}, err
	}

	text = StripThinking(text)
	if text == "" {
		return Message{}, ErrEmptyResponse
	}
	return NewAssistantMessage(text), nil
}

// SendChunk delivers c unless ctx ends first. False means nobody is reading
// anymore and the producer should stop.
func SendChunk(ctx context.Context, ch chan<- StreamChunk, c StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// CollectText drains a chunk channel and concatenates its text blocks.
func CollectText(ctx context.Context, chunkCh <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-chunkCh:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Error != "" {
				if chunk.Fatal {
					if chunk.RawError != nil {
						return "", fmt.Errorf("%s: %w", chunk.Error, chunk.RawError)
					}
					return "", errors.New(chunk.Error)
				}
				slog.WarnContext(ctx, "Non-fatal stream error", "error", chunk.Error)
			}
			for _, b := range chunk.ContentBlocks {
				if b.Type == BlockTypeText {
					sb.WriteString(b.Text)
				}
			}
			if chunk.IsFinal {
				if chunk.FinishReason == StopReasonLength {
					slog.WarnContext(ctx, "Response truncated due to length limit")
				}
				return sb.String(), nil
			}
		}
	}
}

// StripThinking removes a leading <think>...</think> block.
func StripThinking(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "<think>") {
		return trimmed
	}
	end := strings.Index(trimmed, "</think>")
	if end < 0 {
		return trimmed
	}
	return strings.TrimSpace(trimmed[end+len("</think>"):])
}

// EstimateContextWindow sizes num_ctx from the input word count plus room
// for the reply.
func EstimateContextWindow(messages []Message, maxTokens int) int {
	words := 0
	for _, m := range messages {
		words += len(strings.Fields(m.Content))
	}
	return int(float64(words)*1.5) + maxTokens
}
