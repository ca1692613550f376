package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kollektiv/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	bufferSize   int
	debugEnabled bool
}

// SetDebug implements the llm.LLMClient interface
func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a Gemini client with a single model and API key
func NewGeminiClient(apiKey string, model string, useThought bool) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
		bufferSize: 100,
	}, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

// generateConfig maps the per-call Options onto the SDK config.
func (g *GeminiClient) generateConfig(system *genai.Content, opts llm.Options) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
	}
	if g.useThought {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if opts.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(opts.TopP))
	}
	if opts.Seed != nil {
		cfg.Seed = genai.Ptr(int32(*opts.Seed))
	}
	if len(opts.SchemaHint) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(opts.SchemaHint, &schema); err == nil {
			cfg.ResponseMIMEType = "application/json"
			cfg.ResponseJsonSchema = schema
		}
	}
	return cfg
}

// StreamChat implements llm.LLMClient.StreamChat
func (g *GeminiClient) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	contents, systemInstruction := convertMessages(messages)
	config := g.generateConfig(systemInstruction, opts)

	chunkCh := make(chan llm.StreamChunk, g.bufferSize)
	startResultCh := make(chan error, 1)

	slog.DebugContext(ctx, "Streaming", "provider", "gemini", "model", g.model)

	go func() {
		defer close(chunkCh)

		iter := g.client.Models.GenerateContentStream(ctx, g.model, contents, config)

		started := false
		var lastUsage *llm.LLMUsage
		stopReason := llm.StopReasonStop

		debugger := llm.NewStreamDebugger(ctx, g.Provider(), g.debugEnabled)
		defer debugger.Close()

		for resp, err := range iter {
			if resp != nil {
				debugger.WriteJSON(resp)
			}
			if err != nil {
				// The iterator may hand back data together with the error
				if resp == nil {
					slog.ErrorContext(ctx, "Stream error", "provider", "gemini", "model", g.model, "error", err)
					if !started {
						startResultCh <- err
					} else {
						llm.SendChunk(ctx, chunkCh, llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true))
					}
					return
				}
				slog.WarnContext(ctx, "Stream error with data", "provider", "gemini", "error", err)
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			if resp.UsageMetadata != nil {
				u := resp.UsageMetadata
				lastUsage = &llm.LLMUsage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
					ThoughtsTokens:   int(u.ThoughtsTokenCount),
					CachedTokens:     int(u.CachedContentTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason == genai.FinishReasonMaxTokens {
					stopReason = llm.StopReasonLength
				}
				if candidate.Content == nil {
					continue
				}

				var blocks []llm.ContentBlock
				for _, part := range candidate.Content.Parts {
					if part.Text == "" {
						continue
					}
					if part.Thought {
						blocks = append(blocks, llm.ContentBlock{Type: llm.BlockTypeThinking, Text: part.Text})
					} else {
						blocks = append(blocks, llm.ContentBlock{Type: llm.BlockTypeText, Text: part.Text})
					}
				}
				if len(blocks) > 0 {
					if !llm.SendChunk(ctx, chunkCh, llm.StreamChunk{ContentBlocks: blocks}) {
						return
					}
				}
			}
		}

		if !started {
			startResultCh <- nil
		}
		if lastUsage != nil {
			lastUsage.StopReason = stopReason
			llm.LogUsage(ctx, g.model, lastUsage)
		}
		llm.SendChunk(ctx, chunkCh, llm.NewFinalChunk(stopReason, lastUsage))
	}()

	// Wait for initialization result (first chunk or immediate error)
	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertMessages converts message list to GenAI format.
// All system messages are merged into the SystemInstruction; tool results
// are user turns with a marker line.
func convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemParts []*genai.Part

	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, &genai.Part{Text: msg.Content})
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		case llm.RoleTool:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: "[tool result]\n" + msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = &genai.Content{Parts: systemParts}
	}
	return contents, system
}

// IsTransientError implements the llm.LLMClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	// 1. Google API common 503 Service Unavailable / Overloaded
	if strings.Contains(errMsg, "503") || strings.Contains(errMsg, "overloaded") {
		return true
	}

	// 2. 429 Too Many Requests (Rate Limit)
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted") {
		return true
	}

	// 3. 500 Internal Error (Occasional Google Gemini crashes)
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "internal error") {
		return true
	}

	return false
}
