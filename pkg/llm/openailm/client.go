package openailm

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"kollektiv/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is a wrapper around the official OpenAI Go SDK (Responses API).
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	bufferSize   int
	options      map[string]any
}

// NewClient creates a new OpenAI client
func NewClient(provider string, apiKey string, model string, baseURL string, options map[string]any) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client:     &client,
		provider:   provider,
		model:      model,
		bufferSize: 100,
		options:    options,
	}, nil
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, etc.) is non-transient
	return false
}

// requestOptions translates the per-call Options into raw body overrides.
// Per-call values win over the static config options.
func (c *Client) requestOptions(opts llm.Options) []option.RequestOption {
	var reqOpts []option.RequestOption

	temperature, hasTemp := c.options["temperature"].(float64)
	if opts.Temperature > 0 {
		temperature, hasTemp = opts.Temperature, true
	}
	if hasTemp {
		reqOpts = append(reqOpts, option.WithJSONSet("temperature", temperature))
	}

	topP, hasTopP := c.options["top_p"].(float64)
	if opts.TopP > 0 {
		topP, hasTopP = opts.TopP, true
	}
	if hasTopP {
		reqOpts = append(reqOpts, option.WithJSONSet("top_p", topP))
	}

	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		reqOpts = append(reqOpts, option.WithJSONSet("max_output_tokens", int(maxTok)))
	}

	if len(opts.SchemaHint) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(opts.SchemaHint, &schema); err != nil {
			slog.Warn("Ignoring invalid schema hint", "provider", c.provider, "error", err)
		} else {
			reqOpts = append(reqOpts, option.WithJSONSet("text.format", map[string]any{
				"type":   "json_schema",
				"name":   "response",
				"schema": schema,
				"strict": false,
			}))
		}
	}
	return reqOpts
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	chunkCh := make(chan llm.StreamChunk, c.bufferSize)

	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(messages),
		},
	}

	// Handle unified "thinking_effort" option
	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}

	reqOpts := c.requestOptions(opts)

	go func() {
		defer close(chunkCh)

		stream := c.client.Responses.NewStreaming(ctx, params, reqOpts...)
		defer stream.Close()

		var lastFinishReason string
		var lastUsage *llm.LLMUsage

		debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
		defer debugger.Close()

		var thinkingLog strings.Builder

		for stream.Next() {
			event := stream.Current()
			if raw := rawEventJSON(event.JSON); raw != "" {
				debugger.WriteString(raw)
			}

			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				if !llm.SendChunk(ctx, chunkCh, llm.NewTextChunk(variant.Delta)) {
					return
				}

			case responses.ResponseReasoningTextDeltaEvent:
				thinkingLog.WriteString(variant.Delta)
				if !llm.SendChunk(ctx, chunkCh, llm.NewThinkingChunk(variant.Delta)) {
					return
				}

			case responses.ResponseReasoningSummaryTextDeltaEvent:
				thinkingLog.WriteString(variant.Delta)
				if !llm.SendChunk(ctx, chunkCh, llm.NewThinkingChunk(variant.Delta)) {
					return
				}

			case responses.ResponseCompletedEvent:
				lastFinishReason = llm.StopReasonStop
				if variant.Response.Usage.TotalTokens > 0 {
					lastUsage = &llm.LLMUsage{
						PromptTokens:     int(variant.Response.Usage.InputTokens),
						CompletionTokens: int(variant.Response.Usage.OutputTokens),
						TotalTokens:      int(variant.Response.Usage.TotalTokens),
						StopReason:       llm.StopReasonStop,
					}
				}

			case responses.ResponseFailedEvent:
				lastFinishReason = "failed"
				if !llm.SendChunk(ctx, chunkCh, llm.NewErrorChunk("API Response Failed", nil, true)) {
					return
				}

			case responses.ResponseIncompleteEvent:
				// Truncated output is still handed to the parser; the handler
				// decides whether it is usable.
				lastFinishReason = llm.StopReasonLength

			case responses.ResponseErrorEvent:
				if !llm.SendChunk(ctx, chunkCh, llm.NewErrorChunk(fmt.Sprintf("API Error: %s", variant.Message), nil, true)) {
					return
				}
			}
		}
		if strings.TrimSpace(thinkingLog.String()) != "" {
			slog.DebugContext(ctx, "Captured full thinking process", "provider", c.provider, "content", thinkingLog.String())
		}

		if err := stream.Err(); err != nil {
			llm.SendChunk(ctx, chunkCh, llm.NewErrorChunk(fmt.Sprintf("Stream error: %v", err), err, true))
			return
		}

		reason := llm.StopReasonStop
		if lastFinishReason != "" {
			reason = normalizeStopReason(lastFinishReason)
		}
		llm.LogUsage(ctx, c.model, lastUsage)
		llm.SendChunk(ctx, chunkCh, llm.NewFinalChunk(reason, lastUsage))
	}()

	return chunkCh, nil
}

// rawEventJSON reads the unexported raw payload the SDK keeps on every event.
func rawEventJSON(meta any) string {
	rv := reflect.ValueOf(meta)
	if rv.Kind() != reflect.Struct {
		return ""
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		if rt.Field(i).Name == "raw" && rv.Field(i).Kind() == reflect.String {
			return rv.Field(i).String()
		}
	}
	return ""
}

// convertMessages maps conversation roles to Responses input items.
// The Responses API has no free-text tool role, so tool results are sent as
// user turns with a marker line.
func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleSystem))
		case llm.RoleAssistant:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfMessage("[tool result]\n"+m.Content, responses.EasyInputMessageRoleUser))
		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		}
	}

	return items
}

// normalizeStopReason converts OpenAI-specific finish_reason to
// a standardized lowercase format.
func normalizeStopReason(reason string) string {
	switch strings.ToLower(reason) {
	case "stop", "completed":
		return llm.StopReasonStop
	case "length", "incomplete":
		return llm.StopReasonLength
	default:
		return reason
	}
}
