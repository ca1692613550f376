package ollama

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"kollektiv/pkg/llm"
	"kollektiv/pkg/utils"

	"github.com/ollama/ollama/api"
)

// OllamaClient Ollama API client
type OllamaClient struct {
	client       *api.Client
	model        string
	options      map[string]any
	bufferSize   int
	debugEnabled bool
}

// SetDebug implements the llm.LLMClient interface
func (o *OllamaClient) SetDebug(enabled bool) {
	o.debugEnabled = enabled
}

// NewOllamaClient creates an Ollama client
func NewOllamaClient(model string, baseURL string, options map[string]any) (*OllamaClient, error) {
	var client *api.Client

	// Custom Transport to ensure no timeouts are imposed by the client;
	// the gateway owns the deadline through the context.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	customClient := &http.Client{
		Transport: &JSONFixingRoundTripper{Proxied: transport},
	}

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		client = api.NewClient(u, customClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &OllamaClient{
		client:     client,
		model:      model,
		options:    options,
		bufferSize: 100,
	}, nil
}

func (o *OllamaClient) Provider() string {
	return "ollama"
}

// requestOptions merges the per-call sampling parameters over the static
// options of the config file.
func (o *OllamaClient) requestOptions(opts llm.Options) map[string]any {
	merged := make(map[string]any, len(o.options)+4)
	for k, v := range o.options {
		merged[k] = v
	}
	if opts.Temperature > 0 {
		merged["temperature"] = opts.Temperature
	}
	if opts.TopP > 0 {
		merged["top_p"] = opts.TopP
	}
	if opts.ContextWindow > 0 {
		merged["num_ctx"] = opts.ContextWindow
	}
	if opts.Seed != nil {
		merged["seed"] = *opts.Seed
	} else if _, ok := merged["seed"]; !ok {
		merged["seed"] = utils.RandomSeed()
	}
	return merged
}

func (o *OllamaClient) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	apiMessages := convertMessages(messages)

	chunkCh := make(chan llm.StreamChunk, o.bufferSize)
	startResultCh := make(chan error) // Unbuffered to detect if reader is present

	go func() {
		defer close(chunkCh)

		streamVal := true
		req := &api.ChatRequest{
			Model:    o.model,
			Messages: apiMessages,
			Options:  o.requestOptions(opts),
			Stream:   &streamVal,
		}
		if len(opts.SchemaHint) > 0 {
			req.Format = []byte(opts.SchemaHint)
		}

		started := false
		var thoughtsCount int

		debugger := llm.NewStreamDebugger(ctx, o.Provider(), o.debugEnabled)
		defer debugger.Close()
		// Track chunks for log preview
		chunkIdx := 0

		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			chunkIdx++
			debugger.WriteJSON(resp)

			// First callback indicates success
			if !started {
				started = true
				select {
				case startResultCh <- nil:
				default:
				}
			}

			if resp.Message.Thinking != "" {
				thoughtsCount++
				if !llm.SendChunk(ctx, chunkCh, llm.NewThinkingChunk(resp.Message.Thinking)) {
					return ctx.Err()
				}
			}

			if resp.Message.Content != "" {
				if !llm.SendChunk(ctx, chunkCh, llm.NewTextChunk(resp.Message.Content)) {
					return ctx.Err()
				}
			}

			if resp.Done {
				usage := &llm.LLMUsage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					ThoughtsTokens:   thoughtsCount,
					StopReason:       resp.DoneReason,
				}
				if !llm.SendChunk(ctx, chunkCh, llm.NewFinalChunk(normalizeStopReason(resp.DoneReason), usage)) {
					return ctx.Err()
				}
				llm.LogUsage(ctx, o.model, usage)
			}

			return nil
		})

		if err != nil {
			slog.ErrorContext(ctx, "Stream error", "provider", "ollama", "model", o.model, "chunks", chunkIdx, "error", err)
			if !started {
				select {
				case startResultCh <- err:
				default:
					llm.SendChunk(ctx, chunkCh, llm.NewErrorChunk(fmt.Sprintf("Error loading model %s: %v", o.model, err), err, true))
				}
			} else {
				llm.SendChunk(ctx, chunkCh, llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true))
			}
		} else if !started {
			select {
			case startResultCh <- nil:
			default:
			}
		}
	}()

	// Wait for initialization result
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

// convertMessages converts messages to Ollama API format.
// Tool results travel as plain tool-role text; the engine never uses native
// tool calling.
func convertMessages(messages []llm.Message) []api.Message {
	ollamaMsgs := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		ollamaMsgs = append(ollamaMsgs, api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return ollamaMsgs
}

func normalizeStopReason(reason string) string {
	if reason == "length" {
		return llm.StopReasonLength
	}
	return llm.StopReasonStop
}

// IsTransientError implements the llm.LLMClient interface
func (o *OllamaClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	// 1. Connection related errors (Connection refused, reset)
	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "connection reset") {
		return true
	}

	// 2. High load
	if strings.Contains(errMsg, "overloaded") || strings.Contains(errMsg, "server busy") {
		return true
	}

	return false
}

//----------------------------------------------------------------
// JSONFixingRoundTripper - Interceptor that fixes illegal JSON escapes
//----------------------------------------------------------------

// JSONFixingRoundTripper intercepts response and fixes illegal escapes (e.g., \$)
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") || strings.Contains(ct, "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscapeRegex = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

func (j *jsonFixingReadCloser) Read(p []byte) (n int, err error) {
	n, err = j.body.Read(p)
	if n > 0 {
		// e.g., convert \$ to $ to avoid JSON parsing failures
		content := string(p[:n])
		fixed := illegalEscapeRegex.ReplaceAllString(content, "$1")
		if len(fixed) < len(content) {
			// Only single backslashes are removed, so the result always fits
			copy(p, fixed)
			n = len(fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
