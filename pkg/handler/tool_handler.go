package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"kollektiv/pkg/llm"
	"kollektiv/pkg/tools"
)

const (
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

var (
	toolCallRegex = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

	// ErrNoInvocation is the failure cause for a response without any region.
	ErrNoInvocation = errors.New("no <tool_call> region found in the response")
)

// Invocation is one decoded <tool_call> region.
type Invocation struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ParsedRegion is one region of a response, decoded or not.
type ParsedRegion struct {
	Index      int
	Raw        string
	Invocation Invocation
	Err        error
}

// Call is one executed invocation, exposed as ToolHandler's success value.
type Call struct {
	Invocation
	Result *tools.Result
}

// IsToolCall reports whether text contains an invocation region opener.
func IsToolCall(text string) bool {
	return strings.Contains(text, toolCallOpen)
}

// ParseInvocations decodes every <tool_call> region of text in document
// order. Regions fail independently.
func ParseInvocations(text string) []ParsedRegion {
	matches := toolCallRegex.FindAllStringSubmatch(text, -1)
	regions := make([]ParsedRegion, 0, len(matches))
	for i, m := range matches {
		raw := strings.TrimSpace(m[1])
		inv, err := decodeInvocation(raw)
		regions = append(regions, ParsedRegion{Index: i, Raw: raw, Invocation: inv, Err: err})
	}
	return regions
}

func decodeInvocation(raw string) (Invocation, error) {
	var inv Invocation
	var err error
	for _, body := range documentCandidates(raw, false) {
		if body == "" {
			continue
		}
		inv = Invocation{}
		dec := json.NewDecoder(bytes.NewReader([]byte(body)))
		dec.DisallowUnknownFields()
		if err = dec.Decode(&inv); err == nil {
			break
		}
	}
	switch {
	case err != nil:
		return inv, fmt.Errorf("invalid tool call JSON: %w", err)
	case inv.Name == "" && strings.TrimSpace(raw) == "":
		return inv, errors.New("empty tool call")
	case inv.Name == "":
		return inv, errors.New(`tool call is missing "name"`)
	}
	if inv.Parameters == nil {
		inv.Parameters = map[string]any{}
	}
	return inv, nil
}

// ToolHandler resolves responses that invoke tools.
type ToolHandler struct {
	retryState
	registry     *tools.Registry
	maxCalls     int
	instructions string
}

// ToolOption customizes a ToolHandler.
type ToolOption func(*ToolHandler)

// WithMaxCalls limits the invocations executed per response. Extra regions
// are reported as ignored. Zero means no limit.
func WithMaxCalls(n int) ToolOption {
	return func(h *ToolHandler) { h.maxCalls = n }
}

// NewToolHandler builds a handler over registry with the given retry budget.
func NewToolHandler(registry *tools.Registry, budget int, opts ...ToolOption) *ToolHandler {
	h := &ToolHandler{
		retryState: newRetryState(budget, llm.RoleTool),
		registry:   registry,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.instructions = ToolInstructions(registry.All(), h.maxCalls == 1)
	return h
}

func (h *ToolHandler) sealed() {}

func (h *ToolHandler) Instructions() string { return h.instructions }

// Resolve executes every region of response against the registry.
// At least one executed call makes the resolution a success; parse errors,
// unknown names and argument errors are reported inline next to the results.
// Tool errors other than tools.ErrInvalidArguments are returned unchanged.
func (h *ToolHandler) Resolve(ctx context.Context, response string) (Result, error) {
	regions := ParseInvocations(response)
	if len(regions) == 0 {
		return h.fail(ErrNoInvocation)
	}

	var parts []string
	var calls []Call
	for _, r := range regions {
		n := r.Index + 1
		if h.maxCalls > 0 && r.Index >= h.maxCalls {
			parts = append(parts, fmt.Sprintf("!! Tool call #%d ignored: only %d call(s) allowed per response.", n, h.maxCalls))
			continue
		}
		if r.Err != nil {
			parts = append(parts, fmt.Sprintf("!! [ERROR]: tool call #%d could not be parsed: %v", n, r.Err))
			continue
		}

		tool, ok := h.registry.Get(r.Invocation.Name)
		if !ok {
			parts = append(parts, fmt.Sprintf("!! [ERROR]: tool call #%d: %v '%s'. Available tools: %s",
				n, tools.ErrUnknownTool, r.Invocation.Name, strings.Join(h.registry.Names(), ", ")))
			continue
		}

		slog.DebugContext(ctx, "Executing tool", "name", tool.Name(), "args", r.Invocation.Parameters)
		res, err := tool.Execute(ctx, r.Invocation.Parameters)
		if err != nil {
			if errors.Is(err, tools.ErrInvalidArguments) {
				parts = append(parts, fmt.Sprintf("!! [ERROR]: tool call #%d (%s): %v", n, tool.Name(), err))
				continue
			}
			return Result{}, fmt.Errorf("tool %s: %w", tool.Name(), err)
		}
		if res == nil {
			res = &tools.Result{}
		}

		parts = append(parts, fmt.Sprintf("Tool '%s' executed successfully.\n\n%s", tool.Name(), res.Content))
		calls = append(calls, Call{Invocation: r.Invocation, Result: res})
	}

	payload := strings.Join(parts, "\n\n")
	if len(calls) == 0 {
		return h.fail(fmt.Errorf("no tool call succeeded\n\n%s", payload))
	}
	return Result{OK: true, Message: llm.NewToolMessage(payload), Value: calls}, nil
}

// ToolInstructions renders the tool catalogue and the invocation protocol.
// forced switches the wording to a single mandatory call.
func ToolInstructions(ts []tools.Tool, forced bool) string {
	var sb strings.Builder
	if forced {
		sb.WriteString("You currently MUST use this tool next:\n\n")
	} else {
		sb.WriteString("You currently have access to the following tool(s):\n\n")
	}
	for i, t := range ts {
		fmt.Fprintf(&sb, "** Tool #%d **\nName: %s\nDescription: %s\nParameters schema:\n```json\n%s\n```\n\n",
			i, t.Name(), t.Description(), tools.SchemaJSON(t))
	}

	sb.WriteString("** How to invoke a tool **\n")
	sb.WriteString("To invoke a tool, include a region of exactly this form in your response:\n")
	sb.WriteString(toolCallOpen + `{"name": "<tool name>", "parameters": {<arguments>}}` + toolCallClose + "\n\n")
	sb.WriteString("For example:\n")
	sb.WriteString(toolCallOpen + `{"name": "foo", "parameters": {"query": "bar"}}` + toolCallClose + "\n\n")
	if forced {
		sb.WriteString("Invoke the tool exactly once and nothing else.\n")
	} else {
		sb.WriteString("You may include several regions; they are executed in order.\n")
	}
	sb.WriteString("You will receive the result in the next message.")
	return sb.String()
}
