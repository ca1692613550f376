package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrInvalidArguments marks arguments that do not match a tool's schema.
	// Handlers report it inline and let the backend retry.
	ErrInvalidArguments = errors.New("invalid tool arguments")
	// ErrUnknownTool is returned when an invocation names no registered tool.
	ErrUnknownTool = errors.New("unknown tool")
)

// Tool is a named capability the backend may invoke through the textual
// invocation protocol. The schema describes the "parameters" object.
type Tool interface {
	Name() string
	Description() string
	Schema() *jsonschema.Schema
	// Execute performs the tool logic. Argument problems are reported as
	// errors wrapping ErrInvalidArguments; any other error aborts the exchange.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result encapsulates the outcome of a tool execution.
type Result struct {
	Content string         `json:"content"`
	Details map[string]any `json:"details,omitempty"` // Arbitrary technical metadata
}

// TextResult wraps plain text.
func TextResult(text string) *Result {
	return &Result{Content: text}
}

// SchemaJSON renders a tool schema for prompts.
func SchemaJSON(t Tool) string {
	s := t.Schema()
	if s == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Describe renders the name, description and parameter schema of each tool
// in order, the way they are embedded in instructions.
func Describe(ts []Tool) string {
	var sb strings.Builder
	for i, t := range ts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("### ")
		sb.WriteString(t.Name())
		sb.WriteString("\n")
		sb.WriteString(t.Description())
		sb.WriteString("\nParameters (JSON Schema):\n```json\n")
		sb.WriteString(SchemaJSON(t))
		sb.WriteString("\n```")
	}
	return sb.String()
}
