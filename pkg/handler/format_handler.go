package handler

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"kollektiv/pkg/llm"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	// wholeFenceRegex matches text that is one fenced block from start to end.
	wholeFenceRegex = regexp.MustCompile("(?s)\\A```[\\w-]*\\s*(.*?)\\s*```\\z")
	// fencedBlockRegex finds the first ```json or bare ``` block inside prose.
	fencedBlockRegex = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
)

// documentCandidates lists the readings of text to decode, in order: the
// trimmed text, then the body of a fence wrapping all of it. With embedded
// set, the first fenced block inside surrounding prose is tried last.
// Fences inside a JSON string value never shadow the raw reading.
func documentCandidates(text string, embedded bool) []string {
	text = strings.TrimSpace(text)
	out := []string{text}
	if m := wholeFenceRegex.FindStringSubmatch(text); m != nil {
		return append(out, strings.TrimSpace(m[1]))
	}
	if embedded {
		if m := fencedBlockRegex.FindStringSubmatch(text); m != nil {
			out = append(out, strings.TrimSpace(m[1]))
		}
	}
	return out
}

// Validator lets a format type add checks the schema cannot express.
type Validator interface {
	Validate() error
}

// Format describes a structured output: its schema and how to decode it.
// A Format is read-only after construction and can be shared.
type Format struct {
	Name       string
	schema     *jsonschema.Schema
	resolved   *jsonschema.Resolved
	schemaJSON string
	decode     func([]byte) (any, error)
}

// FormatOf derives a Format from T. Fields without omitempty are required
// and unknown fields are rejected.
func FormatOf[T any]() (*Format, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	name := reflect.TypeFor[T]().Name()
	if name == "" {
		name = "response"
	}

	return &Format{
		Name:       name,
		schema:     schema,
		resolved:   resolved,
		schemaJSON: string(data),
		decode: func(raw []byte) (any, error) {
			var v T
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&v); err != nil {
				return nil, err
			}
			if val, ok := any(&v).(Validator); ok {
				if err := val.Validate(); err != nil {
					return nil, err
				}
			}
			return v, nil
		},
	}, nil
}

// MustFormat is FormatOf for package-level format tables.
func MustFormat[T any]() *Format {
	f, err := FormatOf[T]()
	if err != nil {
		panic(err)
	}
	return f
}

// Schema returns the JSON Schema of the format.
func (f *Format) Schema() *jsonschema.Schema { return f.schema }

// SchemaJSON returns the indented schema document.
func (f *Format) SchemaJSON() string { return f.schemaJSON }

// Decode parses text into the format's Go type. The document may be wrapped
// in a fenced block.
func (f *Format) Decode(text string) (any, error) {
	var parseErr error
	for _, body := range documentCandidates(text, true) {
		if body == "" {
			continue
		}
		var instance any
		if err := json.Unmarshal([]byte(body), &instance); err != nil {
			parseErr = err
			continue
		}
		if err := f.resolved.Validate(instance); err != nil {
			return nil, fmt.Errorf("response does not match the schema: %w", err)
		}
		v, err := f.decode([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("response does not match the schema: %w", err)
		}
		return v, nil
	}
	if parseErr == nil {
		return nil, fmt.Errorf("empty response, expected a JSON document")
	}
	return nil, fmt.Errorf("response is not valid JSON: %w", parseErr)
}

// FormatHandler resolves responses that must carry one Format document.
type FormatHandler struct {
	retryState
	format       *Format
	instructions string
}

// NewFormatHandler builds a handler for format with the given retry budget.
func NewFormatHandler(format *Format, budget int) *FormatHandler {
	return &FormatHandler{
		retryState:   newRetryState(budget, llm.RoleSystem),
		format:       format,
		instructions: FormatInstructions(format),
	}
}

func (h *FormatHandler) sealed() {}

func (h *FormatHandler) Instructions() string { return h.instructions }

// Format returns the target format.
func (h *FormatHandler) Format() *Format { return h.format }

// Resolve decodes response. On success Value holds the decoded T and
// Message is empty.
func (h *FormatHandler) Resolve(_ context.Context, response string) (Result, error) {
	v, err := h.format.Decode(response)
	if err != nil {
		return h.fail(err)
	}
	return Result{OK: true, Value: v}, nil
}

// FormatInstructions embeds the schema and one worked example.
func FormatInstructions(f *Format) string {
	return "Your normal response MUST be formatted as JSON that conforms to this schema:\n\n" +
		"```json\n" + f.SchemaJSON() + "\n```\n\n" +
		"For example:\n" +
		"For the schema `{\"type\": \"object\", \"properties\": {\"foo\": {\"type\": \"array\", \"items\": {\"type\": \"string\"}}}, \"required\": [\"foo\"]}` " +
		"the response\n" +
		"```json\n{\"foo\": [\"bar\", \"baz\"]}\n```\n" +
		"is a well-formatted instance of the schema."
}
