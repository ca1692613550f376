package tools

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Func adapts a typed Go function into a Tool. The parameter schema is
// derived from In and every call is validated against it before decoding.
type Func[In any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	resolved    *jsonschema.Resolved
	fn          func(ctx context.Context, in In) (*Result, error)
}

// NewFunc builds a Func tool. In must be a struct type; its exported fields
// without omitempty are required.
func NewFunc[In any](name, description string, fn func(ctx context.Context, in In) (*Result, error)) (*Func[In], error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: infer schema: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: resolve schema: %w", name, err)
	}
	return &Func[In]{
		name:        name,
		description: description,
		schema:      schema,
		resolved:    resolved,
		fn:          fn,
	}, nil
}

// MustFunc is NewFunc for package-level tool tables; it panics on a bad In.
func MustFunc[In any](name, description string, fn func(ctx context.Context, in In) (*Result, error)) *Func[In] {
	f, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Func[In]) Name() string               { return f.name }
func (f *Func[In]) Description() string        { return f.description }
func (f *Func[In]) Schema() *jsonschema.Schema { return f.schema }

// Execute validates args, decodes them into In and runs the function.
func (f *Func[In]) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	in, err := f.decode(args)
	if err != nil {
		return nil, err
	}
	return f.fn(ctx, in)
}

func (f *Func[In]) decode(args map[string]any) (In, error) {
	var in In

	// Round-trip through JSON so numbers are float64 the way the validator
	// expects, whatever produced the map.
	raw, err := json.Marshal(args)
	if err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := f.resolved.Validate(instance); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return in, nil
}
