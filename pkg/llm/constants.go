package llm

import "context"

// StopReason constants define normalized reasons for LLM generation termination.
// All providers must normalize their native stop reasons to these values.
const (
	StopReasonStop   = "stop"   // Normal completion
	StopReasonLength = "length" // Output truncated due to token limit
)

// ContentBlock Type constants define the supported block formats of a stream.
const (
	BlockTypeText     = "text"     // Plain text content
	BlockTypeThinking = "thinking" // Internal reasoning, never parsed
	BlockTypeError    = "error"    // Provider error surfaced mid-stream
)

// contextKey keeps context values private to this package.
type contextKey string

// DebugDirContextKey carries the exchange id used to group debug chunk
// files and log lines of one exchange.
const DebugDirContextKey contextKey = "llm_debug_dir"

// WithDebugID tags ctx with the exchange id used by debug dumps and logs.
func WithDebugID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DebugDirContextKey, id)
}

// DebugID returns the exchange id carried by ctx, or "".
func DebugID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(DebugDirContextKey).(string)
	return id
}
