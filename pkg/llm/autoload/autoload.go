// Package autoload registers every built-in LLM provider.
// Import it for side effects only.
package autoload

import (
	_ "kollektiv/pkg/llm/gemini"
	_ "kollektiv/pkg/llm/ollama"
	_ "kollektiv/pkg/llm/openailm"
)
