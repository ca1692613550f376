package llm

import (
	"fmt"
	"strings"
	"time"

	"kollektiv/pkg/utils"
)

//----------------------------------------------------------------
// Message - 對話中的單一訊息
//----------------------------------------------------------------

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one role-tagged text unit of a conversation.
// Messages are passed by value; History owns the only sanctioned
// mutation (augmenting the leading system message).
type Message struct {
	ID        string `json:"id,omitempty"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// NewMessage 建立指定角色的訊息
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        utils.GenerateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().Unix(),
	}
}

// NewSystemMessage 建立系統訊息
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage 建立使用者訊息
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage 建立助理訊息
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage 建立工具結果訊息
func NewToolMessage(content string) Message {
	return NewMessage(RoleTool, content)
}

// String implements fmt.Stringer as "role: content".
func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Content)
}

// Title returns the 80-column banner used when printing a message.
func (m Message) Title() string {
	label := " " + capitalize(string(m.Role)) + " "
	width := 80
	if len(label) >= width {
		return label
	}
	left := (width - len(label)) / 2
	right := width - len(label) - left
	return strings.Repeat("=", left) + label + strings.Repeat("=", right)
}

// Format renders the banner followed by the content. Debugging aid only.
func (m Message) Format() string {
	return m.Title() + "\n" + m.Content
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

//----------------------------------------------------------------
// ContentBlock / StreamChunk - 串流層使用的增量結構
//----------------------------------------------------------------

// ContentBlock is one typed fragment of a streamed backend reply.
type ContentBlock struct {
	Type string `json:"type"` // "text", "thinking", "error"
	Text string `json:"text,omitempty"`
}

// StreamChunk 表示 LLM 串流回應的一個 chunk（增量式）
type StreamChunk struct {
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`

	// 是否為最後一個 chunk
	IsFinal bool `json:"is_final"`

	// 停止原因（只在最後 chunk 有值）
	FinishReason string `json:"finish_reason,omitempty"`

	// 用量統計
	Usage *LLMUsage `json:"usage,omitempty"`

	// Error carries a provider-side failure description.
	// Fatal errors abort the collection in the Gateway; others are logged.
	Error    string `json:"error,omitempty"`
	RawError error  `json:"-"`
	Fatal    bool   `json:"fatal,omitempty"`
}

// NewTextChunk 建立文字 chunk
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{
		ContentBlocks: []ContentBlock{{Type: BlockTypeText, Text: text}},
	}
}

// NewThinkingChunk 建立思考 chunk
func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{
		ContentBlocks: []ContentBlock{{Type: BlockTypeThinking, Text: text}},
	}
}

// NewFinalChunk 建立最終 chunk（帶用量統計）
func NewFinalChunk(reason string, usage *LLMUsage) StreamChunk {
	return StreamChunk{
		IsFinal:      true,
		FinishReason: reason,
		Usage:        usage,
	}
}

// NewErrorChunk 建立錯誤 chunk
func NewErrorChunk(text string, raw error, fatal bool) StreamChunk {
	return StreamChunk{
		Error:    text,
		RawError: raw,
		Fatal:    fatal,
	}
}
