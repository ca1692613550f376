package llm

import (
	"errors"
	"strings"
)

// ErrEmptyHistory is returned by operations that need at least one message.
var ErrEmptyHistory = errors.New("history is empty")

// History is an ordered conversation log with value semantics.
// Clone produces an independent copy; negotiation branches are always
// clones so discarded attempts never reach the caller's log.
type History struct {
	messages []Message
}

// NewHistory 建立一個新的歷史紀錄
func NewHistory(msgs ...Message) History {
	h := History{messages: make([]Message, 0, len(msgs))}
	h.messages = append(h.messages, msgs...)
	return h
}

// Clone returns a full value copy.
func (h History) Clone() History {
	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return History{messages: cp}
}

// Append 加入訊息到尾端
func (h *History) Append(msgs ...Message) {
	h.messages = append(h.messages, msgs...)
}

// Prepend inserts m before every other message.
func (h *History) Prepend(m Message) {
	h.messages = append([]Message{m}, h.messages...)
}

// Messages 取得目前的對話歷史副本
func (h History) Messages() []Message {
	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

func (h History) Len() int {
	return len(h.messages)
}

// Last returns the newest message.
func (h History) Last() (Message, bool) {
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// ReplaceLast overwrites the newest message; every earlier entry is untouched.
func (h *History) ReplaceLast(m Message) error {
	if len(h.messages) == 0 {
		return ErrEmptyHistory
	}
	h.messages[len(h.messages)-1] = m
	return nil
}

// AugmentSystem appends instructions to the leading system message, inserting
// one if the history does not start with a system message.
// A history whose leading system message already carries the exact block is
// left unchanged, so calling this twice equals calling it once.
// It reports whether the history changed.
func (h *History) AugmentSystem(instructions string) bool {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return false
	}

	if len(h.messages) == 0 || h.messages[0].Role != RoleSystem {
		h.Prepend(NewSystemMessage(instructions))
		return true
	}

	lead := h.messages[0]
	if strings.Contains(lead.Content, instructions) {
		return false
	}

	if strings.TrimSpace(lead.Content) == "" {
		lead.Content = instructions
	} else {
		lead.Content = strings.TrimRight(lead.Content, "\n") + "\n\n" + instructions
	}
	h.messages[0] = lead
	return true
}

// Transcript serializes the full history as "role: content" blocks.
func (h History) Transcript() string {
	var sb strings.Builder
	for i, m := range h.messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(m.String())
	}
	return sb.String()
}

// WordCount 計算所有訊息的字數，用於估算 context window
func (h History) WordCount() int {
	n := 0
	for _, m := range h.messages {
		n += len(strings.Fields(m.Content))
	}
	return n
}
