package chat

import (
	"time"

	"github.com/google/uuid"
)

// NewStreaming creates the in-flight assistant message for a turn. The entry
// starts with an empty buffer and keeps its ID through finalization.
func NewStreaming(agent string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		State:     StateStreaming,
		Agent:     agent,
		Timestamp: time.Now(),
	}
}

// AppendContent grows the streaming buffer. Empty text is a no-op so token
// counting only reflects chunks that carried content.
func AppendContent(m *Message, text string) {
	if text == "" {
		return
	}
	m.Content += text
	m.Tokens++
}

// Complete settles a streaming message in place. Accumulated content, files,
// agent name and canceled flag are preserved; stats and function-call records
// are attached when present.
func Complete(m *Message, stats *Stats, calls []FunctionCall) {
	m.State = StateFinal
	m.Stats = stats
	if len(calls) > 0 {
		m.FunctionCalls = append(m.FunctionCalls, calls...)
	}
}

// CancelStream settles a streaming message as canceled, keeping whatever
// content accumulated before the cancellation fired.
func CancelStream(m *Message) {
	m.State = StateFinal
	m.Canceled = true
}
