// Package chat holds the provider-agnostic data model shared by the session,
// engine, and storage layers: messages, agents, conversation entries, and the
// chunks streamed back for one turn.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message or conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// State tags a message as in-flight or settled. A message keeps its ID across
// the streaming→final transition; finalization is an in-place update of the
// arena entry, never a replacement in a list.
type State int

const (
	StateStreaming State = iota
	StateFinal
)

// Stats carries per-turn statistics computed when a streaming message is
// finalized.
type Stats struct {
	Elapsed      time.Duration `json:"elapsed"`
	Model        string        `json:"model"`
	Tokens       int           `json:"tokens"`
	TokensPerSec float64       `json:"tokens_per_sec"`
}

// FileAttachment describes a file the user attached to a message. Only the
// descriptors travel with the conversation; content conversion happens
// upstream.
type FileAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// FunctionCall is one audit record of a tool invocation. Request is the
// canonical (key-sorted) JSON encoding of the arguments; Result is the
// diagnostic string produced by the invocation policy
// (status, attempt, duration, response or error).
type FunctionCall struct {
	Server  string `json:"server"`
	Tool    string `json:"tool"`
	Request string `json:"request"`
	Result  string `json:"result"`
}

// Message is one arena entry of a session. While State is StateStreaming the
// Content buffer grows and Tokens counts received chunks; Complete or
// CancelStream flips the entry to StateFinal in place.
type Message struct {
	ID            string           `json:"id"`
	Role          Role             `json:"role"`
	State         State            `json:"-"`
	Content       string           `json:"content"`
	Timestamp     time.Time        `json:"timestamp"`
	Agent         string           `json:"agent,omitempty"`
	Canceled      bool             `json:"canceled,omitempty"`
	Tokens        int              `json:"-"`
	Stats         *Stats           `json:"stats,omitempty"`
	Files         []FileAttachment `json:"files,omitempty"`
	FunctionCalls []FunctionCall   `json:"function_calls,omitempty"`
}

// NewFinal builds a settled message with a fresh ID.
func NewFinal(role Role, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      role,
		State:     StateFinal,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Empty reports whether the message carries neither text nor files.
func (m *Message) Empty() bool {
	return m.Content == "" && len(m.Files) == 0
}
