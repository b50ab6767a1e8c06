package chat

import (
	"fmt"
	"strings"
)

// ToolCall is one function invocation requested by the model, already decoded
// from the provider wire format.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Entry is one provider-agnostic conversation turn as sent to a provider.
// ToolCalls is set on assistant entries that requested tools; ToolCallID and
// ToolName identify the call a tool-role entry answers.
type Entry struct {
	Role       Role
	Content    string
	ToolCallID string
	ToolName   string
	ToolCalls  []ToolCall
}

// FilterHistory returns the model-visible view of a message list: messages
// still streaming are dropped, as are messages with no text and no files.
// The function is pure, order-preserving, and idempotent.
func FilterHistory(messages []*Message) []*Message {
	filtered := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m.State == StateStreaming {
			continue
		}
		if m.Empty() {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

// Entries converts filtered history into conversation entries.
func Entries(messages []*Message) []Entry {
	entries := make([]Entry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, Entry{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return entries
}

// AttachmentSummary renders file descriptors as the textual block appended to
// a user turn, one "- name (contentType, size bytes)" line per file.
func AttachmentSummary(files []FileAttachment) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Attached files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%s, %d bytes)\n", f.Name, f.ContentType, f.Size)
	}
	return strings.TrimRight(b.String(), "\n")
}

// UserEntry builds the trailing user turn from the raw text plus the
// attachment summary.
func UserEntry(text string, files []FileAttachment) Entry {
	content := text
	if summary := AttachmentSummary(files); summary != "" {
		content = content + "\n\n" + summary
	}
	return Entry{Role: RoleUser, Content: content}
}
