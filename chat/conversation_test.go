package chat

import (
	"reflect"
	"testing"
)

func TestFilterHistory(t *testing.T) {
	streaming := NewStreaming("mentor")
	AppendContent(streaming, "partial")
	empty := NewFinal(RoleAssistant, "")
	withFile := NewFinal(RoleUser, "")
	withFile.Files = []FileAttachment{{Name: "a.txt", ContentType: "text/plain", Size: 3}}
	user := NewFinal(RoleUser, "hello")
	assistant := NewFinal(RoleAssistant, "hi")

	tests := []struct {
		name  string
		input []*Message
		want  []*Message
	}{
		{
			name:  "empty history",
			input: []*Message{},
			want:  []*Message{},
		},
		{
			name:  "drops streaming messages",
			input: []*Message{user, streaming, assistant},
			want:  []*Message{user, assistant},
		},
		{
			name:  "drops empty messages without files",
			input: []*Message{user, empty},
			want:  []*Message{user},
		},
		{
			name:  "keeps empty messages with files",
			input: []*Message{withFile, assistant},
			want:  []*Message{withFile, assistant},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterHistory(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FilterHistory() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterHistoryIdempotent(t *testing.T) {
	streaming := NewStreaming("mentor")
	history := []*Message{
		NewFinal(RoleUser, "question"),
		streaming,
		NewFinal(RoleAssistant, "answer"),
		NewFinal(RoleAssistant, ""),
	}

	once := FilterHistory(history)
	twice := FilterHistory(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("filter not idempotent: %v != %v", once, twice)
	}
}

func TestAttachmentSummary(t *testing.T) {
	tests := []struct {
		name  string
		files []FileAttachment
		want  string
	}{
		{
			name:  "no files",
			files: nil,
			want:  "",
		},
		{
			name: "single file",
			files: []FileAttachment{
				{Name: "notes.md", ContentType: "text/markdown", Size: 120},
			},
			want: "Attached files:\n- notes.md (text/markdown, 120 bytes)",
		},
		{
			name: "multiple files",
			files: []FileAttachment{
				{Name: "a.txt", ContentType: "text/plain", Size: 1},
				{Name: "b.pdf", ContentType: "application/pdf", Size: 2048},
			},
			want: "Attached files:\n- a.txt (text/plain, 1 bytes)\n- b.pdf (application/pdf, 2048 bytes)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AttachmentSummary(tt.files); got != tt.want {
				t.Errorf("AttachmentSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserEntry(t *testing.T) {
	entry := UserEntry("summarize this", []FileAttachment{
		{Name: "doc.txt", ContentType: "text/plain", Size: 10},
	})
	if entry.Role != RoleUser {
		t.Errorf("role = %q, want user", entry.Role)
	}
	want := "summarize this\n\nAttached files:\n- doc.txt (text/plain, 10 bytes)"
	if entry.Content != want {
		t.Errorf("content = %q, want %q", entry.Content, want)
	}

	plain := UserEntry("just text", nil)
	if plain.Content != "just text" {
		t.Errorf("content = %q, want %q", plain.Content, "just text")
	}
}
