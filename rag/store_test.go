package rag

import (
	"context"
	"strings"
	"testing"

	"atui/chat"
)

func TestTerms(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"How do I configure the deploy pipeline?", []string{"configure", "deploy", "pipeline"}},
		{"a of to the and", nil},
		{"", nil},
	}

	for _, tt := range tests {
		got := Terms(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("Terms(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Terms(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestStoreBuildContext(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	chunks := []struct{ agent, source, content string }{
		{"", "runbook.md", "The deploy pipeline runs on every push to main."},
		{"", "faq.md", "Rollbacks use the deploy pipeline in reverse order."},
		{"", "lunch.md", "The cafeteria menu rotates weekly."},
		{"ops-bot", "secrets.md", "Pipeline credentials rotate monthly."},
	}
	for _, c := range chunks {
		if err := store.Add(ctx, c.agent, c.source, c.content); err != nil {
			t.Fatalf("Add(%s): %v", c.source, err)
		}
	}

	t.Run("keyword match ranks relevant chunks", func(t *testing.T) {
		got, err := store.BuildContext(ctx, chat.Agent{Name: "helper"}, "how does the deploy pipeline work", "")
		if err != nil {
			t.Fatalf("BuildContext: %v", err)
		}
		if got.Empty() {
			t.Fatal("expected non-empty context")
		}
		if !strings.Contains(got.Text, "deploy pipeline") {
			t.Errorf("Text = %q", got.Text)
		}
		if strings.Contains(got.Text, "cafeteria") {
			t.Error("irrelevant chunk retrieved")
		}
	})

	t.Run("agent-tagged chunks are scoped", func(t *testing.T) {
		got, err := store.BuildContext(ctx, chat.Agent{Name: "helper"}, "pipeline credentials", "")
		if err != nil {
			t.Fatalf("BuildContext: %v", err)
		}
		if strings.Contains(got.Text, "credentials rotate") {
			t.Error("chunk tagged for ops-bot leaked to helper")
		}

		got, err = store.BuildContext(ctx, chat.Agent{Name: "ops-bot"}, "pipeline credentials", "")
		if err != nil {
			t.Fatalf("BuildContext: %v", err)
		}
		if !strings.Contains(got.Text, "credentials rotate") {
			t.Error("ops-bot should see its own chunk")
		}
	})

	t.Run("no match means empty context", func(t *testing.T) {
		got, err := store.BuildContext(ctx, chat.Agent{Name: "helper"}, "quantum entanglement", "")
		if err != nil {
			t.Fatalf("BuildContext: %v", err)
		}
		if !got.Empty() {
			t.Errorf("Text = %q, want empty", got.Text)
		}
	})

	t.Run("blank query means empty context", func(t *testing.T) {
		got, err := store.BuildContext(ctx, chat.Agent{Name: "helper"}, "  ", "")
		if err != nil {
			t.Fatalf("BuildContext: %v", err)
		}
		if !got.Empty() {
			t.Errorf("Text = %q, want empty", got.Text)
		}
	})
}

func TestStoreAddEmptyContent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if err := store.Add(context.Background(), "", "x", "   "); err == nil {
		t.Error("expected error for blank content")
	}
}
