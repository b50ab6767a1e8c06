package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"atui/chat"
	"atui/config"
	"atui/engine"
	"atui/mcp"
	"atui/rag"
)

// noServers is the empty tool-server collaborator.
type noServers struct{}

func (noServers) ListServers(ctx context.Context) ([]mcp.Server, error) { return nil, nil }
func (noServers) Invoke(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	return "", fmt.Errorf("no servers connected")
}

// fixedRetriever returns the same context text for every query.
type fixedRetriever struct{ text string }

func (f fixedRetriever) BuildContext(ctx context.Context, agent chat.Agent, query, server string) (rag.Context, error) {
	return rag.Context{Text: f.text}, nil
}

// recorder collects observer notifications for assertions.
type recorder struct {
	mu      sync.Mutex
	added   []string
	updated []string // "<id>:forced" or "<id>:stream"
	deleted []string
}

func (r *recorder) observer() Observer {
	return Observer{
		Added: func(m *chat.Message) {
			r.mu.Lock()
			r.added = append(r.added, m.ID)
			r.mu.Unlock()
		},
		Updated: func(m *chat.Message, forced bool) {
			r.mu.Lock()
			kind := "stream"
			if forced {
				kind = "forced"
			}
			r.updated = append(r.updated, m.ID+":"+kind)
			r.mu.Unlock()
		},
		Deleted: func(id string) {
			r.mu.Lock()
			r.deleted = append(r.deleted, id)
			r.mu.Unlock()
		},
	}
}

// ndjsonServer serves /api/chat with the given NDJSON lines.
func ndjsonServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func sessionConfig(baseURL string, contextEnabled bool) *config.Config {
	return &config.Config{
		DefaultServer:  "local",
		DefaultModel:   "llama3.2",
		ContextEnabled: contextEnabled,
		Servers: []config.ServerConfig{
			{Name: "local", Protocol: "ollama", BaseURL: baseURL, Tools: "auto"},
		},
		Tools: config.ToolsConfig{MaxRounds: 3, MaxRetries: 1, TimeoutSeconds: 5, RetryDelayMS: 1},
	}
}

func newTestSession(t *testing.T, baseURL string, retriever rag.Retriever, contextEnabled bool) *Session {
	t.Helper()
	orch := engine.NewOrchestrator(engine.NewRuntime(noServers{}), retriever)
	s := New(orch)
	if err := s.Start([]chat.Agent{{Name: "helper"}}, sessionConfig(baseURL, contextEnabled), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func finalAssistant(t *testing.T, s *Session) *chat.Message {
	t.Helper()
	for _, m := range s.Messages() {
		if m.Role == chat.RoleAssistant && m.State == chat.StateFinal {
			return m
		}
	}
	t.Fatal("no final assistant message")
	return nil
}

func TestStartRejectsEmptyAgents(t *testing.T) {
	s := New(engine.NewOrchestrator(engine.NewRuntime(noServers{}), nil))
	if err := s.Start(nil, sessionConfig("http://x", false), nil); err != ErrNoAgents {
		t.Errorf("expected ErrNoAgents, got %v", err)
	}
}

func TestStartReplaysHistoryDedupedInOrder(t *testing.T) {
	older := chat.NewFinal(chat.RoleUser, "first")
	older.Timestamp = time.Now().Add(-time.Hour)
	newer := chat.NewFinal(chat.RoleAssistant, "second")

	s := New(engine.NewOrchestrator(engine.NewRuntime(noServers{}), nil))
	rec := &recorder{}
	s.Subscribe(rec.observer())

	// newer supplied first and the older one duplicated.
	if err := s.Start([]chat.Agent{{Name: "helper"}}, sessionConfig("http://x", false),
		[]*chat.Message{newer, older, older}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after dedupe, got %d", len(msgs))
	}
	if msgs[0].ID != older.ID || msgs[1].ID != newer.ID {
		t.Error("history not replayed in timestamp order")
	}
	if len(rec.added) != 2 {
		t.Errorf("expected 2 added events, got %d", len(rec.added))
	}
}

func TestSendStreamsAndFinalizes(t *testing.T) {
	srv := ndjsonServer(t, []string{
		`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
		`{"message":{"role":"assistant","content":" world"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	})
	defer srv.Close()

	s := newTestSession(t, srv.URL, nil, false)
	if err := s.Send(context.Background(), "greet me", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	final := finalAssistant(t, s)
	if final.Content != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", final.Content)
	}
	if final.Canceled {
		t.Error("reply should not be marked canceled")
	}
	if final.Stats == nil {
		t.Fatal("final message missing stats")
	}
	if final.Stats.Model != "llama3.2" {
		t.Errorf("wrong model in stats: %q", final.Stats.Model)
	}
	if final.Stats.Tokens != 2 {
		t.Errorf("expected 2 tokens counted, got %d", final.Stats.Tokens)
	}
	if len(final.FunctionCalls) != 0 {
		t.Errorf("expected no function-call records, got %d", len(final.FunctionCalls))
	}
	if s.Answering() {
		t.Error("answering flag not cleared")
	}
}

func TestSendBlankIsNoOp(t *testing.T) {
	srv := ndjsonServer(t, nil)
	defer srv.Close()

	s := newTestSession(t, srv.URL, nil, false)
	before := len(s.Messages())
	if err := s.Send(context.Background(), "   \n\t", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := len(s.Messages()); got != before {
		t.Errorf("blank send changed the message list: %d -> %d", before, got)
	}
}

func TestSendWhileAnsweringRefused(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hi"},"done":false}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()
	defer close(release)

	s := newTestSession(t, srv.URL, nil, false)

	started := make(chan struct{})
	done := make(chan error, 1)
	var once sync.Once
	s.Subscribe(Observer{Updated: func(m *chat.Message, forced bool) {
		once.Do(func() { close(started) })
	}})
	go func() { done <- s.Send(context.Background(), "first", nil) }()
	<-started

	if err := s.Send(context.Background(), "second", nil); err != ErrAnswering {
		t.Errorf("expected ErrAnswering, got %v", err)
	}
	if err := s.DeleteMessage(s.Messages()[0].ID); err != ErrAnswering {
		t.Errorf("expected DeleteMessage to be refused, got %v", err)
	}

	release <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("first Send: %v", err)
	}
}

func TestCancelYieldsOneCanceledFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, nil, false)
	rec := &recorder{}
	s.Subscribe(rec.observer())

	started := make(chan struct{})
	var once sync.Once
	s.Subscribe(Observer{Updated: func(m *chat.Message, forced bool) {
		if !forced {
			once.Do(func() { close(started) })
		}
	}})

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "go on forever", nil) }()
	<-started

	s.Cancel()
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	canceled := 0
	for _, m := range s.Messages() {
		if m.Role == chat.RoleAssistant && m.Canceled {
			canceled++
			if m.State != chat.StateFinal {
				t.Error("canceled message not settled")
			}
			if m.Content != "partial" {
				t.Errorf("partial content discarded: %q", m.Content)
			}
		}
	}
	if canceled != 1 {
		t.Errorf("expected exactly one canceled Final, got %d", canceled)
	}
	if s.Answering() {
		t.Error("answering flag not cleared after cancel")
	}

	// No further updates may arrive for the settled message.
	rec.mu.Lock()
	settledUpdates := len(rec.updated)
	rec.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	if len(rec.updated) != settledUpdates {
		t.Errorf("updates fired after cancellation: %v", rec.updated[settledUpdates:])
	}
	rec.mu.Unlock()
}

func TestCancelThenResend(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			<-r.Context().Done()
			return
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"second "},"done":false}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Keep the second stream open long enough for the first turn's
		// cleanup to run while this one is still in flight.
		time.Sleep(30 * time.Millisecond)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"answer"},"done":true}`)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL, nil, false)

	started := make(chan struct{})
	var once sync.Once
	s.Subscribe(Observer{Updated: func(m *chat.Message, forced bool) {
		if !forced {
			once.Do(func() { close(started) })
		}
	}})

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Send(context.Background(), "first question", nil) }()
	<-started

	s.Cancel()
	if err := s.Send(context.Background(), "second question", nil); err != nil {
		t.Fatalf("Send after cancel: %v", err)
	}
	if err := <-firstDone; err != nil {
		t.Fatalf("first Send: %v", err)
	}

	var canceled, settled int
	for _, m := range s.Messages() {
		if m.Role != chat.RoleAssistant {
			continue
		}
		if m.Canceled {
			canceled++
			continue
		}
		if m.State == chat.StateFinal {
			settled++
			if m.Content != "second answer" {
				t.Errorf("second reply corrupted: %q", m.Content)
			}
		}
	}
	if canceled != 1 {
		t.Errorf("expected exactly one canceled Final, got %d", canceled)
	}
	if settled != 1 {
		t.Errorf("expected the second turn to settle normally, got %d finals", settled)
	}
	if s.Answering() {
		t.Error("answering flag stuck after the second turn")
	}
}

func TestContextInsertedAtMostOnce(t *testing.T) {
	srv := ndjsonServer(t, []string{
		`{"message":{"role":"assistant","content":"answer"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	})
	defer srv.Close()

	s := newTestSession(t, srv.URL, fixedRetriever{text: "retrieved: widget specs"}, true)

	for _, text := range []string{"what are the specs?", "and again?"} {
		if err := s.Send(context.Background(), text, nil); err != nil {
			t.Fatalf("Send(%q): %v", text, err)
		}
	}

	count := 0
	for _, m := range s.Messages() {
		if m.Role == chat.RoleTool && m.Content == "retrieved: widget specs" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("context message inserted %d times, want 1", count)
	}
}

func TestDeleteMessage(t *testing.T) {
	s := New(engine.NewOrchestrator(engine.NewRuntime(noServers{}), nil))
	rec := &recorder{}
	s.Subscribe(rec.observer())

	msg := chat.NewFinal(chat.RoleUser, "delete me")
	if err := s.Start([]chat.Agent{{Name: "helper"}}, sessionConfig("http://x", false),
		[]*chat.Message{msg}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.DeleteMessage(msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if len(s.Messages()) != 0 {
		t.Error("message not removed")
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != msg.ID {
		t.Errorf("deleted event wrong: %v", rec.deleted)
	}

	// Deleting an unknown id is a no-op.
	if err := s.DeleteMessage("nope"); err != nil {
		t.Errorf("unknown id should be a no-op, got %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New(engine.NewOrchestrator(engine.NewRuntime(noServers{}), nil))
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.observer())
	keep := &recorder{}
	s.Subscribe(keep.observer())

	unsubscribe()

	if err := s.Start([]chat.Agent{{Name: "helper"}}, sessionConfig("http://x", false),
		[]*chat.Message{chat.NewFinal(chat.RoleUser, "hi")}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(rec.added) != 0 {
		t.Errorf("unsubscribed observer still received %d events", len(rec.added))
	}
	if len(keep.added) != 1 {
		t.Errorf("remaining observer missed events, got %d", len(keep.added))
	}
}

func TestReset(t *testing.T) {
	s := New(engine.NewOrchestrator(engine.NewRuntime(noServers{}), nil))
	resets := 0
	s.Subscribe(Observer{Reset: func() { resets++ }})

	if err := s.Start([]chat.Agent{{Name: "helper"}}, sessionConfig("http://x", false),
		[]*chat.Message{chat.NewFinal(chat.RoleUser, "hi")}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Reset()

	if len(s.Messages()) != 0 {
		t.Error("messages survived reset")
	}
	if resets != 1 {
		t.Errorf("expected 1 reset event, got %d", resets)
	}
}
