// Package session owns the message arena for one conversation and drives
// turns through the orchestrator. All state mutation happens here, under one
// mutex; everything downstream only sees snapshots and chunks.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"atui/chat"
	"atui/config"
	"atui/engine"
)

var (
	// ErrAnswering is returned when an operation is refused because a turn
	// is already in flight.
	ErrAnswering = errors.New("a reply is already in progress")

	// ErrNoAgents is returned by Start when no agents are supplied.
	ErrNoAgents = errors.New("at least one agent is required")

	// ErrNotStarted is returned by Send before Start has been called.
	ErrNotStarted = errors.New("session has not been started")
)

// Observer receives session notifications. Nil callbacks are skipped.
// Updated's forced flag distinguishes a settled re-render (finalization,
// cancellation) from an incremental streaming append.
type Observer struct {
	Added     func(m *chat.Message)
	Updated   func(m *chat.Message, forced bool)
	Deleted   func(id string)
	Answering func(active bool)
	Reset     func()
}

// Session is the conversation state owner. At most one turn is in flight at
// a time; Send refuses re-entry instead of queueing.
type Session struct {
	orch *engine.Orchestrator

	mu        sync.Mutex
	agents    []chat.Agent
	cfg       *config.Config
	messages  []*chat.Message
	byID      map[string]*chat.Message
	answering bool
	active    *chat.Message
	cancel    context.CancelFunc

	observers map[int]Observer
	nextObs   int
}

func New(orch *engine.Orchestrator) *Session {
	return &Session{
		orch:      orch,
		byID:      map[string]*chat.Message{},
		observers: map[int]Observer{},
	}
}

// Subscribe registers an observer and returns its unsubscribe func.
// Observers attach and detach independently; removing one never disturbs
// delivery to the others.
func (s *Session) Subscribe(obs Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = obs
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Start clears the session and replays the supplied history in timestamp
// order, deduplicating by id. Each replayed message fires Added.
func (s *Session) Start(agents []chat.Agent, cfg *config.Config, history []*chat.Message) error {
	if len(agents) == 0 {
		return ErrNoAgents
	}

	s.mu.Lock()
	s.agents = agents
	s.cfg = cfg
	s.messages = nil
	s.byID = map[string]*chat.Message{}
	s.active = nil
	s.answering = false

	replay := make([]*chat.Message, len(history))
	copy(replay, history)
	sort.SliceStable(replay, func(i, j int) bool {
		return replay[i].Timestamp.Before(replay[j].Timestamp)
	})

	var added []*chat.Message
	for _, m := range replay {
		if _, seen := s.byID[m.ID]; seen {
			continue
		}
		s.messages = append(s.messages, m)
		s.byID[m.ID] = m
		added = append(added, m)
	}
	s.mu.Unlock()

	for _, m := range added {
		s.fireAdded(m)
	}
	return nil
}

// Reset drops every message and fires the reset notification.
func (s *Session) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.byID = map[string]*chat.Message{}
	s.active = nil
	s.mu.Unlock()

	for _, obs := range s.snapshot() {
		if obs.Reset != nil {
			obs.Reset()
		}
	}
}

// Messages returns an ordered snapshot of the arena.
func (s *Session) Messages() []*chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Answering reports whether a turn is in flight.
func (s *Session) Answering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answering
}

// DeleteMessage removes a message by id. Refused while a turn is in flight.
func (s *Session) DeleteMessage(id string) error {
	s.mu.Lock()
	if s.answering {
		s.mu.Unlock()
		return ErrAnswering
	}
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.byID, id)
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	for _, obs := range s.snapshot() {
		if obs.Deleted != nil {
			obs.Deleted(id)
		}
	}
	return nil
}

// Cancel stops the in-flight turn, converting the active streaming message
// to a canceled Final. Safe to call when nothing is in flight.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	active := s.active
	var settled *chat.Message
	if active != nil && active.State == chat.StateStreaming {
		chat.CancelStream(active)
		settled = active
	}
	s.active = nil
	wasAnswering := s.answering
	s.answering = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if settled != nil {
		s.fireUpdated(settled, true)
	}
	if wasAnswering {
		s.fireAnswering(false)
	}
}

// Send runs one turn synchronously: it appends the user message, creates
// the streaming placeholder for the primary agent, and applies the
// orchestrator's chunks until the terminal one. Callers that need it
// non-blocking run it in a goroutine (or a tea.Cmd). Blank text is a no-op;
// a turn already in flight returns ErrAnswering.
func (s *Session) Send(ctx context.Context, text string, files []chat.FileAttachment) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	if s.cfg == nil || len(s.agents) == 0 {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.answering {
		s.mu.Unlock()
		return ErrAnswering
	}

	agent := s.agents[0]
	cfg := s.cfg

	user := chat.NewFinal(chat.RoleUser, text)
	user.Files = files
	s.messages = append(s.messages, user)
	s.byID[user.ID] = user

	active := chat.NewStreaming(agent.Name)
	s.messages = append(s.messages, active)
	s.byID[active.ID] = active
	s.active = active
	s.answering = true

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	history := chat.FilterHistory(s.messages)
	s.mu.Unlock()

	s.fireAdded(user)
	s.fireAdded(active)
	s.fireAnswering(true)

	defer func() {
		// Release this turn's context, never the session field: Cancel may
		// already have admitted a newer turn whose cancel func lives there.
		cancel()

		s.mu.Lock()
		mine := s.active == active
		if mine {
			s.active = nil
			s.cancel = nil
		}
		settle := mine && active.State == chat.StateStreaming
		if settle {
			chat.CancelStream(active)
		}
		wasAnswering := mine && s.answering
		if mine {
			s.answering = false
		}
		s.mu.Unlock()

		if settle {
			s.fireUpdated(active, true)
		}
		if wasAnswering {
			s.fireAnswering(false)
		}
	}()

	start := time.Now()
	chunks := s.orch.StreamTurn(turnCtx, agent, cfg, history, text, files, cfg.ContextEnabled)
	for chunk := range chunks {
		s.applyChunk(chunk, agent, cfg, active, start)
	}
	return nil
}

// applyChunk applies one chunk to the active streaming message.
func (s *Session) applyChunk(chunk chat.Chunk, agent chat.Agent, cfg *config.Config, active *chat.Message, start time.Time) {
	s.mu.Lock()
	if active.State != chat.StateStreaming {
		// Settled by Cancel while the chunk was in flight.
		s.mu.Unlock()
		return
	}

	// Agent handoff: the first chunk naming a different agent renames the
	// placeholder.
	renamed := false
	if chunk.Agent != "" && chunk.Agent != active.Agent {
		active.Agent = chunk.Agent
		renamed = true
	}

	switch {
	case chunk.Err:
		s.mu.Unlock()
		s.applyError(chunk, active)
		return

	case chunk.Final:
		ctxMsg := s.insertContextLocked(chunk.Context, active)
		model := agent.Model
		if model == "" {
			model = cfg.Model()
		}
		elapsed := time.Since(start)
		stats := &chat.Stats{
			Elapsed: elapsed,
			Model:   model,
			Tokens:  active.Tokens,
		}
		if secs := elapsed.Seconds(); secs > 0 {
			stats.TokensPerSec = float64(active.Tokens) / secs
		}
		chat.Complete(active, stats, chunk.FunctionCalls)
		s.mu.Unlock()
		if ctxMsg != nil {
			s.fireAdded(ctxMsg)
		}
		s.fireUpdated(active, true)
		return

	default:
		chat.AppendContent(active, chunk.Content)
		s.mu.Unlock()
		s.fireUpdated(active, renamed)
	}
}

// applyError handles an error chunk: accumulated context is flushed first,
// then the failure is surfaced. Cancellation and unsupported-tooling errors
// become a canceled/labeled Final on the streaming message; everything else
// cancels the stream and appends a separate assistant Final with the error
// text.
func (s *Session) applyError(chunk chat.Chunk, active *chat.Message) {
	s.mu.Lock()
	ctxMsg := s.insertContextLocked(chunk.Context, active)

	text := chunk.Content
	canceled := strings.Contains(text, context.Canceled.Error())
	unsupported := strings.Contains(text, "does not support tools")

	if canceled || unsupported {
		chat.CancelStream(active)
		if unsupported {
			active.Content = "This model does not support tool calling. Retry without tools, or switch models."
		}
		s.mu.Unlock()
		if ctxMsg != nil {
			s.fireAdded(ctxMsg)
		}
		s.fireUpdated(active, true)
		return
	}

	chat.CancelStream(active)
	errMsg := chat.NewFinal(chat.RoleAssistant, text)
	errMsg.Agent = active.Agent
	if len(chunk.FunctionCalls) > 0 {
		errMsg.FunctionCalls = chunk.FunctionCalls
	}
	s.messages = append(s.messages, errMsg)
	s.byID[errMsg.ID] = errMsg
	s.mu.Unlock()

	if ctxMsg != nil {
		s.fireAdded(ctxMsg)
	}
	s.fireUpdated(active, true)
	s.fireAdded(errMsg)
}

// insertContextLocked persists retrieved context as a tool-role Final
// message placed before the given streaming message, returning it so the
// caller can fire Added once s.mu is released. Idempotent: an identical
// tool-role message anywhere in the arena suppresses the insert, and an
// empty text is a no-op.
func (s *Session) insertContextLocked(text string, before *chat.Message) *chat.Message {
	if text == "" {
		return nil
	}
	for _, m := range s.messages {
		if m.Role == chat.RoleTool && m.Content == text {
			return nil
		}
	}

	ctxMsg := chat.NewFinal(chat.RoleTool, text)
	at := len(s.messages)
	for i, m := range s.messages {
		if m == before {
			at = i
			break
		}
	}
	s.messages = append(s.messages, nil)
	copy(s.messages[at+1:], s.messages[at:])
	s.messages[at] = ctxMsg
	s.byID[ctxMsg.ID] = ctxMsg
	return ctxMsg
}

func (s *Session) snapshot() []Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		out = append(out, obs)
	}
	return out
}

func (s *Session) fireAdded(m *chat.Message) {
	for _, obs := range s.snapshot() {
		if obs.Added != nil {
			obs.Added(m)
		}
	}
}

func (s *Session) fireUpdated(m *chat.Message, forced bool) {
	for _, obs := range s.snapshot() {
		if obs.Updated != nil {
			obs.Updated(m, forced)
		}
	}
}

func (s *Session) fireAnswering(active bool) {
	for _, obs := range s.snapshot() {
		if obs.Answering != nil {
			obs.Answering(active)
		}
	}
}
