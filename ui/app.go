// Package ui is the bubbletea chat view: a streaming viewport over the
// session arena, a textarea for input, and search over the current and
// saved sessions.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"atui/chat"
	"atui/config"
	"atui/provider"
	"atui/session"
	"atui/storage"
)

// sessionEventMsg carries one session notification into the update loop.
type sessionEventMsg struct {
	forced bool
}

type sendDoneMsg struct{ err error }

// sessionSavedMsg reports the id and name the store settled on, so the
// update loop owns all App field writes.
type sessionSavedMsg struct {
	id   string
	name string
}

type modelsMsg struct {
	count int
	err   error
}

type App struct {
	sess  *session.Session
	store *storage.SessionStorage
	index *storage.SearchIndex
	cfg   *config.Config
	agent chat.Agent

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model

	width  int
	height int
	ready  bool

	answering bool
	status    string
	flash     string

	sessionID   string
	sessionName string

	search searchState

	events chan sessionEventMsg
	cancel func() // observer unsubscribe
}

func NewApp(sess *session.Session, store *storage.SessionStorage, cfg *config.Config, agent chat.Agent) *App {
	input := textarea.New()
	input.Placeholder = "Type a message..."
	input.ShowLineNumbers = false
	input.SetHeight(3)
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	a := &App{
		sess:   sess,
		store:  store,
		index:  storage.NewSearchIndex(store),
		cfg:    cfg,
		agent:  agent,
		input:  input,
		spin:   spin,
		events: make(chan sessionEventMsg, 64),
	}

	// Observer callbacks run on the session's goroutine; the buffered
	// channel hands them to the update loop.
	a.cancel = sess.Subscribe(session.Observer{
		Added:   func(*chat.Message) { a.notify(false) },
		Updated: func(_ *chat.Message, forced bool) { a.notify(forced) },
		Deleted: func(string) { a.notify(true) },
		Reset:   func() { a.notify(true) },
	})
	return a
}

func (a *App) notify(forced bool) {
	select {
	case a.events <- sessionEventMsg{forced: forced}:
	default:
		// Update loop is behind; it will re-render on the next event.
	}
}

func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-a.events
	}
}

// checkServer pings the default server and counts its models for the
// status line.
func (a *App) checkServer() tea.Cmd {
	return func() tea.Msg {
		server, ok := a.cfg.Server("")
		if !ok {
			return modelsMsg{err: fmt.Errorf("no default server configured")}
		}
		client, err := provider.New(server)
		if err != nil {
			return modelsMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		models, err := client.ListModels(ctx)
		if err != nil {
			return modelsMsg{err: err}
		}
		return modelsMsg{count: len(models)}
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitForEvent(), a.checkServer(), a.spin.Tick)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		inputHeight := 5 // textarea + border + status line
		if !a.ready {
			a.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			a.ready = true
		} else {
			a.viewport.Width = msg.Width
			a.viewport.Height = msg.Height - inputHeight
		}
		a.input.SetWidth(msg.Width - 2)
		a.refreshViewport(true)
		return a, nil

	case sessionEventMsg:
		a.refreshViewport(true)
		return a, a.waitForEvent()

	case sendDoneMsg:
		a.answering = false
		if msg.err == session.ErrAnswering {
			a.flash = "still answering, hang on"
		} else if msg.err != nil {
			a.flash = msg.err.Error()
		}
		a.refreshViewport(true)
		return a, a.persistSession()

	case sessionSavedMsg:
		a.sessionID = msg.id
		a.sessionName = msg.name
		return a, nil

	case modelsMsg:
		if msg.err != nil {
			a.status = ErrorStyle.Render("server unreachable: " + msg.err.Error())
		} else {
			a.status = fmt.Sprintf("%s · %d models", a.cfg.Model(), msg.count)
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		if a.answering {
			a.refreshViewport(false)
		}
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.search.active {
		return a.handleSearchKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		a.cancel()
		return a, tea.Quit

	case "esc":
		if a.answering {
			a.sess.Cancel()
			return a, nil
		}
		return a, nil

	case "enter":
		text := strings.TrimSpace(a.input.Value())
		if text == "" || a.answering {
			return a, nil
		}
		a.input.Reset()
		a.flash = ""
		a.answering = true
		return a, a.send(text)

	case "alt+y":
		// Copy last assistant reply
		msgs := a.sess.Messages()
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == chat.RoleAssistant && msgs[i].State == chat.StateFinal {
				clipboard.WriteAll(msgs[i].Content)
				a.flash = "copied last reply"
				return a, nil
			}
		}
		return a, nil

	case "alt+f":
		a.openSearch(searchSession)
		return a, nil

	case "alt+g":
		a.openSearch(searchGlobal)
		return a, nil

	case "alt+n":
		a.sess.Reset()
		a.sessionID = ""
		a.sessionName = ""
		return a, nil

	case "alt+j", "alt+down":
		a.viewport.HalfPageDown()
		return a, nil

	case "alt+k", "alt+up":
		a.viewport.HalfPageUp()
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// send drives one turn off the update loop. Session notifications stream in
// through the event channel while this runs.
func (a *App) send(text string) tea.Cmd {
	return func() tea.Msg {
		err := a.sess.Send(context.Background(), text, nil)
		return sendDoneMsg{err: err}
	}
}

// persistSession saves the settled arena after each turn, naming new
// sessions after the first user message. The command goroutine only reads
// the id/name captured here; the update loop applies the sessionSavedMsg.
func (a *App) persistSession() tea.Cmd {
	id, name := a.sessionID, a.sessionName
	return func() tea.Msg {
		if a.store == nil {
			return nil
		}
		messages := chat.FilterHistory(a.sess.Messages())
		if len(messages) == 0 {
			return nil
		}
		if name == "" {
			for _, m := range messages {
				if m.Role == chat.RoleUser {
					name = storage.GenerateSessionName(m.Content)
					break
				}
			}
		}
		s := &storage.Session{
			ID:       id,
			Name:     name,
			Model:    a.cfg.Model(),
			Agent:    a.agent.Name,
			Messages: messages,
		}
		if err := a.store.Save(s); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[UI] session save failed: %v", err)
			}
			return nil
		}
		a.store.SaveCurrentSessionID(s.ID)
		return sessionSavedMsg{id: s.ID, name: s.Name}
	}
}

func (a *App) refreshViewport(gotoBottom bool) {
	if !a.ready {
		return
	}
	atBottom := a.viewport.AtBottom()
	a.viewport.SetContent(a.renderMessages())
	if gotoBottom || atBottom {
		a.viewport.GotoBottom()
	}
}

func (a *App) renderMessages() string {
	msgs := a.sess.Messages()
	if len(msgs) == 0 {
		return DimStyle.Render("No messages yet. Start chatting!")
	}

	width := a.viewport.Width - 4
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleUser:
			b.WriteString(UserStyle.Render("You") + DimStyle.Render(m.Timestamp.Format(" · Jan 2, 3:04 PM")) + "\n")
			b.WriteString(m.Content + "\n\n")

		case chat.RoleTool:
			b.WriteString(ToolStyle.Render("Context") + "\n")
			b.WriteString(DimStyle.Render(truncateLines(m.Content, 3)) + "\n\n")

		case chat.RoleAssistant:
			name := m.Agent
			if name == "" {
				name = "Assistant"
			}
			header := AssistantStyle.Render(name)
			if m.State == chat.StateStreaming {
				b.WriteString(header + " " + a.spin.View() + "\n")
				b.WriteString(m.Content + "\n\n")
				continue
			}
			b.WriteString(header + "\n")
			if m.Canceled && m.Content == "" {
				b.WriteString(DimStyle.Render("(canceled)") + "\n\n")
				continue
			}
			b.WriteString(renderMarkdown(m.Content, width) + "\n")
			if m.Canceled {
				b.WriteString(DimStyle.Render("(canceled)") + "\n")
			}
			for _, fc := range m.FunctionCalls {
				b.WriteString(DimStyle.Render(fmt.Sprintf("⚙ %s/%s %s", fc.Server, fc.Tool, resultStatus(fc.Result))) + "\n")
			}
			if m.Stats != nil {
				b.WriteString(DimStyle.Render(fmt.Sprintf("%s · %d tokens · %.1f tok/s · %s",
					m.Stats.Model, m.Stats.Tokens, m.Stats.TokensPerSec, m.Stats.Elapsed.Round(100*time.Millisecond))) + "\n")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// resultStatus pulls the leading status field out of an audit diagnostic.
func resultStatus(diagnostic string) string {
	if i := strings.IndexByte(diagnostic, ';'); i > 0 {
		return diagnostic[:i]
	}
	return diagnostic
}

func truncateLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n…"
}

func (a *App) View() string {
	if !a.ready {
		return "Loading..."
	}
	if a.search.active {
		return a.renderSearch()
	}

	status := a.status
	if a.answering {
		status = a.spin.View() + " answering · Esc to cancel"
	}
	if a.flash != "" {
		status = status + "  " + SelectedStyle.Render(a.flash)
	}

	footer := FormatFooter("Enter", "Send", "Esc", "Cancel", "Alt+F", "Search", "Alt+G", "Search All", "Alt+Y", "Copy", "Alt+N", "New", "Ctrl+C", "Quit")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		a.viewport.View(),
		a.input.View(),
		StatusStyle.Render(status),
		HelpStyle.Render(footer),
	)
}
