package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"atui/chat"
	"atui/config"
)

type searchScope int

const (
	searchSession searchScope = iota // current session only
	searchGlobal                     // every saved session
)

type searchState struct {
	active   bool
	scope    searchScope
	input    textinput.Model
	matches  []searchMatch
	selected int
}

// searchMatch is one result row, session-local or global.
type searchMatch struct {
	sessionName string
	role        chat.Role
	preview     string
}

func (a *App) openSearch(scope searchScope) {
	input := textinput.New()
	input.Placeholder = "Type to search..."
	input.Focus()
	a.search = searchState{active: true, scope: scope, input: input}
	a.input.Blur()
}

func (a *App) closeSearch() {
	a.search = searchState{}
	a.input.Focus()
}

func (a *App) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.closeSearch()
		return a, nil

	case "up", "ctrl+k":
		if a.search.selected > 0 {
			a.search.selected--
		}
		return a, nil

	case "down", "ctrl+j":
		if a.search.selected < len(a.search.matches)-1 {
			a.search.selected++
		}
		return a, nil

	case "enter":
		a.closeSearch()
		return a, nil
	}

	var cmd tea.Cmd
	a.search.input, cmd = a.search.input.Update(msg)
	a.runSearch()
	return a, cmd
}

// runSearch recomputes matches for the current query. The session scope runs
// a fuzzy match over the arena; the global scope scans saved session files.
func (a *App) runSearch() {
	query := a.search.input.Value()
	a.search.matches = nil
	a.search.selected = 0
	if query == "" {
		return
	}

	switch a.search.scope {
	case searchSession:
		msgs := chat.FilterHistory(a.sess.Messages())
		targets := make([]string, len(msgs))
		for i, m := range msgs {
			targets[i] = m.Content
		}
		for _, match := range fuzzy.Find(query, targets) {
			m := msgs[match.Index]
			if m.Role == chat.RoleSystem {
				continue
			}
			a.search.matches = append(a.search.matches, searchMatch{
				role:    m.Role,
				preview: m.Content,
			})
		}

	case searchGlobal:
		if a.index == nil {
			return
		}
		results, err := a.index.SearchAllSessions(query)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[UI] global search failed: %v", err)
			}
			return
		}
		for _, r := range results {
			a.search.matches = append(a.search.matches, searchMatch{
				sessionName: r.SessionName,
				role:        r.Role,
				preview:     r.Preview,
			})
		}
	}
}

func (a *App) renderSearch() string {
	modalWidth := a.width - 4
	if modalWidth > 100 {
		modalWidth = 100
	}

	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(dimColor).
		Padding(1, 2)

	title := TitleStyle.Render("Search Current Session")
	if a.search.scope == searchGlobal {
		title = TitleStyle.Render("Search All Sessions")
	}

	resultsView := ""
	switch {
	case a.search.input.Value() == "":
		resultsView = DimStyle.Render("Type to search messages...")
	case len(a.search.matches) == 0:
		resultsView = DimStyle.Render("No matches found")
	default:
		maxVisible := (a.height - 12)
		if maxVisible < 1 {
			maxVisible = 1
		}
		resultsView = fmt.Sprintf("Found %d matches:\n\n", len(a.search.matches))
		previewWidth := modalWidth - 10
		for i, match := range a.search.matches {
			if i >= maxVisible {
				resultsView += DimStyle.Render(fmt.Sprintf("↓ %d more below", len(a.search.matches)-maxVisible))
				break
			}

			roleStyle := UserStyle
			if match.role == chat.RoleAssistant {
				roleStyle = AssistantStyle
			}
			label := string(match.role)
			if match.sessionName != "" {
				label = match.sessionName + " " + label
			}

			preview := runewidth.Truncate(match.preview, previewWidth, "...")
			row := fmt.Sprintf("%s  %s", roleStyle.Render(label), preview)
			if i == a.search.selected {
				row = SelectedStyle.Render("> ") + row
			} else {
				row = "  " + row
			}
			resultsView += row + "\n"
		}
	}

	footer := FormatFooter("Type", "to search", "↑/↓", "Navigate", "Esc", "Close")

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		a.search.input.View(),
		"",
		resultsView,
		"",
		footer,
	)

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center,
		modalStyle.Width(modalWidth).Render(content))
}
