// Package sectionlist renders a SectionList as bordered sections of rows
// with a cursor, scrolling and a refresh indicator.
package sectionlist

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
	"github.com/mattn/go-runewidth"

	"github.com/zjrosen/reshuffle/internal/keys"
	"github.com/zjrosen/reshuffle/internal/sections"
	"github.com/zjrosen/reshuffle/internal/ui/styles"
)

// ZoneRefresh marks the clickable refresh button.
const ZoneRefresh = "sectionlist-refresh"

const appTitle = "reshuffle"

// RefreshMsg is emitted when the user makes a refresh gesture: the refresh
// key, a click on the refresh button, or a wheel-up at the top of the list.
type RefreshMsg struct{}

// Model is the section list component state.
type Model struct {
	list    sections.SectionList
	cursor  int // index into the flattened rows
	offset  int // first visible body line
	width   int
	height  int
	keys    keys.KeyMap
	help    help.Model
	spinner spinner.Model

	refreshing   bool
	showHelp     bool
	mouseRefresh bool
}

// New creates an empty section list.
func New(km keys.KeyMap) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.HeaderColor)
	return Model{
		keys:         km,
		help:         help.New(),
		spinner:      s,
		showHelp:     true,
		mouseRefresh: true,
	}
}

// SetSize updates the component dimensions.
func (m Model) SetSize(width, height int) Model {
	m.width = width
	m.height = height
	m.help.Width = width
	m.ensureVisible()
	return m
}

// SetSections replaces the displayed list. The cursor stays on the same
// flat position, clamped to the new row count.
func (m Model) SetSections(list sections.SectionList) Model {
	m.list = list
	m.cursor = min(m.cursor, max(list.RowCount()-1, 0))
	m.ensureVisible()
	return m
}

// Sections returns the displayed list.
func (m Model) Sections() sections.SectionList {
	return m.list
}

// StartRefresh shows the refresh indicator and starts the spinner.
func (m Model) StartRefresh() (Model, tea.Cmd) {
	if m.refreshing {
		return m, nil
	}
	m.refreshing = true
	return m, m.spinner.Tick
}

// StopRefresh hides the refresh indicator.
func (m Model) StopRefresh() Model {
	m.refreshing = false
	return m
}

// Refreshing reports whether the refresh indicator is showing.
func (m Model) Refreshing() bool {
	return m.refreshing
}

// SetShowHelp toggles the key help footer.
func (m Model) SetShowHelp(show bool) Model {
	m.showHelp = show
	m.ensureVisible()
	return m
}

// ShowHelp reports whether the key help footer is shown.
func (m Model) ShowHelp() bool {
	return m.showHelp
}

// SetMouseRefresh enables or disables the wheel-up refresh gesture.
func (m Model) SetMouseRefresh(enabled bool) Model {
	m.mouseRefresh = enabled
	return m
}

// SetSpinner selects the spinner animation by name. Unknown names fall back
// to the dot spinner.
func (m Model) SetSpinner(name string) Model {
	m.spinner.Spinner = spinnerByName(name)
	m.spinner.Style = lipgloss.NewStyle().Foreground(styles.HeaderColor)
	return m
}

func spinnerByName(name string) spinner.Spinner {
	switch name {
	case "line":
		return spinner.Line
	case "minidot":
		return spinner.MiniDot
	case "points":
		return spinner.Points
	default:
		return spinner.Dot
	}
}

// Cursor returns the flat index of the selected row.
func (m Model) Cursor() int {
	return m.cursor
}

// Selected returns the row under the cursor and its section title.
func (m Model) Selected() (sections.RowItem, string, bool) {
	i := m.cursor
	for _, s := range m.list {
		if i < len(s.Items) {
			return s.Items[i], s.Title, true
		}
		i -= len(s.Items)
	}
	return nil, "", false
}

// Update handles navigation keys, refresh gestures and spinner ticks.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if !m.refreshing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	rows := m.list.RowCount()
	switch {
	case key.Matches(msg, m.keys.Refresh):
		return m, refreshCmd
	case key.Matches(msg, m.keys.Up):
		m.cursor = max(m.cursor-1, 0)
	case key.Matches(msg, m.keys.Down):
		m.cursor = min(m.cursor+1, max(rows-1, 0))
	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
		m.offset = 0
	case key.Matches(msg, m.keys.Bottom):
		m.cursor = max(rows-1, 0)
	case key.Matches(msg, m.keys.PageUp):
		m.cursor = max(m.cursor-m.bodyHeight()/2, 0)
	case key.Matches(msg, m.keys.PageDown):
		m.cursor = min(m.cursor+m.bodyHeight()/2, max(rows-1, 0))
	default:
		return m, nil
	}
	m.ensureVisible()
	return m, nil
}

func (m Model) handleMouse(msg tea.MouseMsg) (Model, tea.Cmd) {
	switch {
	case msg.Button == tea.MouseButtonLeft && msg.Action == tea.MouseActionRelease:
		if z := zone.Get(ZoneRefresh); z != nil && z.InBounds(msg) {
			return m, refreshCmd
		}
	case msg.Button == tea.MouseButtonWheelUp:
		if m.offset == 0 {
			if m.mouseRefresh {
				return m, refreshCmd
			}
			return m, nil
		}
		m.offset--
	case msg.Button == tea.MouseButtonWheelDown:
		m.offset = min(m.offset+1, m.maxOffset())
	}
	return m, nil
}

func refreshCmd() tea.Msg {
	return RefreshMsg{}
}

// bodyHeight is the number of lines available to sections.
func (m Model) bodyHeight() int {
	h := m.height - 1 // title bar
	if m.showHelp {
		h--
	}
	return max(h, 1)
}

// cursorLine returns the body line of the selected row. Each section takes
// its rows plus a top and bottom border.
func (m Model) cursorLine() int {
	line, i := 0, m.cursor
	for _, s := range m.list {
		if i < len(s.Items) {
			return line + 1 + i
		}
		i -= len(s.Items)
		line += len(s.Items) + 2
	}
	return 0
}

func (m Model) totalLines() int {
	n := 0
	for _, s := range m.list {
		n += len(s.Items) + 2
	}
	return n
}

func (m Model) maxOffset() int {
	return max(m.totalLines()-m.bodyHeight(), 0)
}

func (m *Model) ensureVisible() {
	if m.height == 0 {
		return
	}
	line := m.cursorLine()
	h := m.bodyHeight()
	if line < m.offset {
		m.offset = max(line-1, 0)
	}
	if line >= m.offset+h {
		m.offset = line - h + 2
	}
	m.offset = min(max(m.offset, 0), m.maxOffset())
}

// View renders the title bar, the visible sections and the help footer.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTitleBar())
	b.WriteString("\n")

	body := m.renderBody()
	h := m.bodyHeight()
	end := min(m.offset+h, len(body))
	visible := body[min(m.offset, end):end]
	for len(visible) < h {
		visible = append(visible, "")
	}
	b.WriteString(strings.Join(visible, "\n"))

	if m.showHelp {
		b.WriteString("\n")
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model) renderTitleBar() string {
	title := styles.TitleStyle.Render(appTitle)

	var right string
	if m.refreshing {
		right = m.spinner.View() + styles.MutedStyle.Render(" refreshing…")
	} else {
		right = zone.Mark(ZoneRefresh, styles.RefreshButtonStyle.Render("↻ refresh"))
	}

	gap := m.width - lipgloss.Width(title) - lipgloss.Width(right)
	if gap < 1 {
		return title + " " + right
	}
	return title + strings.Repeat(" ", gap) + right
}

func (m Model) renderBody() []string {
	if len(m.list) == 0 {
		return []string{styles.MutedStyle.Render("  waiting for sections…")}
	}

	width := max(m.width, 8)
	var lines []string
	flat := 0
	for _, s := range m.list {
		focused := false
		rows := make([]string, 0, len(s.Items))
		for _, item := range s.Items {
			rows = append(rows, m.renderRow(item, flat == m.cursor, width-4))
			if flat == m.cursor {
				focused = true
			}
			flat++
		}
		box := styles.RenderSection(rows, s.Title, fmt.Sprint(len(s.Items)), width, focused)
		lines = append(lines, strings.Split(box, "\n")...)
	}
	return lines
}

func (m Model) renderRow(item sections.RowItem, selected bool, labelWidth int) string {
	label := runewidth.Truncate(item.Label(), max(labelWidth, 1), "…")
	if selected {
		return styles.SelectionIndicatorStyle.Render(">") + " " + styles.SelectedRowStyle.Render(label)
	}
	return "  " + styles.RowStyle.Render(label)
}
