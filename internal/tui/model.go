// Package tui is a terminal client: a list of the user's projects and a live chat per project.
package tui

import (
	"context"
	"fmt"
	"strings"

	"byggarportalen/internal/chat"
	"byggarportalen/internal/confirm"
	"byggarportalen/internal/members"
	"byggarportalen/internal/storage"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

// Backend is the API the terminal client needs
type Backend interface {
	chat.Backend
	members.Backend
	Projects(ctx context.Context) ([]storage.Project, error)
	DeleteProject(ctx context.Context, id string) error
	RemoveTimeline(ctx context.Context, id string) (storage.Project, error)
}

type screen int

const (
	screenProjects screen = iota
	screenChat
	screenMembers
)

type projectsMsg struct {
	projects []storage.Project
	err      error
}

// changedMsg means the active chat session has new state
type changedMsg struct{}

type sendDoneMsg struct{}

// actionResult is filled by a gate's confirm action
type actionResult struct {
	err    error
	reload bool
}

type gateDoneMsg struct {
	res *actionResult
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("236")).Foreground(lipgloss.Color("255"))
	senderStyle   = lipgloss.NewStyle().Bold(true)
)

// Model is the bubbletea model of the client
type Model struct {
	ctx       context.Context
	logger    *zap.SugaredLogger
	backend   Backend
	userID    string
	lifecycle *chat.Lifecycle
	changes   chan struct{}

	screen   screen
	projects []storage.Project
	cursor   int
	status   string

	// gate guards project deletion and timeline removal on the project list
	gate       confirm.Dialog
	gateResult *actionResult

	chat     chat.View
	selected int
	browsing bool
	input    textinput.Model
	viewport viewport.Model

	memberScreen *membersScreen

	width  int
	height int
}

// New returns the model for userID
func New(ctx context.Context, logger *zap.SugaredLogger, backend Backend, userID string) *Model {
	m := &Model{
		ctx:      ctx,
		logger:   logger,
		backend:  backend,
		userID:   userID,
		changes:  make(chan struct{}, 1),
		selected: -1,
		width:    80,
		height:   24,
	}
	m.lifecycle = chat.NewLifecycle(logger, backend, userID, m.notify)

	m.input = textinput.New()
	m.input.Placeholder = "Write a message"
	m.input.CharLimit = storage.MaxMessageLength
	m.input.Width = 60

	m.viewport = viewport.New(m.width, m.height-6)
	return m
}

// notify runs on session goroutines and must not block
func (m *Model) notify() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changes:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) loadProjects() tea.Cmd {
	return func() tea.Msg {
		projects, err := m.backend.Projects(m.ctx)
		return projectsMsg{projects: projects, err: err}
	}
}

// Close releases the chat subscription
func (m *Model) Close() {
	m.lifecycle.Close()
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadProjects(), m.waitForChange())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-6, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.renderChat()
		return m, nil

	case projectsMsg:
		if msg.err != nil {
			m.logger.Errorf("loading projects: %v", msg.err)
			m.status = "Could not load projects."
			return m, nil
		}
		m.status = ""
		m.projects = msg.projects
		if m.cursor >= len(m.projects) {
			m.cursor = max(len(m.projects)-1, 0)
		}
		return m, nil

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case sendDoneMsg:
		m.refresh()
		if m.chat.Input == "" && m.chat.Error == "" {
			m.input.Reset()
		}
		return m, nil

	case membersMsg:
		if m.memberScreen != nil {
			if msg.added {
				m.memberScreen.role.Reset()
			}
			m.memberScreen.refresh(m)
		}
		return m, nil

	case gateDoneMsg:
		m.gate = confirm.Closed
		if msg.res.err != nil {
			m.logger.Errorf("project action: %v", msg.res.err)
			m.status = "Technical error."
			return m, nil
		}
		if msg.res.reload {
			return m, m.loadProjects()
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.screen {
		case screenChat:
			return m.updateChat(msg)
		case screenMembers:
			return m.updateMembers(msg)
		}
		return m.updateProjects(msg)
	}
	return m, nil
}

func (m *Model) updateProjects(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.gate.Open {
		switch msg.String() {
		case "y", "enter":
			return m, m.confirmGate()
		case "n", "esc":
			m.gate.Cancel()
		}
		return m, nil
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.projects)-1 {
			m.cursor++
		}
	case "r":
		return m, m.loadProjects()
	case "enter":
		if p, ok := m.current(); ok {
			return m, m.openChat(p)
		}
	case "m":
		if p, ok := m.current(); ok {
			return m, m.openMembers(p)
		}
	case "d":
		if p, ok := m.current(); ok {
			m.openProjectGate(p, "Delete project",
				fmt.Sprintf("Delete %q? Members and chat messages are removed too.", p.Name),
				"Delete", func(ctx context.Context) error {
					return m.backend.DeleteProject(ctx, p.ID)
				})
		}
	case "x":
		if p, ok := m.current(); ok && p.TimelineImageURL != nil {
			m.openProjectGate(p, "Remove timeline image",
				"Remove the timeline image of this project?",
				"Remove", func(ctx context.Context) error {
					_, err := m.backend.RemoveTimeline(ctx, p.ID)
					return err
				})
		}
	}
	return m, nil
}

func (m *Model) current() (storage.Project, bool) {
	if m.cursor < 0 || m.cursor >= len(m.projects) {
		return storage.Project{}, false
	}
	return m.projects[m.cursor], true
}

func (m *Model) openProjectGate(p storage.Project, title, description, label string, action func(context.Context) error) {
	res := &actionResult{reload: true}
	m.gate = confirm.Dialog{
		Open:         true,
		Title:        title,
		Description:  description,
		ConfirmLabel: label,
		Variant:      confirm.Danger,
		OnConfirm: func() {
			m.logger.Debugf("%s (project: %s)", title, p.ID)
			res.err = action(m.ctx)
		},
		OnCancel: func() {
			m.gate = confirm.Closed
		},
	}
	m.gateResult = res
}

// confirmGate runs the confirm action off the update loop; the gate shows busy meanwhile
func (m *Model) confirmGate() tea.Cmd {
	gate, res := m.gate, m.gateResult
	if !gate.Enabled() {
		return nil
	}
	m.gate.Busy = true
	return func() tea.Msg {
		gate.Confirm()
		return gateDoneMsg{res: res}
	}
}

func (m *Model) openChat(p storage.Project) tea.Cmd {
	m.screen = screenChat
	m.selected = -1
	m.browsing = false
	m.input.Reset()
	m.input.Focus()
	m.chat = chat.View{ProjectID: p.ID, Loading: true}
	m.renderChat()

	return func() tea.Msg {
		m.lifecycle.Show(m.ctx, p.ID)
		return changedMsg{}
	}
}

// refresh copies the active session state into the model
func (m *Model) refresh() {
	s := m.lifecycle.Current()
	if s == nil {
		return
	}
	m.chat = s.Snapshot()
	if m.selected >= len(m.chat.Lines) {
		m.selected = len(m.chat.Lines) - 1
	}
	m.renderChat()
}

func (m *Model) session() *chat.Session {
	s := m.lifecycle.Current()
	if s == nil || s.ProjectID() != m.chat.ProjectID {
		return nil
	}
	return s
}

func (m *Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.session()

	if m.chat.Delete.Open {
		switch msg.String() {
		case "y", "enter":
			d := m.chat.Delete
			if !d.Enabled() {
				return m, nil
			}
			return m, func() tea.Msg {
				d.Confirm()
				return changedMsg{}
			}
		case "n", "esc":
			m.chat.Delete.Cancel()
			m.refresh()
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		m.screen = screenProjects
		m.lifecycle.Close()
		m.chat = chat.View{}
		return m, nil
	case "tab":
		m.browsing = !m.browsing
		if m.browsing {
			m.input.Blur()
			if m.selected < 0 {
				m.selected = len(m.chat.Lines) - 1
			}
		} else {
			m.input.Focus()
		}
		m.renderChat()
		return m, nil
	}

	if m.browsing {
		switch msg.String() {
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.chat.Lines)-1 {
				m.selected++
			}
		case "d":
			if s != nil && m.selected >= 0 && m.selected < len(m.chat.Lines) {
				s.RequestDelete(m.chat.Lines[m.selected].ID)
				m.refresh()
			}
		}
		m.renderChat()
		return m, nil
	}

	if msg.Type == tea.KeyEnter {
		if s == nil || m.chat.Sending {
			return m, nil
		}
		s.SetInput(m.input.Value())
		return m, func() tea.Msg {
			s.Send(m.ctx)
			return sendDoneMsg{}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) renderChat() {
	var b strings.Builder
	for i, l := range m.chat.Lines {
		line := fmt.Sprintf("%s %s %s",
			mutedStyle.Render(l.CreatedAt.Local().Format("15:04")),
			senderStyle.Render(l.Sender+":"),
			l.Content)
		if m.browsing && i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	m.viewport.SetContent(b.String())
	if !m.browsing {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	switch m.screen {
	case screenChat:
		return m.viewChat()
	case screenMembers:
		return m.viewMembers()
	}
	return m.viewProjects()
}

func (m *Model) viewProjects() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Projects") + "\n\n")

	if len(m.projects) == 0 {
		b.WriteString(mutedStyle.Render("No projects yet.") + "\n")
	}
	for i, p := range m.projects {
		line := fmt.Sprintf("%s  %s", p.Name, mutedStyle.Render(string(p.Status)))
		if i == m.cursor {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}

	if m.status != "" {
		b.WriteString("\n" + errorStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render("enter chat · m members · d delete · x remove timeline image · r reload · q quit"))

	if m.gate.Open {
		return b.String() + "\n\n" + renderDialog(m.width, m.gate)
	}
	return b.String()
}

func (m *Model) viewChat() string {
	var b strings.Builder

	title := "Chat"
	for _, p := range m.projects {
		if p.ID == m.chat.ProjectID {
			title = p.Name
		}
	}
	b.WriteString(titleStyle.Render(title) + "\n")

	switch {
	case m.chat.Loading:
		b.WriteString(mutedStyle.Render("Loading…") + "\n")
	case len(m.chat.Lines) == 0 && !m.chat.NotFound:
		b.WriteString(mutedStyle.Render("No messages yet.") + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString(m.viewport.View() + "\n")

	if m.chat.Error != "" {
		b.WriteString(errorStyle.Render(m.chat.Error) + "\n")
	}
	b.WriteString(m.input.View() + "\n")
	b.WriteString(mutedStyle.Render("enter send · tab select messages · d delete own · esc back"))

	if m.chat.Delete.Open {
		return b.String() + "\n\n" + renderDialog(m.width, m.chat.Delete)
	}
	return b.String()
}

func renderDialog(screenWidth int, d confirm.Dialog) string {
	w := min(max(screenWidth-12, 20), 72)

	confirmStyle := lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("62")).Foreground(lipgloss.Color("255"))
	if d.Variant == confirm.Danger {
		confirmStyle = confirmStyle.Background(lipgloss.Color("160"))
	}
	cancelStyle := lipgloss.NewStyle().Padding(0, 1).Background(lipgloss.Color("238")).Foreground(lipgloss.Color("252"))

	body := lipgloss.NewStyle().Bold(true).Render(d.Title) + "\n\n" +
		d.Description + "\n\n" +
		confirmStyle.Render("y "+d.ConfirmText()) + " " + cancelStyle.Render("n "+d.CancelText())

	return lipgloss.NewStyle().
		Width(w).
		Padding(1, 2).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Render(body)
}

// Run shows the client until the user quits or ctx is done
func Run(ctx context.Context, logger *zap.SugaredLogger, backend Backend, userID string) error {
	m := New(ctx, logger, backend, userID)
	defer m.Close()

	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
