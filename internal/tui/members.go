package tui

import (
	"strings"

	"byggarportalen/internal/members"
	"byggarportalen/internal/storage"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type membersFocus int

const (
	focusSearch membersFocus = iota
	focusRole
	focusResults
	focusMembers
)

// membersMsg means the members view has new state
type membersMsg struct {
	added bool
}

// membersScreen manages the members of one project
type membersScreen struct {
	project storage.Project
	view    *members.View
	state   members.State

	focus  membersFocus
	search textinput.Model
	role   textinput.Model
	result int
	member int
}

func newMembersScreen(m *Model, p storage.Project) *membersScreen {
	s := &membersScreen{
		project: p,
		view:    members.NewView(m.logger, m.backend, p.ID, p.OwnerID == m.userID),
	}
	s.state.Loading = true
	s.state.CanManage = p.OwnerID == m.userID

	s.search = textinput.New()
	s.search.Placeholder = "Search name, company or email"
	s.search.Width = 40
	s.search.Focus()

	s.role = textinput.New()
	s.role.Placeholder = "Role (optional)"
	s.role.Width = 30

	if !s.state.CanManage {
		s.setFocus(focusMembers)
	}
	return s
}

func (m *Model) openMembers(p storage.Project) tea.Cmd {
	m.screen = screenMembers
	m.memberScreen = newMembersScreen(m, p)
	v := m.memberScreen.view
	return func() tea.Msg {
		v.Load(m.ctx)
		return membersMsg{}
	}
}

// membersCmd runs fn against the view off the update loop
func (m *Model) membersCmd(fn func(v *members.View)) tea.Cmd {
	v := m.memberScreen.view
	return func() tea.Msg {
		fn(v)
		return membersMsg{}
	}
}

func (s *membersScreen) refresh(m *Model) {
	s.state = s.view.State(m.ctx)
	if s.result >= len(s.state.Results) {
		s.result = max(len(s.state.Results)-1, 0)
	}
	if s.member >= len(s.state.Members) {
		s.member = max(len(s.state.Members)-1, 0)
	}
}

func (s *membersScreen) setFocus(f membersFocus) {
	s.focus = f
	s.search.Blur()
	s.role.Blur()
	switch f {
	case focusSearch:
		s.search.Focus()
	case focusRole:
		s.role.Focus()
	}
}

func (m *Model) updateMembers(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.memberScreen

	if gate := s.state.RemoveGate; gate.Open {
		switch msg.String() {
		case "y", "enter":
			if !gate.Enabled() {
				return m, nil
			}
			s.state.RemoveGate.Busy = true
			return m, func() tea.Msg {
				gate.Confirm()
				return membersMsg{}
			}
		case "n", "esc":
			gate.Cancel()
			s.refresh(m)
		}
		return m, nil
	}

	switch msg.String() {
	case "esc":
		m.screen = screenProjects
		m.memberScreen = nil
		return m, nil
	case "tab":
		if s.state.CanManage {
			s.setFocus((s.focus + 1) % 4)
		}
		return m, nil
	}

	switch s.focus {
	case focusSearch:
		if msg.Type == tea.KeyEnter {
			query := s.search.Value()
			return m, m.membersCmd(func(v *members.View) { v.Search(m.ctx, query) })
		}
		var cmd tea.Cmd
		s.search, cmd = s.search.Update(msg)
		return m, cmd

	case focusRole:
		if msg.Type == tea.KeyEnter {
			s.setFocus(focusResults)
			return m, nil
		}
		var cmd tea.Cmd
		s.role, cmd = s.role.Update(msg)
		return m, cmd

	case focusResults:
		switch msg.String() {
		case "up", "k":
			if s.result > 0 {
				s.result--
			}
		case "down", "j":
			if s.result < len(s.state.Results)-1 {
				s.result++
			}
		case "a", "enter":
			if s.result < len(s.state.Results) {
				r := s.state.Results[s.result]
				if !s.state.CanManage || r.AlreadyMember {
					return m, nil
				}
				userID, role := r.Profile.ID, s.role.Value()
				v := s.view
				return m, func() tea.Msg {
					v.SetRole(userID, role)
					return membersMsg{added: v.Add(m.ctx, userID)}
				}
			}
		}

	case focusMembers:
		switch msg.String() {
		case "up", "k":
			if s.member > 0 {
				s.member--
			}
		case "down", "j":
			if s.member < len(s.state.Members)-1 {
				s.member++
			}
		case "d":
			if s.member < len(s.state.Members) {
				s.view.RequestRemove(s.state.Members[s.member].ID)
				s.refresh(m)
			}
		}
	}
	return m, nil
}

func displayProfile(p storage.Profile) string {
	name := "Unnamed user"
	if p.FullName != nil && *p.FullName != "" {
		name = *p.FullName
	}
	var extra []string
	if p.Company != nil && *p.Company != "" {
		extra = append(extra, *p.Company)
	}
	if p.Email != nil && *p.Email != "" {
		extra = append(extra, *p.Email)
	}
	if len(extra) == 0 {
		return name
	}
	return name + " " + mutedStyle.Render("("+strings.Join(extra, ", ")+")")
}

func (m *Model) viewMembers() string {
	s := m.memberScreen
	st := s.state

	var b strings.Builder
	b.WriteString(titleStyle.Render(s.project.Name+" · Members") + "\n\n")

	switch {
	case st.Loading:
		b.WriteString(mutedStyle.Render("Loading…") + "\n")
	case st.MembersErr != "":
		b.WriteString(errorStyle.Render(st.MembersErr) + "\n")
	case len(st.Members) == 0:
		b.WriteString(mutedStyle.Render("No members yet.") + "\n")
	}
	for i, mem := range st.Members {
		line := displayProfile(mem.Profile)
		if mem.Role != nil {
			line += " · " + *mem.Role
		}
		if s.focus == focusMembers && i == s.member {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}

	if st.CanManage {
		b.WriteString("\n" + titleStyle.Render("Add member") + "\n")
		b.WriteString(s.search.View() + "\n")
		b.WriteString(s.role.View() + "\n")
		if st.Searching {
			b.WriteString(mutedStyle.Render("Searching…") + "\n")
		}
		if st.SearchErr != "" {
			b.WriteString(errorStyle.Render(st.SearchErr) + "\n")
		}
		for i, r := range st.Results {
			line := displayProfile(r.Profile)
			switch {
			case r.AlreadyMember:
				line += " " + mutedStyle.Render("already a member")
			case r.Adding:
				line += " " + mutedStyle.Render("adding…")
			}
			if s.focus == focusResults && i == s.result {
				line = selectedStyle.Render("> " + line)
			} else {
				line = "  " + line
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n" + mutedStyle.Render("tab focus · enter search/add · d remove member · esc back"))
	} else {
		b.WriteString("\n" + mutedStyle.Render("esc back"))
	}

	if st.RemoveGate.Open {
		return b.String() + "\n\n" + renderDialog(m.width, st.RemoveGate)
	}
	return b.String()
}
