package tui

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"byggarportalen/internal/storage"
	mytesting "byggarportalen/internal/testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type fakeBackend struct {
	mu       sync.Mutex
	userID   string
	projects []storage.Project
	messages map[string][]storage.Message
	deleted  []string
	now      time.Time
	profiles []storage.Profile
	members  map[string][]storage.Member
}

func newFakeBackend(userID string, projects ...storage.Project) *fakeBackend {
	return &fakeBackend{
		userID:   userID,
		projects: projects,
		messages: map[string][]storage.Message{},
		members:  map[string][]storage.Member{},
		now:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (b *fakeBackend) Projects(context.Context) ([]storage.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]storage.Project(nil), b.projects...), nil
}

func (b *fakeBackend) DeleteProject(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range b.projects {
		if p.ID == id {
			b.projects = append(b.projects[:i], b.projects[i+1:]...)
		}
	}
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) RemoveTimeline(_ context.Context, id string) (storage.Project, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.projects {
		if b.projects[i].ID == id {
			b.projects[i].TimelineImageURL = nil
			return b.projects[i], nil
		}
	}
	return storage.Project{}, storage.ErrProjectNotExist
}

func (b *fakeBackend) Messages(_ context.Context, projectID string) ([]storage.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]storage.Message(nil), b.messages[projectID]...), nil
}

func (b *fakeBackend) SendMessage(_ context.Context, projectID, content string) (storage.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = b.now.Add(time.Second)
	m := storage.Message{ID: uuid.NewString(), ProjectID: projectID, UserID: b.userID, Content: content, CreatedAt: b.now}
	b.messages[projectID] = append(b.messages[projectID], m)
	return m, nil
}

func (b *fakeBackend) DeleteMessage(_ context.Context, projectID, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.messages[projectID]
	for i, m := range list {
		if m.ID == messageID {
			b.messages[projectID] = append(list[:i], list[i+1:]...)
		}
	}
	return nil
}

func (b *fakeBackend) SubscribeMessages(context.Context, string, func(storage.Message)) (io.Closer, error) {
	return nopCloser{}, nil
}

func (b *fakeBackend) Members(_ context.Context, projectID string) ([]storage.Member, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]storage.Member(nil), b.members[projectID]...), nil
}

func (b *fakeBackend) SearchProfiles(_ context.Context, query string, _ bool) ([]storage.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []storage.Profile
	for _, p := range b.profiles {
		if p.FullName != nil && strings.Contains(strings.ToLower(*p.FullName), strings.ToLower(query)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *fakeBackend) AddMember(_ context.Context, projectID string, nm storage.NewMember) (storage.Member, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := storage.Member{ID: uuid.NewString(), ProjectID: projectID, UserID: nm.UserID, Role: nm.Role}
	for _, p := range b.profiles {
		if p.ID == nm.UserID {
			m.Profile = p
		}
	}
	b.members[projectID] = append(b.members[projectID], m)
	return m, nil
}

func (b *fakeBackend) RemoveMember(_ context.Context, projectID, memberID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.members[projectID]
	for i, m := range list {
		if m.ID == memberID {
			b.members[projectID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return storage.ErrMemberNotExist
}

func newModel(t *testing.T, b *fakeBackend) *Model {
	m := New(context.Background(), zap.NewNop().Sugar(), b, b.userID)
	t.Cleanup(m.Close)

	msg := m.loadProjects()()
	m.Update(msg)
	return m
}

// run executes cmd and feeds its message back into the model
func run(m *Model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if msg := cmd(); msg != nil {
		m.Update(msg)
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func project(name string) storage.Project {
	return storage.Project{ID: uuid.NewString(), Name: name, Status: storage.StatusPlanned}
}

func TestProjectList(t *testing.T) {
	b := newFakeBackend("u1", project("Villa"), project("Garage"))
	m := newModel(t, b)

	require.Contains(t, m.View(), "Villa")
	require.Contains(t, m.View(), "Garage")

	m.Update(key("j"))
	require.Equal(t, 1, m.cursor)
	m.Update(key("j"))
	require.Equal(t, 1, m.cursor)
}

func TestChatSend(t *testing.T) {
	b := newFakeBackend("u1", project("Villa"))
	m := newModel(t, b)

	_, cmd := m.Update(key("enter"))
	require.Equal(t, screenChat, m.screen)
	run(m, cmd)

	require.Eventually(t, func() bool {
		m.refresh()
		return !m.chat.Loading
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, m.View(), "No messages yet.")

	m.Update(key("Hej!"))
	_, cmd = m.Update(key("enter"))
	run(m, cmd)

	require.Len(t, m.chat.Lines, 1)
	require.Equal(t, "You", m.chat.Lines[0].Sender)
	require.Empty(t, m.input.Value())
	require.Contains(t, m.View(), "Hej!")

	m.Update(key("esc"))
	require.Equal(t, screenProjects, m.screen)
	require.Nil(t, m.lifecycle.Current())
}

func TestChatDeleteOwnMessage(t *testing.T) {
	p := project("Villa")
	b := newFakeBackend("u1", p)
	_, err := b.SendMessage(context.Background(), p.ID, "ta bort mig")
	require.NoError(t, err)
	m := newModel(t, b)

	_, cmd := m.Update(key("enter"))
	run(m, cmd)
	require.Eventually(t, func() bool {
		m.refresh()
		return len(m.chat.Lines) == 1
	}, time.Second, 5*time.Millisecond)

	m.Update(key("tab"))
	m.Update(key("d"))
	require.True(t, m.chat.Delete.Open)
	require.Contains(t, m.View(), "Are you sure you want to delete this message?")

	m.Update(key("n"))
	require.False(t, m.chat.Delete.Open)

	m.Update(key("d"))
	_, cmd = m.Update(key("y"))
	run(m, cmd)

	require.Empty(t, m.chat.Lines)
	require.False(t, m.chat.Delete.Open)
}

func TestDeleteProjectGate(t *testing.T) {
	p := project("Villa")
	b := newFakeBackend("u1", p)
	m := newModel(t, b)

	m.Update(key("d"))
	require.True(t, m.gate.Open)
	require.Contains(t, m.View(), "Delete project")

	m.Update(key("n"))
	require.False(t, m.gate.Open)
	require.Empty(t, b.deleted)

	m.Update(key("d"))
	_, cmd := m.Update(key("y"))
	require.True(t, m.gate.Busy)
	require.Contains(t, m.View(), "Processing…")

	msg := cmd()
	_, cmd = m.Update(msg)
	run(m, cmd)

	require.Equal(t, []string{p.ID}, b.deleted)
	require.False(t, m.gate.Open)
	require.Empty(t, m.projects)
}

func TestRemoveTimelineOnlyWithImage(t *testing.T) {
	p := project("Villa")
	b := newFakeBackend("u1", p)
	m := newModel(t, b)

	m.Update(key("x"))
	require.False(t, m.gate.Open)

	b.projects[0].TimelineImageURL = mytesting.Ptr("http://blobs.test/project-timeline/x.jpg")
	run(m, m.loadProjects())

	m.Update(key("x"))
	require.True(t, m.gate.Open)

	_, cmd := m.Update(key("y"))
	msg := cmd()
	_, cmd = m.Update(msg)
	run(m, cmd)

	require.Nil(t, m.projects[0].TimelineImageURL)
}

func TestMembersScreen(t *testing.T) {
	p := project("Villa")
	p.OwnerID = "u1"
	b := newFakeBackend("u1", p)
	b.profiles = []storage.Profile{{ID: "u2", FullName: mytesting.Ptr("Sven Berg")}}
	m := newModel(t, b)

	_, cmd := m.Update(key("m"))
	require.Equal(t, screenMembers, m.screen)
	run(m, cmd)
	require.Contains(t, m.View(), "No members yet.")

	m.Update(key("berg"))
	_, cmd = m.Update(key("enter"))
	run(m, cmd)
	require.Len(t, m.memberScreen.state.Results, 1)
	require.Contains(t, m.View(), "Sven Berg")

	m.Update(key("tab"))
	m.Update(key("snickare"))
	m.Update(key("tab"))
	require.Equal(t, focusResults, m.memberScreen.focus)

	_, cmd = m.Update(key("a"))
	run(m, cmd)
	st := m.memberScreen.state
	require.Len(t, st.Members, 1)
	require.Equal(t, "snickare", *st.Members[0].Role)
	require.True(t, st.Results[0].AlreadyMember)
	require.Empty(t, m.memberScreen.role.Value())

	// adding the same user again is a no-op
	_, cmd = m.Update(key("a"))
	require.Nil(t, cmd)

	m.Update(key("tab"))
	m.Update(key("d"))
	require.True(t, m.memberScreen.state.RemoveGate.Open)
	require.Contains(t, m.View(), "Remove member")

	m.Update(key("n"))
	require.False(t, m.memberScreen.state.RemoveGate.Open)
	require.Len(t, b.members[p.ID], 1)

	m.Update(key("d"))
	_, cmd = m.Update(key("y"))
	require.Contains(t, m.View(), "Processing…")
	run(m, cmd)
	require.Empty(t, m.memberScreen.state.Members)
	require.Empty(t, b.members[p.ID])

	m.Update(key("esc"))
	require.Equal(t, screenProjects, m.screen)
}

func TestMembersScreenReadOnly(t *testing.T) {
	p := project("Villa")
	p.OwnerID = "someone-else"
	b := newFakeBackend("u1", p)
	b.members[p.ID] = []storage.Member{{ID: "m1", ProjectID: p.ID, UserID: "u1", Profile: storage.Profile{ID: "u1", FullName: mytesting.Ptr("Anna")}}}
	m := newModel(t, b)

	_, cmd := m.Update(key("m"))
	run(m, cmd)
	require.Contains(t, m.View(), "Anna")
	require.NotContains(t, m.View(), "Add member")

	m.Update(key("d"))
	require.False(t, m.memberScreen.state.RemoveGate.Open)
}
