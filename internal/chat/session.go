// Package chat holds the per-project chat view-model and the lifecycle that keeps exactly
// one live subscription open for the project being viewed.
package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"byggarportalen/internal/client"
	"byggarportalen/internal/confirm"
	"byggarportalen/internal/storage"

	"go.uber.org/zap"
)

// user-facing messages
const (
	MsgLoadFailed   = "Could not load chat messages."
	MsgSignedOut    = "You must be signed in to chat."
	MsgSendFailed   = "Could not send message."
	MsgDeleteFailed = "Could not delete message."
	MsgTechnical    = "Technical error."
	MsgNotFound     = "Project not found."

	NameSelf    = "You"
	NameUnknown = "unknown user"
)

// Backend is the part of the API the chat needs
type Backend interface {
	Messages(ctx context.Context, projectID string) ([]storage.Message, error)
	SendMessage(ctx context.Context, projectID, content string) (storage.Message, error)
	DeleteMessage(ctx context.Context, projectID, messageID string) error
	// SubscribeMessages calls fn for every message inserted into the project until closed
	SubscribeMessages(ctx context.Context, projectID string, fn func(storage.Message)) (io.Closer, error)
}

// Line is a rendered chat message
type Line struct {
	ID        string
	Sender    string
	Content   string
	Mine      bool
	CreatedAt time.Time
}

// View is a snapshot of the session state
type View struct {
	ProjectID string
	Lines     []Line
	Loading   bool
	NotFound  bool
	Sending   bool
	Error     string
	Input     string
	Delete    confirm.Dialog
}

// DisplayName picks the name shown for the sender of m
func DisplayName(m storage.Message, currentUserID string) string {
	if m.Sender != nil && m.Sender.FullName != nil && *m.Sender.FullName != "" {
		return *m.Sender.FullName
	}
	if currentUserID != "" && m.UserID == currentUserID {
		return NameSelf
	}
	return NameUnknown
}

// Session is the chat state of one project
type Session struct {
	logger    *zap.SugaredLogger
	backend   Backend
	projectID string
	userID    string
	onChange  func()

	mu sync.Mutex
	// gen is bumped on every activation and deactivation, results carrying an older gen are dropped
	gen      uint64
	active   bool
	ctx      context.Context
	sub      io.Closer
	messages []storage.Message
	// rows pushed while the initial load is in flight
	pushed        []storage.Message
	loading       bool
	notFound      bool
	err           string
	input         string
	sending       bool
	pendingDelete string
	deleting      bool
}

// NewSession returns an inactive session, userID is empty when signed out.
// onChange, if not nil, is called after every state change without the session lock held.
func NewSession(logger *zap.SugaredLogger, backend Backend, projectID, userID string, onChange func()) *Session {
	return &Session{
		logger:    logger,
		backend:   backend,
		projectID: projectID,
		userID:    userID,
		onChange:  onChange,
	}
}

func (s *Session) ProjectID() string {
	return s.projectID
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Activate starts the initial load and opens the live subscription
func (s *Session) Activate(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.active = true
	s.ctx = ctx
	s.messages = nil
	s.pushed = nil
	s.loading = true
	s.notFound = false
	s.err = ""
	s.mu.Unlock()
	s.changed()

	s.logger.Debugf("Activating chat (project: %s)", s.projectID)

	go s.load(ctx, gen)

	sub, err := s.backend.SubscribeMessages(ctx, s.projectID, func(m storage.Message) {
		s.applyPush(gen, m)
	})
	if err != nil {
		s.logger.Warnf("opening chat subscription (project: %s): %v", s.projectID, err)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		// deactivated while subscribing
		s.mu.Unlock()
		s.closeSub(sub)
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// Deactivate closes the subscription, anything still in flight is discarded when it lands
func (s *Session) Deactivate() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.gen++
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.logger.Debugf("Deactivating chat (project: %s)", s.projectID)

	if sub != nil {
		s.closeSub(sub)
	}
}

func (s *Session) closeSub(sub io.Closer) {
	if err := sub.Close(); err != nil {
		s.logger.Warnf("closing chat subscription (project: %s): %v", s.projectID, err)
	}
}

func (s *Session) load(ctx context.Context, gen uint64) {
	defer s.recoverTechnical(gen, func() { s.loading = false })

	messages, err := s.backend.Messages(ctx, s.projectID)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.loading = false
	switch {
	case errors.Is(err, client.ErrNotFound):
		s.notFound = true
		s.messages = nil
	case err != nil:
		s.logger.Errorf("loading chat messages (project: %s): %v", s.projectID, err)
		s.err = MsgLoadFailed
		s.messages = nil
	default:
		s.messages = make([]storage.Message, 0, len(messages)+len(s.pushed))
		for _, m := range messages {
			s.upsert(m)
		}
		// rows pushed or sent while loading are newer than the snapshot or already in it
		for _, m := range s.pushed {
			s.upsert(m)
		}
	}
	s.pushed = nil
	s.mu.Unlock()
	s.changed()
}

func (s *Session) applyPush(gen uint64, m storage.Message) {
	s.mu.Lock()
	if s.gen != gen || m.ProjectID != s.projectID {
		s.mu.Unlock()
		return
	}
	if s.loading {
		s.pushed = append(s.pushed, m)
	}
	s.upsert(m)
	s.mu.Unlock()
	s.changed()
}

// upsert places m by creation time, replacing a row with the same id.
// A row carrying a sender profile is never replaced by one without. Callers hold mu.
func (s *Session) upsert(m storage.Message) {
	for i := range s.messages {
		if s.messages[i].ID != m.ID {
			continue
		}
		if m.Sender == nil && s.messages[i].Sender != nil {
			m.Sender = s.messages[i].Sender
		}
		s.messages[i] = m
		return
	}

	i := len(s.messages)
	for i > 0 && s.messages[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	s.messages = append(s.messages, storage.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
}

func (s *Session) remove(id string) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

// recoverTechnical turns a panic in a backend call into the generic error message
func (s *Session) recoverTechnical(gen uint64, reset func()) {
	r := recover()
	if r == nil {
		return
	}
	s.logger.Errorf("chat (project: %s): %v", s.projectID, r)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	reset()
	s.err = MsgTechnical
	s.mu.Unlock()
	s.changed()
}

// SetInput replaces the compose text
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
	s.changed()
}

// Send posts the trimmed compose text. It is a no-op for blank input.
func (s *Session) Send(ctx context.Context) {
	s.mu.Lock()
	if s.userID == "" {
		s.err = MsgSignedOut
		s.mu.Unlock()
		s.changed()
		return
	}
	text := strings.TrimSpace(s.input)
	if text == "" || s.sending || !s.active {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.sending = true
	s.err = ""
	s.mu.Unlock()
	s.changed()

	defer s.recoverTechnical(gen, func() { s.sending = false })

	s.logger.Debugf("Sending message (project: %s)", s.projectID)
	m, err := s.backend.SendMessage(ctx, s.projectID, text)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.sending = false
	if err != nil {
		s.logger.Errorf("sending message (project: %s): %v", s.projectID, err)
		s.err = MsgSendFailed
	} else {
		if s.loading {
			s.pushed = append(s.pushed, m)
		}
		s.upsert(m)
		s.input = ""
	}
	s.mu.Unlock()
	s.changed()
}

// RequestDelete arms the delete gate for one of the current user's own messages
func (s *Session) RequestDelete(id string) bool {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.changed()
	}()

	if s.deleting || s.userID == "" {
		return false
	}
	for _, m := range s.messages {
		if m.ID == id && m.UserID == s.userID {
			s.pendingDelete = id
			return true
		}
	}
	return false
}

// CancelDelete closes the gate unless a delete is running
func (s *Session) CancelDelete() {
	s.mu.Lock()
	if s.deleting {
		s.mu.Unlock()
		return
	}
	s.pendingDelete = ""
	s.mu.Unlock()
	s.changed()
}

// ConfirmDelete deletes the message selected by RequestDelete
func (s *Session) ConfirmDelete(ctx context.Context) {
	s.mu.Lock()
	id := s.pendingDelete
	if id == "" || s.deleting {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.deleting = true
	s.err = ""
	s.mu.Unlock()
	s.changed()

	defer s.recoverTechnical(gen, func() { s.deleting = false })

	s.logger.Debugf("Deleting message (id: %s)", id)
	err := s.backend.DeleteMessage(ctx, s.projectID, id)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.deleting = false
	if err != nil {
		s.logger.Errorf("deleting message (id: %s): %v", id, err)
		s.err = MsgDeleteFailed
	} else {
		s.remove(id)
		s.pendingDelete = ""
	}
	s.mu.Unlock()
	s.changed()
}

// Messages returns a copy of the ordered message list
func (s *Session) Messages() []storage.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Message(nil), s.messages...)
}

// Snapshot returns the current state ready for rendering
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ProjectID: s.projectID,
		Lines:     make([]Line, 0, len(s.messages)),
		Loading:   s.loading,
		NotFound:  s.notFound,
		Sending:   s.sending,
		Error:     s.err,
		Input:     s.input,
	}
	if v.NotFound {
		v.Error = MsgNotFound
	}
	for _, m := range s.messages {
		v.Lines = append(v.Lines, Line{
			ID:        m.ID,
			Sender:    DisplayName(m, s.userID),
			Content:   m.Content,
			Mine:      s.userID != "" && m.UserID == s.userID,
			CreatedAt: m.CreatedAt,
		})
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	v.Delete = confirm.Dialog{
		Open:         s.pendingDelete != "",
		Title:        "Delete message",
		Description:  "Are you sure you want to delete this message?",
		ConfirmLabel: "Delete",
		CancelLabel:  "Cancel",
		Variant:      confirm.Danger,
		Busy:         s.deleting,
		OnConfirm:    func() { s.ConfirmDelete(ctx) },
		OnCancel:     s.CancelDelete,
	}
	return v
}
