package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"byggarportalen/internal/client"
	"byggarportalen/internal/storage"
	mytesting "byggarportalen/internal/testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeSub struct {
	projectID string
	fn        func(storage.Message)

	mu     sync.Mutex
	closed int
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSub) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeServer is the shared state behind every fakeBackend, it pushes inserts to all open subscriptions
type fakeServer struct {
	mu       sync.Mutex
	seq      int
	base     time.Time
	messages map[string][]storage.Message
	profiles map[string]*storage.Sender
	subs     []*fakeSub
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		base:     time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		messages: map[string][]storage.Message{},
		profiles: map[string]*storage.Sender{},
	}
}

func (f *fakeServer) insert(projectID, userID, content string) (storage.Message, storage.Message) {
	f.mu.Lock()
	f.seq++
	m := storage.Message{
		ID:        fmt.Sprintf("m%d", f.seq),
		ProjectID: projectID,
		UserID:    userID,
		Content:   content,
		CreatedAt: f.base.Add(time.Duration(f.seq) * time.Second),
	}
	pushed := m
	m.Sender = f.profiles[userID]
	f.messages[projectID] = append(f.messages[projectID], m)
	f.mu.Unlock()
	return m, pushed
}

// push delivers m to open subscriptions of its project the way the change feed does, without a profile
func (f *fakeServer) push(m storage.Message) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		if s.fn != nil && s.projectID == m.ProjectID && s.closeCount() == 0 {
			s.fn(m)
		}
	}
}

func (f *fakeServer) subsFor(projectID string) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs {
		if s.projectID == projectID {
			out = append(out, s)
		}
	}
	return out
}

type fakeBackend struct {
	srv    *fakeServer
	userID string

	mu          sync.Mutex
	loadErr     error
	sendErr     error
	deleteErr   error
	sendPanic   bool
	loadGate    chan struct{}
	noPush      bool
	loads       int
	sendCalls   int
	deleteCalls int
}

// Messages takes its snapshot before waiting on loadGate, like a query that is slow to return
func (b *fakeBackend) Messages(_ context.Context, projectID string) ([]storage.Message, error) {
	b.srv.mu.Lock()
	snapshot := append([]storage.Message(nil), b.srv.messages[projectID]...)
	b.srv.mu.Unlock()

	b.mu.Lock()
	gate, err := b.loadGate, b.loadErr
	b.loads++
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (b *fakeBackend) loadCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

func (b *fakeBackend) SendMessage(_ context.Context, projectID, content string) (storage.Message, error) {
	b.mu.Lock()
	b.sendCalls++
	err, panics := b.sendErr, b.sendPanic
	b.mu.Unlock()
	if panics {
		panic("connection reset")
	}
	if err != nil {
		return storage.Message{}, err
	}

	m, pushed := b.srv.insert(projectID, b.userID, content)
	b.srv.push(pushed)
	return m, nil
}

func (b *fakeBackend) DeleteMessage(_ context.Context, projectID, messageID string) error {
	b.mu.Lock()
	b.deleteCalls++
	err := b.deleteErr
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.srv.mu.Lock()
	defer b.srv.mu.Unlock()
	list := b.srv.messages[projectID]
	for i := range list {
		if list[i].ID == messageID {
			b.srv.messages[projectID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return client.ErrNotFound
}

func (b *fakeBackend) SubscribeMessages(_ context.Context, projectID string, fn func(storage.Message)) (io.Closer, error) {
	s := &fakeSub{projectID: projectID}
	if !b.noPush {
		s.fn = fn
	}
	b.srv.mu.Lock()
	b.srv.subs = append(b.srv.subs, s)
	b.srv.mu.Unlock()
	return s, nil
}

func (b *fakeBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendCalls, b.deleteCalls
}

func newSession(t *testing.T, b *fakeBackend, projectID string) *Session {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	s := NewSession(logger.Sugar(), b, projectID, b.userID, nil)
	t.Cleanup(s.Deactivate)
	return s
}

func activate(t *testing.T, s *Session) {
	s.Activate(context.Background())
	require.Eventually(t, func() bool { return !s.Snapshot().Loading }, waitFor, tick)
}

func TestLoadEmptyProject(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{srv: newFakeServer(), userID: "u1"}
	s := newSession(t, b, "p1")
	activate(t, s)

	v := s.Snapshot()
	require.Empty(t, v.Lines)
	require.Empty(t, v.Error)
	require.False(t, v.NotFound)
}

func TestLoadOrdersByCreationTime(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.insert("p1", "u1", "first")
	srv.insert("p1", "u2", "second")
	srv.insert("p2", "u1", "elsewhere")

	b := &fakeBackend{srv: srv, userID: "u1"}
	s := newSession(t, b, "p1")
	activate(t, s)

	v := s.Snapshot()
	require.Len(t, v.Lines, 2)
	require.Equal(t, "first", v.Lines[0].Content)
	require.True(t, v.Lines[0].Mine)
	require.Equal(t, NameSelf, v.Lines[0].Sender)
	require.Equal(t, NameUnknown, v.Lines[1].Sender)
}

func TestLoadFailure(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{srv: newFakeServer(), userID: "u1", loadErr: errors.New("boom")}
	s := newSession(t, b, "p1")
	activate(t, s)

	v := s.Snapshot()
	require.Equal(t, MsgLoadFailed, v.Error)
	require.Empty(t, v.Lines)
}

func TestLoadNotFound(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{srv: newFakeServer(), userID: "u1", loadErr: fmt.Errorf("get: %w", client.ErrNotFound)}
	s := newSession(t, b, "p1")
	activate(t, s)

	v := s.Snapshot()
	require.True(t, v.NotFound)
	require.Equal(t, MsgNotFound, v.Error)
}

func TestSendAppendsWithOwnName(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.profiles["u1"] = &storage.Sender{ID: "u1", FullName: mytesting.Ptr("Anna Andersson")}
	b := &fakeBackend{srv: srv, userID: "u1"}
	s := newSession(t, b, "p1")
	activate(t, s)

	s.SetInput("  Hej!  ")
	s.Send(context.Background())

	v := s.Snapshot()
	require.Len(t, v.Lines, 1)
	require.Equal(t, "Hej!", v.Lines[0].Content)
	require.Equal(t, "Anna Andersson", v.Lines[0].Sender)
	require.Empty(t, v.Input)
	require.False(t, v.Sending)
}

func TestSendBlankIsNoop(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{srv: newFakeServer(), userID: "u1"}
	s := newSession(t, b, "p1")
	activate(t, s)

	for _, input := range []string{"", "   ", "\n\t"} {
		s.SetInput(input)
		s.Send(context.Background())
	}

	sends, _ := b.calls()
	require.Zero(t, sends)
	require.Empty(t, s.Snapshot().Lines)
	require.Empty(t, s.Snapshot().Error)
}

func TestSendSignedOut(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{srv: newFakeServer()}
	s := newSession(t, b, "p1")
	activate(t, s)

	s.SetInput("Hej!")
	s.Send(context.Background())

	sends, _ := b.calls()
	require.Zero(t, sends)
	require.Equal(t, MsgSignedOut, s.Snapshot().Error)
}

func TestSendFailureKeepsInput(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{srv: newFakeServer(), userID: "u1", sendErr: errors.New("boom")}
	s := newSession(t, b, "p1")
	activate(t, s)

	s.SetInput("Hej!")
	s.Send(context.Background())

	v := s.Snapshot()
	require.Equal(t, MsgSendFailed, v.Error)
	require.Equal(t, "Hej!", v.Input)
	require.Empty(t, v.Lines)
	require.False(t, v.Sending)
}

func TestSendPanicIsTechnicalError(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{srv: newFakeServer(), userID: "u1", sendPanic: true}
	s := newSession(t, b, "p1")
	activate(t, s)

	s.SetInput("Hej!")
	s.Send(context.Background())

	v := s.Snapshot()
	require.Equal(t, MsgTechnical, v.Error)
	require.False(t, v.Sending)
	require.Equal(t, "Hej!", v.Input)
}

func TestTwoUsersChat(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.profiles["u1"] = &storage.Sender{ID: "u1", FullName: mytesting.Ptr("Anna Andersson")}
	a := newSession(t, &fakeBackend{srv: srv, userID: "u1"}, "p1")
	b := newSession(t, &fakeBackend{srv: srv, userID: "u2"}, "p1")
	activate(t, a)
	activate(t, b)

	require.Empty(t, a.Snapshot().Lines)

	a.SetInput("Hej!")
	a.Send(context.Background())

	// the sender's own push copy is deduplicated against the inserted row
	lines := a.Snapshot().Lines
	require.Len(t, lines, 1)
	require.Equal(t, "Hej!", lines[0].Content)
	require.Equal(t, "Anna Andersson", lines[0].Sender)

	require.Eventually(t, func() bool { return len(b.Snapshot().Lines) == 1 }, waitFor, tick)
	got := b.Snapshot().Lines[0]
	require.Equal(t, "Hej!", got.Content)
	require.Equal(t, NameUnknown, got.Sender)
	require.False(t, got.Mine)

	// a reload brings the joined profile
	b.Deactivate()
	activate(t, b)
	require.Equal(t, "Anna Andersson", b.Snapshot().Lines[0].Sender)
}

func TestPushDuringLoadIsKept(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.insert("p1", "u1", "old")
	gate := make(chan struct{})
	b := &fakeBackend{srv: srv, userID: "u1", loadGate: gate}
	s := newSession(t, b, "p1")

	s.Activate(context.Background())
	require.Eventually(t, func() bool { return len(srv.subsFor("p1")) == 1 }, waitFor, tick)

	_, pushed := srv.insert("p1", "u2", "racing")
	srv.push(pushed)
	close(gate)

	require.Eventually(t, func() bool { return !s.Snapshot().Loading }, waitFor, tick)
	lines := s.Snapshot().Lines
	require.Len(t, lines, 2)
	require.Equal(t, "old", lines[0].Content)
	require.Equal(t, "racing", lines[1].Content)
}

func TestSendDuringLoadIsKept(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.profiles["u1"] = &storage.Sender{FullName: mytesting.Ptr("Anna")}
	gate := make(chan struct{})
	b := &fakeBackend{srv: srv, userID: "u1", loadGate: gate, noPush: true}
	s := newSession(t, b, "p1")

	s.Activate(context.Background())
	require.Eventually(t, func() bool { return b.loadCalls() == 1 }, waitFor, tick)

	s.SetInput("Hej!")
	s.Send(context.Background())
	require.Len(t, s.Snapshot().Lines, 1)

	close(gate)
	require.Eventually(t, func() bool { return !s.Snapshot().Loading }, waitFor, tick)

	lines := s.Snapshot().Lines
	require.Len(t, lines, 1)
	require.Equal(t, "Hej!", lines[0].Content)
	require.Equal(t, "Anna", lines[0].Sender)
}

func TestLoadFailureDropsPushes(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	gate := make(chan struct{})
	b := &fakeBackend{srv: srv, userID: "u1", loadGate: gate, loadErr: errors.New("boom")}
	s := newSession(t, b, "p1")

	s.Activate(context.Background())
	require.Eventually(t, func() bool { return len(srv.subsFor("p1")) == 1 }, waitFor, tick)

	_, pushed := srv.insert("p1", "u2", "racing")
	srv.push(pushed)
	close(gate)

	require.Eventually(t, func() bool { return !s.Snapshot().Loading }, waitFor, tick)
	v := s.Snapshot()
	require.Equal(t, MsgLoadFailed, v.Error)
	require.Empty(t, v.Lines)
}

func TestLoadAfterDeactivateIsDiscarded(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	srv.insert("p1", "u1", "late")
	gate := make(chan struct{})
	b := &fakeBackend{srv: srv, userID: "u1", loadGate: gate}
	s := newSession(t, b, "p1")

	s.Activate(context.Background())
	s.Deactivate()
	close(gate)

	require.Never(t, func() bool { return len(s.Messages()) > 0 }, 100*time.Millisecond, tick)
}

func TestDeleteOwnMessage(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	mine, _ := srv.insert("p1", "u1", "mine")
	theirs, _ := srv.insert("p1", "u2", "theirs")
	b := &fakeBackend{srv: srv, userID: "u1"}
	s := newSession(t, b, "p1")
	activate(t, s)

	require.False(t, s.RequestDelete(theirs.ID))
	require.False(t, s.Snapshot().Delete.Open)

	require.True(t, s.RequestDelete(mine.ID))
	d := s.Snapshot().Delete
	require.True(t, d.Open)
	require.Equal(t, "Delete", d.ConfirmText())
	require.True(t, d.Confirm())

	v := s.Snapshot()
	require.Len(t, v.Lines, 1)
	require.Equal(t, theirs.ID, v.Lines[0].ID)
	require.False(t, v.Delete.Open)
	require.Empty(t, v.Error)
}

func TestDeleteWithoutConfirm(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	mine, _ := srv.insert("p1", "u1", "mine")
	b := &fakeBackend{srv: srv, userID: "u1"}
	s := newSession(t, b, "p1")
	activate(t, s)

	require.True(t, s.RequestDelete(mine.ID))
	require.True(t, s.Snapshot().Delete.Cancel())

	_, deletes := b.calls()
	require.Zero(t, deletes)
	require.Len(t, s.Snapshot().Lines, 1)
	require.False(t, s.Snapshot().Delete.Open)
}

func TestDeleteFailureKeepsGateOpen(t *testing.T) {
	t.Parallel()

	srv := newFakeServer()
	mine, _ := srv.insert("p1", "u1", "mine")
	b := &fakeBackend{srv: srv, userID: "u1", deleteErr: errors.New("boom")}
	s := newSession(t, b, "p1")
	activate(t, s)

	require.True(t, s.RequestDelete(mine.ID))
	s.ConfirmDelete(context.Background())

	v := s.Snapshot()
	require.Equal(t, MsgDeleteFailed, v.Error)
	require.True(t, v.Delete.Open)
	require.False(t, v.Delete.Busy)
	require.Len(t, v.Lines, 1)
}

func TestUpsertOrdering(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := &Session{}
	s.upsert(storage.Message{ID: "b", CreatedAt: base.Add(time.Second)})
	s.upsert(storage.Message{ID: "c", CreatedAt: base.Add(time.Second)})
	s.upsert(storage.Message{ID: "a", CreatedAt: base})
	s.upsert(storage.Message{ID: "d", CreatedAt: base.Add(2 * time.Second)})

	// replacing in place keeps the known sender
	sender := &storage.Sender{ID: "u1"}
	s.upsert(storage.Message{ID: "c", CreatedAt: base.Add(time.Second), Sender: sender})
	s.upsert(storage.Message{ID: "c", CreatedAt: base.Add(time.Second), Content: "edited"})

	var ids []string
	for _, m := range s.messages {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, ids)
	require.Equal(t, sender, s.messages[2].Sender)
	require.Equal(t, "edited", s.messages[2].Content)
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	named := storage.Message{UserID: "u2", Sender: &storage.Sender{FullName: mytesting.Ptr("Bo")}}
	blank := storage.Message{UserID: "u2", Sender: &storage.Sender{FullName: mytesting.Ptr("")}}

	require.Equal(t, "Bo", DisplayName(named, "u1"))
	require.Equal(t, NameUnknown, DisplayName(blank, "u1"))
	require.Equal(t, NameSelf, DisplayName(storage.Message{UserID: "u1"}, "u1"))
	require.Equal(t, NameUnknown, DisplayName(storage.Message{UserID: "u1"}, ""))
}
