package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"byggarportalen/internal/auth"
	"byggarportalen/internal/chat"
	"byggarportalen/internal/client"
	"byggarportalen/internal/members"
	"byggarportalen/internal/realtime"
	"byggarportalen/internal/server"
	"byggarportalen/internal/storage"
	mytesting "byggarportalen/internal/testing"
	"byggarportalen/internal/testing/memstore"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testAPI struct {
	t      *testing.T
	logger *zap.SugaredLogger
	url    string
}

func bootstrap(t *testing.T) *testAPI {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	hub := realtime.NewHub(logger.Sugar(), 16)
	srv, err := server.NewServer(logger.Sugar(), memstore.New(hub), hub,
		auth.NewSessions(auth.Config{Secret: mytesting.RandString()}),
		server.StreamKeepAlive(50*time.Millisecond))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testAPI{t: t, logger: logger.Sugar(), url: ts.URL}
}

func (a *testAPI) signUp(fullName string) *client.Client {
	c, err := client.New(a.logger, a.url, client.Timeout(5*time.Second))
	require.NoError(a.t, err)

	_, err = c.Register(context.Background(), mytesting.RandEmail(), "hemligt123", fullName)
	require.NoError(a.t, err)
	require.NotEmpty(a.t, c.UserID())
	return c
}

func TestNewBadURL(t *testing.T) {
	logger := zap.NewNop().Sugar()

	_, err := client.New(logger, "localhost:9000")
	require.Error(t, err)

	_, err = client.New(logger, "http://localhost:9000/")
	require.NoError(t, err)
}

func TestAPIErrorIs(t *testing.T) {
	err := error(&client.APIError{Status: 404, Message: "Project not found"})

	require.True(t, errors.Is(err, client.ErrNotFound))
	require.False(t, errors.Is(err, client.ErrForbidden))
	require.Equal(t, "api: 404 Project not found", err.Error())
}

func TestAuth(t *testing.T) {
	a := bootstrap(t)
	ctx := context.Background()

	c, err := client.New(a.logger, a.url)
	require.NoError(t, err)

	_, err = c.CurrentUser(ctx)
	require.True(t, errors.Is(err, client.ErrUnauthorized))

	email := mytesting.RandEmail()
	s, err := c.Register(ctx, email, "hemligt123", "Anna")
	require.NoError(t, err)
	require.Equal(t, email, s.User.Email)

	require.NoError(t, c.Logout(ctx))
	require.Empty(t, c.UserID())

	_, err = c.Login(ctx, email, "fel-lösenord")
	require.True(t, errors.Is(err, client.ErrUnauthorized))

	_, err = c.Login(ctx, email, "hemligt123")
	require.NoError(t, err)

	// a second client reuses the token
	other, err := client.New(a.logger, a.url, client.WithToken(c.Token()))
	require.NoError(t, err)
	u, err := other.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, s.User.ID, u.ID)
	require.Equal(t, u.ID, other.UserID())
}

func TestProjects(t *testing.T) {
	a := bootstrap(t)
	ctx := context.Background()
	c := a.signUp("Anna")

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	p, err := c.CreateProject(ctx, storage.NewProject{Name: "Villa", Address: mytesting.Ptr("Storgatan 1"), StartDate: &start})
	require.NoError(t, err)
	require.Equal(t, storage.StatusPlanned, p.Status)
	require.True(t, start.Equal(*p.StartDate))

	_, err = c.CreateProject(ctx, storage.NewProject{Name: " "})
	require.True(t, errors.Is(err, client.ErrBadRequest))

	p, err = c.UpdateStatus(ctx, p.ID, storage.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, storage.StatusCompleted, p.Status)

	p, err = c.UpdateDetails(ctx, p.ID, storage.ProjectDetails{Name: "Villa Solbacken"})
	require.NoError(t, err)
	require.Equal(t, "Villa Solbacken", p.Name)
	require.Nil(t, p.Address)

	projects, err := c.Projects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)

	require.NoError(t, c.DeleteProject(ctx, p.ID))
	_, err = c.Project(ctx, p.ID)
	require.True(t, errors.Is(err, client.ErrNotFound))
}

func TestProfile(t *testing.T) {
	a := bootstrap(t)
	ctx := context.Background()
	c := a.signUp("Anna")

	email := mytesting.RandEmail()
	p, err := c.SaveProfile(ctx, storage.Profile{FullName: mytesting.Ptr("Anna Berg"), Company: mytesting.Ptr("Berg Bygg AB"), Email: &email})
	require.NoError(t, err)
	require.Equal(t, "Berg Bygg AB", *p.Company)

	p, err = c.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, email, *p.Email)

	found, err := c.SearchProfiles(ctx, "berg bygg", false)
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = c.SearchProfiles(ctx, "  ", true)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestSubscribeMessagesNotMember(t *testing.T) {
	a := bootstrap(t)
	ctx := context.Background()
	owner := a.signUp("Owner")
	stranger := a.signUp("Stranger")

	p, err := owner.CreateProject(ctx, storage.NewProject{Name: "Villa"})
	require.NoError(t, err)

	_, err = stranger.SubscribeMessages(ctx, p.ID, func(storage.Message) {})
	require.True(t, errors.Is(err, client.ErrNotFound))
}

func TestSubscribeMessagesClose(t *testing.T) {
	a := bootstrap(t)
	ctx := context.Background()
	c := a.signUp("Owner")

	p, err := c.CreateProject(ctx, storage.NewProject{Name: "Villa"})
	require.NoError(t, err)

	got := make(chan storage.Message, 4)
	sub, err := c.SubscribeMessages(ctx, p.ID, func(m storage.Message) { got <- m })
	require.NoError(t, err)

	_, err = c.SendMessage(ctx, p.ID, "första")
	require.NoError(t, err)

	select {
	case m := <-got:
		require.Equal(t, "första", m.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("no pushed message")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, err = c.SendMessage(ctx, p.ID, "andra")
	require.NoError(t, err)

	select {
	case m := <-got:
		t.Fatalf("message %q delivered after close", m.Content)
	case <-time.After(100 * time.Millisecond):
	}
}

// Two users chat through the API: the receiver sees the pushed message as "unknown user"
// until the chat is reloaded.
func TestChatEndToEnd(t *testing.T) {
	a := bootstrap(t)
	ctx := context.Background()
	u1 := a.signUp("Anna")
	u2 := a.signUp("Bertil")

	p, err := u1.CreateProject(ctx, storage.NewProject{Name: "Villa"})
	require.NoError(t, err)
	_, err = u1.AddMember(ctx, p.ID, storage.NewMember{UserID: u2.UserID()})
	require.NoError(t, err)

	s1 := chat.NewSession(a.logger, u1, p.ID, u1.UserID(), nil)
	s1.Activate(ctx)
	defer s1.Deactivate()

	l2 := chat.NewLifecycle(a.logger, u2, u2.UserID(), nil)
	s2 := l2.Show(ctx, p.ID)
	defer l2.Close()

	require.Eventually(t, func() bool {
		return !s1.Snapshot().Loading && !s2.Snapshot().Loading
	}, 5*time.Second, 10*time.Millisecond)

	s1.SetInput("Hej!")
	s1.Send(ctx)

	v1 := s1.Snapshot()
	require.Len(t, v1.Lines, 1)
	require.Equal(t, "Anna", v1.Lines[0].Sender)
	require.Empty(t, v1.Input)

	require.Eventually(t, func() bool {
		return len(s2.Snapshot().Lines) == 1
	}, 5*time.Second, 10*time.Millisecond)

	line := s2.Snapshot().Lines[0]
	require.Equal(t, "Hej!", line.Content)
	require.Equal(t, chat.NameUnknown, line.Sender)
	require.False(t, line.Mine)

	// u1's own copy is not duplicated by its push
	require.Never(t, func() bool {
		return len(s1.Snapshot().Lines) != 1
	}, 200*time.Millisecond, 20*time.Millisecond)

	// switching away and back reloads with profiles
	l2.Show(ctx, "00000000-0000-0000-0000-000000000000")
	require.Eventually(t, func() bool {
		return l2.Current().Snapshot().NotFound
	}, 5*time.Second, 10*time.Millisecond)

	s2 = l2.Show(ctx, p.ID)
	require.Eventually(t, func() bool {
		v := s2.Snapshot()
		return !v.Loading && len(v.Lines) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "Anna", s2.Snapshot().Lines[0].Sender)

	// u2 can not delete u1's message
	require.False(t, s2.RequestDelete(line.ID))
	require.True(t, s1.RequestDelete(line.ID))
	s1.ConfirmDelete(ctx)
	require.Empty(t, s1.Snapshot().Lines)
}

func TestMembersView(t *testing.T) {
	a := bootstrap(t)
	ctx := context.Background()
	owner := a.signUp("Owner")
	worker := a.signUp("Snickar-Sven")

	p, err := owner.CreateProject(ctx, storage.NewProject{Name: "Villa"})
	require.NoError(t, err)

	v := members.NewView(a.logger, owner, p.ID, true)
	v.Load(ctx)
	v.Search(ctx, "snickar")

	st := v.State(ctx)
	require.Len(t, st.Results, 1)
	require.False(t, st.Results[0].AlreadyMember)

	v.SetRole(worker.UserID(), "snickare")
	require.True(t, v.Add(ctx, worker.UserID()))

	st = v.State(ctx)
	require.Len(t, st.Members, 1)
	require.Equal(t, "snickare", *st.Members[0].Role)
	require.True(t, v.IsMember(worker.UserID()))

	require.True(t, v.RequestRemove(st.Members[0].ID))
	v.ConfirmRemove(ctx)
	require.Empty(t, v.State(ctx).Members)
}

func TestAddMembers(t *testing.T) {
	a := bootstrap(t)
	ctx := context.Background()
	owner := a.signUp("Owner")
	u1 := a.signUp("Anna")
	u2 := a.signUp("Bertil")

	p, err := owner.CreateProject(ctx, storage.NewProject{Name: "Villa"})
	require.NoError(t, err)

	added, err := owner.AddMembers(ctx, p.ID, []storage.NewMember{
		{UserID: u1.UserID(), Role: mytesting.Ptr("snickare")},
		{UserID: u2.UserID()},
	})
	require.NoError(t, err)
	require.Len(t, added, 2)

	_, err = owner.AddMembers(ctx, p.ID, []storage.NewMember{{UserID: u1.UserID()}})
	require.True(t, errors.Is(err, client.ErrConflict))

	_, err = u1.AddMembers(ctx, p.ID, []storage.NewMember{{UserID: owner.UserID()}})
	require.True(t, errors.Is(err, client.ErrForbidden))
}
