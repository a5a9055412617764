// Package members is the member-management view-model of a project page.
// Only the project owner may add or remove members; for everyone else those actions do nothing.
package members

import (
	"context"
	"strings"
	"sync"

	"byggarportalen/internal/confirm"
	"byggarportalen/internal/storage"

	"go.uber.org/zap"
)

const (
	MsgLoadFailed   = "Could not load members."
	MsgSearchFailed = "Could not search users."
	MsgAddFailed    = "Could not add the user to the project."
	MsgRemoveFailed = "Could not remove member."
	MsgTechnical    = "Technical error."
)

// Backend is the part of the API member management needs
type Backend interface {
	Members(ctx context.Context, projectID string) ([]storage.Member, error)
	SearchProfiles(ctx context.Context, query string, withEmail bool) ([]storage.Profile, error)
	AddMember(ctx context.Context, projectID string, nm storage.NewMember) (storage.Member, error)
	RemoveMember(ctx context.Context, projectID, memberID string) error
}

// Result is a search hit
type Result struct {
	Profile       storage.Profile
	AlreadyMember bool
	Role          string
	Adding        bool
}

// State is a snapshot for rendering
type State struct {
	Members    []storage.Member
	Results    []Result
	Loading    bool
	Searching  bool
	MembersErr string
	SearchErr  string
	CanManage  bool
	RemoveGate confirm.Dialog
}

type View struct {
	logger    *zap.SugaredLogger
	backend   Backend
	projectID string
	isOwner   bool

	mu            sync.Mutex
	members       []storage.Member
	results       []storage.Profile
	roles         map[string]string
	loading       bool
	searching     bool
	adding        string
	membersErr    string
	searchErr     string
	pendingRemove string
	removing      bool
}

func NewView(logger *zap.SugaredLogger, backend Backend, projectID string, isOwner bool) *View {
	return &View{
		logger:    logger,
		backend:   backend,
		projectID: projectID,
		isOwner:   isOwner,
		roles:     map[string]string{},
	}
}

// technical maps a panic during a backend call to the generic message in slot
func (v *View) technical(slot *string, reset func()) {
	r := recover()
	if r == nil {
		return
	}
	v.logger.Errorf("members (project: %s): %v", v.projectID, r)
	v.mu.Lock()
	reset()
	*slot = MsgTechnical
	v.mu.Unlock()
}

// Load fetches the member list
func (v *View) Load(ctx context.Context) {
	v.mu.Lock()
	v.loading = true
	v.membersErr = ""
	v.mu.Unlock()

	defer v.technical(&v.membersErr, func() { v.loading = false })

	members, err := v.backend.Members(ctx, v.projectID)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = false
	if err != nil {
		v.logger.Errorf("loading members (project: %s): %v", v.projectID, err)
		v.membersErr = MsgLoadFailed
		return
	}
	v.members = members
}

// IsMember reports whether userID is in the cached member set. The check is advisory,
// the unique constraint on the server is what prevents duplicates.
func (v *View) IsMember(userID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isMemberLocked(userID)
}

func (v *View) isMemberLocked(userID string) bool {
	for _, m := range v.members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Search looks up profiles by name, company or email. A blank query clears the results.
func (v *View) Search(ctx context.Context, query string) {
	query = strings.TrimSpace(query)

	v.mu.Lock()
	v.searchErr = ""
	if query == "" {
		v.results = nil
		v.mu.Unlock()
		return
	}
	v.searching = true
	v.mu.Unlock()

	defer v.technical(&v.searchErr, func() {
		v.searching = false
		v.results = nil
	})

	found, err := v.backend.SearchProfiles(ctx, query, true)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.searching = false
	if err != nil {
		v.logger.Errorf("searching profiles: %v", err)
		v.searchErr = MsgSearchFailed
		v.results = nil
		return
	}
	v.results = found
}

// SetRole stores the role typed next to a search result
func (v *View) SetRole(userID, role string) {
	v.mu.Lock()
	v.roles[userID] = role
	v.mu.Unlock()
}

// Add adds a searched profile as member and reports whether it was added
func (v *View) Add(ctx context.Context, userID string) bool {
	v.mu.Lock()
	if !v.isOwner || userID == "" || v.adding != "" || v.isMemberLocked(userID) {
		v.mu.Unlock()
		return false
	}
	nm := storage.NewMember{UserID: userID}
	if role := strings.TrimSpace(v.roles[userID]); role != "" {
		nm.Role = &role
	}
	v.adding = userID
	v.searchErr = ""
	v.mu.Unlock()

	defer v.technical(&v.searchErr, func() { v.adding = "" })

	v.logger.Debugf("Adding member (project: %s, user: %s)", v.projectID, userID)
	m, err := v.backend.AddMember(ctx, v.projectID, nm)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.adding = ""
	if err != nil {
		v.logger.Errorf("adding member (project: %s): %v", v.projectID, err)
		v.searchErr = MsgAddFailed
		return false
	}
	v.members = append(v.members, m)
	delete(v.roles, userID)
	return true
}

// RequestRemove arms the removal gate, owners only
func (v *View) RequestRemove(memberID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isOwner || v.removing {
		return false
	}
	for _, m := range v.members {
		if m.ID == memberID {
			v.pendingRemove = memberID
			return true
		}
	}
	return false
}

func (v *View) CancelRemove() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.removing {
		v.pendingRemove = ""
	}
}

// ConfirmRemove removes the member selected by RequestRemove
func (v *View) ConfirmRemove(ctx context.Context) {
	v.mu.Lock()
	id := v.pendingRemove
	if !v.isOwner || id == "" || v.removing {
		v.mu.Unlock()
		return
	}
	v.removing = true
	v.membersErr = ""
	v.mu.Unlock()

	defer v.technical(&v.membersErr, func() { v.removing = false })

	v.logger.Debugf("Removing member (id: %s)", id)
	err := v.backend.RemoveMember(ctx, v.projectID, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.removing = false
	if err != nil {
		v.logger.Errorf("removing member (id: %s): %v", id, err)
		v.membersErr = MsgRemoveFailed
		return
	}
	for i := range v.members {
		if v.members[i].ID == id {
			v.members = append(v.members[:i], v.members[i+1:]...)
			break
		}
	}
	v.pendingRemove = ""
}

// State returns a snapshot, ctx is used by the removal gate's confirm action
func (v *View) State(ctx context.Context) State {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := State{
		Members:    append([]storage.Member(nil), v.members...),
		Results:    make([]Result, 0, len(v.results)),
		Loading:    v.loading,
		Searching:  v.searching,
		MembersErr: v.membersErr,
		SearchErr:  v.searchErr,
		CanManage:  v.isOwner,
	}
	for _, p := range v.results {
		s.Results = append(s.Results, Result{
			Profile:       p,
			AlreadyMember: v.isMemberLocked(p.ID),
			Role:          v.roles[p.ID],
			Adding:        v.adding == p.ID,
		})
	}
	s.RemoveGate = confirm.Dialog{
		Open:         v.pendingRemove != "",
		Title:        "Remove member",
		Description:  "Remove this user from the project?",
		ConfirmLabel: "Remove",
		CancelLabel:  "Cancel",
		Variant:      confirm.Danger,
		Busy:         v.removing,
		OnConfirm:    func() { v.ConfirmRemove(ctx) },
		OnCancel:     v.CancelRemove,
	}
	return s
}
