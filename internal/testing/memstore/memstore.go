// Package memstore is an in-memory stand-in for storage.Store used by handler and client tests.
// Message inserts are published to the hub in the same notification format the database trigger uses.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"byggarportalen/internal/realtime"
	"byggarportalen/internal/storage"

	"github.com/google/uuid"
)

type Store struct {
	hub *realtime.Hub

	mu       sync.Mutex
	now      time.Time
	users    map[string]storage.User
	profiles map[string]storage.Profile
	projects map[string]storage.Project
	members  []storage.Member
	messages []storage.Message
}

// New returns an empty store, hub may be nil
func New(hub *realtime.Hub) *Store {
	return &Store{
		hub:      hub,
		now:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		users:    map[string]storage.User{},
		profiles: map[string]storage.Profile{},
		projects: map[string]storage.Project{},
	}
}

// tick returns a strictly increasing timestamp. Callers hold mu.
func (s *Store) tick() time.Time {
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateUser(_ context.Context, email, hash string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return storage.User{}, storage.ErrUserExists
		}
	}
	u := storage.User{ID: uuid.NewString(), Email: email, PasswordHash: hash, CreatedAt: s.tick()}
	s.users[u.ID] = u
	s.profiles[u.ID] = storage.Profile{ID: u.ID, Email: &u.Email, UpdatedAt: u.CreatedAt}
	return u, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrUserNotExist
}

func (s *Store) UserByID(_ context.Context, id string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.User{}, storage.ErrUserNotExist
	}
	return u, nil
}

func (s *Store) UpdateUserEmail(_ context.Context, id, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrUserNotExist
	}
	for _, other := range s.users {
		if other.ID != id && strings.EqualFold(other.Email, email) {
			return storage.ErrEmailTaken
		}
	}
	u.Email = email
	s.users[id] = u
	p := s.profiles[id]
	p.Email = &email
	s.profiles[id] = p
	return nil
}

func (s *Store) ProfileByID(_ context.Context, id string) (storage.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return storage.Profile{}, storage.ErrProfileNotExist
	}
	return p, nil
}

func (s *Store) UpsertProfile(_ context.Context, p storage.Profile) (storage.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.ID]; !ok {
		return storage.Profile{}, storage.ErrUserNotExist
	}
	cur := s.profiles[p.ID]
	cur.ID = p.ID
	cur.FullName = p.FullName
	cur.Company = p.Company
	cur.OccupationType = p.OccupationType
	cur.Phone = p.Phone
	cur.UpdatedAt = s.tick()
	s.profiles[p.ID] = cur
	return cur, nil
}

func contains(v *string, q string) bool {
	return v != nil && strings.Contains(strings.ToLower(*v), q)
}

func (s *Store) SearchProfiles(_ context.Context, query string, withEmail bool) ([]storage.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var out []storage.Profile
	for _, p := range s.profiles {
		if contains(p.FullName, q) || contains(p.Company, q) || (withEmail && contains(p.Email, q)) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].FullName, out[j].FullName
		switch {
		case a == nil || b == nil:
			return a != nil
		case *a != *b:
			return *a < *b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateProject(_ context.Context, np storage.NewProject) (storage.Project, error) {
	name := strings.TrimSpace(np.Name)
	if name == "" {
		return storage.Project{}, storage.ErrProjectNameMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[np.OwnerID]; !ok {
		return storage.Project{}, storage.ErrUserNotExist
	}
	now := s.tick()
	p := storage.Project{
		ID:          uuid.NewString(),
		OwnerID:     np.OwnerID,
		Name:        name,
		Description: np.Description,
		Address:     np.Address,
		Status:      storage.StatusPlanned,
		StartDate:   np.StartDate,
		EndDate:     np.EndDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.projects[p.ID] = p
	return p, nil
}

func (s *Store) ProjectsByOwner(_ context.Context, owner string) ([]storage.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Project
	for _, p := range s.projects {
		if p.OwnerID == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ProjectByID(_ context.Context, id string) (storage.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return storage.Project{}, storage.ErrProjectNotExist
	}
	return p, nil
}

func (s *Store) ProjectAccess(_ context.Context, projectID, userID string) (storage.Access, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return storage.Access{}, storage.ErrProjectNotExist
	}
	a := storage.Access{Owner: p.OwnerID == userID}
	for _, m := range s.members {
		if m.ProjectID == projectID && m.UserID == userID {
			a.Member = true
		}
	}
	return a, nil
}

func (s *Store) updateProject(id string, fn func(*storage.Project)) (storage.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return storage.Project{}, storage.ErrProjectNotExist
	}
	fn(&p)
	p.UpdatedAt = s.tick()
	s.projects[id] = p
	return p, nil
}

func (s *Store) UpdateProjectStatus(_ context.Context, id string, status storage.ProjectStatus) (storage.Project, error) {
	return s.updateProject(id, func(p *storage.Project) { p.Status = status })
}

func (s *Store) UpdateProjectDetails(_ context.Context, id string, d storage.ProjectDetails) (storage.Project, error) {
	return s.updateProject(id, func(p *storage.Project) {
		if name := strings.TrimSpace(d.Name); name != "" {
			p.Name = name
		}
		p.Address = d.Address
		p.Description = d.Description
	})
}

func (s *Store) SetTimelineImage(_ context.Context, id string, url, path *string) (storage.Project, error) {
	return s.updateProject(id, func(p *storage.Project) {
		p.TimelineImageURL = url
		p.TimelineImagePath = path
	})
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return storage.ErrProjectNotExist
	}
	delete(s.projects, id)

	members := s.members[:0]
	for _, m := range s.members {
		if m.ProjectID != id {
			members = append(members, m)
		}
	}
	s.members = members

	messages := s.messages[:0]
	for _, m := range s.messages {
		if m.ProjectID != id {
			messages = append(messages, m)
		}
	}
	s.messages = messages
	return nil
}

func (s *Store) MembersByProject(_ context.Context, projectID string) ([]storage.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Member
	for _, m := range s.members {
		if m.ProjectID == projectID {
			m.Profile = s.profiles[m.UserID]
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) AddMember(_ context.Context, projectID string, nm storage.NewMember) (storage.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return storage.Member{}, storage.ErrProjectNotExist
	}
	profile, ok := s.profiles[nm.UserID]
	if !ok {
		return storage.Member{}, storage.ErrMemberBadUser
	}
	for _, m := range s.members {
		if m.ProjectID == projectID && m.UserID == nm.UserID {
			return storage.Member{}, storage.ErrMemberExists
		}
	}
	m := storage.Member{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    nm.UserID,
		Role:      nm.Role,
		CreatedAt: s.tick(),
		Profile:   profile,
	}
	s.members = append(s.members, m)
	return m, nil
}

// AddMembers adds all of members or none of them
func (s *Store) AddMembers(_ context.Context, projectID string, members []storage.NewMember) (int64, error) {
	switch {
	case len(members) == 0:
		return 0, storage.ErrBulkEmpty
	case len(members) > storage.MaxBulkMembers:
		return 0, storage.ErrBulkTooMany
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[projectID]; !ok {
		return 0, storage.ErrProjectNotExist
	}
	seen := map[string]bool{}
	for _, nm := range members {
		if seen[nm.UserID] {
			return 0, storage.ErrBulkDuplicate
		}
		seen[nm.UserID] = true
		if _, ok := s.profiles[nm.UserID]; !ok {
			return 0, storage.ErrMemberBadUser
		}
		for _, m := range s.members {
			if m.ProjectID == projectID && m.UserID == nm.UserID {
				return 0, storage.ErrMemberExists
			}
		}
	}

	for _, nm := range members {
		s.members = append(s.members, storage.Member{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			UserID:    nm.UserID,
			Role:      nm.Role,
			CreatedAt: s.tick(),
			Profile:   s.profiles[nm.UserID],
		})
	}
	return int64(len(members)), nil
}

func (s *Store) RemoveMember(_ context.Context, projectID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.members {
		if m.ID == memberID && m.ProjectID == projectID {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return nil
		}
	}
	return storage.ErrMemberNotExist
}

func (s *Store) sender(userID string) *storage.Sender {
	p, ok := s.profiles[userID]
	if !ok {
		return nil
	}
	return &storage.Sender{ID: p.ID, FullName: p.FullName, Company: p.Company}
}

func (s *Store) CreateMessage(_ context.Context, projectID, author, content string) (storage.Message, error) {
	s.mu.Lock()
	if _, ok := s.projects[projectID]; !ok {
		s.mu.Unlock()
		return storage.Message{}, storage.ErrMessageBadProject
	}
	if _, ok := s.users[author]; !ok {
		s.mu.Unlock()
		return storage.Message{}, storage.ErrMessageBadAuthor
	}
	m := storage.Message{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    author,
		Content:   content,
		CreatedAt: s.tick(),
	}
	s.messages = append(s.messages, m)
	row := m
	m.Sender = s.sender(author)
	s.mu.Unlock()

	s.notify(row)
	return m, nil
}

// notify publishes row the way notify_table_change does after commit
func (s *Store) notify(row storage.Message) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"table": "project_messages",
		"type":  "INSERT",
		"record": map[string]interface{}{
			"id":         row.ID,
			"project_id": row.ProjectID,
			"user_id":    row.UserID,
			"created_at": row.CreatedAt,
		},
	})
	if err != nil {
		panic(err)
	}
	if err := s.hub.PublishNotification(payload); err != nil {
		panic(err)
	}
}

func (s *Store) MessagesByProjectID(_ context.Context, projectID string) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.Message
	for _, m := range s.messages {
		if m.ProjectID == projectID {
			m.Sender = s.sender(m.UserID)
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) MessageByID(_ context.Context, id string) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return storage.Message{}, storage.ErrMessageNotExist
}

func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return storage.ErrMessageNotExist
}
