package storage

import "time"

// ProjectStatus is the lifecycle state of a project
type ProjectStatus string

const (
	StatusPlanned   ProjectStatus = "planned"
	StatusOngoing   ProjectStatus = "ongoing"
	StatusCompleted ProjectStatus = "completed"
)

// Valid reports whether s is one of the known statuses
func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusOngoing, StatusCompleted:
		return true
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Profile struct {
	ID             string    `json:"id"`
	FullName       *string   `json:"full_name"`
	Company        *string   `json:"company"`
	OccupationType *string   `json:"occupation_type"`
	Phone          *string   `json:"phone"`
	Email          *string   `json:"email"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Project struct {
	ID                string        `json:"id"`
	OwnerID           string        `json:"owner_id"`
	Name              string        `json:"name"`
	Description       *string       `json:"description"`
	Address           *string       `json:"address"`
	Status            ProjectStatus `json:"status"`
	StartDate         *time.Time    `json:"start_date"`
	EndDate           *time.Time    `json:"end_date"`
	TimelineImageURL  *string       `json:"timeline_image_url"`
	TimelineImagePath *string       `json:"timeline_image_path"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// NewProject holds fields accepted on project creation
type NewProject struct {
	OwnerID     string
	Name        string
	Description *string
	Address     *string
	StartDate   *time.Time
	EndDate     *time.Time
}

// ProjectDetails holds inline-editable project fields
type ProjectDetails struct {
	Name        string
	Description *string
	Address     *string
}

// Sender is the display part of a profile joined to a chat message
type Sender struct {
	ID       string  `json:"id"`
	FullName *string `json:"full_name"`
	Company  *string `json:"company"`
}

type Message struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Sender    *Sender   `json:"profiles,omitempty"`
}

type Member struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      *string   `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	Profile   Profile   `json:"profiles"`
}

// NewMember holds fields for a member insert
type NewMember struct {
	UserID string
	Role   *string
}

// Access describes how a user relates to a project
type Access struct {
	Owner  bool
	Member bool
}

// CanView reports whether the user may read project contents (chat, members)
func (a Access) CanView() bool {
	return a.Owner || a.Member
}
