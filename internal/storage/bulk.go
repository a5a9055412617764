package storage

import (
	"errors"
	"strings"
)

// MaxBulkMembers caps how many memberships one bulk add may carry
const MaxBulkMembers = 100

var (
	ErrBulkEmpty     = errors.New("no members to add")
	ErrBulkTooMany   = errors.New("too many members in one request")
	ErrBulkDuplicate = errors.New("user listed twice")
)

// memberRows turns members into COPY rows for project_members(project_id, user_id, role).
// Blank roles become NULL.
func memberRows(projectID string, members []NewMember) ([][]interface{}, error) {
	switch {
	case len(members) == 0:
		return nil, ErrBulkEmpty
	case len(members) > MaxBulkMembers:
		return nil, ErrBulkTooMany
	}

	seen := make(map[string]struct{}, len(members))
	rows := make([][]interface{}, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.UserID]; ok {
			return nil, ErrBulkDuplicate
		}
		seen[m.UserID] = struct{}{}

		var role *string
		if m.Role != nil {
			if r := strings.TrimSpace(*m.Role); r != "" {
				role = &r
			}
		}
		rows = append(rows, []interface{}{projectID, m.UserID, role})
	}
	return rows, nil
}
