package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

const memberSelect = `select m.id, m.project_id, m.user_id, m.role, m.created_at,
		   p.id, p.full_name, p.company, p.occupation_type, p.phone, p.email, p.updated_at`

func scanMember(row scanner) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt,
		&m.Profile.ID, &m.Profile.FullName, &m.Profile.Company, &m.Profile.OccupationType,
		&m.Profile.Phone, &m.Profile.Email, &m.Profile.UpdatedAt)
	return m, err
}

func memberError(err error) error {
	pgErr, ok := pgErrorCode(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return ErrMemberExists
	case pgerrcode.ForeignKeyViolation:
		switch pgErr.ConstraintName {
		case "project_members_project_id_fkey":
			return ErrProjectNotExist
		case "project_members_user_id_fkey":
			return ErrMemberBadUser
		}
	}
	return err
}

// MembersByProject returns project members joined with their profiles, in the order they were added
func (s *Store) MembersByProject(ctx context.Context, projectID string) ([]Member, error) {
	s.logger.Debugf("Retrieving members for project (id: %s)", projectID)

	sql := memberSelect + `
			  from project_members m
			  join profiles p
				on p.id = m.user_id
			 where m.project_id = $1
			 order by m.created_at asc`

	rows, err := s.db.Query(ctx, sql, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d members", len(members))

	return members, nil
}

// AddMember links a profile to the project with an optional role and returns the row joined with the profile
func (s *Store) AddMember(ctx context.Context, projectID string, nm NewMember) (Member, error) {
	s.logger.Debugf("Adding user (id: %s) to project (id: %s)", nm.UserID, projectID)

	sql := `with inserted as (
				insert into project_members (project_id, user_id, role)
				values ($1, $2, $3)
				returning id, project_id, user_id, role, created_at
			)
			` + memberSelect + `
			  from inserted m
			  join profiles p
				on p.id = m.user_id`

	m, err := scanMember(s.db.QueryRow(ctx, sql, projectID, nm.UserID, nm.Role))
	if err != nil {
		return Member{}, memberError(err)
	}
	return m, nil
}

// AddMembers links several profiles at once via COPY inside a transaction; either all are added or none
func (s *Store) AddMembers(ctx context.Context, projectID string, members []NewMember) (int64, error) {
	s.logger.Debugf("Adding %d users to project (id: %s)", len(members), projectID)

	rows, err := memberRows(projectID, members)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(context.Background())

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"project_members"}, []string{"project_id", "user_id", "role"}, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, memberError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	return n, nil
}

// RemoveMember deletes the membership row if it belongs to the project
func (s *Store) RemoveMember(ctx context.Context, projectID, memberID string) error {
	s.logger.Debugf("Removing member (id: %s) from project (id: %s)", memberID, projectID)

	tag, err := s.db.Exec(ctx, "delete from project_members where id = $1 and project_id = $2", memberID, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotExist
	}
	return nil
}

// MemberByID returns a single membership joined with its profile
func (s *Store) MemberByID(ctx context.Context, memberID string) (Member, error) {
	sql := memberSelect + `
			  from project_members m
			  join profiles p
				on p.id = m.user_id
			 where m.id = $1`
	m, err := scanMember(s.db.QueryRow(ctx, sql, memberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrMemberNotExist
		}
		return Member{}, err
	}
	return m, nil
}
