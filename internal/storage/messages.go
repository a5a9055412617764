package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

// MaxMessageLength bounds message content in characters
const MaxMessageLength = 4000

const messageSelect = `select m.id, m.project_id, m.user_id, m.content, m.created_at,
		   p.id, p.full_name, p.company`

func scanMessage(row scanner) (Message, error) {
	var (
		m        Message
		senderID *string
		sender   Sender
	)
	err := row.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Content, &m.CreatedAt,
		&senderID, &sender.FullName, &sender.Company)
	if err != nil {
		return Message{}, err
	}
	if senderID != nil {
		sender.ID = *senderID
		m.Sender = &sender
	}
	return m, nil
}

// CreateMessage creates new message in database and returns it joined with the sender profile
func (s *Store) CreateMessage(ctx context.Context, projectID, author, content string) (Message, error) {
	s.logger.Debugf("Creating message from user (id: %s) in project (id: %s)", author, projectID)

	sql := `with inserted as (
				insert into project_messages (project_id, user_id, content)
				values ($1, $2, $3)
				returning id, project_id, user_id, content, created_at
			)
			` + messageSelect + `
			  from inserted m
			  left join profiles p
				on p.id = m.user_id`

	m, err := scanMessage(s.db.QueryRow(ctx, sql, projectID, author, content))
	if err != nil {
		if pgErr, ok := pgErrorCode(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
			switch pgErr.ConstraintName {
			case "project_messages_project_id_fkey":
				return Message{}, ErrMessageBadProject
			case "project_messages_user_id_fkey":
				return Message{}, ErrMessageBadAuthor
			}
		}
		return Message{}, err
	}

	return m, nil
}

// MessagesByProjectID returns list of all project messages joined with sender profiles, sorted by message creation
// time (from earliest to latest)
func (s *Store) MessagesByProjectID(ctx context.Context, projectID string) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for project (id: %s)", projectID)

	sql := messageSelect + `
			  from project_messages m
			  left join profiles p
				on p.id = m.user_id
			 where m.project_id = $1
			 order by m.created_at asc`

	rows, err := s.db.Query(ctx, sql, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// MessageByID returns a single message without the sender profile
func (s *Store) MessageByID(ctx context.Context, id string) (Message, error) {
	var m Message
	sql := "select id, project_id, user_id, content, created_at from project_messages where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, err
	}
	return m, nil
}

// DeleteMessage removes message by id
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	s.logger.Debugf("Deleting message (id: %s)", id)

	tag, err := s.db.Exec(ctx, "delete from project_messages where id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotExist
	}
	return nil
}
