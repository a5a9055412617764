package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

// CreateUser performs two-step transaction to create a user account
// (1. insert user record; 2. insert profile mirroring the email) and returns the user
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	s.logger.Debugf("Creating user (%s)", email)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return User{}, err
	}
	// rollback after commit is a no-op
	defer tx.Rollback(context.Background())

	var u User
	sql := "insert into users (email, password_hash) values ($1, $2) returning id, email, password_hash, created_at"
	err = tx.QueryRow(ctx, sql, email, passwordHash).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if pgErr, ok := pgErrorCode(err); ok && pgErr.Code == pgerrcode.UniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, err
	}

	_, err = tx.Exec(ctx, "insert into profiles (id, email) values ($1, $2)", u.ID, u.Email)
	if err != nil {
		return User{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return User{}, err
	}

	s.logger.Debugf("Created user (%s) with id %s", email, u.ID)

	return u, nil
}

// UserByEmail returns user credentials by email (case-insensitive)
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	sql := "select id, email, password_hash, created_at from users where lower(email) = lower($1)"
	err := s.db.QueryRow(ctx, sql, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}
	return u, nil
}

// UserByID returns user by id
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	sql := "select id, email, password_hash, created_at from users where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}
	return u, nil
}

// UpdateUserEmail changes the sign-in email and its profile mirror in one transaction
func (s *Store) UpdateUserEmail(ctx context.Context, id, email string) error {
	s.logger.Debugf("Updating email of user (id: %s)", id)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	tag, err := tx.Exec(ctx, "update users set email = $2 where id = $1", id, email)
	if err != nil {
		if pgErr, ok := pgErrorCode(err); ok && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrEmailTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}

	_, err = tx.Exec(ctx, "update profiles set email = $2, updated_at = now() where id = $1", id, email)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
