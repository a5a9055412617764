package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
)

const profileColumns = "id, full_name, company, occupation_type, phone, email, updated_at"

func scanProfile(row scanner) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.FullName, &p.Company, &p.OccupationType, &p.Phone, &p.Email, &p.UpdatedAt)
	return p, err
}

// ProfileByID returns profile of the user
func (s *Store) ProfileByID(ctx context.Context, id string) (Profile, error) {
	sql := "select " + profileColumns + " from profiles where id = $1"
	p, err := scanProfile(s.db.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotExist
		}
		return Profile{}, err
	}
	return p, nil
}

// UpsertProfile inserts or updates editable profile fields using id as conflict key.
// The email mirror is owned by UpdateUserEmail and is not touched here.
func (s *Store) UpsertProfile(ctx context.Context, p Profile) (Profile, error) {
	s.logger.Debugf("Upserting profile (id: %s)", p.ID)

	sql := `insert into profiles (id, full_name, company, occupation_type, phone)
			values ($1, $2, $3, $4, $5)
			on conflict (id) do update
			   set full_name = excluded.full_name,
				   company = excluded.company,
				   occupation_type = excluded.occupation_type,
				   phone = excluded.phone,
				   updated_at = now()
			returning ` + profileColumns

	out, err := scanProfile(s.db.QueryRow(ctx, sql, p.ID, p.FullName, p.Company, p.OccupationType, p.Phone))
	if err != nil {
		if pgErr, ok := pgErrorCode(err); ok && pgErr.ConstraintName == "profiles_id_fkey" {
			return Profile{}, ErrUserNotExist
		}
		return Profile{}, err
	}
	return out, nil
}

// SearchProfiles returns profiles whose full name or company (and email when withEmail is set)
// contains query case-insensitively, sorted by full name
func (s *Store) SearchProfiles(ctx context.Context, query string, withEmail bool) ([]Profile, error) {
	s.logger.Debugf("Searching profiles (%q)", query)

	sql := "select " + profileColumns + ` from profiles
			where full_name ilike $1 or company ilike $1`
	if withEmail {
		sql += " or email ilike $1"
	}
	sql += " order by full_name asc nulls last, id"

	rows, err := s.db.Query(ctx, sql, likePattern(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debugf("Found %d profiles", len(profiles))

	return profiles, nil
}
