package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

const projectColumns = `id, owner_id, name, description, address, status, start_date, end_date,
	timeline_image_url, timeline_image_path, created_at, updated_at`

func scanProject(row scanner) (Project, error) {
	var (
		p          Project
		status     string
		start, end pgtype.Date
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Address, &status, &start, &end,
		&p.TimelineImageURL, &p.TimelineImagePath, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	p.Status = ProjectStatus(status)
	p.StartDate = dateValue(start)
	p.EndDate = dateValue(end)
	return p, nil
}

func (s *Store) queryProject(ctx context.Context, sql string, args ...interface{}) (Project, error) {
	p, err := scanProject(s.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrProjectNotExist
		}
		return Project{}, err
	}
	return p, nil
}

// CreateProject inserts a project in planned status and returns the stored row
func (s *Store) CreateProject(ctx context.Context, np NewProject) (Project, error) {
	name := strings.TrimSpace(np.Name)
	if name == "" {
		return Project{}, ErrProjectNameMissing
	}

	s.logger.Debugf("Creating project (%s) for owner (id: %s)", name, np.OwnerID)

	sql := `insert into projects (owner_id, name, description, address, start_date, end_date, status)
			values ($1, $2, $3, $4, $5, $6, $7)
			returning ` + projectColumns

	p, err := scanProject(s.db.QueryRow(ctx, sql,
		np.OwnerID, name, np.Description, np.Address, np.StartDate, np.EndDate, string(StatusPlanned)))
	if err != nil {
		if pgErr, ok := pgErrorCode(err); ok && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return Project{}, ErrUserNotExist
		}
		return Project{}, err
	}

	s.logger.Debugf("Created project (%s) with id %s", name, p.ID)

	return p, nil
}

// ProjectsByOwner returns projects owned by the user, newest first
func (s *Store) ProjectsByOwner(ctx context.Context, owner string) ([]Project, error) {
	s.logger.Debugf("Retrieving projects for owner (id: %s)", owner)

	sql := "select " + projectColumns + " from projects where owner_id = $1 order by created_at desc"
	rows, err := s.db.Query(ctx, sql, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debugf("Retrieved %d projects", len(projects))

	return projects, nil
}

// ProjectByID returns a single project
func (s *Store) ProjectByID(ctx context.Context, id string) (Project, error) {
	return s.queryProject(ctx, "select "+projectColumns+" from projects where id = $1", id)
}

// ProjectAccess reports whether the user owns or is a member of the project
func (s *Store) ProjectAccess(ctx context.Context, projectID, userID string) (Access, error) {
	var a Access
	sql := `select p.owner_id = $2,
				   exists(select 1 from project_members m where m.project_id = p.id and m.user_id = $2)
			  from projects p
			 where p.id = $1`
	err := s.db.QueryRow(ctx, sql, projectID, userID).Scan(&a.Owner, &a.Member)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Access{}, ErrProjectNotExist
		}
		return Access{}, err
	}
	return a, nil
}

// UpdateProjectStatus sets project status
func (s *Store) UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) (Project, error) {
	s.logger.Debugf("Updating status of project (id: %s) to %s", id, status)

	sql := "update projects set status = $2, updated_at = now() where id = $1 returning " + projectColumns
	return s.queryProject(ctx, sql, id, string(status))
}

// UpdateProjectDetails saves name, address and description. A blank name keeps the current one.
func (s *Store) UpdateProjectDetails(ctx context.Context, id string, d ProjectDetails) (Project, error) {
	s.logger.Debugf("Updating details of project (id: %s)", id)

	sql := `update projects
			   set name = coalesce(nullif(btrim($2), ''), name),
				   address = $3,
				   description = $4,
				   updated_at = now()
			 where id = $1
			returning ` + projectColumns
	return s.queryProject(ctx, sql, id, d.Name, d.Address, d.Description)
}

// SetTimelineImage links (or with nil values unlinks) the timeline image of the project
func (s *Store) SetTimelineImage(ctx context.Context, id string, url, path *string) (Project, error) {
	s.logger.Debugf("Setting timeline image of project (id: %s)", id)

	sql := `update projects
			   set timeline_image_url = $2, timeline_image_path = $3, updated_at = now()
			 where id = $1
			returning ` + projectColumns
	return s.queryProject(ctx, sql, id, url, path)
}

// DeleteProject removes the project; members and messages are removed by cascade
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.logger.Debugf("Deleting project (id: %s)", id)

	tag, err := s.db.Exec(ctx, "delete from projects where id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotExist
	}
	return nil
}
