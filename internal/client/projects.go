package client

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"byggarportalen/internal/storage"
)

const dateLayout = "2006-01-02"

func projectPath(id string) string {
	return "/api/projects/" + url.PathEscape(id)
}

func (c *Client) Projects(ctx context.Context) ([]storage.Project, error) {
	var out []storage.Project
	err := c.do(ctx, "GET", "/api/projects", nil, &out)
	return out, err
}

func (c *Client) Project(ctx context.Context, id string) (storage.Project, error) {
	var out storage.Project
	err := c.do(ctx, "GET", projectPath(id), nil, &out)
	return out, err
}

// CreateProject creates a project owned by the signed-in user
func (c *Client) CreateProject(ctx context.Context, np storage.NewProject) (storage.Project, error) {
	in := map[string]interface{}{
		"name":        np.Name,
		"description": np.Description,
		"address":     np.Address,
	}
	if np.StartDate != nil {
		in["start_date"] = np.StartDate.Format(dateLayout)
	}
	if np.EndDate != nil {
		in["end_date"] = np.EndDate.Format(dateLayout)
	}

	var out storage.Project
	err := c.do(ctx, "POST", "/api/projects", in, &out)
	return out, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", projectPath(id), nil, nil)
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status storage.ProjectStatus) (storage.Project, error) {
	var out storage.Project
	err := c.do(ctx, "POST", projectPath(id)+"/status", map[string]string{"status": string(status)}, &out)
	return out, err
}

func (c *Client) UpdateDetails(ctx context.Context, id string, d storage.ProjectDetails) (storage.Project, error) {
	in := map[string]interface{}{
		"name":        d.Name,
		"address":     d.Address,
		"description": d.Description,
	}

	var out storage.Project
	err := c.do(ctx, "POST", projectPath(id)+"/details", in, &out)
	return out, err
}

// ReplaceTimeline uploads image as the new timeline of the project
func (c *Client) ReplaceTimeline(ctx context.Context, id string, image []byte) (storage.Project, error) {
	req, err := c.newRequest(ctx, "PUT", projectPath(id)+"/timeline", bytes.NewReader(image))
	if err != nil {
		return storage.Project{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	var out storage.Project
	err = c.send(req, &out)
	return out, err
}

func (c *Client) RemoveTimeline(ctx context.Context, id string) (storage.Project, error) {
	var out storage.Project
	err := c.do(ctx, "DELETE", projectPath(id)+"/timeline", nil, &out)
	return out, err
}

func (c *Client) Profile(ctx context.Context) (storage.Profile, error) {
	var out storage.Profile
	err := c.do(ctx, "GET", "/api/profile", nil, &out)
	return out, err
}

// SaveProfile stores the profile of the signed-in user. A changed email renews the session.
func (c *Client) SaveProfile(ctx context.Context, p storage.Profile) (storage.Profile, error) {
	in := map[string]*string{
		"full_name":       p.FullName,
		"company":         p.Company,
		"occupation_type": p.OccupationType,
		"phone":           p.Phone,
		"email":           p.Email,
	}

	var out storage.Profile
	if err := c.do(ctx, "POST", "/api/profile", in, &out); err != nil {
		return storage.Profile{}, err
	}
	if out.Email != nil {
		// the old token still names the previous email
		if _, err := c.CurrentUser(ctx); err != nil {
			c.logger.Warnf("refreshing current user: %v", err)
		}
	}
	return out, nil
}

// SearchProfiles matches name and company, and email when withEmail is set.
// A blank query returns nothing without a request.
func (c *Client) SearchProfiles(ctx context.Context, query string, withEmail bool) ([]storage.Profile, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	q := url.Values{"q": {query}}
	if withEmail {
		q.Set("scope", "members")
	}

	var out []storage.Profile
	err := c.do(ctx, "GET", "/api/profiles/search?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) Members(ctx context.Context, projectID string) ([]storage.Member, error) {
	var out []storage.Member
	err := c.do(ctx, "GET", projectPath(projectID)+"/members", nil, &out)
	return out, err
}

func (c *Client) AddMember(ctx context.Context, projectID string, nm storage.NewMember) (storage.Member, error) {
	var out storage.Member
	err := c.do(ctx, "POST", projectPath(projectID)+"/members", map[string]interface{}{
		"user_id": nm.UserID,
		"role":    nm.Role,
	}, &out)
	return out, err
}

// AddMembers adds several users in one request, either all of them or none
func (c *Client) AddMembers(ctx context.Context, projectID string, members []storage.NewMember) ([]storage.Member, error) {
	items := make([]map[string]interface{}, 0, len(members))
	for _, nm := range members {
		items = append(items, map[string]interface{}{"user_id": nm.UserID, "role": nm.Role})
	}

	var out []storage.Member
	err := c.do(ctx, "POST", projectPath(projectID)+"/members/bulk", map[string]interface{}{"members": items}, &out)
	return out, err
}

func (c *Client) RemoveMember(ctx context.Context, projectID, memberID string) error {
	return c.do(ctx, "DELETE", projectPath(projectID)+"/members/"+url.PathEscape(memberID), nil, nil)
}
