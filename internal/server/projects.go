package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"byggarportalen/internal/storage"
	"byggarportalen/internal/timeline"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"
)

const dateLayout = "2006-01-02"

// projectAccess resolves the project in the path and how the current user relates to it.
// Missing projects and projects the user can not see both answer 404.
func (h *handler) projectAccess(w http.ResponseWriter, r *http.Request) (string, storage.Access, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "Project not found", http.StatusNotFound)
		return "", storage.Access{}, false
	}

	a, err := h.store.ProjectAccess(r.Context(), id, currentUser(r).UserID)
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotExist) {
			http.Error(w, "Project not found", http.StatusNotFound)
			return "", storage.Access{}, false
		}
		h.internalError(w, r, err)
		return "", storage.Access{}, false
	}

	if !a.CanView() {
		http.Error(w, "Project not found", http.StatusNotFound)
		return "", storage.Access{}, false
	}
	return id, a, true
}

// ownedProject is projectAccess restricted to the project owner
func (h *handler) ownedProject(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, a, ok := h.projectAccess(w, r)
	if !ok {
		return "", false
	}
	if !a.Owner {
		http.Error(w, "Only the project owner can do this", http.StatusForbidden)
		return "", false
	}
	return id, true
}

func (h *handler) projectError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrProjectNotExist) {
		http.Error(w, "Project not found", http.StatusNotFound)
		return
	}
	h.internalError(w, r, err)
}

// dateField reads an optional YYYY-MM-DD field
func dateField(w http.ResponseWriter, v *fastjson.Value, name string) (*time.Time, bool) {
	s, ok := stringField(w, v, name, false)
	if !ok {
		return nil, false
	}
	s = optionalText(s)
	if s == nil {
		return nil, true
	}
	d, err := time.Parse(dateLayout, *s)
	if err != nil {
		http.Error(w, "Field \""+name+"\" must be a date (YYYY-MM-DD)", http.StatusBadRequest)
		return nil, false
	}
	return &d, true
}

// projects handles HTTP requests on "GET /api/projects" endpoint
func (h *handler) projects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ProjectsByOwner(r.Context(), currentUser(r).UserID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if projects == nil {
		projects = []storage.Project{}
	}
	h.writeJSON(w, http.StatusOK, projects)
}

// createProject handles HTTP requests on "POST /api/projects" endpoint
func (h *handler) createProject(w http.ResponseWriter, r *http.Request) {
	parser, v, ok := parseObject(w, r, &h.parsers.projectPool)
	if !ok {
		return
	}
	defer h.parsers.projectPool.Put(parser)

	name, ok := stringField(w, v, "name", true)
	if !ok {
		return
	}
	description, ok := stringField(w, v, "description", false)
	if !ok {
		return
	}
	address, ok := stringField(w, v, "address", false)
	if !ok {
		return
	}
	start, ok := dateField(w, v, "start_date")
	if !ok {
		return
	}
	end, ok := dateField(w, v, "end_date")
	if !ok {
		return
	}

	p, err := h.store.CreateProject(r.Context(), storage.NewProject{
		OwnerID:     currentUser(r).UserID,
		Name:        *name,
		Description: optionalText(description),
		Address:     optionalText(address),
		StartDate:   start,
		EndDate:     end,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrProjectNameMissing):
			http.Error(w, "Project must have a name.", http.StatusBadRequest)
		case errors.Is(err, storage.ErrUserNotExist):
			http.Error(w, "User does not exist", http.StatusUnauthorized)
		default:
			h.internalError(w, r, err)
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

// project handles HTTP requests on "GET /api/projects/{id}" endpoint
func (h *handler) project(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.projectAccess(w, r)
	if !ok {
		return
	}

	p, err := h.store.ProjectByID(r.Context(), id)
	if err != nil {
		h.projectError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// deleteProject handles HTTP requests on "DELETE /api/projects/{id}" endpoint
func (h *handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteProject(r.Context(), id); err != nil {
		h.projectError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateStatus handles HTTP requests on "POST /api/projects/{id}/status" endpoint
func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	parser, v, ok := parseObject(w, r, &h.parsers.projectPool)
	if !ok {
		return
	}
	defer h.parsers.projectPool.Put(parser)

	s, ok := stringField(w, v, "status", true)
	if !ok {
		return
	}
	status := storage.ProjectStatus(*s)
	if !status.Valid() {
		http.Error(w, "Field \"status\" must be one of planned, ongoing, completed", http.StatusBadRequest)
		return
	}

	p, err := h.store.UpdateProjectStatus(r.Context(), id, status)
	if err != nil {
		h.projectError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// updateDetails handles HTTP requests on "POST /api/projects/{id}/details" endpoint.
// A blank name keeps the current one, blank address and description are cleared.
func (h *handler) updateDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	parser, v, ok := parseObject(w, r, &h.parsers.projectPool)
	if !ok {
		return
	}
	defer h.parsers.projectPool.Put(parser)

	name, ok := stringField(w, v, "name", false)
	if !ok {
		return
	}
	address, ok := stringField(w, v, "address", false)
	if !ok {
		return
	}
	description, ok := stringField(w, v, "description", false)
	if !ok {
		return
	}

	d := storage.ProjectDetails{
		Address:     optionalText(address),
		Description: optionalText(description),
	}
	if name != nil {
		d.Name = *name
	}

	p, err := h.store.UpdateProjectDetails(r.Context(), id, d)
	if err != nil {
		h.projectError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// replaceTimeline handles HTTP requests on "PUT /api/projects/{id}/timeline" endpoint.
// The body is the raw image.
func (h *handler) replaceTimeline(w http.ResponseWriter, r *http.Request) {
	if h.timeline == nil {
		http.Error(w, "Timeline images are not configured", http.StatusServiceUnavailable)
		return
	}
	id, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	image, err := io.ReadAll(http.MaxBytesReader(w, r.Body, timeline.MaxUploadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File is too large (max 25 MB)", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}
	if len(image) == 0 {
		http.Error(w, "No body provided", http.StatusBadRequest)
		return
	}

	p, err := h.store.ProjectByID(r.Context(), id)
	if err != nil {
		h.projectError(w, r, err)
		return
	}

	p, err = h.timeline.Replace(r.Context(), p, image)
	if err != nil {
		switch {
		case errors.Is(err, timeline.ErrTooLarge):
			http.Error(w, "File is too large (max 25 MB)", http.StatusRequestEntityTooLarge)
		case errors.Is(err, timeline.ErrUnsupportedImage):
			http.Error(w, "Unsupported image format", http.StatusUnsupportedMediaType)
		default:
			h.projectError(w, r, err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// removeTimeline handles HTTP requests on "DELETE /api/projects/{id}/timeline" endpoint
func (h *handler) removeTimeline(w http.ResponseWriter, r *http.Request) {
	if h.timeline == nil {
		http.Error(w, "Timeline images are not configured", http.StatusServiceUnavailable)
		return
	}
	id, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	p, err := h.store.ProjectByID(r.Context(), id)
	if err != nil {
		h.projectError(w, r, err)
		return
	}

	p, err = h.timeline.Remove(r.Context(), p)
	if err != nil {
		h.projectError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// members handles HTTP requests on "GET /api/projects/{id}/members" endpoint
func (h *handler) members(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.projectAccess(w, r)
	if !ok {
		return
	}

	members, err := h.store.MembersByProject(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if members == nil {
		members = []storage.Member{}
	}
	h.writeJSON(w, http.StatusOK, members)
}

// addMember handles HTTP requests on "POST /api/projects/{id}/members" endpoint
func (h *handler) addMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	parser, v, ok := parseObject(w, r, &h.parsers.memberPool)
	if !ok {
		return
	}
	defer h.parsers.memberPool.Put(parser)

	userID, ok := stringField(w, v, "user_id", true)
	if !ok {
		return
	}
	if _, err := uuid.Parse(*userID); err != nil {
		http.Error(w, "Field \"user_id\" must be a valid user id", http.StatusBadRequest)
		return
	}
	role, ok := stringField(w, v, "role", false)
	if !ok {
		return
	}

	m, err := h.store.AddMember(r.Context(), id, storage.NewMember{UserID: *userID, Role: optionalText(role)})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMemberExists):
			http.Error(w, "User is already a project member", http.StatusConflict)
		case errors.Is(err, storage.ErrMemberBadUser):
			http.Error(w, "User does not exist", http.StatusBadRequest)
		default:
			h.projectError(w, r, err)
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, m)
}

// addMembers handles HTTP requests on "POST /api/projects/{id}/members/bulk" endpoint.
// Body is {"members": [{"user_id": ..., "role": ...}, ...]}; either every user is added or none.
func (h *handler) addMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	parser, v, ok := parseObject(w, r, &h.parsers.memberPool)
	if !ok {
		return
	}
	defer h.parsers.memberPool.Put(parser)

	items, err := v.Array("members")
	if err != nil {
		http.Error(w, "Field \"members\" must be an array", http.StatusBadRequest)
		return
	}

	members := make([]storage.NewMember, 0, len(items))
	for _, item := range items {
		if item.Type() != fastjson.TypeObject {
			http.Error(w, "Field \"members\" must hold objects", http.StatusBadRequest)
			return
		}
		userID, ok := stringField(w, item, "user_id", true)
		if !ok {
			return
		}
		if _, err := uuid.Parse(*userID); err != nil {
			http.Error(w, "Field \"user_id\" must be a valid user id", http.StatusBadRequest)
			return
		}
		role, ok := stringField(w, item, "role", false)
		if !ok {
			return
		}
		members = append(members, storage.NewMember{UserID: *userID, Role: optionalText(role)})
	}

	if _, err := h.store.AddMembers(r.Context(), id, members); err != nil {
		switch {
		case errors.Is(err, storage.ErrBulkEmpty):
			http.Error(w, "No members to add", http.StatusBadRequest)
		case errors.Is(err, storage.ErrBulkTooMany):
			http.Error(w, fmt.Sprintf("At most %d members can be added at once", storage.MaxBulkMembers), http.StatusBadRequest)
		case errors.Is(err, storage.ErrBulkDuplicate):
			http.Error(w, "A user is listed twice", http.StatusBadRequest)
		case errors.Is(err, storage.ErrMemberExists):
			http.Error(w, "User is already a project member", http.StatusConflict)
		case errors.Is(err, storage.ErrMemberBadUser):
			http.Error(w, "User does not exist", http.StatusBadRequest)
		default:
			h.projectError(w, r, err)
		}
		return
	}

	added, err := h.store.MembersByProject(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, added)
}

// removeMember handles HTTP requests on "DELETE /api/projects/{id}/members/{memberID}" endpoint
func (h *handler) removeMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	memberID := r.PathValue("memberID")
	if _, err := uuid.Parse(memberID); err != nil {
		http.Error(w, "Member not found", http.StatusNotFound)
		return
	}

	if err := h.store.RemoveMember(r.Context(), id, memberID); err != nil {
		if errors.Is(err, storage.ErrMemberNotExist) {
			http.Error(w, "Member not found", http.StatusNotFound)
			return
		}
		h.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
