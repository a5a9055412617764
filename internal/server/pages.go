package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"byggarportalen/internal/auth"
	"byggarportalen/internal/storage"

	"github.com/google/uuid"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageNames = []string{
	"landing", "privacy", "contact", "about",
	"login", "register",
	"dashboard", "projects", "project", "settings", "users",
}

var pageFuncs = template.FuncMap{
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(dateLayout)
	},
	"clock": func(t time.Time) string {
		return t.Local().Format("2006-01-02 15:04")
	},
}

// parsePages parses every page together with the shared layout
func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(pageFuncs).ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

type pageData struct {
	User  *auth.Identity
	Error string
	Next  string
	Email string
	Data  interface{}
}

func newPageData(r *http.Request) pageData {
	var d pageData
	if id, ok := auth.FromContext(r.Context()); ok {
		d.User = &id
	}
	return d
}

func (h *handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	t, ok := h.pages[name]
	if !ok {
		h.internalError(w, r, fmt.Errorf("unknown page %q", name))
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		h.internalError(w, r, fmt.Errorf("render %s: %w", name, err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Errorf("writing page %s: %v", name, err)
	}
}

// page renders a static page
func (h *handler) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, http.StatusOK, name, newPageData(r))
	}
}

// safeNext keeps redirects on this site
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}

func (h *handler) loginPage(w http.ResponseWriter, r *http.Request) {
	d := newPageData(r)
	d.Next = r.URL.Query().Get("next")
	h.render(w, r, http.StatusOK, "login", d)
}

// loginForm handles the sign-in form on "POST /login"
func (h *handler) loginForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Can not parse form", http.StatusBadRequest)
		return
	}

	d := newPageData(r)
	d.Next = r.PostForm.Get("next")
	d.Email = r.PostForm.Get("email")

	email, err := auth.NormalizeEmail(d.Email)
	if err != nil {
		d.Error = "Invalid email or password"
		h.render(w, r, http.StatusUnauthorized, "login", d)
		return
	}

	u, err := h.signIn(r, email, r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			d.Error = "Invalid email or password"
			h.render(w, r, http.StatusUnauthorized, "login", d)
			return
		}
		h.internalError(w, r, err)
		return
	}

	if _, err := h.startSession(w, u); err != nil {
		h.internalError(w, r, err)
		return
	}
	http.Redirect(w, r, safeNext(d.Next), http.StatusSeeOther)
}

func (h *handler) registerPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "register", newPageData(r))
}

// registerForm handles the sign-up form on "POST /register"
func (h *handler) registerForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Can not parse form", http.StatusBadRequest)
		return
	}

	d := newPageData(r)
	d.Email = r.PostForm.Get("email")

	email, err := auth.NormalizeEmail(d.Email)
	if err != nil {
		d.Error = "Enter a valid email address"
		h.render(w, r, http.StatusBadRequest, "register", d)
		return
	}

	hash, err := auth.HashPassword(r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			d.Error = fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength)
			h.render(w, r, http.StatusBadRequest, "register", d)
			return
		}
		h.internalError(w, r, err)
		return
	}

	u, err := h.store.CreateUser(r.Context(), email, hash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			d.Error = "User already exists"
			h.render(w, r, http.StatusConflict, "register", d)
			return
		}
		h.internalError(w, r, err)
		return
	}

	if name := strings.TrimSpace(r.PostForm.Get("full_name")); name != "" {
		if _, err := h.store.UpsertProfile(r.Context(), storage.Profile{ID: u.ID, FullName: &name}); err != nil {
			h.logger.Warnf("saving name of new user (id: %s): %v", u.ID, err)
		}
	}

	if _, err := h.startSession(w, u); err != nil {
		h.internalError(w, r, err)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *handler) logoutForm(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type dashboardData struct {
	Name     string
	Projects []storage.Project
	Ongoing  int
}

func (h *handler) dashboardPage(w http.ResponseWriter, r *http.Request) {
	d := newPageData(r)
	user := currentUser(r)

	projects, err := h.store.ProjectsByOwner(r.Context(), user.UserID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	dd := dashboardData{Name: user.Email, Projects: projects}
	if p, err := h.store.ProfileByID(r.Context(), user.UserID); err == nil && p.FullName != nil {
		dd.Name = *p.FullName
	}
	for _, p := range projects {
		if p.Status == storage.StatusOngoing {
			dd.Ongoing++
		}
	}

	d.Data = dd
	h.render(w, r, http.StatusOK, "dashboard", d)
}

func (h *handler) projectsPage(w http.ResponseWriter, r *http.Request) {
	d := newPageData(r)

	projects, err := h.store.ProjectsByOwner(r.Context(), currentUser(r).UserID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	d.Data = projects
	h.render(w, r, http.StatusOK, "projects", d)
}

type projectData struct {
	Project  storage.Project
	Owner    bool
	Members  []storage.Member
	Messages []storage.Message
	NotFound bool
	// Timeline is set when image uploads are configured
	Timeline bool
}

// projectPage renders the project view with chat and members. Projects the user can not see render
// the not-found variant.
func (h *handler) projectPage(w http.ResponseWriter, r *http.Request) {
	d := newPageData(r)
	id := r.PathValue("id")

	notFound := func() {
		d.Data = projectData{NotFound: true}
		h.render(w, r, http.StatusNotFound, "project", d)
	}
	if _, err := uuid.Parse(id); err != nil {
		notFound()
		return
	}

	a, err := h.store.ProjectAccess(r.Context(), id, currentUser(r).UserID)
	if err != nil {
		if errors.Is(err, storage.ErrProjectNotExist) {
			notFound()
			return
		}
		h.internalError(w, r, err)
		return
	}
	if !a.CanView() {
		notFound()
		return
	}

	p, err := h.store.ProjectByID(r.Context(), id)
	if err != nil {
		h.projectError(w, r, err)
		return
	}
	members, err := h.store.MembersByProject(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	messages, err := h.store.MessagesByProjectID(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	d.Data = projectData{Project: p, Owner: a.Owner, Members: members, Messages: messages, Timeline: h.timeline != nil}
	h.render(w, r, http.StatusOK, "project", d)
}

func (h *handler) settingsPage(w http.ResponseWriter, r *http.Request) {
	d := newPageData(r)
	user := currentUser(r)

	p, err := h.store.ProfileByID(r.Context(), user.UserID)
	if err != nil {
		if !errors.Is(err, storage.ErrProfileNotExist) {
			h.internalError(w, r, err)
			return
		}
		p = storage.Profile{ID: user.UserID, Email: &user.Email}
	}

	d.Data = p
	h.render(w, r, http.StatusOK, "settings", d)
}

type usersData struct {
	Query   string
	Results []storage.Profile
}

func (h *handler) usersPage(w http.ResponseWriter, r *http.Request) {
	d := newPageData(r)
	ud := usersData{Query: strings.TrimSpace(r.URL.Query().Get("q"))}

	if ud.Query != "" {
		found, err := h.store.SearchProfiles(r.Context(), ud.Query, false)
		if err != nil {
			h.internalError(w, r, err)
			return
		}
		ud.Results = found
	}

	d.Data = ud
	h.render(w, r, http.StatusOK, "users", d)
}
