package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"byggarportalen/internal/auth"
	"byggarportalen/internal/realtime"
	"byggarportalen/internal/storage"
	"byggarportalen/internal/storage/zapadapter"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

type parsers struct {
	authPool    fastjson.ParserPool
	profilePool fastjson.ParserPool
	projectPool fastjson.ParserPool
	memberPool  fastjson.ParserPool
	messagePool fastjson.ParserPool
}

type handler struct {
	logger       *zap.SugaredLogger
	store        Store
	hub          *realtime.Hub
	sessions     *auth.Sessions
	timeline     Timeline
	pages        map[string]*template.Template
	keepAlive    time.Duration
	streamsDone  <-chan struct{}
	secureCookie bool
	parsers      parsers
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func currentUser(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// internalError logs err with the request id and answers a plain 500
func (h *handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logger := h.logger
	if reqID, ok := zapadapter.IDFromContext(r.Context()); ok {
		logger = logger.With("request_id", reqID)
	}
	logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Errorf("encoding response: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// parseObject parses the request body validated by enforcePOSTJSON. The parser must be returned to pool
// once the value is no longer used. ok is false when a response was already written.
func parseObject(w http.ResponseWriter, r *http.Request, pool *fastjson.ParserPool) (*fastjson.Parser, *fastjson.Value, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return nil, nil, false
	}

	parser := pool.Get()
	v, err := parser.ParseBytes(body)
	if err != nil || v.Type() != fastjson.TypeObject {
		pool.Put(parser)
		http.Error(w, "Body must be a JSON object", http.StatusBadRequest)
		return nil, nil, false
	}
	return parser, v, true
}

// stringField reads a string field; absent and null fields yield nil unless required
func stringField(w http.ResponseWriter, v *fastjson.Value, name string, required bool) (*string, bool) {
	if !v.Exists(name) {
		if required {
			http.Error(w, "Missing Field \""+name+"\"", http.StatusBadRequest)
			return nil, false
		}
		return nil, true
	}

	f := v.Get(name)
	if f.Type() == fastjson.TypeNull && !required {
		return nil, true
	}
	if f.Type() != fastjson.TypeString {
		http.Error(w, "Field \""+name+"\" must be a string", http.StatusBadRequest)
		return nil, false
	}

	s := string(f.GetStringBytes())
	return &s, true
}

// optionalText trims s and turns blank text into nil
func optionalText(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func (h *handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// startSession issues a session token for u and sets it as cookie
func (h *handler) startSession(w http.ResponseWriter, u storage.User) (sessionResponse, error) {
	token, expiresAt, err := h.sessions.Issue(auth.Identity{UserID: u.ID, Email: u.Email})
	if err != nil {
		return sessionResponse{}, err
	}
	h.setSessionCookie(w, token, expiresAt)
	return sessionResponse{
		User:      userResponse{ID: u.ID, Email: u.Email},
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// credentials reads email and password fields
func credentials(w http.ResponseWriter, v *fastjson.Value) (string, string, bool) {
	emailValue, ok := stringField(w, v, "email", true)
	if !ok {
		return "", "", false
	}
	email, err := auth.NormalizeEmail(*emailValue)
	if err != nil {
		http.Error(w, "Field \"email\" must be a valid email address", http.StatusBadRequest)
		return "", "", false
	}

	password, ok := stringField(w, v, "password", true)
	if !ok {
		return "", "", false
	}
	return email, *password, true
}

// register handles HTTP requests on "POST /api/auth/register" endpoint
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	parser, v, ok := parseObject(w, r, &h.parsers.authPool)
	if !ok {
		return
	}
	defer h.parsers.authPool.Put(parser)

	email, password, ok := credentials(w, v)
	if !ok {
		return
	}
	fullName, ok := stringField(w, v, "full_name", false)
	if !ok {
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			http.Error(w, "Field \"password\" must be at least 6 characters", http.StatusBadRequest)
			return
		}
		h.internalError(w, r, err)
		return
	}

	u, err := h.store.CreateUser(r.Context(), email, hash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			http.Error(w, "User already exists", http.StatusConflict)
			return
		}
		h.internalError(w, r, err)
		return
	}

	if name := optionalText(fullName); name != nil {
		if _, err := h.store.UpsertProfile(r.Context(), storage.Profile{ID: u.ID, FullName: name}); err != nil {
			h.logger.Warnf("saving name of new user (id: %s): %v", u.ID, err)
		}
	}

	resp, err := h.startSession(w, u)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// login handles HTTP requests on "POST /api/auth/login" endpoint
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	parser, v, ok := parseObject(w, r, &h.parsers.authPool)
	if !ok {
		return
	}
	defer h.parsers.authPool.Put(parser)

	email, password, ok := credentials(w, v)
	if !ok {
		return
	}

	u, err := h.signIn(r, email, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		h.internalError(w, r, err)
		return
	}

	resp, err := h.startSession(w, u)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) signIn(r *http.Request, email, password string) (storage.User, error) {
	u, err := h.store.UserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return storage.User{}, auth.ErrInvalidCredentials
		}
		return storage.User{}, err
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return storage.User{}, err
	}
	return u, nil
}

// logout handles HTTP requests on "POST /api/auth/logout" endpoint
func (h *handler) logout(w http.ResponseWriter, _ *http.Request) {
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// authUser handles HTTP requests on "GET /api/auth/user" endpoint
func (h *handler) authUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.UserByID(r.Context(), currentUser(r).UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			h.clearSessionCookie(w)
			http.Error(w, "User does not exist", http.StatusUnauthorized)
			return
		}
		h.internalError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, userResponse{ID: u.ID, Email: u.Email})
}

// changeEmail updates the email of the current user and renews the session. ok is false when
// a response was already written.
func (h *handler) changeEmail(w http.ResponseWriter, r *http.Request, raw string) (sessionResponse, bool) {
	email, err := auth.NormalizeEmail(raw)
	if err != nil {
		http.Error(w, "Field \"email\" must be a valid email address", http.StatusBadRequest)
		return sessionResponse{}, false
	}

	id := currentUser(r).UserID
	err = h.store.UpdateUserEmail(r.Context(), id, email)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrEmailTaken):
			http.Error(w, "Email is already in use", http.StatusConflict)
		case errors.Is(err, storage.ErrUserNotExist):
			http.Error(w, "User does not exist", http.StatusUnauthorized)
		default:
			h.internalError(w, r, err)
		}
		return sessionResponse{}, false
	}

	resp, err := h.startSession(w, storage.User{ID: id, Email: email})
	if err != nil {
		h.internalError(w, r, err)
		return sessionResponse{}, false
	}
	return resp, true
}

// updateEmail handles HTTP requests on "POST /api/auth/email" endpoint
func (h *handler) updateEmail(w http.ResponseWriter, r *http.Request) {
	parser, v, ok := parseObject(w, r, &h.parsers.authPool)
	if !ok {
		return
	}
	defer h.parsers.authPool.Put(parser)

	email, ok := stringField(w, v, "email", true)
	if !ok {
		return
	}

	resp, ok := h.changeEmail(w, r, *email)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// profile handles HTTP requests on "GET /api/profile" endpoint
func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.ProfileByID(r.Context(), currentUser(r).UserID)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotExist) {
			http.Error(w, "Profile does not exist", http.StatusNotFound)
			return
		}
		h.internalError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// saveProfile handles HTTP requests on "POST /api/profile" endpoint.
// A changed email is saved first; the profile is only written when that succeeds.
func (h *handler) saveProfile(w http.ResponseWriter, r *http.Request) {
	parser, v, ok := parseObject(w, r, &h.parsers.profilePool)
	if !ok {
		return
	}
	defer h.parsers.profilePool.Put(parser)

	fields := map[string]*string{}
	for _, name := range []string{"full_name", "company", "occupation_type", "phone", "email"} {
		s, ok := stringField(w, v, name, false)
		if !ok {
			return
		}
		fields[name] = optionalText(s)
	}

	user := currentUser(r)
	if email := fields["email"]; email != nil && !strings.EqualFold(*email, user.Email) {
		if _, ok := h.changeEmail(w, r, *email); !ok {
			return
		}
	}

	p, err := h.store.UpsertProfile(r.Context(), storage.Profile{
		ID:             user.UserID,
		FullName:       fields["full_name"],
		Company:        fields["company"],
		OccupationType: fields["occupation_type"],
		Phone:          fields["phone"],
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			http.Error(w, "User does not exist", http.StatusUnauthorized)
			return
		}
		h.internalError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// searchProfiles handles HTTP requests on "GET /api/profiles/search" endpoint.
// scope=members also matches email addresses.
func (h *handler) searchProfiles(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.writeJSON(w, http.StatusOK, []storage.Profile{})
		return
	}

	found, err := h.store.SearchProfiles(r.Context(), q, r.URL.Query().Get("scope") == "members")
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if found == nil {
		found = []storage.Profile{}
	}
	h.writeJSON(w, http.StatusOK, found)
}

// health handles HTTP requests on "GET /healthz" endpoint
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warnf("health check: %v", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
