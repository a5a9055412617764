package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"byggarportalen/internal/auth"
	"byggarportalen/internal/realtime"
	"byggarportalen/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Store is the persistence used by the handlers, implemented by storage.Store
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, email, passwordHash string) (storage.User, error)
	UserByEmail(ctx context.Context, email string) (storage.User, error)
	UserByID(ctx context.Context, id string) (storage.User, error)
	UpdateUserEmail(ctx context.Context, id, email string) error

	ProfileByID(ctx context.Context, id string) (storage.Profile, error)
	UpsertProfile(ctx context.Context, p storage.Profile) (storage.Profile, error)
	SearchProfiles(ctx context.Context, query string, withEmail bool) ([]storage.Profile, error)

	CreateProject(ctx context.Context, np storage.NewProject) (storage.Project, error)
	ProjectsByOwner(ctx context.Context, owner string) ([]storage.Project, error)
	ProjectByID(ctx context.Context, id string) (storage.Project, error)
	ProjectAccess(ctx context.Context, projectID, userID string) (storage.Access, error)
	UpdateProjectStatus(ctx context.Context, id string, status storage.ProjectStatus) (storage.Project, error)
	UpdateProjectDetails(ctx context.Context, id string, d storage.ProjectDetails) (storage.Project, error)
	DeleteProject(ctx context.Context, id string) error

	MembersByProject(ctx context.Context, projectID string) ([]storage.Member, error)
	AddMember(ctx context.Context, projectID string, nm storage.NewMember) (storage.Member, error)
	AddMembers(ctx context.Context, projectID string, members []storage.NewMember) (int64, error)
	RemoveMember(ctx context.Context, projectID, memberID string) error

	CreateMessage(ctx context.Context, projectID, author, content string) (storage.Message, error)
	MessagesByProjectID(ctx context.Context, projectID string) ([]storage.Message, error)
	MessageByID(ctx context.Context, id string) (storage.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Timeline replaces and removes project timeline images, implemented by timeline.Service
type Timeline interface {
	Replace(ctx context.Context, p storage.Project, image []byte) (storage.Project, error)
	Remove(ctx context.Context, p storage.Project) (storage.Project, error)
}

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	h             *handler
	afterShutdown []func()
}

// NewServer returns new Server struct serving the API, the pages and the metrics endpoint
func NewServer(logger *zap.SugaredLogger, store Store, hub *realtime.Hub, sessions *auth.Sessions, opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt.apply(cfg)
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}

	pages, err := parsePages()
	if err != nil {
		return nil, fmt.Errorf("parse pages: %w", err)
	}

	// open event streams end when shutdown starts, otherwise Shutdown would wait for them
	streamsCtx, stopStreams := context.WithCancel(context.Background())
	cfg.httpServer.RegisterOnShutdown(stopStreams)

	h := &handler{
		logger:       logger,
		store:        store,
		hub:          hub,
		sessions:     sessions,
		timeline:     cfg.timeline,
		pages:        pages,
		keepAlive:    cfg.keepAlive,
		streamsDone:  streamsCtx.Done(),
		secureCookie: cfg.secureCookie,
	}

	srv := &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		h:             h,
		afterShutdown: cfg.afterShutdown,
	}

	limit := newLimiter(cfg.authRate, cfg.authBurst)
	postJSON := func(f http.HandlerFunc) http.Handler {
		return enforcePOSTJSON(f, cfg.maxBodyBytes)
	}
	user := func(f http.HandlerFunc) http.Handler {
		return requireUser(f)
	}
	userJSON := func(f http.HandlerFunc) http.Handler {
		return requireUser(func(w http.ResponseWriter, r *http.Request) {
			postJSON(f).ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()

	// auth
	mux.Handle("POST /api/auth/register", limit.middleware(postJSON(h.register)))
	mux.Handle("POST /api/auth/login", limit.middleware(postJSON(h.login)))
	mux.HandleFunc("POST /api/auth/logout", h.logout)
	mux.Handle("GET /api/auth/user", user(h.authUser))
	mux.Handle("POST /api/auth/email", userJSON(h.updateEmail))

	// profiles
	mux.Handle("GET /api/profile", user(h.profile))
	mux.Handle("POST /api/profile", userJSON(h.saveProfile))
	mux.Handle("GET /api/profiles/search", user(h.searchProfiles))

	// projects
	mux.Handle("GET /api/projects", user(h.projects))
	mux.Handle("POST /api/projects", userJSON(h.createProject))
	mux.Handle("GET /api/projects/{id}", user(h.project))
	mux.Handle("DELETE /api/projects/{id}", user(h.deleteProject))
	mux.Handle("POST /api/projects/{id}/status", userJSON(h.updateStatus))
	mux.Handle("POST /api/projects/{id}/details", userJSON(h.updateDetails))
	mux.Handle("PUT /api/projects/{id}/timeline", user(h.replaceTimeline))
	mux.Handle("DELETE /api/projects/{id}/timeline", user(h.removeTimeline))

	// members
	mux.Handle("GET /api/projects/{id}/members", user(h.members))
	mux.Handle("POST /api/projects/{id}/members", userJSON(h.addMember))
	mux.Handle("POST /api/projects/{id}/members/bulk", userJSON(h.addMembers))
	mux.Handle("DELETE /api/projects/{id}/members/{memberID}", user(h.removeMember))

	// chat
	mux.Handle("GET /api/projects/{id}/messages", user(h.messages))
	mux.Handle("POST /api/projects/{id}/messages", userJSON(h.createMessage))
	mux.Handle("DELETE /api/projects/{id}/messages/{messageID}", user(h.deleteMessage))
	mux.Handle("GET /api/projects/{id}/messages/stream", user(h.messageStream))

	// pages
	mux.HandleFunc("GET /{$}", h.page("landing"))
	mux.HandleFunc("GET /login", h.loginPage)
	mux.Handle("POST /login", limit.middleware(http.HandlerFunc(h.loginForm)))
	mux.HandleFunc("GET /register", h.registerPage)
	mux.Handle("POST /register", limit.middleware(http.HandlerFunc(h.registerForm)))
	mux.HandleFunc("POST /logout", h.logoutForm)
	mux.HandleFunc("GET /integritet", h.page("privacy"))
	mux.HandleFunc("GET /kontakt", h.page("contact"))
	mux.HandleFunc("GET /about", h.page("about"))
	mux.HandleFunc("GET /dashboard", h.dashboardPage)
	mux.HandleFunc("GET /dashboard/projects", h.projectsPage)
	mux.HandleFunc("GET /dashboard/projects/{id}", h.projectPage)
	mux.HandleFunc("GET /dashboard/settings", h.settingsPage)
	mux.HandleFunc("GET /dashboard/users", h.usersPage)

	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", h.health)

	m := newMetrics(cfg.registry, hub)
	srv.httpServer.Handler = log(authenticate(gate(m.middleware(mux)), sessions), logger.Desugar())

	return srv, nil
}

// Handler returns the root handler with all middlewares applied
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and shuts it down gracefully once ctx is done
func (s *Server) Start(ctx context.Context) error {
	idleConnsClosed := make(chan struct{})

	go func() {
		<-ctx.Done()

		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
