// Package client talks to the HTTP API of the server. It implements the backends of the chat and
// members view-models.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
)

// APIError is a non-2xx answer of the API. It matches the sentinel errors above with errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	}
	return false
}

// Option configures Client
type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithHTTPClient replaces the client used for plain requests
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *Client) {
		c.http = hc
	})
}

// Timeout bounds plain requests; event streams are not affected
func Timeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		c.http.Timeout = d
	})
}

// WithToken starts the client with an existing session token
func WithToken(token string) Option {
	return optionFunc(func(c *Client) {
		c.token = token
	})
}

// User is the signed-in account
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is returned by Login and Register
type Session struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client defines fields used in API calls
type Client struct {
	logger  *zap.SugaredLogger
	baseURL string
	http    *http.Client
	stream  *http.Client

	mu    sync.RWMutex
	token string
	user  User
}

// New returns a client for the API at baseURL
func New(logger *zap.SugaredLogger, baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be an absolute http(s) url", baseURL)
	}

	c := &Client{
		logger:  logger,
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	c.stream = &http.Client{Transport: c.http.Transport}

	return c, nil
}

// UserID returns the id of the signed-in user, empty when signed out
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user.ID
}

// Token returns the current session token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// apiError reads the plain-text error body of resp
func apiError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
}

// do sends in as JSON (if not nil) and decodes the answer into out (if not nil)
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	c.logger.Debugf("%s %s", req.Method, req.URL.Path)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func (c *Client) setSession(s Session) {
	c.mu.Lock()
	c.token = s.Token
	c.user = s.User
	c.mu.Unlock()
}

// Register creates an account and signs in
func (c *Client) Register(ctx context.Context, email, password, fullName string) (Session, error) {
	in := map[string]string{"email": email, "password": password}
	if fullName != "" {
		in["full_name"] = fullName
	}

	var s Session
	if err := c.do(ctx, "POST", "/api/auth/register", in, &s); err != nil {
		return Session{}, err
	}
	c.setSession(s)
	return s, nil
}

// Login signs in with email and password
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var s Session
	if err := c.do(ctx, "POST", "/api/auth/login", map[string]string{"email": email, "password": password}, &s); err != nil {
		return Session{}, err
	}
	c.setSession(s)
	return s, nil
}

// Logout forgets the session
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, "POST", "/api/auth/logout", nil, nil)
	c.setSession(Session{})
	return err
}

// CurrentUser asks the server who the token belongs to and remembers it
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var u User
	if err := c.do(ctx, "GET", "/api/auth/user", nil, &u); err != nil {
		return User{}, err
	}
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
	return u, nil
}
