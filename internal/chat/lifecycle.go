package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Lifecycle keeps one active session for the project currently on screen
type Lifecycle struct {
	logger   *zap.SugaredLogger
	backend  Backend
	userID   string
	onChange func()

	// switching serializes Show and Close, mu guards current
	switching sync.Mutex
	mu        sync.Mutex
	current   *Session
}

func NewLifecycle(logger *zap.SugaredLogger, backend Backend, userID string, onChange func()) *Lifecycle {
	return &Lifecycle{
		logger:   logger,
		backend:  backend,
		userID:   userID,
		onChange: onChange,
	}
}

// Show makes projectID the viewed project. Showing the current project again is a no-op,
// any other id deactivates the previous session before the new one is activated.
func (l *Lifecycle) Show(ctx context.Context, projectID string) *Session {
	l.switching.Lock()
	defer l.switching.Unlock()

	prev := l.Current()
	if prev != nil && prev.ProjectID() == projectID {
		return prev
	}
	if prev != nil {
		prev.Deactivate()
	}

	next := NewSession(l.logger, l.backend, projectID, l.userID, l.onChange)
	l.mu.Lock()
	l.current = next
	l.mu.Unlock()

	next.Activate(ctx)
	return next
}

// Current returns the active session or nil
func (l *Lifecycle) Current() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Close deactivates the active session
func (l *Lifecycle) Close() {
	l.switching.Lock()
	defer l.switching.Unlock()

	l.mu.Lock()
	cur := l.current
	l.current = nil
	l.mu.Unlock()

	if cur != nil {
		cur.Deactivate()
	}
}
