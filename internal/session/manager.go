package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/catalog"
)

// Loader resolves a quiz id into a validated catalog.
type Loader interface {
	Load(ctx context.Context, quizID uuid.UUID) (*catalog.Catalog, error)
}

// Manager opens attempt sessions and keeps at most one open per quiz.
type Manager struct {
	loader    Loader
	submitter Submitter
	cfg       Config

	mu     sync.Mutex
	active map[uuid.UUID]*Controller
}

// NewManager creates a new Manager. Every controller it opens shares cfg.
func NewManager(loader Loader, submitter Submitter, cfg Config) *Manager {
	return &Manager{
		loader:    loader,
		submitter: submitter,
		cfg:       cfg,
		active:    make(map[uuid.UUID]*Controller),
	}
}

// Open loads the quiz and starts a session for it. The slot for the quiz is
// held until the session completes or is closed.
func (m *Manager) Open(ctx context.Context, quizID uuid.UUID) (*Controller, error) {
	m.mu.Lock()
	if _, busy := m.active[quizID]; busy {
		m.mu.Unlock()
		return nil, ErrAttemptActive
	}
	c := New(m.cfg, m.submitter)
	c.onRelease = func() { m.release(quizID, c) }
	m.active[quizID] = c
	m.mu.Unlock()

	cat, err := m.loader.Load(ctx, quizID)
	if err != nil {
		c.fail(err)
		c.Close()
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	if err := c.Start(cat.Quiz, cat.Questions); err != nil {
		c.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	return c, nil
}

// Active returns the open session for a quiz, if any.
func (m *Manager) Active(quizID uuid.UUID) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[quizID]
	return c, ok
}

func (m *Manager) release(quizID uuid.UUID, c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[quizID] == c {
		delete(m.active, quizID)
	}
}
