package chat

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"lexilearn.com/tutor/internal/kv"
	"lexilearn.com/tutor/internal/transcript"
)

// Manager owns one Session per learner.
type Manager struct {
	deps    Deps
	history *transcript.Reconciler
	state   kv.Store

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a Manager. history may be nil, in which case sessions
// start from a greeting only.
func NewManager(deps Deps, history *transcript.Reconciler, state kv.Store) *Manager {
	return &Manager{
		deps:     deps.withDefaults(),
		history:  history,
		state:    state,
		sessions: make(map[string]*Session),
	}
}

// Get returns the learner's session, creating it on first use.
func (m *Manager) Get(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		s = NewSession(userID, m.deps)
		m.sessions[userID] = s
	}
	return s
}

// Hydrate rebuilds the learner's transcript from stored history. Exchanges
// from before the last screen clear are left out. A submission that starts
// while history is loading wins: its transcript is kept as is.
func (m *Manager) Hydrate(ctx context.Context, userID string) []transcript.Message {
	s := m.Get(userID)
	if m.history == nil {
		return s.Transcript()
	}

	gen := s.Generation()
	msgs := m.history.Load(ctx, userID)
	cleared, ok, err := kv.GetTime(ctx, kv.Namespace(m.state, userID), kv.KeyScreenCleared)
	if err != nil {
		m.deps.Logger.Warn("failed to read screen-cleared marker", zap.String("user_id", userID), zap.Error(err))
	}
	if ok {
		kept := msgs[:0:0]
		for _, msg := range msgs {
			if msg.CreatedAt.After(cleared) {
				kept = append(kept, msg)
			}
		}
		msgs = kept
		if len(msgs) == 0 {
			msgs = []transcript.Message{transcript.Greeting(m.deps.Clock())}
		}
	}
	if !s.Load(msgs, gen) {
		m.deps.Logger.Debug("transcript changed while loading history, keeping it", zap.String("user_id", userID))
	}
	return s.Transcript()
}

// ClearScreen empties the learner's visible transcript. Stored history is
// kept.
func (m *Manager) ClearScreen(ctx context.Context, userID string) error {
	if err := kv.SetTime(ctx, kv.Namespace(m.state, userID), kv.KeyScreenCleared, m.deps.Clock()); err != nil {
		return fmt.Errorf("failed to mark screen cleared: %w", err)
	}
	m.Get(userID).Reset()
	return nil
}

// Drop forgets the learner's in-memory session.
func (m *Manager) Drop(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}
