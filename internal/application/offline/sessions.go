package offline

import (
	"context"
	"sync"

	"github.com/erp/agency/internal/domain/shared"
	"go.uber.org/zap"
)

// TransitionSource publishes connectivity changes
type TransitionSource interface {
	Subscribe(fn func(online bool)) func()
}

// EngineBuilder creates a fully wired, not yet started engine for userID
type EngineBuilder func(userID string) (*Engine, error)

type session struct {
	engine      *Engine
	unsubscribe func()
	// background marks an engine opened only to drain a leftover queue
	background bool
}

// Sessions keeps one Engine per signed-in user
type Sessions struct {
	build  EngineBuilder
	feed   TransitionSource
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewSessions creates a registry. feed may be nil when nothing publishes transitions.
func NewSessions(build EngineBuilder, feed TransitionSource, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		build:    build,
		feed:     feed,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Open returns the user's engine, creating and starting it on first use
func (s *Sessions) Open(userID string) (*Engine, error) {
	engine, _, err := s.open(userID, false)
	return engine, err
}

func (s *Sessions) open(userID string, background bool) (*Engine, bool, error) {
	if userID == "" {
		return nil, false, shared.ErrUnauthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, shared.ErrSessionClosed
	}
	if sess, ok := s.sessions[userID]; ok {
		if !background {
			sess.background = false
		}
		return sess.engine, false, nil
	}

	engine, err := s.build(userID)
	if err != nil {
		return nil, false, err
	}
	sess := &session{engine: engine, unsubscribe: func() {}, background: background}
	if s.feed != nil {
		sess.unsubscribe = s.feed.Subscribe(engine.OnConnectivityChange)
	}
	s.sessions[userID] = sess
	engine.Start()

	s.logger.Info("Session opened", zap.String("user_id", userID), zap.Bool("background", background))
	return engine, true, nil
}

// DrainPending replays the queues of users who have no open session, one user
// at a time. Each is drained through a background session that is closed
// afterwards unless the user signed in meanwhile. Users with an open session
// are skipped.
func (s *Sessions) DrainPending(ctx context.Context, userIDs []string) {
	for _, uid := range userIDs {
		if ctx.Err() != nil {
			return
		}
		engine, created, err := s.open(uid, true)
		if err != nil {
			s.logger.Warn("Failed to open session for pending queue", zap.String("user_id", uid), zap.Error(err))
			continue
		}
		if !created {
			continue
		}

		result, err := engine.Drain(ctx)
		if err != nil {
			s.logger.Warn("Pending queue not fully replayed",
				zap.String("user_id", uid),
				zap.Int("remaining", result.Remaining),
				zap.Error(err),
			)
		}
		s.release(uid, engine)
	}
}

// release closes engine if it is still the user's background session
func (s *Sessions) release(userID string, engine *Engine) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok || sess.engine != engine || !sess.background {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, userID)
	s.mu.Unlock()

	sess.unsubscribe()
	engine.Close()
}

// Get returns the user's engine if a session is open
func (s *Sessions) Get(userID string) (*Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	return sess.engine, true
}

// Close ends the user's session. It reports whether one was open.
func (s *Sessions) Close(userID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.unsubscribe()
	sess.engine.Close()
	return true
}

// CloseAll ends every session and refuses new ones
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	s.closed = true
	open := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range open {
		sess.unsubscribe()
		sess.engine.Close()
	}
}

// Count returns the number of open sessions
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
