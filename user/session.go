package user

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/SanteonNL/orca/smarthost/globals"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const cookieName = "sid"

// NewSessionManager creates a new session manager.
// It uses in-memory storage.
func NewSessionManager[T any](sessionLifetime time.Duration) *SessionManager[T] {
	return &SessionManager[T]{
		sessionLifetime: sessionLifetime,
		store: &sessionStore[T]{
			sessions: make(map[string]*Session[T]),
		},
	}
}

type Session[T any] struct {
	ID      string
	Data    *T
	Expires time.Time
}

type SessionManager[T any] struct {
	store           *sessionStore[T]
	sessionLifetime time.Duration
	// OnDestroy is called for every session that is destroyed or expires, after it has been removed from the store.
	OnDestroy func(id string, data *T)
}

type sessionStore[T any] struct {
	sessions map[string]*Session[T]
	mux      sync.Mutex
}

// Create creates a new session and sets a session cookie.
// The given value is stored in the session, which can be retrieved later using Get.
func (m *SessionManager[T]) Create(response http.ResponseWriter, data *T) string {
	m.PruneSessions()
	id := m.store.create(data, time.Now().Add(m.sessionLifetime))
	m.setSessionCookie(id, response)
	return id
}

// Get retrieves the session for the given request.
// The session is retrieved using the session cookie.
// If no session is found, nil is returned.
func (m *SessionManager[T]) Get(request *http.Request) *T {
	sessionID := getSessionCookie(request)
	if sessionID == "" {
		return nil
	}
	m.PruneSessions()
	session := m.store.get(sessionID)
	if session == nil {
		return nil
	}
	return session.Data
}

func (m *SessionManager[T]) Destroy(response http.ResponseWriter, request *http.Request) {
	sessionID := getSessionCookie(request)
	if sessionID != "" {
		log.Ctx(request.Context()).Info().Msgf("Destroying user session (id=%s)", sessionID)
		if session := m.store.remove(sessionID); session != nil {
			m.destroyed(session)
		}
	} else {
		log.Ctx(request.Context()).Warn().Msg("No session to destroy")
	}
	cookie := http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   globals.StrictMode,
		Expires:  time.Now().Add(-time.Minute),
	}
	http.SetCookie(response, &cookie)
}

// PruneSessions removes expired sessions.
func (m *SessionManager[T]) PruneSessions() {
	for _, session := range m.store.prune(time.Now()) {
		log.Debug().Msgf("User session expired (id=%s)", session.ID)
		m.destroyed(session)
	}
}

// StartPruning removes expired sessions every interval in the background, until the context is cancelled.
// Without it, expired sessions are only removed when sessions are created or retrieved.
func (m *SessionManager[T]) StartPruning(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.PruneSessions()
			case <-ctx.Done():
				log.Ctx(ctx).Debug().Msg("Stopped pruning user sessions")
				return
			}
		}
	}()
}

// DestroyAll removes all sessions, e.g. on shutdown.
func (m *SessionManager[T]) DestroyAll() {
	for _, session := range m.store.prune(time.Time{}) {
		m.destroyed(session)
	}
}

func (m *SessionManager[T]) SessionCount() int {
	m.store.mux.Lock()
	defer m.store.mux.Unlock()
	return len(m.store.sessions)
}

func (m *SessionManager[T]) destroyed(session *Session[T]) {
	if m.OnDestroy != nil {
		m.OnDestroy(session.ID, session.Data)
	}
}

func (s *sessionStore[T]) create(data *T, expires time.Time) string {
	s.mux.Lock()
	defer s.mux.Unlock()
	id := uuid.NewString()
	s.sessions[id] = &Session[T]{
		ID:      id,
		Data:    data,
		Expires: expires,
	}
	return id
}

func (s *sessionStore[T]) get(id string) *Session[T] {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.sessions[id]
}

// prune removes and returns the sessions that expired before the given time.
// A zero time removes all sessions.
func (s *sessionStore[T]) prune(now time.Time) []*Session[T] {
	s.mux.Lock()
	defer s.mux.Unlock()
	var result []*Session[T]
	for id, session := range s.sessions {
		if now.IsZero() || session.Expires.Before(now) {
			delete(s.sessions, id)
			result = append(result, session)
		}
	}
	return result
}

func (s *sessionStore[T]) remove(id string) *Session[T] {
	s.mux.Lock()
	defer s.mux.Unlock()
	session := s.sessions[id]
	delete(s.sessions, id)
	return session
}

func (m *SessionManager[T]) setSessionCookie(sessionID string, response http.ResponseWriter) {
	cookie := http.Cookie{
		Name:     cookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   globals.StrictMode,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(m.sessionLifetime),
	}
	http.SetCookie(response, &cookie)
}

func getSessionCookie(request *http.Request) string {
	cookie, err := request.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
