// Package session implements the SessionManager (C4): a thin facade over
// the StorageBackend that adds an in-process LRU cache, lifecycle callbacks
// for other subsystems, and ID generation for new sessions and threads.
package session

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"

	"github.com/cognition-sh/cognition/internal/logging"
	"github.com/cognition-sh/cognition/internal/storage"
	"github.com/cognition-sh/cognition/pkg/types"
)

// Callback is invoked after a mutating operation succeeds against storage.
// Callback failures are logged and never roll back the storage change.
type Callback func(ctx context.Context, event CallbackEvent)

// CallbackEvent describes what happened, so callbacks can decide whether to
// act (e.g. a supervisor tearing down worker state on delete).
type CallbackEvent struct {
	Kind      CallbackKind
	SessionID string
	Session   *types.Session // nil for Delete
}

type CallbackKind string

const (
	CallbackCreated CallbackKind = "created"
	CallbackUpdated CallbackKind = "updated"
	CallbackDeleted CallbackKind = "deleted"
)

// SessionContext is the lightweight per-session execution context (session,
// user and org IDs) that CreateContext builds.
type SessionContext struct {
	SessionID string
	UserID    string
	OrgID     string
}

// Manager is the SessionManager facade.
type Manager struct {
	backend   storage.Backend
	cache     *lru.Cache[string, *types.Session]
	callbacks []Callback
}

// Config configures a Manager.
type Config struct {
	// CacheSize bounds the in-process LRU cache of recently touched
	// sessions.
	CacheSize int
}

// New creates a Manager backed by backend.
func New(backend storage.Backend, cfg Config) (*Manager, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *types.Session](size)
	if err != nil {
		return nil, err
	}
	return &Manager{backend: backend, cache: cache}, nil
}

// OnChange registers a lifecycle callback, invoked after Create, Update, or
// Delete succeeds against storage.
func (m *Manager) OnChange(cb Callback) {
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) notify(ctx context.Context, event CallbackEvent) {
	for _, cb := range m.callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Logger.Error().
						Str("sessionID", event.SessionID).
						Interface("panic", r).
						Msg("session lifecycle callback panicked")
				}
			}()
			cb(ctx, event)
		}()
	}
}

// NewSessionID generates a fresh session identifier.
func NewSessionID() string {
	return fmt.Sprintf("ses_%s", strings.ToLower(ulid.Make().String()))
}

// NewThreadID generates a fresh thread identifier.
func NewThreadID() string {
	return fmt.Sprintf("thr_%s", strings.ToLower(ulid.Make().String()))
}

// Create generates IDs, persists a new session, and notifies callbacks.
func (m *Manager) Create(ctx context.Context, cfg types.SessionConfig, title string, scopes types.Scope) (*types.Session, error) {
	id := NewSessionID()
	threadID := NewThreadID()

	session, err := m.backend.CreateSession(ctx, id, threadID, cfg, title, scopes)
	if err != nil {
		return nil, err
	}

	m.cache.Add(id, session)
	m.notify(ctx, CallbackEvent{Kind: CallbackCreated, SessionID: id, Session: session})
	return session, nil
}

// Get returns the session for id, consulting the cache first. When
// filterScopes is non-empty and the cached (or freshly loaded) session's
// scopes do not match, Get bypasses/refreshes from storage and ultimately
// returns nil rather than ever leaking a mismatched session.
func (m *Manager) Get(ctx context.Context, id string, filterScopes types.Scope) (*types.Session, error) {
	if cached, ok := m.cache.Get(id); ok {
		if len(filterScopes) == 0 || filterScopes.Matches(cached.Scopes) {
			return cached, nil
		}
		// Cached copy might be stale relative to a scope update; fall through
		// to storage rather than trusting the cache for a scoped read.
	}

	session, err := m.backend.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	m.cache.Add(id, session)

	if len(filterScopes) > 0 && !filterScopes.Matches(session.Scopes) {
		return nil, nil
	}
	return session, nil
}

// List returns sessions visible to filterScopes, always sourced from
// storage (the cache holds individual entries, not a complete list).
func (m *Manager) List(ctx context.Context, filterScopes types.Scope) ([]*types.Session, error) {
	sessions, err := m.backend.ListSessions(ctx, filterScopes)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		m.cache.Add(s.ID, s)
	}
	return sessions, nil
}

// Update writes title/status/config patches through to storage first, then
// refreshes the cache and notifies callbacks.
func (m *Manager) Update(ctx context.Context, id string, title *string, status *types.SessionStatus, cfgPatch *types.SessionConfig) (*types.Session, error) {
	session, err := m.backend.UpdateSession(ctx, id, title, status, cfgPatch)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	m.cache.Add(id, session)
	m.notify(ctx, CallbackEvent{Kind: CallbackUpdated, SessionID: id, Session: session})
	return session, nil
}

// Delete removes the session from storage, evicts it from the cache, and
// notifies callbacks.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := m.backend.DeleteSession(ctx, id)
	if err != nil {
		return false, err
	}
	m.cache.Remove(id)
	if deleted {
		m.notify(ctx, CallbackEvent{Kind: CallbackDeleted, SessionID: id})
	}
	return deleted, nil
}

// CreateContext builds a SessionContext for a session, returning nil if the
// session does not exist.
func (m *Manager) CreateContext(ctx context.Context, sessionID, userID, orgID string) (*SessionContext, error) {
	session, err := m.Get(ctx, sessionID, nil)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	return &SessionContext{SessionID: sessionID, UserID: userID, OrgID: orgID}, nil
}
