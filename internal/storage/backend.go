// Package storage defines the StorageBackend abstraction (C1): a single
// interface over sessions, messages, and an opaque checkpointer, with
// interchangeable embedded, networked, and in-memory implementations. The
// core depends only on this interface.
package storage

import (
	"context"

	"github.com/cognition-sh/cognition/pkg/types"
)

// CheckpointSaver is opaque to the core; it is handed to the agent driver
// for its own use (e.g. LangGraph-style checkpointing) and never inspected
// by Cognition itself.
type CheckpointSaver interface {
	// Name identifies the checkpointer implementation for logging.
	Name() string
}

// Backend is the storage contract every implementation (embedded, networked,
// memory) satisfies identically. Each method is individually atomic; no
// multi-operation transactions are required of callers. The backend never
// silently falls back to another implementation.
type Backend interface {
	SessionStore
	MessageStore

	// GetCheckpointer returns the opaque checkpoint saver for sessionID.
	GetCheckpointer(ctx context.Context, sessionID string) (CheckpointSaver, error)

	// Initialize prepares the backend for use (schema creation/migration,
	// connection pool warm-up). Called once before any other method.
	Initialize(ctx context.Context) error

	// Close releases all resources held by the backend.
	Close(ctx context.Context) error

	// HealthCheck reports whether the backend can currently serve requests.
	HealthCheck(ctx context.Context) error
}

// SessionStore is the session half of Backend.
type SessionStore interface {
	// CreateSession persists a new session. Returns cogerror KindAlreadyExists
	// if id collides with an existing session.
	CreateSession(ctx context.Context, id, threadID string, cfg types.SessionConfig, title string, scopes types.Scope) (*types.Session, error)

	// GetSession returns (nil, nil) if id does not exist.
	GetSession(ctx context.Context, id string) (*types.Session, error)

	// ListSessions returns sessions ordered by UpdatedAt descending. When
	// filterScopes is non-empty, only sessions whose scopes are a superset
	// match (types.Scope.Matches) are returned.
	ListSessions(ctx context.Context, filterScopes types.Scope) ([]*types.Session, error)

	// UpdateSession merges the given patch fields into the existing session
	// and bumps UpdatedAt. nil fields leave existing values untouched.
	// Returns (nil, nil) if id does not exist.
	UpdateSession(ctx context.Context, id string, title *string, status *types.SessionStatus, cfgPatch *types.SessionConfig) (*types.Session, error)

	// UpdateMessageCount sets the session's message count and bumps UpdatedAt.
	UpdateMessageCount(ctx context.Context, id string, count int) error

	// DeleteSession removes the session and cascades to delete its messages.
	// Returns false if id did not exist.
	DeleteSession(ctx context.Context, id string) (bool, error)
}

// MessageStore is the message half of Backend.
type MessageStore interface {
	// CreateMessage persists a new message. Returns cogerror KindNotFound
	// (storage-level ForeignKey) if sessionID does not reference an
	// existing session.
	CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error)

	GetMessage(ctx context.Context, id string) (*types.Message, error)

	// ListMessages returns every message for sessionID in creation order.
	ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error)

	// GetMessagesBySession returns a page of messages plus the total count
	// for sessionID, ordered oldest-first.
	GetMessagesBySession(ctx context.Context, sessionID string, limit, offset int) ([]*types.Message, int, error)

	// DeleteMessagesForSession removes every message for sessionID and
	// returns the number of rows removed.
	DeleteMessagesForSession(ctx context.Context, sessionID string) (int, error)
}
