package storage

import (
	"context"

	"github.com/cognition-sh/cognition/internal/cogerror"
)

// Options selects and configures which Backend implementation New builds.
type Options struct {
	// Kind is one of "embedded", "networked", or "memory".
	Kind string
	// Path is the embedded backend's database file path.
	Path string
	// DSN is the networked backend's connection string.
	DSN string
	// MinConns/MaxConns bound the networked backend's pool. Zero means the
	// driver's default.
	MinConns, MaxConns int32
}

// New builds the Backend selected by opts.Kind. Unknown kinds are rejected;
// the factory never silently falls back to another implementation.
func New(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case "embedded":
		return NewSQLiteBackend(opts.Path)
	case "networked":
		return NewPostgresBackend(ctx, opts.DSN, opts.MinConns, opts.MaxConns)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, cogerror.Internal("unknown storage backend kind %q", opts.Kind)
	}
}
