package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognition-sh/cognition/internal/cogerror"
	"github.com/cognition-sh/cognition/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	config_json TEXT NOT NULL,
	scopes_json TEXT NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	parent_id TEXT NOT NULL DEFAULT '',
	tool_calls_json TEXT,
	tool_call_id TEXT NOT NULL DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0,
	model_used TEXT NOT NULL DEFAULT '',
	metadata_json TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at);
`

// SQLiteBackend is the embedded StorageBackend: a single WAL-mode file with
// a small connection pool, suitable for single-process deployments.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if necessary) a WAL-mode SQLite database
// at path. Call Initialize before use.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "open sqlite database")
	}
	// A single writer connection avoids SQLITE_BUSY under WAL; reads are
	// cheap enough to serialize through it too at this scale.
	db.SetMaxOpenConns(1)
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return cogerror.Wrap(cogerror.KindInternal, err, "initialize sqlite schema")
	}
	return nil
}

func (s *SQLiteBackend) Close(ctx context.Context) error {
	return s.db.Close()
}

func (s *SQLiteBackend) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return cogerror.Wrap(cogerror.KindUnavailable, err, "sqlite health check")
	}
	return nil
}

func (s *SQLiteBackend) GetCheckpointer(ctx context.Context, sessionID string) (CheckpointSaver, error) {
	return sqliteCheckpointer{db: s.db, sessionID: sessionID}, nil
}

type sqliteCheckpointer struct {
	db        *sql.DB
	sessionID string
}

func (sqliteCheckpointer) Name() string { return "sqlite" }

func (s *SQLiteBackend) CreateSession(ctx context.Context, id, threadID string, cfg types.SessionConfig, title string, scopes types.Scope) (*types.Session, error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "marshal session config")
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "marshal session scopes")
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, thread_id, title, status, config_json, scopes_json, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, threadID, title, string(types.SessionActive), string(configJSON), string(scopesJSON),
		now.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, cogerror.AlreadyExists("session %s already exists", id)
		}
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "create session")
	}

	return &types.Session{
		ID: id, ThreadID: threadID, Title: title, Status: types.SessionActive,
		Config: cfg, Scopes: scopes.Clone(), MessageCount: 0,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *SQLiteBackend) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, title, status, config_json, scopes_json, message_count, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteBackend) ListSessions(ctx context.Context, filterScopes types.Scope) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, title, status, config_json, scopes_json, message_count, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "list sessions")
	}
	defer rows.Close()

	var result []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if len(filterScopes) > 0 && !filterScopes.Matches(session.Scopes) {
			continue
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

func (s *SQLiteBackend) UpdateSession(ctx context.Context, id string, title *string, status *types.SessionStatus, cfgPatch *types.SessionConfig) (*types.Session, error) {
	existing, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}

	if title != nil {
		existing.Title = *title
	}
	if status != nil {
		existing.Status = *status
	}
	if cfgPatch != nil {
		existing.Config = existing.Config.Merge(cfgPatch)
	}
	existing.UpdatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(existing.Config)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "marshal session config")
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, status = ?, config_json = ?, updated_at = ? WHERE id = ?`,
		existing.Title, string(existing.Status), string(configJSON), existing.UpdatedAt.Unix(), id,
	)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "update session")
	}
	return existing, nil
}

func (s *SQLiteBackend) UpdateMessageCount(ctx context.Context, id string, count int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET message_count = ?, updated_at = ? WHERE id = ?`,
		count, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return cogerror.Wrap(cogerror.KindInternal, err, "update message count")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cogerror.NotFound("session %s", id)
	}
	return nil
}

func (s *SQLiteBackend) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, cogerror.Wrap(cogerror.KindInternal, err, "delete session")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteBackend) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	toolCallsJSON, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "marshal tool calls")
	}
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "marshal metadata")
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, parent_id, tool_calls_json, tool_call_id, token_count, model_used, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.ParentID,
		string(toolCallsJSON), msg.ToolCallID, msg.TokenCount, msg.ModelUsed, string(metadataJSON),
		createdAt.Unix(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, cogerror.NotFound("session %s does not exist", msg.SessionID)
		}
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "create message")
	}

	result := *msg
	result.CreatedAt = createdAt
	return &result, nil
}

func (s *SQLiteBackend) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, role, content, parent_id, tool_calls_json, tool_call_id, token_count, model_used, metadata_json, created_at
		FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (s *SQLiteBackend) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, parent_id, tool_calls_json, tool_call_id, token_count, model_used, metadata_json, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "list messages")
	}
	defer rows.Close()

	var result []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (s *SQLiteBackend) GetMessagesBySession(ctx context.Context, sessionID string, limit, offset int) ([]*types.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&total); err != nil {
		return nil, 0, cogerror.Wrap(cogerror.KindInternal, err, "count messages")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, parent_id, tool_calls_json, tool_call_id, token_count, model_used, metadata_json, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, total, cogerror.Wrap(cogerror.KindUnavailable, err, "page messages")
	}
	defer rows.Close()

	var page []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, total, err
		}
		page = append(page, msg)
	}
	return page, total, rows.Err()
}

func (s *SQLiteBackend) DeleteMessagesForSession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, cogerror.Wrap(cogerror.KindInternal, err, "delete messages for session")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var (
		session                types.Session
		status                 string
		configJSON, scopesJSON string
		createdAt, updatedAt   int64
	)
	err := row.Scan(&session.ID, &session.ThreadID, &session.Title, &status, &configJSON, &scopesJSON,
		&session.MessageCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "scan session")
	}

	session.Status = types.SessionStatus(status)
	session.CreatedAt = time.Unix(createdAt, 0).UTC()
	session.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := json.Unmarshal([]byte(configJSON), &session.Config); err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "unmarshal session config")
	}
	if err := json.Unmarshal([]byte(scopesJSON), &session.Scopes); err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "unmarshal session scopes")
	}
	return &session, nil
}

func scanMessage(row scanner) (*types.Message, error) {
	var (
		msg                          types.Message
		role                         string
		toolCallsJSON, metadataJSON  sql.NullString
		createdAt                    int64
	)
	err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.ParentID,
		&toolCallsJSON, &msg.ToolCallID, &msg.TokenCount, &msg.ModelUsed, &metadataJSON, &createdAt)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "scan message")
	}

	msg.Role = types.MessageRole(role)
	msg.CreatedAt = time.Unix(createdAt, 0).UTC()
	if toolCallsJSON.Valid && toolCallsJSON.String != "" && toolCallsJSON.String != "null" {
		if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
			return nil, cogerror.Wrap(cogerror.KindInternal, err, "unmarshal tool calls")
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
			return nil, cogerror.Wrap(cogerror.KindInternal, err, "unmarshal metadata")
		}
	}
	return &msg, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
