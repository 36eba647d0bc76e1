package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/cognition-sh/cognition/internal/cogerror"
	"github.com/cognition-sh/cognition/pkg/types"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresBackend is the networked StorageBackend: a pooled pgx connection
// with JSON columns for config, scopes, tool calls, and metadata, and
// schema managed by versioned golang-migrate migrations.
type PostgresBackend struct {
	pool *pgxpool.Pool
	dsn  string
}

// NewPostgresBackend creates (but does not yet migrate or connect) a
// networked backend for dsn.
func NewPostgresBackend(ctx context.Context, dsn string, minConns, maxConns int32) (*PostgresBackend, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "parse postgres dsn")
	}
	if minConns > 0 {
		poolCfg.MinConns = minConns
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "create postgres pool")
	}

	return &PostgresBackend{pool: pool, dsn: dsn}, nil
}

func (p *PostgresBackend) Initialize(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return cogerror.Wrap(cogerror.KindUnavailable, err, "ping postgres")
	}
	return p.runMigrations()
}

func (p *PostgresBackend) runMigrations() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return cogerror.Wrap(cogerror.KindInternal, err, "load embedded migrations")
	}

	// golang-migrate drives its own *sql.DB via database/sql/stdlib, separate
	// from the pgxpool used for normal request traffic.
	migrationDB := stdlib.OpenDB(*p.pool.Config().ConnConfig)
	defer migrationDB.Close()

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return cogerror.Wrap(cogerror.KindInternal, err, "create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return cogerror.Wrap(cogerror.KindInternal, err, "create migrator")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return cogerror.Wrap(cogerror.KindInternal, err, "run migrations")
	}
	return nil
}

func (p *PostgresBackend) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}

func (p *PostgresBackend) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return cogerror.Wrap(cogerror.KindUnavailable, err, "postgres health check")
	}
	return nil
}

type postgresCheckpointer struct{ sessionID string }

func (postgresCheckpointer) Name() string { return "postgres" }

func (p *PostgresBackend) GetCheckpointer(ctx context.Context, sessionID string) (CheckpointSaver, error) {
	return postgresCheckpointer{sessionID: sessionID}, nil
}

func (p *PostgresBackend) CreateSession(ctx context.Context, id, threadID string, cfg types.SessionConfig, title string, scopes types.Scope) (*types.Session, error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "marshal session config")
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "marshal session scopes")
	}

	now := time.Now().UTC()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessions (id, thread_id, title, status, config, scopes, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`,
		id, threadID, title, string(types.SessionActive), configJSON, scopesJSON, now,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, cogerror.AlreadyExists("session %s already exists", id)
		}
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "create session")
	}

	return &types.Session{
		ID: id, ThreadID: threadID, Title: title, Status: types.SessionActive,
		Config: cfg, Scopes: scopes.Clone(), MessageCount: 0,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (p *PostgresBackend) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, thread_id, title, status, config, scopes, message_count, created_at, updated_at
		FROM sessions WHERE id = $1`, id)
	session, err := scanPgSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

func (p *PostgresBackend) ListSessions(ctx context.Context, filterScopes types.Scope) ([]*types.Session, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, thread_id, title, status, config, scopes, message_count, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "list sessions")
	}
	defer rows.Close()

	var result []*types.Session
	for rows.Next() {
		session, err := scanPgSession(rows)
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

func (p *PostgresBackend) UpdateSession(ctx context.Context, id string, title *string, status *types.SessionStatus, cfgPatch *types.SessionConfig) (*types.Session, error) {
	existing, err := p.GetSession(ctx, id)
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

	_, err = p.pool.Exec(ctx, `
		UPDATE sessions SET title = $1, status = $2, config = $3, updated_at = $4 WHERE id = $5`,
		existing.Title, string(existing.Status), configJSON, existing.UpdatedAt, id,
	)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "update session")
	}
	return existing, nil
}

func (p *PostgresBackend) UpdateMessageCount(ctx context.Context, id string, count int) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions SET message_count = $1, updated_at = $2 WHERE id = $3`,
		count, time.Now().UTC(), id,
	)
	if err != nil {
		return cogerror.Wrap(cogerror.KindUnavailable, err, "update message count")
	}
	if tag.RowsAffected() == 0 {
		return cogerror.NotFound("session %s", id)
	}
	return nil
}

func (p *PostgresBackend) DeleteSession(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, cogerror.Wrap(cogerror.KindUnavailable, err, "delete session")
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresBackend) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
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

	_, err = p.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, parent_id, tool_calls, tool_call_id, token_count, model_used, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.ParentID,
		toolCallsJSON, msg.ToolCallID, msg.TokenCount, msg.ModelUsed, metadataJSON, createdAt,
	)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return nil, cogerror.NotFound("session %s does not exist", msg.SessionID)
		}
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "create message")
	}

	result := *msg
	result.CreatedAt = createdAt
	return &result, nil
}

func (p *PostgresBackend) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, session_id, role, content, parent_id, tool_calls, tool_call_id, token_count, model_used, metadata, created_at
		FROM messages WHERE id = $1`, id)
	msg, err := scanPgMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (p *PostgresBackend) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, role, content, parent_id, tool_calls, tool_call_id, token_count, model_used, metadata, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, cogerror.Wrap(cogerror.KindUnavailable, err, "list messages")
	}
	defer rows.Close()

	var result []*types.Message
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (p *PostgresBackend) GetMessagesBySession(ctx context.Context, sessionID string, limit, offset int) ([]*types.Message, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, cogerror.Wrap(cogerror.KindUnavailable, err, "count messages")
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, session_id, role, content, parent_id, tool_calls, tool_call_id, token_count, model_used, metadata, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, total, cogerror.Wrap(cogerror.KindUnavailable, err, "page messages")
	}
	defer rows.Close()

	var page []*types.Message
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, total, err
		}
		page = append(page, msg)
	}
	return page, total, rows.Err()
}

func (p *PostgresBackend) DeleteMessagesForSession(ctx context.Context, sessionID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, cogerror.Wrap(cogerror.KindUnavailable, err, "delete messages for session")
	}
	return int(tag.RowsAffected()), nil
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanPgSession(row pgRow) (*types.Session, error) {
	var (
		session      types.Session
		status       string
		configJSON   []byte
		scopesJSON   []byte
	)
	err := row.Scan(&session.ID, &session.ThreadID, &session.Title, &status, &configJSON, &scopesJSON,
		&session.MessageCount, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}

	session.Status = types.SessionStatus(status)
	if err := json.Unmarshal(configJSON, &session.Config); err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "unmarshal session config")
	}
	if err := json.Unmarshal(scopesJSON, &session.Scopes); err != nil {
		return nil, cogerror.Wrap(cogerror.KindInternal, err, "unmarshal session scopes")
	}
	return &session, nil
}

func scanPgMessage(row pgRow) (*types.Message, error) {
	var (
		msg                         types.Message
		role                        string
		toolCallsJSON, metadataJSON []byte
	)
	err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.ParentID,
		&toolCallsJSON, &msg.ToolCallID, &msg.TokenCount, &msg.ModelUsed, &metadataJSON, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	msg.Role = types.MessageRole(role)
	if len(toolCallsJSON) > 0 {
		if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
			return nil, cogerror.Wrap(cogerror.KindInternal, err, "unmarshal tool calls")
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, cogerror.Wrap(cogerror.KindInternal, err, "unmarshal metadata")
		}
	}
	return &msg, nil
}

func isPgUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isPgForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

func pgErrorCode(err error) string {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState()
	}
	return ""
}
