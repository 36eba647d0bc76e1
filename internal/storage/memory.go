package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cognition-sh/cognition/internal/cogerror"
	"github.com/cognition-sh/cognition/pkg/types"
)

// memoryCheckpointer is the no-op CheckpointSaver used by the memory backend.
type memoryCheckpointer struct{ sessionID string }

func (memoryCheckpointer) Name() string { return "memory" }

// Memory is an in-memory Backend: dictionaries keyed by ID, filtering done
// in-process. Used for tests only; data is lost on process exit.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	messages map[string]*types.Message
	order    map[string][]string // sessionID -> message IDs in creation order
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*types.Session),
		messages: make(map[string]*types.Message),
		order:    make(map[string][]string),
	}
}

func (m *Memory) Initialize(ctx context.Context) error { return nil }
func (m *Memory) Close(ctx context.Context) error      { return nil }
func (m *Memory) HealthCheck(ctx context.Context) error { return nil }

func (m *Memory) GetCheckpointer(ctx context.Context, sessionID string) (CheckpointSaver, error) {
	return memoryCheckpointer{sessionID: sessionID}, nil
}

func (m *Memory) CreateSession(ctx context.Context, id, threadID string, cfg types.SessionConfig, title string, scopes types.Scope) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, cogerror.AlreadyExists("session %s already exists", id)
	}

	now := time.Now().UTC()
	session := &types.Session{
		ID:            id,
		ThreadID:      threadID,
		Title:         title,
		Status:        types.SessionActive,
		Config:        cfg,
		Scopes:        scopes.Clone(),
		MessageCount:  0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.sessions[id] = session
	return session.Clone(), nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return session.Clone(), nil
}

func (m *Memory) ListSessions(ctx context.Context, filterScopes types.Scope) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*types.Session
	for _, session := range m.sessions {
		if len(filterScopes) > 0 && !filterScopes.Matches(session.Scopes) {
			continue
		}
		result = append(result, session.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (m *Memory) UpdateSession(ctx context.Context, id string, title *string, status *types.SessionStatus, cfgPatch *types.SessionConfig) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}

	if title != nil {
		session.Title = *title
	}
	if status != nil {
		session.Status = *status
	}
	if cfgPatch != nil {
		session.Config = session.Config.Merge(cfgPatch)
	}
	session.UpdatedAt = time.Now().UTC()

	return session.Clone(), nil
}

func (m *Memory) UpdateMessageCount(ctx context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return cogerror.NotFound("session %s", id)
	}
	session.MessageCount = count
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false, nil
	}
	delete(m.sessions, id)

	for _, msgID := range m.order[id] {
		delete(m.messages, msgID)
	}
	delete(m.order, id)

	return true, nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return nil, cogerror.NotFound("session %s does not exist", msg.SessionID)
	}

	stored := *msg
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.messages[stored.ID] = &stored
	m.order[stored.SessionID] = append(m.order[stored.SessionID], stored.ID)

	result := stored
	return &result, nil
}

func (m *Memory) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, nil
	}
	result := *msg
	return &result, nil
}

func (m *Memory) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*types.Message
	for _, id := range m.order[sessionID] {
		msg := *m.messages[id]
		result = append(result, &msg)
	}
	return result, nil
}

func (m *Memory) GetMessagesBySession(ctx context.Context, sessionID string, limit, offset int) ([]*types.Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.order[sessionID]
	total := len(ids)

	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	var page []*types.Message
	for _, id := range ids[offset:end] {
		msg := *m.messages[id]
		page = append(page, &msg)
	}
	return page, total, nil
}

func (m *Memory) DeleteMessagesForSession(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.order[sessionID]
	for _, id := range ids {
		delete(m.messages, id)
	}
	delete(m.order, sessionID)
	return len(ids), nil
}
