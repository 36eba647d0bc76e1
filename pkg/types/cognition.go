// Package types provides the core data types shared across the Cognition
// server: sessions, messages, scopes, and the wire/internal event vocabulary.
package types

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
	SessionError    SessionStatus = "error"
)

// Scope is an immutable identity tuple attached to a session at creation.
// Matching is subset-based: Scope S matches T iff every (k,v) in S has T[k]=v.
type Scope map[string]string

// Matches reports whether every key/value pair in s is present in other.
func (s Scope) Matches(other Scope) bool {
	for k, v := range s {
		if other[k] != v {
			return false
		}
	}
	return true
}

// Clone returns a defensive copy of the scope.
func (s Scope) Clone() Scope {
	if s == nil {
		return nil
	}
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SessionConfig carries per-session overrides for provider/model selection.
// All fields are optional; nil means "inherit server default".
type SessionConfig struct {
	Provider     *string  `json:"provider,omitempty"`
	Model        *string  `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
	SystemPrompt *string  `json:"systemPrompt,omitempty"`
}

// Merge returns a copy of c with non-nil fields of patch applied over it.
func (c SessionConfig) Merge(patch *SessionConfig) SessionConfig {
	if patch == nil {
		return c
	}
	out := c
	if patch.Provider != nil {
		out.Provider = patch.Provider
	}
	if patch.Model != nil {
		out.Model = patch.Model
	}
	if patch.Temperature != nil {
		out.Temperature = patch.Temperature
	}
	if patch.MaxTokens != nil {
		out.MaxTokens = patch.MaxTokens
	}
	if patch.SystemPrompt != nil {
		out.SystemPrompt = patch.SystemPrompt
	}
	return out
}

// Session is a conversation bound to a workspace, owned by the
// (WorkspacePath, Scopes) pair. Scopes are set at creation and never mutated.
type Session struct {
	ID            string        `json:"id"`
	WorkspacePath string        `json:"workspacePath"`
	Title         string        `json:"title,omitempty"`
	ThreadID      string        `json:"threadID"`
	Status        SessionStatus `json:"status"`
	Config        SessionConfig `json:"config"`
	Scopes        Scope         `json:"scopes,omitempty"`
	MessageCount  int           `json:"messageCount"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Clone returns a deep-enough copy for cache isolation: the scope map and
// config pointers are copied so mutation of the cached value never leaks.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Scopes = s.Scopes.Clone()
	return &out
}

// MessageRole is the role of a persisted message row.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// ToolCall is one invocation captured on an assistant message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is an immutable row in a session's conversation.
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	Role       MessageRole    `json:"role"`
	Content    string         `json:"content,omitempty"`
	ParentID   string         `json:"parentID,omitempty"`
	ToolCalls  []ToolCall     `json:"toolCalls,omitempty"`
	ToolCallID string         `json:"toolCallID,omitempty"`
	TokenCount int            `json:"tokenCount,omitempty"`
	ModelUsed  string         `json:"modelUsed,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// RateLimitBucket is the serializable state of one token bucket.
type RateLimitBucket struct {
	Rate       float64   `json:"rate"`
	Capacity   float64   `json:"capacity"`
	Tokens     float64   `json:"tokens"`
	LastUpdate time.Time `json:"lastUpdate"`
}
