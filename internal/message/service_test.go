package message

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognition-sh/cognition/internal/agentdriver"
	"github.com/cognition-sh/cognition/internal/cogerror"
	"github.com/cognition-sh/cognition/internal/permission"
	"github.com/cognition-sh/cognition/internal/provider"
	"github.com/cognition-sh/cognition/internal/ratelimit"
	"github.com/cognition-sh/cognition/internal/scope"
	"github.com/cognition-sh/cognition/internal/session"
	"github.com/cognition-sh/cognition/internal/storage"
	"github.com/cognition-sh/cognition/internal/tool"
	"github.com/cognition-sh/cognition/pkg/types"
)

// fakeProvider replays a fixed sequence of schema.Message chunks, mirroring
// the agentdriver package's own test double for the same interface.
type fakeProvider struct {
	id     string
	models []types.Model
	chunks []*schema.Message
	delay  time.Duration
}

func (p *fakeProvider) ID() string                           { return p.id }
func (p *fakeProvider) Name() string                          { return p.id }
func (p *fakeProvider) Models() []types.Model                 { return p.models }
func (p *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }

func (p *fakeProvider) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	reader := schema.StreamReaderFromArray(p.chunks)
	return provider.NewCompletionStream(reader), nil
}

func testModel(providerID, id string) types.Model {
	return types.Model{
		ID: id, Name: id, ProviderID: providerID,
		ContextLength: 100000, MaxOutputTokens: 4096, SupportsTools: true,
	}
}

func tokenChunks(parts ...string) []*schema.Message {
	out := make([]*schema.Message, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, &schema.Message{Role: schema.Assistant, Content: p})
	}
	last := &schema.Message{Role: schema.Assistant, Content: ""}
	last.ResponseMeta = &schema.ResponseMeta{FinishReason: "stop"}
	out = append(out, last)
	return out
}

// fixture bundles every dependency a Service needs, wired against a single
// fakeProvider and an in-memory storage backend.
type fixture struct {
	svc     *Service
	backend storage.Backend
	sessMgr *session.Manager
	sess    *types.Session
}

func newFixture(t *testing.T, cfg Config, chunks []*schema.Message) *fixture {
	t.Helper()

	backend := storage.NewMemory()
	require.NoError(t, backend.Initialize(context.Background()))

	sessMgr, err := session.New(backend, session.Config{})
	require.NoError(t, err)

	scopeH := scope.New(scope.Config{Enabled: false})
	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 6000, BurstSize: 6000})

	prov := &fakeProvider{id: "anthropic", models: []types.Model{testModel("anthropic", "claude-x")}, chunks: chunks}
	reg := provider.NewRegistry(&types.AppConfig{})
	reg.Register(prov)

	driver := agentdriver.New(reg, tool.NewRegistry(), permission.NewChecker(), nil, nil)

	svc := New(backend, sessMgr, scopeH, limiter, driver, cfg)

	providerID := "anthropic"
	modelID := "claude-x"
	sess, err := sessMgr.Create(context.Background(), types.SessionConfig{Provider: &providerID, Model: &modelID}, "test", nil)
	require.NoError(t, err)

	return &fixture{svc: svc, backend: backend, sessMgr: sessMgr, sess: sess}
}

// parseSSE splits a raw SSE response body into (eventType, data) pairs,
// skipping heartbeats and the leading "retry:" directive.
func parseSSE(body string) []string {
	var kinds []string
	for _, block := range strings.Split(body, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			if strings.HasPrefix(line, "event: ") {
				kinds = append(kinds, strings.TrimPrefix(line, "event: "))
			}
		}
	}
	return kinds
}

func TestSendMessage_HappyPath(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("hello ", "world"))

	rec := httptest.NewRecorder()
	err := f.svc.SendMessage(context.Background(), rec, SendMessageRequest{
		Header:    http.Header{},
		SessionID: f.sess.ID,
		Content:   "hi",
	})
	require.NoError(t, err)

	kinds := parseSSE(rec.Body.String())
	assert.Contains(t, kinds, string(types.WireToken))
	assert.Contains(t, kinds, string(types.WireDone))

	msgs, err := f.backend.ListMessages(context.Background(), f.sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello world", msgs[1].Content)

	updated, err := f.backend.GetSession(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MessageCount)
}

func TestSendMessage_SessionNotFound(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("x"))

	rec := httptest.NewRecorder()
	err := f.svc.SendMessage(context.Background(), rec, SendMessageRequest{
		Header:    http.Header{},
		SessionID: "ses_missing",
		Content:   "hi",
	})
	require.Error(t, err)
	assert.Equal(t, cogerror.KindNotFound, cogerror.Of(err))
}

func TestSendMessage_ForbiddenWhenScopeMissing(t *testing.T) {
	backend := storage.NewMemory()
	require.NoError(t, backend.Initialize(context.Background()))
	sessMgr, err := session.New(backend, session.Config{})
	require.NoError(t, err)
	scopeH := scope.New(scope.Config{Enabled: true, Keys: []string{"user"}})
	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 6000, BurstSize: 6000})
	reg := provider.NewRegistry(&types.AppConfig{})
	driver := agentdriver.New(reg, tool.NewRegistry(), permission.NewChecker(), nil, nil)
	svc := New(backend, sessMgr, scopeH, limiter, driver, DefaultConfig())

	rec := httptest.NewRecorder()
	err = svc.SendMessage(context.Background(), rec, SendMessageRequest{
		Header:    http.Header{},
		SessionID: "ses_anything",
		Content:   "hi",
	})
	require.Error(t, err)
	assert.Equal(t, cogerror.KindForbidden, cogerror.Of(err))
}

func TestSendMessage_RateLimited(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("x"))
	f.svc.limiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: 60, BurstSize: 1})

	rec1 := httptest.NewRecorder()
	require.NoError(t, f.svc.SendMessage(context.Background(), rec1, SendMessageRequest{
		Header: http.Header{}, SessionID: f.sess.ID, Content: "one",
	}))

	rec2 := httptest.NewRecorder()
	err := f.svc.SendMessage(context.Background(), rec2, SendMessageRequest{
		Header: http.Header{}, SessionID: f.sess.ID, Content: "two",
	})
	require.Error(t, err)
	assert.Equal(t, cogerror.KindRateLimited, cogerror.Of(err))
}

func TestSendMessage_MaxSessionsExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	f := newFixture(t, cfg, tokenChunks("x"))

	f.svc.mu.Lock()
	f.svc.activeTurns["ses_other"] = &turnEntry{cancel: func() {}}
	f.svc.mu.Unlock()

	rec := httptest.NewRecorder()
	err := f.svc.SendMessage(context.Background(), rec, SendMessageRequest{
		Header: http.Header{}, SessionID: f.sess.ID, Content: "hi",
	})
	require.Error(t, err)
	assert.Equal(t, cogerror.KindResourceExhausted, cogerror.Of(err))
}

func TestSendMessage_StrictSerialConflict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictSerial = true
	f := newFixture(t, cfg, tokenChunks("x"))

	lock := f.svc.sessionLock(f.sess.ID)
	lock.Lock()
	defer lock.Unlock()

	rec := httptest.NewRecorder()
	err := f.svc.SendMessage(context.Background(), rec, SendMessageRequest{
		Header: http.Header{}, SessionID: f.sess.ID, Content: "hi",
	})
	require.Error(t, err)
	assert.Equal(t, cogerror.KindConflict, cogerror.Of(err))
}

func TestSendMessage_ErrorEventPersistsErrorRow(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("partial"))
	// Swap in a provider that always fails so the driver emits Error then Done.
	reg := provider.NewRegistry(&types.AppConfig{})
	reg.Register(&fakeProviderErr{id: "anthropic", models: []types.Model{testModel("anthropic", "claude-x")}})
	driver := agentdriver.New(reg, tool.NewRegistry(), permission.NewChecker(), nil, nil)
	f.svc.driver = driver

	rec := httptest.NewRecorder()
	err := f.svc.SendMessage(context.Background(), rec, SendMessageRequest{
		Header: http.Header{}, SessionID: f.sess.ID, Content: "hi",
	})
	require.NoError(t, err)

	kinds := parseSSE(rec.Body.String())
	assert.Contains(t, kinds, string(types.WireError))
	assert.Contains(t, kinds, string(types.WireDone))

	msgs, err := f.backend.ListMessages(context.Background(), f.sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "error", msgs[1].Metadata["status"])
}

type fakeProviderErr struct {
	id     string
	models []types.Model
}

func (p *fakeProviderErr) ID() string                           { return p.id }
func (p *fakeProviderErr) Name() string                          { return p.id }
func (p *fakeProviderErr) Models() []types.Model                 { return p.models }
func (p *fakeProviderErr) ChatModel() model.ToolCallingChatModel { return nil }
func (p *fakeProviderErr) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	return nil, assertBoom{}
}

type assertBoom struct{}

func (assertBoom) Error() string { return "boom" }

func TestAbort_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("x"))
	f.svc.Abort(f.sess.ID) // no active turn: must not panic
	f.svc.Abort(f.sess.ID)
}

func TestShutdown_NoActiveTurns(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("x"))
	f.svc.Shutdown() // must not panic with zero active turns
}

func TestReconnect_AfterCompletionReplaysTail(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("hello"))

	rec := httptest.NewRecorder()
	require.NoError(t, f.svc.SendMessage(context.Background(), rec, SendMessageRequest{
		Header: http.Header{}, SessionID: f.sess.ID, Content: "hi",
	}))
	firstKinds := parseSSE(rec.Body.String())
	require.Contains(t, firstKinds, string(types.WireDone))

	rec2 := httptest.NewRecorder()
	err := f.svc.SendMessage(context.Background(), rec2, SendMessageRequest{
		Header: http.Header{}, SessionID: f.sess.ID, LastEventID: "0-unknown",
	})
	require.NoError(t, err)
	kinds2 := parseSSE(rec2.Body.String())
	assert.Contains(t, kinds2, string(types.WireReconnected))
}

func TestReconnect_UnknownSessionNotFound(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("x"))
	rec := httptest.NewRecorder()
	err := f.svc.SendMessage(context.Background(), rec, SendMessageRequest{
		Header: http.Header{}, SessionID: f.sess.ID, LastEventID: "0-unknown",
	})
	// No prior turn has run yet, so there is no stream to resume.
	require.Error(t, err)
	assert.Equal(t, cogerror.KindNotFound, cogerror.Of(err))
}

func TestSendMessage_ConcurrentDifferentSessionsBothSucceed(t *testing.T) {
	f := newFixture(t, DefaultConfig(), tokenChunks("slow"))
	f.svc.driver = agentdriver.New(func() *provider.Registry {
		reg := provider.NewRegistry(&types.AppConfig{})
		reg.Register(&fakeProvider{id: "anthropic", models: []types.Model{testModel("anthropic", "claude-x")}, chunks: tokenChunks("slow"), delay: 50 * time.Millisecond})
		return reg
	}(), tool.NewRegistry(), permission.NewChecker(), nil, nil)

	providerID := "anthropic"
	modelID := "claude-x"
	sess2, err := f.sessMgr.Create(context.Background(), types.SessionConfig{Provider: &providerID, Model: &modelID}, "second", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec := httptest.NewRecorder()
		results[0] = f.svc.SendMessage(context.Background(), rec, SendMessageRequest{Header: http.Header{}, SessionID: f.sess.ID, Content: "a"})
	}()
	go func() {
		defer wg.Done()
		rec := httptest.NewRecorder()
		results[1] = f.svc.SendMessage(context.Background(), rec, SendMessageRequest{Header: http.Header{}, SessionID: sess2.ID, Content: "b"})
	}()
	wg.Wait()

	assert.NoError(t, results[0])
	assert.NoError(t, results[1])
}

func TestNewMessageID_HasPrefix(t *testing.T) {
	id := NewMessageID()
	assert.True(t, strings.HasPrefix(id, "msg_"))
}
