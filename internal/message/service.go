// Package message implements the MessageService (C7): the operation that
// admits a request, starts a turn through the AgentDriver adapter, and fans
// its CoreEvents out to the calling HTTP response as Server-Sent Events
// while persisting a replayable record of the turn.
package message

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/cognition-sh/cognition/internal/agentdriver"
	"github.com/cognition-sh/cognition/internal/cogerror"
	"github.com/cognition-sh/cognition/internal/eventstream"
	"github.com/cognition-sh/cognition/internal/logging"
	"github.com/cognition-sh/cognition/internal/ratelimit"
	"github.com/cognition-sh/cognition/internal/scope"
	"github.com/cognition-sh/cognition/internal/session"
	"github.com/cognition-sh/cognition/internal/storage"
	"github.com/cognition-sh/cognition/pkg/types"
)

// Config configures a Service.
type Config struct {
	// MaxSessions bounds how many sessions may have an active turn at once.
	MaxSessions int
	// StrictSerial makes a second concurrent SendMessage for a session fail
	// with Conflict instead of waiting on the first to finish.
	StrictSerial bool
	// Stream configures every per-turn eventstream.Stream.
	Stream eventstream.Config
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{MaxSessions: 100, StrictSerial: false, Stream: eventstream.DefaultConfig()}
}

// turnEntry tracks an in-flight turn for concurrency bounds and Abort.
type turnEntry struct {
	cancel agentdriver.Cancel
}

// streamEntry is kept past turn completion so a late reconnect can still
// replay the buffered tail; it is only replaced, never proactively evicted.
type streamEntry struct {
	stream *eventstream.Stream
	bus    *eventstream.Bus
	live   bool // producer still running (true while an active turn drives it)
}

// Service is the MessageService (C7).
type Service struct {
	cfg      Config
	backend  storage.Backend
	sessions *session.Manager
	scopeH   *scope.Harness
	limiter  *ratelimit.Limiter
	driver   *agentdriver.Driver

	mu           sync.Mutex
	activeTurns  map[string]*turnEntry
	streams      map[string]*streamEntry
	sessionLocks map[string]*sync.Mutex
}

// New creates a Service wiring every component a turn needs.
func New(backend storage.Backend, sessions *session.Manager, scopeH *scope.Harness, limiter *ratelimit.Limiter, driver *agentdriver.Driver, cfg Config) *Service {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.Stream.BufferSize == 0 && cfg.Stream.HeartbeatInterval == 0 && cfg.Stream.RetryMillis == 0 {
		cfg.Stream = eventstream.DefaultConfig()
	}
	return &Service{
		cfg:          cfg,
		backend:      backend,
		sessions:     sessions,
		scopeH:       scopeH,
		limiter:      limiter,
		driver:       driver,
		activeTurns:  make(map[string]*turnEntry),
		streams:      make(map[string]*streamEntry),
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

// SendMessageRequest is the input to SendMessage.
type SendMessageRequest struct {
	Header      http.Header
	SessionID   string
	Content     string
	ParentID    string
	LastEventID string
}

// NewMessageID generates a fresh message identifier.
func NewMessageID() string {
	return fmt.Sprintf("msg_%s", strings.ToLower(ulid.Make().String()))
}

// SendMessage admits req, then either replays an existing stream (when
// LastEventID is set) or starts a new turn and streams it live. It writes
// directly to w; a non-nil returned error means nothing was written to w yet
// (admission failed before the SSE response was opened), so the caller
// should render it as a JSON error envelope.
func (s *Service) SendMessage(ctx context.Context, w http.ResponseWriter, req SendMessageRequest) error {
	callerScope, err := s.scopeH.ExtractAndEnforce(req.Header)
	if err != nil {
		return err
	}

	sess, err := s.sessions.Get(ctx, req.SessionID, callerScope)
	if err != nil {
		return cogerror.Internal("load session: %v", err)
	}
	if sess == nil {
		return cogerror.NotFound("session %s not found", req.SessionID)
	}

	if req.LastEventID != "" {
		return s.reconnect(ctx, w, req.SessionID, req.LastEventID)
	}

	rateKey := req.SessionID
	if len(callerScope) > 0 {
		keys := make([]string, 0, len(callerScope))
		for k := range callerScope {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + callerScope[k]
		}
		rateKey = strings.Join(parts, ",")
	}
	if err := s.limiter.CheckRateLimit(rateKey); err != nil {
		return err
	}

	lock := s.sessionLock(req.SessionID)
	if s.cfg.StrictSerial {
		if !lock.TryLock() {
			return cogerror.Conflict("a message is already in flight for session %s", req.SessionID)
		}
	} else {
		lock.Lock()
	}
	defer lock.Unlock()

	if err := s.reserveTurn(req.SessionID); err != nil {
		return err
	}

	userMsg := &types.Message{
		ID:        NewMessageID(),
		SessionID: req.SessionID,
		Role:      types.RoleUser,
		Content:   req.Content,
		ParentID:  req.ParentID,
	}
	if _, err := s.backend.CreateMessage(ctx, userMsg); err != nil {
		return cogerror.Internal("persist user message: %v", err)
	}
	if err := s.backend.UpdateMessageCount(ctx, req.SessionID, sess.MessageCount+1); err != nil {
		logging.Logger.Warn().Err(err).Str("sessionID", req.SessionID).Msg("update message count after user message")
	}

	history, err := s.backend.ListMessages(ctx, req.SessionID)
	if err != nil {
		return cogerror.Internal("load history: %v", err)
	}

	stream := eventstream.NewStream(s.cfg.Stream)
	bus := eventstream.NewBus()

	turnCtx, turnCancel := context.WithCancel(context.Background())
	events, driverCancel, err := s.driver.Run(turnCtx, agentdriver.Request{
		Session:  sess,
		History:  history,
		Content:  req.Content,
		ThreadID: sess.ThreadID,
	})
	if err != nil {
		turnCancel()
		bus.Close()
		s.releaseTurn(req.SessionID)
		return cogerror.Internal("start turn: %v", err)
	}

	cancel := agentdriver.Cancel(func() {
		driverCancel()
		turnCancel()
	})

	s.mu.Lock()
	s.activeTurns[req.SessionID].cancel = cancel
	s.streams[req.SessionID] = &streamEntry{stream: stream, bus: bus, live: true}
	s.mu.Unlock()

	reqCtx, reqCancel := context.WithCancel(ctx)
	defer reqCancel()

	live, err := bus.Subscribe(reqCtx, req.SessionID)
	if err != nil {
		cancel()
		s.finalizeTurn(req.SessionID)
		return cogerror.Internal("subscribe stream: %v", err)
	}

	go s.runProducer(context.WithoutCancel(turnCtx), req.SessionID, sess, events, bus)

	stream.Serve(reqCtx, w, "", live, func() { cancel() })

	s.finalizeTurn(req.SessionID)
	return nil
}

// reserveTurn enforces the maxSessions bound and, in the same locked
// section, reserves activeTurns[sessionID] so a second admission racing
// against this one (for a different session) cannot both pass the bound
// check. A session that already has an active turn never counts against the
// bound a second time, since same-session calls are serialized by the
// per-session lock before this is reached. The reserved entry's cancel
// field is filled in once the driver actually starts; callers must not
// invoke it before then (guarded by turnEntry.cancel's nil check).
func (s *Service) reserveTurn(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activeTurns[sessionID]; exists {
		return nil
	}
	if len(s.activeTurns) >= s.cfg.MaxSessions {
		return cogerror.ResourceExhausted("at most %d sessions may have an active turn at once", s.cfg.MaxSessions)
	}
	s.activeTurns[sessionID] = &turnEntry{}
	return nil
}

func (s *Service) releaseTurn(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeTurns, sessionID)
}

// finalizeTurn removes sessionID from activeTurns and marks its stream
// entry no-longer-live, but keeps the stream/buffer around so a subsequent
// reconnect can still replay the turn's tail.
func (s *Service) finalizeTurn(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeTurns, sessionID)
	if se, ok := s.streams[sessionID]; ok {
		se.live = false
	}
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.sessionLocks[sessionID]
	if !ok {
		lk = &sync.Mutex{}
		s.sessionLocks[sessionID] = lk
	}
	return lk
}

// reconnect serves a resume-only (no new producer) request: if a turn is
// still live it subscribes to the shared bus for continuation, otherwise it
// replays the buffered tail and closes per the spec's "producer has ended"
// resume semantics.
func (s *Service) reconnect(ctx context.Context, w http.ResponseWriter, sessionID, lastEventID string) error {
	s.mu.Lock()
	se, ok := s.streams[sessionID]
	s.mu.Unlock()
	if !ok {
		return cogerror.NotFound("no stream to resume for session %s", sessionID)
	}

	if !se.live {
		closed := make(chan *types.CoreEvent)
		close(closed)
		se.stream.Serve(ctx, w, lastEventID, closed, func() {})
		return nil
	}

	live, err := se.bus.Subscribe(ctx, sessionID)
	if err != nil {
		return cogerror.Internal("subscribe stream: %v", err)
	}

	s.mu.Lock()
	entry, stillActive := s.activeTurns[sessionID]
	s.mu.Unlock()

	cancelFn := func() {}
	if stillActive {
		cancelFn = func() {
			if entry.cancel != nil {
				entry.cancel()
			}
		}
	}
	se.stream.Serve(ctx, w, lastEventID, live, cancelFn)
	return nil
}

// ActiveSessionCount reports how many sessions currently have an in-flight
// turn, for the /health endpoint.
func (s *Service) ActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeTurns)
}

// Abort cancels a session's active turn, if any. Always succeeds.
func (s *Service) Abort(sessionID string) {
	s.mu.Lock()
	entry, ok := s.activeTurns[sessionID]
	s.mu.Unlock()
	if ok && entry.cancel != nil {
		entry.cancel()
	}
}

// Shutdown cancels every active turn, for graceful process shutdown. Callers
// should wait for in-flight SendMessage calls to observe cancellation and
// persist their interrupted rows before closing storage.
func (s *Service) Shutdown() {
	s.mu.Lock()
	entries := make([]*turnEntry, 0, len(s.activeTurns))
	for _, e := range s.activeTurns {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
}
