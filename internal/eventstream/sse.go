package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cognition-sh/cognition/internal/logging"
	"github.com/cognition-sh/cognition/pkg/types"
)

// Config configures a Stream.
type Config struct {
	BufferSize        int
	HeartbeatInterval time.Duration
	RetryMillis       int
}

// DefaultConfig matches the spec's defaults: a 100-event buffer, a 15s
// heartbeat, and a 3000ms client retry directive.
func DefaultConfig() Config {
	return Config{
		BufferSize:        100,
		HeartbeatInterval: 15 * time.Second,
		RetryMillis:       3000,
	}
}

// Stream drives one HTTP response as a resumable SSE stream: it replays
// buffered history on reconnect, forwards live events as they arrive, emits
// heartbeats when the producer is idle, and cancels the producer on client
// disconnect.
type Stream struct {
	cfg    Config
	buffer *Buffer
}

// NewStream creates a Stream backed by a fresh Buffer.
func NewStream(cfg Config) *Stream {
	return &Stream{cfg: cfg, buffer: NewBuffer(cfg.BufferSize)}
}

// Buffer returns the stream's replay buffer, so a producer (C7) can publish
// through the same buffer the writer reads from.
func (s *Stream) Buffer() *Buffer { return s.buffer }

// Serve writes the SSE response for one HTTP request. lastEventID is the
// value of the Last-Event-ID header, empty if absent. live delivers
// CoreEvents as the producer emits them; cancel is invoked (once) if the
// client disconnects before live is closed, so the caller can stop the
// producer. Serve returns once live closes or the client disconnects.
func (s *Stream) Serve(ctx context.Context, w http.ResponseWriter, lastEventID string, live <-chan *types.CoreEvent, cancel context.CancelFunc) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.writeRetry(w)
	flusher.Flush()

	if lastEventID != "" {
		s.replay(w, flusher, lastEventID)
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	defer func() {
		if r := recover(); r != nil {
			s.writeError(w, fmt.Sprintf("internal error: %v", r))
			flusher.Flush()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			return
		case event, openOk := <-live:
			if !openOk {
				return
			}
			wireType, data := ToWireEvent(event)
			id := s.buffer.NextID()
			s.buffer.Append(WireEvent{ID: id, Type: wireType, Data: data})
			if err := s.writeEvent(w, id, wireType, data); err != nil {
				cancel()
				return
			}
			flusher.Flush()
			heartbeat.Reset(s.cfg.HeartbeatInterval)
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				cancel()
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Stream) replay(w http.ResponseWriter, flusher http.Flusher, lastEventID string) {
	for _, e := range s.buffer.GetEventsAfter(lastEventID) {
		if err := s.writeEvent(w, e.ID, e.Type, e.Data); err != nil {
			return
		}
	}
	if lastEventID != "" {
		s.writeEvent(w, "", string(types.WireReconnected), types.ReconnectedPayload{
			LastEventID: lastEventID,
			Resumed:     true,
		})
	}
	flusher.Flush()
}

func (s *Stream) writeRetry(w http.ResponseWriter) {
	retry := s.cfg.RetryMillis
	if retry <= 0 {
		retry = 3000
	}
	fmt.Fprintf(w, "retry: %d\n\n", retry)
}

func (s *Stream) writeEvent(w http.ResponseWriter, id, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		logging.Logger.Error().Err(err).Str("eventType", eventType).Msg("marshal sse event")
		return nil
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	return nil
}

func (s *Stream) writeError(w http.ResponseWriter, message string) {
	s.writeEvent(w, "", string(types.WireError), types.ErrorPayload{Message: message})
}
