// Package eventstream implements the EventBuffer & SSEStream component (C5):
// a bounded per-stream replay buffer, resumable Server-Sent Events framing,
// and the live-event fan-out each stream subscribes to. The fan-out itself
// is backed by watermill's in-process gochannel pub/sub, replacing the
// teacher's bespoke dual global/per-Server event.Bus with one instance per
// active turn.
package eventstream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// WireEvent is one fully-framed SSE event: an assigned ID, an event type
// name, and its JSON-serializable payload.
type WireEvent struct {
	ID   string
	Type string
	Data any
}

// Buffer is a bounded deque of the most recently emitted events for one
// stream, supporting resume-from-id replay. All operations hold a single
// lock; contention is low because each active stream owns its own buffer.
type Buffer struct {
	mu      sync.Mutex
	events  []WireEvent
	cap     int
	counter uint64
}

// NewBuffer creates a Buffer retaining at most capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &Buffer{cap: capacity}
}

// NextID returns the next event ID for this stream: a monotonic counter plus
// a short random suffix, unique per-stream (no global ordering is needed).
func (b *Buffer) NextID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter++
	suffix := strings.ToLower(ulid.Make().String())
	return fmt.Sprintf("%d-%s", b.counter, suffix[len(suffix)-8:])
}

// Append adds event to the buffer, evicting the oldest entry once capacity
// is exceeded.
func (b *Buffer) Append(event WireEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	if len(b.events) > b.cap {
		b.events = b.events[len(b.events)-b.cap:]
	}
}

// GetEventsAfter returns every buffered event strictly after the one whose
// ID is id, in order. If id is empty, evicted, or otherwise unknown, it
// conservatively returns the entire buffer.
func (b *Buffer) GetEventsAfter(id string) []WireEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == "" {
		return append([]WireEvent(nil), b.events...)
	}
	for i, e := range b.events {
		if e.ID == id {
			return append([]WireEvent(nil), b.events[i+1:]...)
		}
	}
	return append([]WireEvent(nil), b.events...)
}
