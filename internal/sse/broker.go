// Package sse streams build outcomes to preview pages as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Event names sent to clients.
const (
	EventRebuilt = "site.rebuilt"
	EventFailed  = "build.failed"
	EventReload  = "reload"
)

// DefaultHeartbeat is how often an idle stream receives a comment line.
const DefaultHeartbeat = 15 * time.Second

// BuildEvent describes the outcome of one build.
type BuildEvent struct {
	Written  []string      `json:"written,omitempty"`
	Pages    int           `json:"pages"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Broker fans build outcomes out to connected preview pages. The latest
// outcome is replayed to new clients, so a page opened after a failed build
// still sees the failure.
type Broker struct {
	throttle  time.Duration
	heartbeat time.Duration
	now       func() time.Time

	mu         sync.Mutex
	clients    map[chan []byte]struct{}
	last       []byte
	lastReload time.Time
	closed     bool
}

// NewBroker creates a broker that sends at most one reload per throttle.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 500 * time.Millisecond
	}
	return &Broker{
		throttle:  throttle,
		heartbeat: DefaultHeartbeat,
		now:       time.Now,
		clients:   make(map[chan []byte]struct{}),
	}
}

func frame(event string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload))
}

// PublishBuild sends a build outcome. A successful build is followed by a
// reload unless one was sent within the throttle window.
func (b *Broker) PublishBuild(ev BuildEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if ev.Error != "" {
		b.last = frame(EventFailed, ev)
		b.send(b.last)
		return
	}
	b.last = frame(EventRebuilt, ev)
	b.send(b.last)

	if now := b.now(); now.Sub(b.lastReload) >= b.throttle {
		b.lastReload = now
		b.send(frame(EventReload, struct{}{}))
	}
}

// send delivers msg to every client without blocking; slow clients miss it.
// Callers hold mu.
func (b *Broker) send(msg []byte) {
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe registers a client. The returned func unregisters it; the
// channel is closed on unsubscribe or Close.
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 16)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.last != nil {
		ch <- b.last
	}
	b.clients[ch] = struct{}{}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[ch]; ok {
			delete(b.clients, ch)
			close(ch)
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client. Later publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
	}
	clear(b.clients)
}

// ServeHTTP streams events until the client leaves or the broker closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-events:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
