package web

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// StatusEvent represents a single status message for SSE.
type StatusEvent struct {
	Time  string         `json:"t"`
	Level string         `json:"l,omitempty"`
	Msg   string         `json:"msg"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Level: level, Msg: msg})
}

func (b *StatusBroadcaster) publish(evt StatusEvent) {
	if evt.Time == "" {
		evt.Time = time.Now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each line written is broadcast to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
// JSON log records keep their level and attributes; any other line is sent as info.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range bytes.Split(p, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		w.b.publish(eventFromLine(line))
	}
	return len(p), nil
}

// eventFromLine turns one log line into an event. Records produced by the
// JSON handler carry "ts", "level" and "msg"; remaining keys become Attrs.
func eventFromLine(line []byte) StatusEvent {
	var rec map[string]any
	if line[0] != '{' || json.Unmarshal(line, &rec) != nil {
		return StatusEvent{Level: "info", Msg: string(line)}
	}
	msg, ok := rec["msg"].(string)
	if !ok {
		return StatusEvent{Level: "info", Msg: string(line)}
	}

	evt := StatusEvent{Level: "info", Msg: msg}
	if lvl, ok := rec["level"].(string); ok {
		evt.Level = strings.ToLower(lvl)
	}
	if ts, ok := rec["ts"].(string); ok {
		evt.Time = ts
	}
	for _, k := range []string{"ts", "level", "msg"} {
		delete(rec, k)
	}
	if len(rec) > 0 {
		evt.Attrs = rec
	}
	return evt
}
