package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/DeskGo/internal/debug"
	"github.com/cjeanneret/DeskGo/internal/logic/geometry"
	"github.com/cjeanneret/DeskGo/internal/protocol"
)

// Desk is the motion controller as seen by the HTTP API.
type Desk interface {
	Move(target uint16) (bool, error)
	Status() (protocol.StatusReport, error)
	MoveUp() (bool, error)
	MoveDown() (bool, error)
	Stop() (bool, error)
}

// MoveRequest is the body of POST /api/move. Exactly one field is set.
type MoveRequest struct {
	Target *uint16  `json:"target,omitempty"`
	Cm     *float64 `json:"cm,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Raw    uint16                `json:"raw"`
	Cm     float64               `json:"cm"`
	Report protocol.StatusReport `json:"report"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster

	// deskMu serializes every call into the desk so that at most one
	// control transfer is in flight.
	deskMu    sync.Mutex
	desk      Desk
	runningMu sync.Mutex
	running   bool
	moves     sync.WaitGroup
}

// NewHandlers creates handlers with the given dependencies.
// If desk is nil, every desk endpoint returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, desk Desk) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		desk:        desk,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) available(w http.ResponseWriter) bool {
	if h.desk == nil {
		http.Error(w, "desk not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// busy reports whether a move started through the API is still running.
func (h *Handlers) busy() bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	return h.running
}

// Wait blocks until every move started through the API has returned.
func (h *Handlers) Wait() {
	h.moves.Wait()
}

// HandleStatus handles GET /api/status. It waits for a running move to finish.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	h.deskMu.Lock()
	report, err := h.desk.Status()
	h.deskMu.Unlock()
	if err != nil {
		debug.Error(err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	raw := report.Ref1.Position
	writeJSON(w, http.StatusOK, StatusResponse{
		Raw:    raw,
		Cm:     geometry.Centimeters(raw),
		Report: report,
	})
}

// HandleMove handles POST /api/move to start a closed-loop move.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// Validate
	var target uint16
	switch {
	case req.Target != nil && req.Cm != nil:
		http.Error(w, "set either target or cm, not both", http.StatusBadRequest)
		return
	case req.Target != nil:
		if protocol.IsSentinel(*req.Target) {
			http.Error(w, "target is a motion code; use /api/up, /api/down or /api/stop", http.StatusBadRequest)
			return
		}
		if *req.Target > protocol.MoveEnd {
			http.Error(w, "target must be below 32767", http.StatusBadRequest)
			return
		}
		target = *req.Target
	case req.Cm != nil:
		raw, err := geometry.RawFromCentimeters(*req.Cm)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		target = raw
	default:
		http.Error(w, "target or cm is required", http.StatusBadRequest)
		return
	}

	if !h.available(w) {
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "move already in progress", http.StatusConflict)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	h.moves.Add(1)
	go func() {
		defer h.moves.Done()
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		h.deskMu.Lock()
		start := time.Now()
		reached, err := h.desk.Move(target)
		h.deskMu.Unlock()

		switch {
		case err != nil:
			h.Broadcaster.Broadcast("error", "Move failed: "+err.Error())
			debug.Error(err)
		case !reached:
			h.Broadcaster.Broadcast("warn", fmt.Sprintf("Move to %d stopped short of target", target))
		default:
			h.Broadcaster.Broadcast("info", fmt.Sprintf("Reached %d in %s", target, time.Since(start).Round(time.Millisecond)))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "target": target})
}

// HandleUp handles POST /api/up.
func (h *Handlers) HandleUp(w http.ResponseWriter, r *http.Request) {
	h.single(w, "up", func() (bool, error) { return h.desk.MoveUp() })
}

// HandleDown handles POST /api/down.
func (h *Handlers) HandleDown(w http.ResponseWriter, r *http.Request) {
	h.single(w, "down", func() (bool, error) { return h.desk.MoveDown() })
}

// HandleStop handles POST /api/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.single(w, "stop", func() (bool, error) { return h.desk.Stop() })
}

// single sends one sentinel command. It is refused while a move runs
// since the move loop would override it on its next iteration.
func (h *Handlers) single(w http.ResponseWriter, name string, fn func() (bool, error)) {
	if !h.available(w) {
		return
	}
	if h.busy() {
		http.Error(w, "move already in progress", http.StatusConflict)
		return
	}

	h.deskMu.Lock()
	ok, err := fn()
	h.deskMu.Unlock()
	if err != nil {
		debug.Error(err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": name, "acknowledged": ok})
}

// HandleStatusStream handles GET /api/status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
