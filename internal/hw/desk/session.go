// Package desk holds the session with one CBD control box: the readiness
// handshake and the two primitive operations everything else is built on.
package desk

import (
	"errors"
	"time"

	"github.com/cjeanneret/DeskGo/internal/debug"
	"github.com/cjeanneret/DeskGo/internal/hw/usb"
	"github.com/cjeanneret/DeskGo/internal/protocol"
)

// State is the lifecycle state of a Session.
type State int

const (
	Uninitialized State = iota
	Ready
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// Config holds the handshake delays.
type Config struct {
	ModeSettle time.Duration // after SET_MODE
	InitSettle time.Duration // after the final MOVE_END
}

// DefaultConfig returns the delays the control box needs.
func DefaultConfig() Config {
	return Config{
		ModeSettle: time.Millisecond,
		InitSettle: 100 * time.Millisecond,
	}
}

// ErrClosed is returned by every operation on a closed session.
var ErrClosed = errors.New("desk session closed")

// Session owns the transport to the control box. It is not safe for
// concurrent use; callers serialize access.
type Session struct {
	t      usb.Transport
	cfg    Config
	state  State
	fault  error
	closed bool
	sleep  func(time.Duration)
}

// NewSession wraps t in an uninitialized session; Init brings it to Ready.
func NewSession(t usb.Transport, cfg Config) *Session {
	return &Session{t: t, cfg: cfg, sleep: time.Sleep}
}

// Open creates a session and brings the box to Ready. On failure the
// transport is closed and the handshake error returned.
func Open(t usb.Transport, cfg Config) (*Session, error) {
	s := NewSession(t, cfg)
	if err := s.Init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Init runs the readiness handshake. A box answering with the blank
// report is put into the default mode of operation and sent MOVE_END.
// Any failure moves the session to Faulted for good.
func (s *Session) Init() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.state == Ready {
		return nil
	}

	debug.Section("Handshake")
	if err := s.handshake(); err != nil {
		s.state = Faulted
		s.fault = err
		debug.Error(err)
		return err
	}
	s.state = Ready
	debug.Info("Desk ready")
	return nil
}

func (s *Session) handshake() error {
	buf, err := s.FetchStatus()
	if err != nil {
		return err
	}
	if !protocol.IsNotReadySignature(buf[:]) {
		debug.Verbose("Control box already initialised")
		return nil
	}

	debug.Info("Control box not ready, initialising")
	n, err := s.SetMode()
	if err != nil {
		return err
	}
	if n != protocol.ReportLen {
		return protocol.InitFailed("set mode", protocol.ReportLen, n)
	}
	s.sleep(s.cfg.ModeSettle)

	ok, err := s.SendMove(protocol.MoveEnd)
	if err != nil {
		return err
	}
	if !ok {
		return protocol.NotAcknowledged("move end")
	}
	s.sleep(s.cfg.InitSettle)
	return nil
}

func (s *Session) usable() error {
	if s.closed {
		return ErrClosed
	}
	if s.state == Faulted {
		return s.fault
	}
	return nil
}

// FetchStatus reads one raw status report. A response whose first byte is
// not the status report id is a ProtocolMismatch.
func (s *Session) FetchStatus() (protocol.RawReport, error) {
	if err := s.usable(); err != nil {
		return protocol.RawReport{}, err
	}

	buf := protocol.StatusRequest()
	n, err := s.t.Control(protocol.TypeGetCI, protocol.HIDReportGet, protocol.ValueGetStatus, 0, buf[:])
	if err != nil {
		return protocol.RawReport{}, protocol.Transport("get status", err)
	}

	// Only the transferred bytes count; a short read leaves zeros behind.
	var raw protocol.RawReport
	copy(raw[:], buf[:min(max(n, 0), len(buf))])
	if raw[0] != protocol.CmdStatusReport {
		return protocol.RawReport{}, protocol.Mismatch("get status", protocol.CmdStatusReport, raw[0])
	}
	return raw, nil
}

// SendMove sends a motion target. It reports whether the full buffer was
// accepted by the box.
func (s *Session) SendMove(code uint16) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}

	buf := protocol.MoveRequest(code)
	n, err := s.t.Control(protocol.TypeSetCI, protocol.HIDReportSet, protocol.ValueMove, 0, buf[:])
	if err != nil {
		return false, protocol.Transport("move", err)
	}
	return n == protocol.ReportLen, nil
}

// SetMode writes the default mode of operation and returns the number of
// bytes transferred.
func (s *Session) SetMode() (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}

	buf := protocol.ModeRequest()
	n, err := s.t.Control(protocol.TypeSetCI, protocol.HIDReportSet, protocol.ValueInit, 0, buf[:])
	if err != nil {
		return 0, protocol.Transport("set mode", err)
	}
	return n, nil
}

// Close releases the transport. Calling it again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.t.Close()
}
