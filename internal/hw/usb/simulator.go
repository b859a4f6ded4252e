package usb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/DeskGo/internal/debug"
	"github.com/cjeanneret/DeskGo/internal/protocol"
)

// SimulatorConfig describes the simulated desk.
type SimulatorConfig struct {
	Speed       int // position units travelled per status poll
	MinPosition uint16
	MaxPosition uint16
	Start       uint16
	Ready       bool // start calibrated instead of answering with the blank report
}

// Request is one control transfer seen by the simulator.
type Request struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Data        protocol.RawReport
}

// ErrClosed is returned by a closed simulator.
var ErrClosed = errors.New("simulator closed")

// Simulator models a CBD control box behind the Transport interface.
//
// A fresh box answers status requests with the blank "not ready" report
// until it receives SET_MODE followed by MOVE_END. Afterwards every move
// request sets a target and every status poll advances the position by
// Speed units toward it.
type Simulator struct {
	mu       sync.Mutex
	cfg      SimulatorConfig
	ready    bool
	modeSet  bool
	moving   bool
	position uint16
	target   uint16
	closed   bool
	requests []Request
}

// NewSimulator creates a simulated box. A zero MaxPosition defaults to 6500
// and a non-positive Speed to 150 units per poll.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.MaxPosition == 0 {
		cfg.MaxPosition = 6500
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 150
	}
	start := clamp(cfg.Start, cfg.MinPosition, cfg.MaxPosition)
	return &Simulator{
		cfg:      cfg,
		ready:    cfg.Ready,
		position: start,
		target:   start,
	}
}

func clamp(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Control records the request and answers it the way the control box would.
// Requests after Close fail with ErrClosed.
func (s *Simulator) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	var req Request
	req.RequestType, req.Request, req.Value = requestType, request, value
	copy(req.Data[:], data)
	s.requests = append(s.requests, req)

	var n int
	var err error
	switch {
	case requestType == protocol.TypeGetCI && request == protocol.HIDReportGet && value == protocol.ValueGetStatus:
		report := s.statusLocked()
		n = copy(data, report[:])
	case requestType == protocol.TypeSetCI && request == protocol.HIDReportSet && value == protocol.ValueInit:
		if len(data) > 0 && data[0] == protocol.CmdModeOfOperation {
			s.modeSet = true
		}
		n = len(data)
	case requestType == protocol.TypeSetCI && request == protocol.HIDReportSet && value == protocol.ValueMove:
		code, ok := protocol.MoveCode(data)
		if !ok {
			break
		}
		s.moveLocked(code)
		n = len(data)
	default:
		err = fmt.Errorf("simulator: unsupported request type=0x%02x request=0x%02x value=0x%04x", requestType, request, value)
	}

	debug.Transfer(direction(requestType), requestType, request, value, n, data)
	return n, err
}

func (s *Simulator) moveLocked(code uint16) {
	if !s.ready {
		if code == protocol.MoveEnd && s.modeSet {
			debug.Trace("simulator: calibrated")
			s.ready = true
		}
		return
	}
	switch code {
	case protocol.MoveEnd:
		s.target = s.position
	case protocol.MoveUpwards:
		s.target = s.cfg.MaxPosition
	case protocol.MoveDownwards:
		s.target = s.cfg.MinPosition
	default:
		s.target = clamp(code, s.cfg.MinPosition, s.cfg.MaxPosition)
	}
	s.moving = s.target != s.position
}

// statusLocked advances the desk one step and reports its state.
func (s *Simulator) statusLocked() protocol.RawReport {
	if !s.ready {
		return protocol.NotReadyReport()
	}

	var speed uint8
	if s.moving {
		step := s.cfg.Speed
		diff := int(s.target) - int(s.position)
		switch {
		case diff > step:
			s.position += uint16(step)
		case diff < -step:
			s.position -= uint16(step)
		default:
			s.position = s.target
		}
		s.moving = s.position != s.target
		speed = uint8(min(step, 255))
	}

	cnt := s.position
	if s.moving {
		cnt = s.target
	}
	return protocol.Encode(protocol.StatusReport{
		ReportID:   protocol.CmdStatusReport,
		ByteCount:  protocol.NotReadyByteCount,
		ValidFlags: protocol.ValidFlags{Ref1PosStatSpeed: true, Ref1ControlInput: true},
		Ref1:       protocol.PositionSpeed{Position: s.position, Speed: speed},
		Ref1Cnt:    cnt,
	})
}

// Position returns the simulated position.
func (s *Simulator) Position() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Ready reports whether the simulated box has been calibrated.
func (s *Simulator) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Requests returns a copy of every control transfer received so far.
func (s *Simulator) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Close marks the simulator closed.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	debug.Trace("USB Close (simulator)")
	s.closed = true
	return nil
}
