package motion

import (
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/DeskGo/internal/debug"
	"github.com/cjeanneret/DeskGo/internal/logic/geometry"
	"github.com/cjeanneret/DeskGo/internal/protocol"
)

// Device is the part of the desk session the controller needs.
// This allows driving the controller from a scripted device in tests.
type Device interface {
	FetchStatus() (protocol.RawReport, error)
	SendMove(code uint16) (bool, error)
}

// Config holds the tuning of the closed loop.
type Config struct {
	MaxRetry    int           // consecutive quiet polls before a move is over
	Epsilon     int           // position units considered equal
	SettleDelay time.Duration // between a move command and the next poll
}

// DefaultConfig returns the tuning used with the CBD control box.
func DefaultConfig() Config {
	return Config{
		MaxRetry:    3,
		Epsilon:     13,
		SettleDelay: 200 * time.Millisecond,
	}
}

// Controller drives the desk to a position. It's an intermediate layer
// between the callers (CLI, shell, HTTP API) and the device session.
type Controller struct {
	dev   Device
	cfg   Config
	conv  Convergence
	sleep func(time.Duration)
}

// NewController creates a controller driving dev. MaxRetry is clamped to
// 1..255 so that every move sends at least one command.
func NewController(dev Device, cfg Config) *Controller {
	if cfg.MaxRetry < 1 || cfg.MaxRetry > math.MaxUint8 {
		clamped := min(max(cfg.MaxRetry, 1), math.MaxUint8)
		debug.Verbose("max retry %d out of range, using %d", cfg.MaxRetry, clamped)
		cfg.MaxRetry = clamped
	}
	return &Controller{
		dev:   dev,
		cfg:   cfg,
		conv:  Convergence{MaxRetry: uint8(cfg.MaxRetry), Epsilon: cfg.Epsilon},
		sleep: time.Sleep,
	}
}

// Move drives the desk to target and blocks until the position has been
// quiet for MaxRetry consecutive polls. It reports whether the final
// position is within Epsilon of target.
func (c *Controller) Move(target uint16) (bool, error) {
	if protocol.IsSentinel(target) {
		return false, fmt.Errorf("move to %d: not a position; use MoveUp, MoveDown or Stop", target)
	}
	debug.Section(debug.Fmt("Move to %d", target))

	state := c.conv.Start()
	var prev, pos uint16
	for !state.Done() {
		ok, err := c.dev.SendMove(target)
		if err != nil {
			return false, fmt.Errorf("move to %d: %w", target, err)
		}
		if !ok {
			debug.Verbose("move command not fully transferred")
		}
		c.sleep(c.cfg.SettleDelay)

		report, err := c.Status()
		if err != nil {
			return false, fmt.Errorf("move to %d: %w", target, err)
		}
		pos = report.Ref1.Position
		debug.Poll(pos, target, int(report.Ref1Cnt)-int(pos))

		state = c.conv.Step(state, report, prev)
		prev = pos
		debug.Trace("retry remaining: %d", state.Remaining)
	}

	reached := abs(int(pos)-int(target)) <= c.cfg.Epsilon
	debug.Value("final position", pos)
	return reached, nil
}

// Status fetches and decodes one status report.
func (c *Controller) Status() (protocol.StatusReport, error) {
	raw, err := c.dev.FetchStatus()
	if err != nil {
		return protocol.StatusReport{}, err
	}
	return protocol.Decode(raw)
}

// Height returns the current position, raw and in centimeters.
func (c *Controller) Height() (uint16, float64, error) {
	report, err := c.Status()
	if err != nil {
		return 0, 0, fmt.Errorf("get height: %w", err)
	}
	raw := report.Ref1.Position
	return raw, geometry.Centimeters(raw), nil
}

// MoveUp starts moving up until Stop or the end of travel.
func (c *Controller) MoveUp() (bool, error) {
	return c.send("move up", protocol.MoveUpwards)
}

// MoveDown starts moving down until Stop or the end of travel.
func (c *Controller) MoveDown() (bool, error) {
	return c.send("move down", protocol.MoveDownwards)
}

// Stop ends the current movement.
func (c *Controller) Stop() (bool, error) {
	return c.send("stop", protocol.MoveEnd)
}

func (c *Controller) send(op string, code uint16) (bool, error) {
	debug.Verbose("%s", op)
	ok, err := c.dev.SendMove(code)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
