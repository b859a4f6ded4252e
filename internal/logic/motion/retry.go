package motion

import "github.com/cjeanneret/DeskGo/internal/protocol"

// RetryState is the patience left before a move is declared over.
type RetryState struct {
	Remaining uint8
}

// Done reports whether patience is exhausted.
func (s RetryState) Done() bool {
	return s.Remaining == 0
}

// Convergence decides from successive polls when the desk has settled.
type Convergence struct {
	MaxRetry uint8
	Epsilon  int
}

// Start returns the initial state of a move.
func (c Convergence) Start() RetryState {
	return RetryState{Remaining: c.MaxRetry}
}

// Step consumes one unit of patience when the poll shows the desk near its
// own reference counter, barely moving or not moving at all. Any genuine
// progress restores full patience.
func (c Convergence) Step(s RetryState, report protocol.StatusReport, prev uint16) RetryState {
	pos := int(report.Ref1.Position)
	distance := int(report.Ref1Cnt) - pos
	delta := abs(int(prev) - pos)

	if abs(distance) <= c.Epsilon || delta <= c.Epsilon || pos == int(prev) {
		if s.Remaining > 0 {
			s.Remaining--
		}
		return s
	}
	return RetryState{Remaining: c.MaxRetry}
}
