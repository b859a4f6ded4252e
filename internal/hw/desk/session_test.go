package desk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/DeskGo/internal/hw/usb"
	"github.com/cjeanneret/DeskGo/internal/protocol"
)

type call struct {
	value uint16
	data  protocol.RawReport
}

// fakeTransport replays scripted responses and records every transfer.
type fakeTransport struct {
	calls   []call
	status  []protocol.RawReport // successive status responses, last one repeats
	empty   bool                 // status reads transfer nothing
	statusN int                  // byte count reported for status reads when non-zero
	modeN   int
	moveN   int
	err     error
	closed  int
}

func newFake(status ...protocol.RawReport) *fakeTransport {
	return &fakeTransport{status: status, modeN: protocol.ReportLen, moveN: protocol.ReportLen}
}

func (f *fakeTransport) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	var c call
	c.value = value
	copy(c.data[:], data)
	f.calls = append(f.calls, c)
	if f.err != nil {
		return 0, f.err
	}

	switch value {
	case protocol.ValueGetStatus:
		resp := f.status[0]
		if len(f.status) > 1 {
			f.status = f.status[1:]
		}
		if f.empty {
			return 0, nil
		}
		n := copy(data, resp[:])
		if f.statusN != 0 {
			n = f.statusN
		}
		return n, nil
	case protocol.ValueInit:
		return f.modeN, nil
	case protocol.ValueMove:
		return f.moveN, nil
	}
	return 0, errors.New("unexpected request")
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

func (f *fakeTransport) values() []uint16 {
	var out []uint16
	for _, c := range f.calls {
		out = append(out, c.value)
	}
	return out
}

func readyReport() protocol.RawReport {
	return protocol.Encode(protocol.StatusReport{
		ReportID:   protocol.CmdStatusReport,
		ByteCount:  protocol.NotReadyByteCount,
		ValidFlags: protocol.ValidFlags{Ref1PosStatSpeed: true},
		Ref1:       protocol.PositionSpeed{Position: 2450},
	})
}

func newTestSession(t *testing.T, f usb.Transport) (*Session, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	s := NewSession(f, DefaultConfig())
	s.sleep = func(d time.Duration) { slept = append(slept, d) }
	return s, &slept
}

func TestInit_BlankDevice(t *testing.T) {
	f := newFake(protocol.NotReadyReport())
	s, slept := newTestSession(t, f)

	require.NoError(t, s.Init())
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, []uint16{protocol.ValueGetStatus, protocol.ValueInit, protocol.ValueMove}, f.values())
	assert.Equal(t, protocol.ModeRequest(), f.calls[1].data)
	assert.Equal(t, protocol.MoveRequest(protocol.MoveEnd), f.calls[2].data)
	assert.Equal(t, []time.Duration{time.Millisecond, 100 * time.Millisecond}, *slept)
}

func TestInit_ReadyDevice(t *testing.T) {
	f := newFake(readyReport())
	s, slept := newTestSession(t, f)

	require.NoError(t, s.Init())
	assert.Equal(t, Ready, s.State())
	assert.Equal(t, []uint16{protocol.ValueGetStatus}, f.values())
	assert.Empty(t, *slept)

	// A second Init on a ready session does not touch the device.
	require.NoError(t, s.Init())
	assert.Len(t, f.calls, 1)
}

func TestInit_ShortSetMode(t *testing.T) {
	f := newFake(protocol.NotReadyReport())
	f.modeN = 12
	s, _ := newTestSession(t, f)

	err := s.Init()
	require.ErrorIs(t, err, protocol.ErrInitFailed)
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 64, perr.Expected)
	assert.Equal(t, 12, perr.Actual)
	assert.Equal(t, Faulted, s.State())
	assert.Equal(t, []uint16{protocol.ValueGetStatus, protocol.ValueInit}, f.values())
}

func TestInit_MoveEndNotAcknowledged(t *testing.T) {
	f := newFake(protocol.NotReadyReport())
	f.moveN = 0
	s, _ := newTestSession(t, f)

	err := s.Init()
	require.ErrorIs(t, err, protocol.ErrInitFailed)
	require.ErrorIs(t, err, protocol.ErrNotAcknowledged)
	assert.Equal(t, Faulted, s.State())
}

func TestFaultedIsTerminal(t *testing.T) {
	bad := readyReport()
	bad[0] = protocol.CmdControlCBC
	f := newFake(bad, readyReport())
	s, _ := newTestSession(t, f)

	err := s.Init()
	require.ErrorIs(t, err, protocol.ErrProtocolMismatch)
	require.Equal(t, Faulted, s.State())

	calls := len(f.calls)
	_, ferr := s.FetchStatus()
	assert.Same(t, err, ferr)
	_, merr := s.SendMove(1000)
	assert.Same(t, err, merr)
	assert.Same(t, err, s.Init())
	assert.Len(t, f.calls, calls, "a faulted session must not talk to the device")
}

func TestFetchStatus_Mismatch(t *testing.T) {
	bad := readyReport()
	bad[0] = 9
	f := newFake(readyReport(), bad)
	s, _ := newTestSession(t, f)
	require.NoError(t, s.Init())

	raw, err := s.FetchStatus()
	require.ErrorIs(t, err, protocol.ErrProtocolMismatch)
	assert.Equal(t, protocol.RawReport{}, raw)
}

func TestFetchStatus_ZeroByteRead(t *testing.T) {
	f := newFake(readyReport())
	f.empty = true
	s, _ := newTestSession(t, f)

	_, err := s.FetchStatus()
	require.ErrorIs(t, err, protocol.ErrProtocolMismatch)
}

func TestFetchStatus_OversizedCount(t *testing.T) {
	f := newFake(readyReport())
	f.statusN = 2 * protocol.ReportLen
	s, _ := newTestSession(t, f)

	raw, err := s.FetchStatus()
	require.NoError(t, err)
	assert.Equal(t, readyReport(), raw)
}

func TestTransportError(t *testing.T) {
	cause := errors.New("LIBUSB_ERROR_PIPE")
	f := newFake(readyReport())
	f.err = cause
	s, _ := newTestSession(t, f)

	_, err := s.SendMove(protocol.MoveUpwards)
	require.ErrorIs(t, err, protocol.ErrTransport)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "move")
}

func TestSendMove(t *testing.T) {
	f := newFake(readyReport())
	s, _ := newTestSession(t, f)

	ok, err := s.SendMove(4900)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, protocol.MoveRequest(4900), f.calls[0].data)

	f.moveN = 10
	ok, err = s.SendMove(4900)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_ClosesTransportOnFailure(t *testing.T) {
	f := newFake(protocol.NotReadyReport())
	f.modeN = 0
	cfg := Config{}

	s, err := Open(f, cfg)
	require.ErrorIs(t, err, protocol.ErrInitFailed)
	assert.Nil(t, s)
	assert.Equal(t, 1, f.closed)
}

func TestClose_Idempotent(t *testing.T) {
	f := newFake(readyReport())
	s, err := Open(f, Config{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, f.closed)

	_, err = s.FetchStatus()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_Simulator(t *testing.T) {
	sim := usb.NewSimulator(usb.SimulatorConfig{Start: 3000})
	s, err := Open(sim, Config{})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, sim.Ready())
	raw, err := s.FetchStatus()
	require.NoError(t, err)
	r, err := protocol.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(3000), r.Ref1.Position)
}
