package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// StatusFlags is the status byte of a reference channel.
type StatusFlags struct {
	PositionLost  bool
	AntiCollision bool
	OverloadDown  bool
	OverloadUp    bool
	Unknown       uint8 // low nibble, not interpreted
}

// PositionSpeed is one reference channel: position, status and speed.
type PositionSpeed struct {
	Position uint16
	Status   StatusFlags
	Speed    uint8
}

// ValidFlags tells which parts of a status report carry data.
// Field order is the bit order of the flag word, most significant bit first.
type ValidFlags struct {
	Ref1PosStatSpeed bool // ID00
	Ref2PosStatSpeed bool // ID01
	Ref3PosStatSpeed bool // ID02
	Ref4PosStatSpeed bool // ID03
	Ref1ControlInput bool // ID10
	Ref2ControlInput bool // ID11
	Ref3ControlInput bool // ID12
	Ref4ControlInput bool // ID13
	Ref5PosStatSpeed bool // ID04
	Diagnostic       bool // ID28
	Ref6PosStatSpeed bool // ID05
	Handset1Command  bool // ID37
	Handset2Command  bool // ID38
	Ref7PosStatSpeed bool // ID06
	Ref8PosStatSpeed bool // ID07
	Unknown          bool
}

func (v *ValidFlags) fields() []*bool {
	return []*bool{
		&v.Ref1PosStatSpeed,
		&v.Ref2PosStatSpeed,
		&v.Ref3PosStatSpeed,
		&v.Ref4PosStatSpeed,
		&v.Ref1ControlInput,
		&v.Ref2ControlInput,
		&v.Ref3ControlInput,
		&v.Ref4ControlInput,
		&v.Ref5PosStatSpeed,
		&v.Diagnostic,
		&v.Ref6PosStatSpeed,
		&v.Handset1Command,
		&v.Handset2Command,
		&v.Ref7PosStatSpeed,
		&v.Ref8PosStatSpeed,
		&v.Unknown,
	}
}

// StatusReport is a decoded status report.
type StatusReport struct {
	ReportID   byte
	ByteCount  byte
	ValidFlags ValidFlags

	Ref1, Ref2, Ref3, Ref4 PositionSpeed

	Ref1Cnt, Ref2Cnt, Ref3Cnt, Ref4Cnt uint16

	Ref5       PositionSpeed
	Diagnostic [8]byte
	Undefined1 [2]byte
	Handset1   uint16
	Handset2   uint16

	Ref6, Ref7, Ref8 PositionSpeed

	Undefined2 [6]byte
}

// Byte offsets into the 64-byte report.
const (
	offValidFlags = 2
	offRef1       = 4 // ref1..ref4, stride 4
	offRef1Cnt    = 20
	offRef5       = 28
	offDiagnostic = 32
	offUndefined1 = 40
	offHandset1   = 42
	offHandset2   = 44
	offRef6       = 46 // ref6..ref8, stride 4
	offUndefined2 = 58
)

// digits reads fields out of the hex digit stream of a report.
// The first parse error sticks; later reads return zero.
type digits struct {
	s   string
	err error
}

func (d *digits) value(from, to int) uint64 {
	if d.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(d.s[from:to], 16, 64)
	if err != nil {
		d.err = err
		return 0
	}
	return v
}

// swapped reads the 16-bit value stored at byte offset off.
func (d *digits) swapped(off int) uint16 {
	if d.err != nil {
		return 0
	}
	v, err := ParseSwapped(d.s[off*2 : off*2+4])
	if err != nil {
		d.err = err
	}
	return v
}

func (d *digits) positionSpeed(off int) PositionSpeed {
	at := off * 2
	return PositionSpeed{
		Position: d.swapped(off),
		Status:   decodeStatusFlags(uint8(d.value(at+4, at+6))),
		Speed:    uint8(d.value(at+6, at+8)),
	}
}

func (d *digits) raw(dst []byte, off int) {
	if d.err != nil {
		return
	}
	_, err := hex.Decode(dst, []byte(d.s[off*2:(off+len(dst))*2]))
	if err != nil {
		d.err = err
	}
}

// ParseSwapped decodes a 16-bit value encoded as two hex-digit pairs in
// swapped order: "3412" is 0x1234.
func ParseSwapped(s string) (uint16, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("swapped word %q: want 4 hex digits", s)
	}
	v, err := strconv.ParseUint(s[2:4]+s[0:2], 16, 16)
	if err != nil {
		return 0, fmt.Errorf("swapped word %q: %w", s, err)
	}
	return uint16(v), nil
}

// decodeStatusFlags maps the byte MSB first onto the four named flags and
// keeps the low nibble as Unknown.
func decodeStatusFlags(b uint8) StatusFlags {
	bits := fmt.Sprintf("%08b", b)
	return StatusFlags{
		PositionLost:  bits[0] == '1',
		AntiCollision: bits[1] == '1',
		OverloadDown:  bits[2] == '1',
		OverloadUp:    bits[3] == '1',
		Unknown:       b & 0x0f,
	}
}

// DecodeValidFlags maps a 16-bit word MSB first onto the named flags.
func DecodeValidFlags(word uint16) ValidFlags {
	var v ValidFlags
	bits := fmt.Sprintf("%016b", word)
	for i, field := range v.fields() {
		*field = bits[i] == '1'
	}
	return v
}

// Decode parses a status report. It fails with a ProtocolMismatch error
// unless byte 0 is CmdStatusReport, and never returns a partial report.
func Decode(raw RawReport) (StatusReport, error) {
	if raw[0] != CmdStatusReport {
		return StatusReport{}, Mismatch("decode status report", CmdStatusReport, raw[0])
	}

	d := &digits{s: hex.EncodeToString(raw[:])}
	r := StatusReport{
		ReportID:   raw[0],
		ByteCount:  raw[1],
		ValidFlags: DecodeValidFlags(uint16(d.value(offValidFlags*2, offValidFlags*2+4))),
	}
	for i, ref := range []*PositionSpeed{&r.Ref1, &r.Ref2, &r.Ref3, &r.Ref4} {
		*ref = d.positionSpeed(offRef1 + 4*i)
	}
	for i, cnt := range []*uint16{&r.Ref1Cnt, &r.Ref2Cnt, &r.Ref3Cnt, &r.Ref4Cnt} {
		*cnt = d.swapped(offRef1Cnt + 2*i)
	}
	r.Ref5 = d.positionSpeed(offRef5)
	d.raw(r.Diagnostic[:], offDiagnostic)
	d.raw(r.Undefined1[:], offUndefined1)
	r.Handset1 = d.swapped(offHandset1)
	r.Handset2 = d.swapped(offHandset2)
	for i, ref := range []*PositionSpeed{&r.Ref6, &r.Ref7, &r.Ref8} {
		*ref = d.positionSpeed(offRef6 + 4*i)
	}
	d.raw(r.Undefined2[:], offUndefined2)

	if d.err != nil {
		return StatusReport{}, fmt.Errorf("decode status report: %w", d.err)
	}
	return r, nil
}

// Encode lays a report out in wire format. It is the inverse of Decode.
func Encode(r StatusReport) RawReport {
	var raw RawReport
	raw[0] = r.ReportID
	raw[1] = r.ByteCount

	var word uint16
	for i, set := range r.ValidFlags.Bits() {
		if set {
			word |= 1 << (15 - i)
		}
	}
	raw[offValidFlags] = byte(word >> 8)
	raw[offValidFlags+1] = byte(word)

	for i, ref := range []PositionSpeed{r.Ref1, r.Ref2, r.Ref3, r.Ref4} {
		putPositionSpeed(raw[:], offRef1+4*i, ref)
	}
	for i, cnt := range []uint16{r.Ref1Cnt, r.Ref2Cnt, r.Ref3Cnt, r.Ref4Cnt} {
		putSwapped(raw[:], offRef1Cnt+2*i, cnt)
	}
	putPositionSpeed(raw[:], offRef5, r.Ref5)
	copy(raw[offDiagnostic:], r.Diagnostic[:])
	copy(raw[offUndefined1:], r.Undefined1[:])
	putSwapped(raw[:], offHandset1, r.Handset1)
	putSwapped(raw[:], offHandset2, r.Handset2)
	for i, ref := range []PositionSpeed{r.Ref6, r.Ref7, r.Ref8} {
		putPositionSpeed(raw[:], offRef6+4*i, ref)
	}
	copy(raw[offUndefined2:], r.Undefined2[:])
	return raw
}

// Bits returns the flags in word order, most significant bit first.
func (v ValidFlags) Bits() [16]bool {
	var out [16]bool
	for i, f := range v.fields() {
		out[i] = *f
	}
	return out
}

func putSwapped(buf []byte, off int, v uint16) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
}

func putPositionSpeed(buf []byte, off int, p PositionSpeed) {
	putSwapped(buf, off, p.Position)
	buf[off+2] = encodeStatusFlags(p.Status)
	buf[off+3] = p.Speed
}

func encodeStatusFlags(f StatusFlags) byte {
	b := f.Unknown & 0x0f
	for i, set := range []bool{f.PositionLost, f.AntiCollision, f.OverloadDown, f.OverloadUp} {
		if set {
			b |= 1 << (7 - i)
		}
	}
	return b
}
