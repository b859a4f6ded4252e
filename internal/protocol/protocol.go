// Package protocol implements the wire format of the Linak CBD control box:
// the 64-byte status report, the command buffers sent to the box and the
// error kinds raised when the device and host disagree.
package protocol

// Control transfer request types.
const (
	TypeSetCI uint8 = 0x21 // host to device, class, interface
	TypeGetCI uint8 = 0xA1 // device to host, class, interface
)

// HID class requests.
const (
	HIDReportGet uint8 = 0x01
	HIDReportSet uint8 = 0x09
)

// Request values (report type << 8 | report id).
const (
	ValueInit      uint16 = 0x0303
	ValueGetStatus uint16 = 0x0304
	ValueMove      uint16 = 0x0305
)

// Report and command identifiers carried in byte 0.
const (
	CmdModeOfOperation byte = 3
	CmdStatusReport    byte = 4
	CmdControlCBC      byte = 5
)

// DefaultModeOfOperation is written by the readiness handshake.
const DefaultModeOfOperation byte = 4

// ReportLen is the fixed length of every report and command buffer.
const ReportLen = 64

// NotReadyByteCount is the declared length of a blank, uncalibrated status report.
const NotReadyByteCount = 56

// Motion target sentinels. Any other value is an absolute position.
const (
	MoveDownwards uint16 = 32767
	MoveUpwards   uint16 = 32768
	MoveEnd       uint16 = 32769
)

// RawReport is one report or command buffer as exchanged with the device.
type RawReport [ReportLen]byte

// IsSentinel reports whether code is one of the three non-positional move codes.
func IsSentinel(code uint16) bool {
	return code == MoveDownwards || code == MoveUpwards || code == MoveEnd
}
