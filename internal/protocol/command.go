package protocol

// StatusRequest is the buffer sent with a GET_STATUS request.
func StatusRequest() RawReport {
	var buf RawReport
	buf[0] = CmdStatusReport
	return buf
}

// ModeRequest is the SET_MODE buffer of the readiness handshake.
func ModeRequest() RawReport {
	var buf RawReport
	buf[0] = CmdModeOfOperation
	buf[1] = DefaultModeOfOperation
	buf[2] = 0
	buf[3] = 251
	return buf
}

// MoveRequest is the CBC control buffer for a motion target: the
// byte-swapped code repeated in the four slots at bytes 1-8.
func MoveRequest(code uint16) RawReport {
	var buf RawReport
	buf[0] = CmdControlCBC
	for slot := 0; slot < 4; slot++ {
		putSwapped(buf[:], 1+2*slot, code)
	}
	return buf
}

// MoveCode extracts the target of a CBC control buffer. ok is false for
// any other command.
func MoveCode(buf []byte) (code uint16, ok bool) {
	if len(buf) < 3 || buf[0] != CmdControlCBC {
		return 0, false
	}
	return uint16(buf[1]) | uint16(buf[2])<<8, true
}

// IsNotReadySignature reports whether buf is the blank report of an
// uncalibrated box: status id, declared length 56 and zeros in [2, len-5).
func IsNotReadySignature(buf []byte) bool {
	if len(buf) < 2 || buf[0] != CmdStatusReport || buf[1] != NotReadyByteCount {
		return false
	}
	for i := 2; i < len(buf)-5; i++ {
		if buf[i] != 0 {
			return false
		}
	}
	return true
}

// NotReadyReport is the blank report an uncalibrated box answers with.
func NotReadyReport() RawReport {
	var buf RawReport
	buf[0] = CmdStatusReport
	buf[1] = NotReadyByteCount
	return buf
}
