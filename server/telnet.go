package server

// telnetDataMark is the Telnet "Data Mark" byte (RFC 854) a client sends
// in-band right after its out-of-band Synch, following ABOR/STAT/QUIT
// sent as urgent data per RFC 959 section 3.2.2.
const telnetDataMark = 0xF2

// handleUrgent is called on a POLLPRI event for the command socket, per
// spec.md §4.6.2. It drains in-band bytes up to the urgent mark, consumes
// the OOB byte itself, and arms telnet_scanning so the next in-band reads
// discard everything through the first Data Mark before normal command
// parsing resumes.
func (s *session) handleUrgent() {
	if s.commandSocket == nil {
		return
	}
	s.urgent = true

	for {
		atMark, err := s.commandSocket.AtMark()
		if err != nil {
			s.fatalControlError()
			return
		}
		if atMark {
			break
		}
		var discard [256]byte
		n, err := s.commandSocket.Read(discard[:], false)
		if err != nil {
			if err == errAgain {
				break
			}
			s.fatalControlError()
			return
		}
		if n == 0 {
			s.fatalControlError()
			return
		}
	}

	var oob [1]byte
	if _, err := s.commandSocket.Read(oob[:], true); err != nil && err != errAgain {
		s.fatalControlError()
		return
	}

	s.commandBuf.clear()
	s.telnetScanning = true
	s.scanPastDataMark()
}

// scanPastDataMark discards in-band bytes already buffered (and any read
// afterward, via onCommandReadable's normal path) until it finds the
// Telnet Data Mark that follows the urgent byte, per spec.md §4.6.2. Once
// found, telnet_scanning clears and command parsing resumes from the
// byte after the mark.
func (s *session) scanPastDataMark() {
	for {
		area := s.commandBuf.usedArea()
		idx := -1
		for i, b := range area {
			if b == telnetDataMark {
				idx = i
				break
			}
		}
		if idx < 0 {
			s.commandBuf.markFree(len(area))
			return
		}
		s.commandBuf.markFree(idx + 1)
		s.telnetScanning = false
		s.urgent = false
		return
	}
}
