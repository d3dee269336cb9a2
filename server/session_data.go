package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// advertisedIP picks the address PASV/EPSV embed in their reply: the
// Driver's Settings.PublicHost if the ClientContext supplies one,
// otherwise the control socket's own local address, per spec.md §4.6.4.
func (s *session) advertisedIP() [4]byte {
	if s.fs != nil {
		if settings := s.fs.GetSettings(); settings != nil && settings.PublicHost != "" {
			if ip := net.ParseIP(settings.PublicHost).To4(); ip != nil {
				return [4]byte{ip[0], ip[1], ip[2], ip[3]}
			}
			if addrs, err := net.LookupIP(settings.PublicHost); err == nil {
				for _, a := range addrs {
					if v4 := a.To4(); v4 != nil {
						return [4]byte{v4[0], v4[1], v4[2], v4[3]}
					}
				}
			}
		}
	}
	return s.commandSocket.local.IP
}

// pasvPortRange returns the configured ephemeral pool, defaulting to
// [5001, 10000) per spec.md §4.6.4.
func (s *session) pasvPortRange() (lo, hi int) {
	lo, hi = s.server.config.PasvPortLo, s.server.config.PasvPortHi
	if lo <= 0 || hi <= lo {
		lo, hi = 5001, 10000
	}
	return lo, hi
}

// openPassiveListener implements PASV's bind step: a rolling pool search
// starting wherever the Server's cursor left off, wrapping at hi.
func (s *session) openPassiveListener() (*socket, error) {
	lo, hi := s.pasvPortRange()
	span := hi - lo
	for attempt := 0; attempt < span; attempt++ {
		port := s.server.nextPasvPort(lo, hi)
		sock, err := newSocket(s.server.logSink)
		if err != nil {
			return nil, err
		}
		sock.SetReuseAddress(true)
		addr := sockAddr{IP: s.commandSocket.local.IP, Port: uint16(port)}
		if err := sock.Bind(addr); err != nil {
			sock.Close()
			continue
		}
		if err := sock.Listen(pasvBacklog); err != nil {
			sock.Close()
			continue
		}
		return sock, nil
	}
	return nil, fmt.Errorf("server: no free passive port in [%d,%d)", lo, hi)
}

// resetDataSetup closes any prior passive/data sockets and clears both
// setup flags, per PASV/EPSV's "close any prior passive/data sockets".
func (s *session) resetDataSetup() {
	if s.pasvSocket != nil {
		s.pasvSocket.Close()
		s.pasvSocket = nil
	}
	s.releaseDataSocket()
	s.pasvFlag = false
	s.portFlag = false
}

func (s *session) handlePASV(arg string) {
	s.resetDataSetup()
	sock, err := s.openPassiveListener()
	if err != nil {
		s.reply(425, "Can't open passive connection")
		return
	}
	s.pasvSocket = sock
	s.pasvFlag = true
	ip := s.advertisedIP()
	p1, p2 := byte(sock.local.Port>>8), byte(sock.local.Port)
	s.reply(227, fmt.Sprintf("Entering Passive Mode (%d,%d,%d,%d,%d,%d)", ip[0], ip[1], ip[2], ip[3], p1, p2))
}

// handleEPSV is PASV's RFC 2428 extended-format sibling: same listener
// setup, different reply grammar and no embedded address.
func (s *session) handleEPSV(arg string) {
	s.resetDataSetup()
	sock, err := s.openPassiveListener()
	if err != nil {
		s.reply(425, "Can't open passive connection")
		return
	}
	s.pasvSocket = sock
	s.pasvFlag = true
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", sock.local.Port))
}

// handlePORT parses "h1,h2,h3,h4,p1,p2", per spec.md §4.6.4 and the
// testable property in §8 that any non-conforming input is a 501.
func (s *session) handlePORT(arg string) {
	addr, ok := parsePortArg(arg)
	if !ok {
		s.reply(501, "Syntax error in parameters or arguments")
		return
	}
	s.resetDataSetup()
	s.portAddr = addr
	s.portFlag = true
	s.reply(200, "PORT command successful")
}

func parsePortArg(arg string) (sockAddr, bool) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return sockAddr{}, false
	}
	var nums [6]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return sockAddr{}, false
		}
		nums[i] = n
	}
	addr := sockAddr{
		IP:   [4]byte{byte(nums[0]), byte(nums[1]), byte(nums[2]), byte(nums[3])},
		Port: uint16(nums[4])<<8 | uint16(nums[5]),
	}
	return addr, true
}

// handleEPRT parses RFC 2428's "|1|h|p|" extended active-mode syntax.
func (s *session) handleEPRT(arg string) {
	addr, ok := parseEPRTArg(arg)
	if !ok {
		s.reply(501, "Syntax error in parameters or arguments")
		return
	}
	s.resetDataSetup()
	s.portAddr = addr
	s.portFlag = true
	s.reply(200, "EPRT command successful")
}

func parseEPRTArg(arg string) (sockAddr, bool) {
	if len(arg) < 3 {
		return sockAddr{}, false
	}
	delim := arg[0]
	parts := strings.Split(arg, string(delim))
	// "|1|h|p|" splits into ["", "1", "h", "p", ""]
	if len(parts) != 5 || parts[1] != "1" {
		return sockAddr{}, false
	}
	ip := net.ParseIP(parts[2]).To4()
	if ip == nil {
		return sockAddr{}, false
	}
	port, err := strconv.Atoi(parts[3])
	if err != nil || port < 0 || port > 65535 {
		return sockAddr{}, false
	}
	return sockAddr{IP: [4]byte{ip[0], ip[1], ip[2], ip[3]}, Port: uint16(port)}, true
}

// startDataTransfer is the common tail of every transfer command: it
// assumes the caller already validated pasv/port is pending and prepared
// s.pump, then either opens an active connection (PORT/EPRT) or arms the
// passive listener for an incoming accept (PASV/EPSV), per spec.md
// §4.6.4's "on a transfer command with port/pasv" rules.
func (s *session) startDataTransfer() {
	switch {
	case s.portFlag:
		s.portFlag = false
		sock, err := newSocket(s.server.logSink)
		if err != nil {
			s.reply(425, "Can't open data connection")
			s.abortDataSetup()
			return
		}
		sock.SetRecvBufferSize(xferBufferSize)
		sock.SetSendBufferSize(xferBufferSize)
		completed, inProgress, err := sock.Connect(s.portAddr)
		if err != nil || (!completed && !inProgress) {
			sock.Close()
			s.reply(425, "Can't open data connection")
			s.abortDataSetup()
			return
		}
		s.dataSocket = sock
		s.dataKind = dataOwned
		if completed {
			s.beginTransfer()
		} else {
			s.setState(stateDataConnect, false, false)
		}
	case s.pasvFlag:
		s.pasvFlag = false
		if s.pasvSocket == nil {
			s.reply(425, "Can't open data connection")
			s.abortDataSetup()
			return
		}
		s.setState(stateDataConnect, false, false)
	default:
		s.reply(503, "Bad sequence of commands")
		s.abortDataSetup()
	}
}

// abortDataSetup discards whatever a transfer handler opened (file
// handle or directory iterator) before startDataTransfer rejected it.
func (s *session) abortDataSetup() {
	s.closeFile()
	s.closeDirIter()
	s.pump = nil
}

// handleREST parses a decimal u64 with overflow checking, per spec.md
// §4.6.8 and §4.6.5.
func (s *session) handleREST(arg string) {
	n, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		s.reply(501, "Invalid restart position")
		return
	}
	s.restartPosition = n
	s.reply(350, fmt.Sprintf("Restarting at %d", n))
}

// handleABOR implements spec.md §4.6.5's ABOR entry.
func (s *session) handleABOR(arg string) {
	if s.state != stateDataTransfer && s.state != stateDataConnect {
		s.reply(225, "No transfer to abort")
		return
	}
	s.setState(stateCommand, true, true)
	s.reply(225, "Aborted")
	s.reply(425, "Transfer aborted")
}
