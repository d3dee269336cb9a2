package server

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// errAgain marks an operation that would block; callers poll and retry.
var errAgain = errors.New("server: resource temporarily unavailable")

// errIO marks an unrecoverable socket I/O error distinct from errAgain.
type errIO struct{ err error }

func (e *errIO) Error() string { return e.err.Error() }
func (e *errIO) Unwrap() error { return e.err }

// Poll event bits, mirroring POLLIN/POLLOUT/POLLPRI/POLLERR/POLLHUP.
const (
	PollIn  = int16(unix.POLLIN)
	PollOut = int16(unix.POLLOUT)
	PollPri = int16(unix.POLLPRI)
	PollErr = int16(unix.POLLERR)
	PollHup = int16(unix.POLLHUP)
)

// sockAddr is a typed IPv4 address wrapper. The spec scopes the server to
// IPv4 STREAM sockets only (see Non-goals: no IPv6/TLS).
type sockAddr struct {
	IP   [4]byte
	Port uint16
}

func sockAddrFromUnix(sa unix.Sockaddr) (sockAddr, error) {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return sockAddr{}, fmt.Errorf("server: non-IPv4 address %T", sa)
	}
	var a sockAddr
	a.IP = in4.Addr
	a.Port = uint16(in4.Port)
	return a, nil
}

func (a sockAddr) toUnix() *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Addr: a.IP, Port: int(a.Port)}
}

func (a sockAddr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// socket wraps one non-blocking STREAM file descriptor plus its cached
// local and peer addresses. All operations that fail return errAgain for
// EWOULDBLOCK/EAGAIN and a plain error otherwise; callers never need to
// inspect errno directly.
type socket struct {
	fd        int
	local     sockAddr
	peer      sockAddr
	listening bool
	connected bool
	logSink   LogSink
}

// newSocket creates a new unbound, non-blocking IPv4 STREAM socket.
func newSocket(log LogSink) (*socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &socket{fd: fd, logSink: log}, nil
}

// newSocketFromFD wraps an already-open, already-nonblocking fd (as
// returned by accept) and caches its local/peer addresses.
func newSocketFromFD(fd int, log LogSink) (*socket, error) {
	s := &socket{fd: fd, logSink: log}
	if la, err := unix.Getsockname(fd); err == nil {
		if a, err := sockAddrFromUnix(la); err == nil {
			s.local = a
		}
	}
	if pa, err := unix.Getpeername(fd); err == nil {
		if a, err := sockAddrFromUnix(pa); err == nil {
			s.peer = a
		}
	}
	s.connected = true
	return s, nil
}

func (s *socket) Fd() int { return s.fd }

func (s *socket) Bind(addr sockAddr) error {
	if err := unix.Bind(s.fd, addr.toUnix()); err != nil {
		return err
	}
	if la, err := unix.Getsockname(s.fd); err == nil {
		if a, err := sockAddrFromUnix(la); err == nil {
			s.local = a
		}
	}
	return nil
}

func (s *socket) Listen(backlog int) error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return err
	}
	s.listening = true
	return nil
}

// Accept returns a newly accepted, non-blocking socket with both the
// local and peer names populated, or errAgain if nothing is pending.
func (s *socket) Accept() (*socket, error) {
	fd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, errAgain
		}
		return nil, err
	}
	peer, _ := sockAddrFromUnix(sa)
	ns := &socket{fd: fd, peer: peer, connected: true, logSink: s.logSink}
	if la, err := unix.Getsockname(fd); err == nil {
		if a, err := sockAddrFromUnix(la); err == nil {
			ns.local = a
		}
	}
	return ns, nil
}

// Connect returns (completed, inProgress). When inProgress is true,
// completion is observed later as a writable poll event on this socket.
func (s *socket) Connect(addr sockAddr) (completed bool, inProgress bool, err error) {
	err = unix.Connect(s.fd, addr.toUnix())
	if err == nil {
		s.peer = addr
		s.connected = true
		return true, false, nil
	}
	if err == unix.EINPROGRESS {
		s.peer = addr
		return false, true, nil
	}
	return false, false, err
}

// ConnectComplete checks whether an in-progress connect finished
// successfully; call after a writable event following Connect.
func (s *socket) ConnectComplete() error {
	errno, gerr := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	s.connected = true
	return nil
}

func (s *socket) Shutdown(how int) error {
	return unix.Shutdown(s.fd, how)
}

func (s *socket) SetLinger(enable bool, secs int) error {
	l := unix.Linger{Linger: int32(secs)}
	if enable {
		l.Onoff = 1
	}
	return unix.SetsockoptLinger(s.fd, unix.SOL_SOCKET, unix.SO_LINGER, &l)
}

func (s *socket) SetNonblocking(on bool) error {
	return unix.SetNonblock(s.fd, on)
}

func (s *socket) SetReuseAddress(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, v)
}

func (s *socket) SetRecvBufferSize(n int) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n)
}

func (s *socket) SetSendBufferSize(n int) error {
	return unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n)
}

// AtMark reports whether the next byte to read is past the urgent mark.
func (s *socket) AtMark() (bool, error) {
	v, err := unix.IoctlGetInt(s.fd, unix.SIOCATMARK)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Read reads into buf, optionally consuming one OOB (urgent) byte instead
// of the normal stream. Returns (0, errAgain) on EWOULDBLOCK, (0, nil) on
// peer EOF, and (n, nil) for an n > 0 partial read.
func (s *socket) Read(buf []byte, oob bool) (int, error) {
	var n int
	var err error
	if oob {
		n, _, _, _, err = unix.Recvmsg(s.fd, buf, nil, unix.MSG_OOB)
	} else {
		n, err = unix.Read(s.fd, buf)
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errAgain
		}
		return 0, err
	}
	return n, nil
}

// Write writes buf, returning (0, errAgain) on EWOULDBLOCK.
func (s *socket) Write(buf []byte) (int, error) {
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, errAgain
		}
		return 0, err
	}
	return n, nil
}

// Close logs (for listening/connected sockets) and releases the fd.
func (s *socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	if (s.listening || s.connected) && s.logSink != nil {
		s.logSink.Debug(fields{"fd": s.fd, "peer": s.peer.String()}, "socket closed")
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// pollInfo names one socket and its requested/observed event masks for a
// single poll() call covering every session's sockets at once.
type pollInfo struct {
	Socket  *socket
	Events  int16
	Revents int16
}

// pollSockets issues exactly one poll(2) syscall across infos.
func pollSockets(infos []pollInfo, timeoutMs int) (int, error) {
	if len(infos) == 0 {
		return 0, nil
	}
	fds := make([]unix.PollFd, len(infos))
	for i, info := range infos {
		fds[i] = unix.PollFd{Fd: int32(info.Socket.fd), Events: info.Events}
	}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := range infos {
		infos[i].Revents = fds[i].Revents
	}
	return n, nil
}
