package server

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// sessionState is the one-value state named in spec.md §3.
type sessionState int

const (
	stateCommand sessionState = iota
	stateDataConnect
	stateDataTransfer
)

func (st sessionState) String() string {
	switch st {
	case stateCommand:
		return "COMMAND"
	case stateDataConnect:
		return "DATA_CONNECT"
	case stateDataTransfer:
		return "DATA_TRANSFER"
	default:
		return "UNKNOWN"
	}
}

// dataOwnership implements the design-note-9 variant for data_socket:
// Owned when the session created its own data connection, Aliased when
// data_socket points at the command socket (MLST/STAT-over-control), and
// None when no data channel exists.
type dataOwnership int

const (
	dataNone dataOwnership = iota
	dataOwned
	dataAliased
)

const (
	commandBufferSize  = 4096
	responseBufferSize = 64 * 1024
	xferBufferSize     = 64 * 1024
	maxPumpIterations  = 10
	pasvBacklog        = 1
)

// session is the per-connection state machine described in spec.md §3-4.6:
// it multiplexes one control channel and at most one data channel, parses
// and dispatches commands, and pumps directory listings and file
// transfers through fixed ring buffers. It is only ever touched by the
// Server's single loop goroutine — there is no internal locking.
type session struct {
	id     string
	server *Server

	commandSocket *socket
	pasvSocket    *socket
	dataSocket    *socket
	dataKind      dataOwnership
	pendingClose  []*socket

	commandBuf  *ioBuffer
	responseBuf *ioBuffer
	xferBuf     *ioBuffer

	cwd        string
	lwd        string
	renameFrom string

	restartPosition uint64
	filePosition    int64
	fileSize        int64
	portAddr        sockAddr

	authorizedUser bool
	authorizedPass bool
	pasvFlag       bool
	portFlag       bool
	recv           bool
	send           bool
	urgent         bool
	devZero        bool
	mlst           mlstOptions

	state sessionState

	user         string
	hostArg      string // RFC 7151 HOST argument, empty unless sent before login
	transferType byte   // 'A' or 'I'

	fs ClientContext

	dirIter    []direntInfo
	dirPos     int
	dirMode    string // LIST, NLST, MLSD, MLST, STAT
	dirCdirDue bool

	fileHandle FileHandle

	pump func(*session)

	telnetScanning bool // consuming in-band bytes up to the Telnet Data Mark

	startTime    time.Time
	lastActivity time.Time

	limiter *ratelimit.Limiter

	closed bool
}

// commandEntry is one row of the static sorted dispatch table named in
// spec.md §4.6.1 and design note 9 ("either admits binary search").
type commandEntry struct {
	name       string
	handler    func(*session, string)
	authExempt bool
}

// commandTable is sorted by name so dispatch resolves in O(log N) via
// sort.Search, matching the source pattern's binary-searchable table.
var commandTable = buildCommandTable()

func buildCommandTable() []commandEntry {
	t := []commandEntry{
		{"ABOR", (*session).handleABOR, false},
		{"ACCT", (*session).handleACCT, false},
		{"ALLO", (*session).handleALLO, false},
		{"APPE", (*session).handleAPPE, false},
		{"CDUP", (*session).handleCDUP, false},
		{"CWD", (*session).handleCWD, false},
		{"DELE", (*session).handleDELE, false},
		{"EPRT", (*session).handleEPRT, false},
		{"EPSV", (*session).handleEPSV, false},
		{"FEAT", (*session).handleFEAT, true},
		{"HASH", (*session).handleHASH, false},
		{"HELP", (*session).handleHELP, true},
		{"HOST", (*session).handleHOST, true},
		{"LIST", (*session).handleLIST, false},
		{"MDTM", (*session).handleMDTM, false},
		{"MFMT", (*session).handleMFMT, false},
		{"MKD", (*session).handleMKD, false},
		{"MLSD", (*session).handleMLSD, false},
		{"MLST", (*session).handleMLST, false},
		{"MODE", (*session).handleMODE, true},
		{"NLST", (*session).handleNLST, false},
		{"NOOP", (*session).handleNOOP, true},
		{"OPTS", (*session).handleOPTS, true},
		{"PASS", (*session).handlePASSCmd, true},
		{"PASV", (*session).handlePASV, false},
		{"PORT", (*session).handlePORT, false},
		{"PWD", (*session).handlePWD, false},
		{"QUIT", (*session).handleQUIT, true},
		{"REST", (*session).handleREST, false},
		{"RETR", (*session).handleRETR, false},
		{"RMD", (*session).handleRMD, false},
		{"RNFR", (*session).handleRNFR, false},
		{"RNTO", (*session).handleRNTO, false},
		{"SITE", (*session).handleSITE, true},
		{"SIZE", (*session).handleSIZE, false},
		{"STAT", (*session).handleSTAT, false},
		{"STOR", (*session).handleSTOR, false},
		{"STOU", (*session).handleSTOU, false},
		{"STRU", (*session).handleSTRU, true},
		{"SYST", (*session).handleSYST, true},
		{"TYPE", (*session).handleTYPE, true},
		{"USER", (*session).handleUSERCmd, true},
		{"XCUP", (*session).handleCDUP, false},
		{"XCWD", (*session).handleCWD, false},
		{"XMKD", (*session).handleMKD, false},
		{"XPWD", (*session).handlePWD, false},
		{"XRMD", (*session).handleRMD, false},
	}
	sort.Slice(t, func(i, j int) bool { return t[i].name < t[j].name })
	return t
}

// lookupCommand performs the O(log N) case-insensitive lookup named in
// spec.md §4.6.1. cmd must already be uppercased by the caller.
func lookupCommand(cmd string) (commandEntry, bool) {
	i := sort.Search(len(commandTable), func(i int) bool { return commandTable[i].name >= cmd })
	if i < len(commandTable) && commandTable[i].name == cmd {
		return commandTable[i], true
	}
	return commandEntry{}, false
}

// inTransferAllowList is the fixed set of commands spec.md §4.6.1 permits
// while DATA_CONNECT or DATA_TRANSFER is active.
var inTransferAllowList = map[string]bool{
	"ABOR": true, "NOOP": true, "PWD": true, "QUIT": true, "STAT": true, "XPWD": true,
}

func newSession(srv *Server, cmdSock *socket, id string) *session {
	s := &session{
		id:            id,
		server:        srv,
		commandSocket: cmdSock,
		commandBuf:    newIOBuffer(commandBufferSize),
		responseBuf:   newIOBuffer(responseBufferSize),
		xferBuf:       newIOBuffer(xferBufferSize),
		cwd:           "/",
		transferType:  'I',
		mlst:          defaultMLSTOptions(),
		state:         stateCommand,
		startTime:     time.Now(),
		lastActivity:  time.Now(),
	}
	if srv.config.BandwidthLimitPerSession > 0 {
		s.limiter = ratelimit.New(srv.config.BandwidthLimitPerSession)
	}
	s.reply(220, srv.welcomeMessage())
	srv.metrics.RecordConnection(true, "")
	return s
}

// isDead matches spec.md §3's lifecycle: a session with no command
// socket, no passive socket, no data socket, and nothing pending close.
func (s *session) isDead() bool {
	return s.commandSocket == nil && s.pasvSocket == nil && s.dataSocket == nil && len(s.pendingClose) == 0
}

// setState is the sole transition primitive named in spec.md §4.6.3.
func (s *session) setState(newState sessionState, closePasv, closeData bool) {
	if closePasv && s.pasvSocket != nil {
		s.pasvSocket.Close()
		s.pasvSocket = nil
	}
	if closeData {
		s.releaseDataSocket()
	}
	if newState == stateCommand {
		s.filePosition = 0
		s.fileSize = 0
		s.recv = false
		s.send = false
		s.devZero = false
		s.closeFile()
		s.closeDirIter()
		s.pump = nil
	}
	s.state = newState
}

// releaseDataSocket closes (owned) or detaches (aliased) data_socket
// without touching the command socket, per the design-note-9 variant.
func (s *session) releaseDataSocket() {
	if s.dataKind == dataOwned && s.dataSocket != nil {
		s.dataSocket.Close()
	}
	s.dataSocket = nil
	s.dataKind = dataNone
}

func (s *session) closeFile() {
	if s.fileHandle != nil {
		s.fileHandle.Close()
		s.fileHandle = nil
	}
}

func (s *session) closeDirIter() {
	s.dirIter = nil
	s.dirPos = 0
	s.dirMode = ""
	s.dirCdirDue = false
}

// close tears the session down entirely; called once it is fully dead or
// the engine is discarding it after a fatal control-channel error.
func (s *session) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.closeFile()
	s.closeDirIter()
	if s.pasvSocket != nil {
		s.pasvSocket.Close()
		s.pasvSocket = nil
	}
	s.releaseDataSocket()
	for _, p := range s.pendingClose {
		p.Close()
	}
	s.pendingClose = nil
	if s.commandSocket != nil {
		s.commandSocket.Close()
		s.commandSocket = nil
	}
	if s.fs != nil {
		s.fs.Close()
		s.fs = nil
	}
	s.server.log().Debug(fields{"session": s.id, "user": s.user}, "session closed")
}

// halfClose implements the "shutdown(WR) with linger 0, moved into
// pending_close" behavior for QUIT, per spec.md §5.
func (s *session) halfClose() {
	if s.commandSocket == nil {
		return
	}
	sock := s.commandSocket
	sock.SetLinger(true, 0)
	sock.Shutdown(unixShutWr)
	s.pendingClose = append(s.pendingClose, sock)
	s.commandSocket = nil
}

// reply renders one single-line response into response_buffer. Handlers
// that need multi-line output call replyLine for the intermediate lines
// and reply for the terminal one.
func (s *session) reply(code int, message string) {
	s.replyLine(fmt.Sprintf("%d %s", code, message))
}

// replyLine appends a raw, already-formatted line (without CRLF) to
// response_buffer, e.g. "211-Features:" for multi-line responses.
func (s *session) replyLine(line string) {
	if err := s.responseBuf.appendLine(line + "\r\n"); err != nil {
		// spec.md §7: emitting a response larger than the buffer is a bug;
		// the remedy described there is closing the command socket.
		s.server.log().Error(fields{"session": s.id}, "response buffer overflow")
		s.fatalControlError()
		return
	}
	s.flushResponse()
}

// flushResponse attempts a single non-blocking write of whatever is
// queued; leftovers drain on the next writable event (spec.md §4.6.9).
func (s *session) flushResponse() {
	if s.commandSocket == nil || s.responseBuf.usedSize() == 0 {
		return
	}
	n, err := s.commandSocket.Write(s.responseBuf.usedArea())
	if err != nil {
		if err == errAgain {
			return
		}
		s.fatalControlError()
		return
	}
	s.responseBuf.markFree(n)
	s.responseBuf.coalesce()
}

// fatalControlError matches spec.md §7's "transport errors on the control
// channel: close the command socket; the session becomes dead."
func (s *session) fatalControlError() {
	if s.commandSocket != nil {
		s.commandSocket.Close()
		s.commandSocket = nil
	}
	s.releaseDataSocket()
	if s.pasvSocket != nil {
		s.pasvSocket.Close()
		s.pasvSocket = nil
	}
}

// replyError translates a filesystem error to the taxonomy in spec.md §7.
func (s *session) replyError(err error) {
	switch {
	case isNotExist(err):
		s.reply(550, "File not found.")
	case isPermission(err):
		s.reply(550, "Permission denied.")
	case isExist(err):
		s.reply(550, "File already exists.")
	case err == errNotDirectory:
		s.reply(550, "Not a directory.")
	case err == errInvalidName:
		s.reply(553, "Invalid file name.")
	default:
		s.reply(550, "Action failed: "+err.Error())
	}
}

// onCommandReadable is called when the command socket reports POLLIN. It
// reads into command_buffer and dispatches every complete line found.
func (s *session) onCommandReadable() {
	if s.commandSocket == nil {
		return
	}
	s.commandBuf.coalesce()
	for {
		if s.commandBuf.freeSize() == 0 {
			// A full buffer with no newline: spec.md doesn't define a
			// line-too-long reply, so it is treated as a transport error.
			s.fatalControlError()
			return
		}
		n, err := s.commandSocket.Read(s.commandBuf.freeArea(), false)
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
		s.commandBuf.markUsed(n)
	}
	if s.telnetScanning {
		s.scanPastDataMark()
		if s.telnetScanning {
			return
		}
	}
	s.drainCommandLines()
}

// drainCommandLines extracts and dispatches every complete line currently
// buffered, per spec.md §4.6.1's NUL-rewrite and framing rules.
func (s *session) drainCommandLines() {
	for {
		if s.commandSocket == nil {
			return
		}
		area := s.commandBuf.usedArea()
		for i, b := range area {
			if b == 0 {
				area[i] = '\n'
			}
		}
		idx := indexByte(area, '\n')
		if idx < 0 {
			return
		}
		line := string(area[:idx])
		s.commandBuf.markFree(idx + 1)
		s.lastActivity = time.Now()
		s.handleLine(strings.TrimSuffix(line, "\r"))
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// handleLine parses one command line and dispatches it, enforcing the
// in-transfer allow-list and auth gating from spec.md §4.6.1.
func (s *session) handleLine(line string) {
	if line == "" {
		return
	}
	token, arg := splitCommand(line)
	cmd := strings.ToUpper(token)

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.server.log().Command(fields{"session": s.id, "user": s.user, "cmd": cmd, "arg": logArg}, "command")

	if s.state != stateCommand && !inTransferAllowList[cmd] {
		s.reply(503, "Invalid command during transfer")
		s.setState(stateCommand, true, true)
		return
	}

	entry, ok := lookupCommand(cmd)
	if !ok {
		s.reply(502, fmt.Sprintf("Invalid command %q", token))
		return
	}

	if !entry.authExempt && !(s.authorizedUser && s.authorizedPass) {
		s.reply(530, "Not logged in")
		return
	}

	entry.handler(s, arg)
}

// splitCommand separates the command token from its argument on the
// first whitespace byte, per spec.md §4.6.1.
func splitCommand(line string) (cmd, arg string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], line[i+1:]
}

// pollRequests returns this session's entries for the Server's single
// combined poll() call, per spec.md §4.5 step 2.
func (s *session) pollRequests() []pollInfo {
	var infos []pollInfo
	if s.commandSocket != nil {
		events := PollIn | PollPri
		if s.responseBuf.usedSize() > 0 {
			events |= PollOut
		}
		infos = append(infos, pollInfo{Socket: s.commandSocket, Events: events})
	}
	switch s.state {
	case stateDataConnect:
		if s.pasvSocket != nil {
			infos = append(infos, pollInfo{Socket: s.pasvSocket, Events: PollIn})
		} else if s.dataSocket != nil {
			infos = append(infos, pollInfo{Socket: s.dataSocket, Events: PollOut})
		}
	case stateDataTransfer:
		if s.dataSocket != nil {
			events := PollIn
			if s.send {
				events = PollOut
			}
			infos = append(infos, pollInfo{Socket: s.dataSocket, Events: events})
		}
	}
	for _, p := range s.pendingClose {
		infos = append(infos, pollInfo{Socket: p, Events: PollIn})
	}
	return infos
}

// dispatchEvents is called by the Server once per poll cycle with the
// revents observed for each of this session's sockets.
func (s *session) dispatchEvents(events map[*socket]int16) {
	if s.commandSocket != nil {
		if rev, ok := events[s.commandSocket]; ok {
			if rev&PollPri != 0 {
				s.handleUrgent()
			}
			if rev&(PollErr|PollHup) != 0 {
				s.fatalControlError()
			} else {
				if rev&PollOut != 0 {
					s.flushResponse()
				}
				if rev&PollIn != 0 {
					s.onCommandReadable()
				}
			}
		}
	}

	switch s.state {
	case stateDataConnect:
		s.handleDataConnectEvent(events)
	case stateDataTransfer:
		s.runPump(events)
	}

	for i := 0; i < len(s.pendingClose); {
		p := s.pendingClose[i]
		if rev, ok := events[p]; ok && rev != 0 {
			p.Close()
			s.pendingClose = append(s.pendingClose[:i], s.pendingClose[i+1:]...)
			continue
		}
		i++
	}
}

// handleDataConnectEvent accepts a pending passive connection or observes
// an active connect's completion, per spec.md §4.6.4.
func (s *session) handleDataConnectEvent(events map[*socket]int16) {
	if s.pasvSocket != nil {
		if rev, ok := events[s.pasvSocket]; ok && rev&PollIn != 0 {
			ns, err := s.pasvSocket.Accept()
			if err != nil {
				if err != errAgain {
					s.reply(425, "Failed to establish data connection")
					s.setState(stateCommand, true, true)
				}
				return
			}
			s.pasvSocket.Close()
			s.pasvSocket = nil
			s.installDataSocket(ns)
			s.beginTransfer()
		}
		return
	}
	if s.dataSocket != nil {
		if rev, ok := events[s.dataSocket]; ok && rev&(PollOut|PollErr) != 0 {
			if err := s.dataSocket.ConnectComplete(); err != nil {
				s.reply(425, "Failed to establish data connection")
				s.setState(stateCommand, true, true)
				return
			}
			s.beginTransfer()
		}
	}
}

func (s *session) installDataSocket(sock *socket) {
	sock.SetRecvBufferSize(xferBufferSize)
	sock.SetSendBufferSize(xferBufferSize)
	s.dataSocket = sock
	s.dataKind = dataOwned
}

// beginTransfer replies 150 and moves to DATA_TRANSFER once the data
// channel is up, per spec.md §4.6.4.
func (s *session) beginTransfer() {
	s.reply(150, "Ready")
	s.setState(stateDataTransfer, false, false)
}

// runPump drives the active transfer/list pump up to the 10-iteration
// cap named in spec.md §4.6.8, stopping early only when the pump changes
// the session state. A pump that hit EWOULDBLOCK returns without a state
// change and is called again until the cap is reached.
func (s *session) runPump(events map[*socket]int16) {
	if s.dataSocket == nil || s.pump == nil {
		return
	}
	if rev, ok := events[s.dataSocket]; ok && rev&(PollErr|PollHup) != 0 {
		s.reply(426, "Connection broken during transfer")
		s.setState(stateCommand, true, true)
		return
	}
	for i := 0; i < maxPumpIterations; i++ {
		if s.state != stateDataTransfer || s.dataSocket == nil {
			return
		}
		before := s.state
		s.pump(s)
		if s.state != before {
			return
		}
	}
}
