package server

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// newTestSocketPair returns two connected, non-blocking *socket values
// wired to opposite ends of an AF_UNIX stream pair, standing in for a
// real TCP control connection without requiring a listening port.
func newTestSocketPair(t *testing.T) (*socket, *socket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set nonblock: %v", err)
		}
	}
	a := &socket{fd: fds[0], logSink: discardSink{}, connected: true}
	b := &socket{fd: fds[1], logSink: discardSink{}, connected: true}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// fakeFile is an in-memory FileHandle backing fakeFS.
type fakeFile struct {
	data *[]byte
	pos  int64
}

func (f *fakeFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(*f.data)) {
		return 0, io.EOF
	}
	n := copy(p, (*f.data)[f.pos:])
	f.pos += int64(n)
	return n, nil
}
func (f *fakeFile) Write(p []byte) (int, error) {
	if f.pos+int64(len(p)) > int64(len(*f.data)) {
		grown := make([]byte, f.pos+int64(len(p)))
		copy(grown, *f.data)
		*f.data = grown
	}
	copy((*f.data)[f.pos:], p)
	f.pos += int64(len(p))
	return len(p), nil
}
func (f *fakeFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		f.pos = offset
	case 1:
		f.pos += offset
	case 2:
		f.pos = int64(len(*f.data)) + offset
	}
	return f.pos, nil
}
func (f *fakeFile) Close() error { return nil }

// fakeFS is a minimal in-memory ClientContext for exercising session
// command handlers without touching a real filesystem.
type fakeFS struct {
	dirs  map[string]bool
	files map[string][]byte
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		dirs:  map[string]bool{"/": true},
		files: map[string][]byte{},
	}
}

func (f *fakeFS) Stat(path string) (direntInfo, error) {
	if f.dirs[path] {
		return direntInfo{Name: path, Mode: os.ModeDir | 0755}, nil
	}
	if data, ok := f.files[path]; ok {
		return direntInfo{Name: path, Mode: 0644, Size: int64(len(data))}, nil
	}
	return direntInfo{}, os.ErrNotExist
}
func (f *fakeFS) IsDir(path string) (bool, error) {
	if f.dirs[path] {
		return true, nil
	}
	if _, ok := f.files[path]; ok {
		return false, nil
	}
	return false, nil
}
func (f *fakeFS) ReadDir(path string) ([]direntInfo, error) {
	if !f.dirs[path] {
		return nil, os.ErrNotExist
	}
	var out []direntInfo
	prefix := path
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}
	for p := range f.files {
		if strings.HasPrefix(p, prefix) && !strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			out = append(out, direntInfo{Name: baseName(p), Mode: 0644, Size: int64(len(f.files[p]))})
		}
	}
	return out, nil
}
func (f *fakeFS) OpenFile(path string, flag int) (FileHandle, error) {
	data, ok := f.files[path]
	if !ok {
		if flag&os.O_CREATE == 0 {
			return nil, os.ErrNotExist
		}
		f.files[path] = []byte{}
		data = f.files[path]
	}
	cp := data
	h := &fakeFile{data: &cp}
	f.files[path] = cp
	return h, nil
}
func (f *fakeFS) MakeDir(path string) error {
	if f.dirs[path] {
		return os.ErrExist
	}
	f.dirs[path] = true
	return nil
}
func (f *fakeFS) RemoveDir(path string) error {
	if !f.dirs[path] {
		return os.ErrNotExist
	}
	delete(f.dirs, path)
	return nil
}
func (f *fakeFS) DeleteFile(path string) error {
	if _, ok := f.files[path]; !ok {
		return os.ErrNotExist
	}
	delete(f.files, path)
	return nil
}
func (f *fakeFS) Rename(from, to string) error {
	if data, ok := f.files[from]; ok {
		f.files[to] = data
		delete(f.files, from)
		return nil
	}
	if f.dirs[from] {
		f.dirs[to] = true
		delete(f.dirs, from)
		return nil
	}
	return os.ErrNotExist
}
func (f *fakeFS) Chmod(path string, mode os.FileMode) error { return nil }
func (f *fakeFS) SetTime(path string, t time.Time) error    { return nil }
func (f *fakeFS) Hash(path string, algo string) (string, error) {
	return "deadbeef", nil
}
func (f *fakeFS) Close() error           { return nil }
func (f *fakeFS) GetSettings() *Settings { return nil }

// fakeDriver always authenticates to the same fakeFS and honors a
// user/pass pair matching its own fields, or accepts anything if empty.
type fakeDriver struct {
	fs   *fakeFS
	fail bool
}

func (d *fakeDriver) Authenticate(user, pass, host string) (ClientContext, error) {
	if d.fail {
		return nil, os.ErrPermission
	}
	return d.fs, nil
}

// newTestSession builds a session wired to one end of a socket pair and
// a fake Server/driver, returning the peer end for the test to read
// replies from and write commands into.
func newTestSession(t *testing.T) (*session, *socket) {
	t.Helper()
	local, peer := newTestSocketPair(t)
	srv := &Server{
		config:  DefaultConfig(),
		driver:  &fakeDriver{fs: newFakeFS()},
		logSink: discardSink{},
		metrics: noopMetrics{},
		welcome: "test ready",
	}
	sess := newSession(srv, local, "test-sess")
	drainAll(t, peer) // discard the 220 greeting
	return sess, peer
}

// drainAll reads whatever is currently available (non-blocking) from
// peer and returns it as a string; used to collect one reply.
func drainAll(t *testing.T, peer *socket) string {
	t.Helper()
	var out strings.Builder
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var buf [4096]byte
		n, err := peer.Read(buf[:], false)
		if err != nil {
			if err == errAgain {
				if out.Len() > 0 {
					return out.String()
				}
				time.Sleep(time.Millisecond)
				continue
			}
			t.Fatalf("peer read: %v", err)
		}
		if n == 0 {
			return out.String()
		}
		out.Write(buf[:n])
		return out.String()
	}
	t.Fatal("timed out waiting for reply")
	return ""
}

func sendLine(t *testing.T, peer *socket, line string) {
	t.Helper()
	if _, err := peer.Write([]byte(line + "\r\n")); err != nil && err != errAgain {
		t.Fatalf("peer write: %v", err)
	}
}

// roundTrip writes a command line then drains the session's reply,
// driving the session's command-readable path directly (bypassing the
// Server's poll loop, matching how unit tests elsewhere in this package
// avoid driving real event loops).
func roundTrip(t *testing.T, sess *session, peer *socket, line string) string {
	t.Helper()
	sendLine(t, peer, line)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess.onCommandReadable()
		if sess.responseBuf.usedSize() == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return drainAll(t, peer)
}

func TestUnauthenticatedCommandsAreGated(t *testing.T) {
	sess, peer := newTestSession(t)
	reply := roundTrip(t, sess, peer, "RETR foo")
	if !strings.HasPrefix(reply, "530") {
		t.Errorf("expected 530 before login, got %q", reply)
	}
}

func TestAuthExemptCommandsWorkBeforeLogin(t *testing.T) {
	sess, peer := newTestSession(t)
	for _, cmd := range []string{"NOOP", "FEAT", "SYST", "HELP"} {
		reply := roundTrip(t, sess, peer, cmd)
		if strings.HasPrefix(reply, "530") {
			t.Errorf("%s should be auth-exempt, got %q", cmd, reply)
		}
	}
}

func TestUnknownCommandIs502(t *testing.T) {
	sess, peer := newTestSession(t)
	reply := roundTrip(t, sess, peer, "BOGUS")
	if !strings.HasPrefix(reply, "502") {
		t.Errorf("expected 502 for unknown command, got %q", reply)
	}
}

func TestFullLoginSequence(t *testing.T) {
	sess, peer := newTestSession(t)
	reply := roundTrip(t, sess, peer, "USER anybody")
	if !strings.HasPrefix(reply, "230") {
		t.Fatalf("expected 230 (no Config.Pass set), got %q", reply)
	}
	reply = roundTrip(t, sess, peer, "PWD")
	if !strings.Contains(reply, `"/"`) {
		t.Errorf("expected PWD to report /, got %q", reply)
	}
}

func TestLoginWithConfiguredPassword(t *testing.T) {
	sess, peer := newTestSession(t)
	sess.server.config.User = "alice"
	sess.server.config.Pass = "secret"

	reply := roundTrip(t, sess, peer, "USER alice")
	if !strings.HasPrefix(reply, "331") {
		t.Fatalf("expected 331 need-password, got %q", reply)
	}
	reply = roundTrip(t, sess, peer, "PASS wrong")
	if !strings.HasPrefix(reply, "430") {
		t.Fatalf("expected 430 for wrong password, got %q", reply)
	}
	reply = roundTrip(t, sess, peer, "PASS secret")
	if !strings.HasPrefix(reply, "230") {
		t.Fatalf("expected 230 after correct password, got %q", reply)
	}
}

func TestWrongUserRejected(t *testing.T) {
	sess, peer := newTestSession(t)
	sess.server.config.User = "alice"
	reply := roundTrip(t, sess, peer, "USER mallory")
	if !strings.HasPrefix(reply, "530") {
		t.Errorf("expected 530 for wrong user, got %q", reply)
	}
}

func TestCWDAndPWDRoundTrip(t *testing.T) {
	sess, peer := newTestSession(t)
	sess.server.driver.(*fakeDriver).fs.dirs["/sub"] = true
	roundTrip(t, sess, peer, "USER a")

	reply := roundTrip(t, sess, peer, "CWD sub")
	if !strings.HasPrefix(reply, "250") {
		t.Fatalf("expected 250 on CWD into existing dir, got %q", reply)
	}
	reply = roundTrip(t, sess, peer, "PWD")
	if !strings.Contains(reply, `"/sub"`) {
		t.Errorf("expected cwd /sub, got %q", reply)
	}

	reply = roundTrip(t, sess, peer, "CWD ..")
	if !strings.HasPrefix(reply, "250") {
		t.Fatalf("expected 250 on CDUP-via-CWD, got %q", reply)
	}
	reply = roundTrip(t, sess, peer, "PWD")
	if !strings.Contains(reply, `"/"`) {
		t.Errorf("expected cwd back at /, got %q", reply)
	}
}

func TestCWDMissingDirectory(t *testing.T) {
	sess, peer := newTestSession(t)
	roundTrip(t, sess, peer, "USER a")
	reply := roundTrip(t, sess, peer, "CWD nowhere")
	if !strings.HasPrefix(reply, "550") {
		t.Errorf("expected 550 for missing directory, got %q", reply)
	}
}

func TestRNFRRNTOSequenceAndBadSequence(t *testing.T) {
	sess, peer := newTestSession(t)
	fs := sess.server.driver.(*fakeDriver).fs
	fs.files["/a.txt"] = []byte("hi")
	roundTrip(t, sess, peer, "USER a")

	reply := roundTrip(t, sess, peer, "RNTO b.txt")
	if !strings.HasPrefix(reply, "503") {
		t.Fatalf("expected 503 bad sequence without RNFR, got %q", reply)
	}

	reply = roundTrip(t, sess, peer, "RNFR a.txt")
	if !strings.HasPrefix(reply, "350") {
		t.Fatalf("expected 350 from RNFR, got %q", reply)
	}
	reply = roundTrip(t, sess, peer, "RNTO b.txt")
	if !strings.HasPrefix(reply, "250") {
		t.Fatalf("expected 250 from RNTO, got %q", reply)
	}
	if _, ok := fs.files["/b.txt"]; !ok {
		t.Error("rename did not take effect in fakeFS")
	}
}

func TestPASVArmsFlagWithoutStateChange(t *testing.T) {
	sess, peer := newTestSession(t)
	roundTrip(t, sess, peer, "USER a")

	reply := roundTrip(t, sess, peer, "PASV")
	if !strings.HasPrefix(reply, "227") {
		t.Fatalf("expected 227 from PASV, got %q", reply)
	}
	if !sess.pasvFlag {
		t.Fatal("expected pasvFlag set after PASV, state transition deferred to the transfer command")
	}
	if sess.state != stateCommand {
		t.Fatalf("PASV must not itself transition state, got %v", sess.state)
	}
}

func TestInTransferAllowListRejectsOtherCommands(t *testing.T) {
	sess, peer := newTestSession(t)
	roundTrip(t, sess, peer, "USER a")
	sess.state = stateDataTransfer

	reply := roundTrip(t, sess, peer, "CWD sub")
	if !strings.HasPrefix(reply, "503") {
		t.Fatalf("expected 503 for disallowed command mid-transfer, got %q", reply)
	}
	if sess.state != stateCommand {
		t.Fatalf("expected state reset to COMMAND after bad-sequence command, got %v", sess.state)
	}
}

func TestInTransferAllowListPermitsNoop(t *testing.T) {
	sess, peer := newTestSession(t)
	roundTrip(t, sess, peer, "USER a")
	sess.state = stateDataTransfer
	sess.pump = func(*session) {}
	sess.dataSocket, _ = newSocket(discardSink{})
	t.Cleanup(func() { sess.dataSocket.Close() })

	reply := roundTrip(t, sess, peer, "NOOP")
	if !strings.HasPrefix(reply, "200") {
		t.Errorf("expected NOOP to be allowed mid-transfer, got %q", reply)
	}
	if sess.state != stateDataTransfer {
		t.Errorf("NOOP must not disturb DATA_TRANSFER state, got %v", sess.state)
	}
}

func TestCommandTableIsSortedAndUnique(t *testing.T) {
	for i := 1; i < len(commandTable); i++ {
		if commandTable[i-1].name >= commandTable[i].name {
			t.Fatalf("commandTable not strictly sorted at %d: %q >= %q",
				i, commandTable[i-1].name, commandTable[i].name)
		}
	}
}

func TestMLSTAlwaysSingleEntryEvenForDirectory(t *testing.T) {
	sess, peer := newTestSession(t)
	fs := sess.server.driver.(*fakeDriver).fs
	fs.dirs["/adir"] = true
	fs.files["/adir/child.txt"] = []byte("x")
	roundTrip(t, sess, peer, "USER a")

	entries, cdirDue, err := sess.prepareDirListing("adir", "MLST")
	if err != nil {
		t.Fatalf("prepareDirListing: %v", err)
	}
	if cdirDue {
		t.Fatal("MLST must never request a synthetic cdir entry")
	}
	if len(entries) != 1 {
		t.Fatalf("MLST must never list children, got %d entries", len(entries))
	}
	if entries[0].Name != "adir" {
		t.Errorf("expected MLST entry named after the target itself, got %q", entries[0].Name)
	}
}

func TestBareQuitHalfCloses(t *testing.T) {
	sess, peer := newTestSession(t)
	reply := roundTrip(t, sess, peer, "QUIT")
	if !strings.HasPrefix(reply, "221") {
		t.Fatalf("expected 221 on QUIT, got %q", reply)
	}
	if sess.commandSocket != nil {
		t.Error("expected commandSocket moved to pendingClose after QUIT")
	}
	if len(sess.pendingClose) != 1 {
		t.Errorf("expected exactly one pending-close socket, got %d", len(sess.pendingClose))
	}
}

func TestHOSTBeforeAndAfterLogin(t *testing.T) {
	sess, peer := newTestSession(t)
	reply := roundTrip(t, sess, peer, "HOST ftp.example.com")
	if !strings.HasPrefix(reply, "220") {
		t.Fatalf("expected 220 for HOST before login, got %q", reply)
	}
	if sess.hostArg != "ftp.example.com" {
		t.Errorf("hostArg = %q", sess.hostArg)
	}
	roundTrip(t, sess, peer, "USER a")
	reply = roundTrip(t, sess, peer, "HOST other.example.com")
	if !strings.HasPrefix(reply, "503") {
		t.Errorf("expected 503 for HOST after login, got %q", reply)
	}
}

func TestSiteHelpExemptButSiteUserIsNot(t *testing.T) {
	sess, peer := newTestSession(t)
	reply := roundTrip(t, sess, peer, "SITE HELP")
	if strings.HasPrefix(reply, "530") {
		t.Errorf("SITE HELP should be auth-exempt, got %q", reply)
	}
	reply = roundTrip(t, sess, peer, "SITE USER bob")
	if !strings.HasPrefix(reply, "530") {
		t.Errorf("SITE USER should require login, got %q", reply)
	}
}
