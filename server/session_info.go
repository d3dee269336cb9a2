package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (s *session) handleSIZE(arg string) {
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	info, err := s.fs.Stat(resolved)
	if err != nil {
		s.replyError(err)
		return
	}
	if info.Mode.IsDir() {
		s.reply(550, "Not a regular file")
		return
	}
	s.reply(213, strconv.FormatInt(info.Size, 10))
}

// handleMDTM is an explicit non-goal per spec.md §4.6.5.
func (s *session) handleMDTM(arg string) {
	s.reply(502, "Command not implemented")
}

// handleMFMT sets a file's modification time (RFC 3659 draft extension,
// adopted by the source implementation's command surface).
func (s *session) handleMFMT(arg string) {
	parts := strings.SplitN(strings.TrimSpace(arg), " ", 2)
	if len(parts) != 2 {
		s.reply(501, "Syntax: MFMT <timestamp> <path>")
		return
	}
	t, err := time.Parse("20060102150405", parts[0])
	if err != nil {
		s.reply(501, "Invalid timestamp")
		return
	}
	resolved, err := s.resolveArg(parts[1])
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.SetTime(resolved, t); err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, "Modify="+parts[0]+"; "+resolved)
}

func (s *session) handleHASH(arg string) {
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	sum, err := s.fs.Hash(resolved, "SHA-256")
	if err != nil {
		s.replyError(err)
		return
	}
	info, err := s.fs.Stat(resolved)
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(213, fmt.Sprintf("SHA-256 0-%d %s %s", info.Size, sum, resolved))
}

// handleFEAT replies with the feature list per spec.md §4.6.5's table.
func (s *session) handleFEAT(arg string) {
	s.replyLine("211-Features:")
	s.replyLine(" MDTM")
	s.replyLine(" " + mlstFeatureLine(s.mlst))
	s.replyLine(" PASV")
	s.replyLine(" EPSV")
	s.replyLine(" EPRT")
	s.replyLine(" SIZE")
	s.replyLine(" TVFS")
	s.replyLine(" UTF8")
	s.replyLine(" REST STREAM")
	s.replyLine(" HOST")
	s.replyLine(" HASH SHA-256")
	s.replyLine(" MFMT")
	s.reply(211, "End")
}

// mlstFeatureLine renders "MLST Type*;Size*;Modify*;Perm*;UNIX.mode*;"
// with a trailing '*' on facts this session currently emits.
func mlstFeatureLine(opts mlstOptions) string {
	star := func(on bool) string {
		if on {
			return "*"
		}
		return ""
	}
	return "MLST Type" + star(opts.Type) + ";Size" + star(opts.Size) + ";Modify" + star(opts.Modify) +
		";Perm" + star(opts.Perm) + ";UNIX.mode" + star(opts.UnixMode) + ";"
}

// handleOPTS implements OPTS UTF8 and OPTS MLST per spec.md §4.6.5.
func (s *session) handleOPTS(arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		s.reply(501, "Syntax error in parameters or arguments")
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "UTF8":
		s.reply(200, "OK")
	case "MLST":
		s.mlst = mlstOptions{}
		if len(fields) > 1 {
			for _, name := range strings.Split(fields[1], ";") {
				switch strings.ToLower(strings.TrimSpace(name)) {
				case "type":
					s.mlst.Type = true
				case "size":
					s.mlst.Size = true
				case "modify":
					s.mlst.Modify = true
				case "perm":
					s.mlst.Perm = true
				case "unix.mode":
					s.mlst.UnixMode = true
				}
			}
		}
		s.reply(200, mlstFeatureLine(s.mlst))
	default:
		s.reply(501, "Unknown option")
	}
}

// handleLIST, handleNLST, handleMLSD, handleMLST install the directory
// pump per spec.md §4.6.7.
func (s *session) handleLIST(arg string) { s.xferDir(arg, "LIST") }
func (s *session) handleNLST(arg string) { s.xferDir(arg, "NLST") }
func (s *session) handleMLSD(arg string) { s.xferDir(arg, "MLSD") }

// handleMLST and handleSTAT (with an argument) write to the control
// socket directly, per spec.md §4.6.7's aliasing rule.
func (s *session) handleMLST(arg string) {
	if arg == "" {
		s.xferDirOverControl(s.cwd, "MLST")
		return
	}
	s.xferDirOverControl(arg, "MLST")
}

func (s *session) handleSTAT(arg string) {
	if arg == "" {
		s.replyStatusSummary()
		return
	}
	s.xferDirOverControl(arg, "STAT")
}

// replyStatusSummary implements STAT with no argument per spec.md
// §4.6.5: progress during a transfer, an uptime summary otherwise.
func (s *session) replyStatusSummary() {
	s.replyLine("211-Status:")
	if s.state == stateDataTransfer {
		s.replyLine(fmt.Sprintf(" Transferring, position %d", s.filePosition))
	} else {
		s.replyLine(fmt.Sprintf(" Connected since %s", s.startTime.Format(time.RFC3339)))
	}
	if s.authorizedUser && s.authorizedPass {
		s.replyLine(" Logged in as " + s.user)
	} else {
		s.replyLine(" Not logged in")
	}
	s.reply(211, "End")
}

// xferDir resolves arg (or cwd if empty), stripping a leading -a/-l
// workaround prefix on failure, then installs the list-transfer pump
// over a normal data channel, per spec.md §4.6.7.
func (s *session) xferDir(arg, mode string) {
	if !s.pasvFlag && !s.portFlag {
		s.reply(503, "Bad sequence of commands")
		return
	}
	entries, cdirDue, err := s.prepareDirListing(arg, mode)
	if err != nil {
		s.replyError(err)
		return
	}
	s.dirIter = entries
	s.dirPos = 0
	s.dirMode = mode
	s.dirCdirDue = cdirDue
	s.send = true
	s.pump = (*session).listTransfer
	s.startDataTransfer()
}

// xferDirOverControl implements the MLST/STAT aliasing variant of
// spec.md §4.6.7: data_socket points at the command socket, MLST fact
// lines are indented, STAT lines use the LIST format, and the terminal
// response is 250, not 226.
func (s *session) xferDirOverControl(arg, mode string) {
	entries, cdirDue, err := s.prepareDirListing(arg, mode)
	if err != nil {
		s.replyError(err)
		return
	}
	s.dirIter = entries
	s.dirPos = 0
	s.dirMode = mode
	s.dirCdirDue = cdirDue
	s.dataSocket = s.commandSocket
	s.dataKind = dataAliased
	s.send = true
	s.pump = (*session).listTransferControl
	s.replyLine(fmt.Sprintf("250-%s", mode))
	s.setState(stateDataTransfer, false, false)
}

// listTransferControl is listTransfer's aliased-data-socket sibling: MLST
// fact lines are indented, STAT entries are LIST-format lines, and the
// terminal reply is 250, not 226.
func (s *session) listTransferControl() {
	if s.xferBuf.usedSize() == 0 {
		s.xferBuf.clear()
		if s.dirCdirDue {
			s.dirCdirDue = false
			if err := formatMLxLine(s.xferBuf, direntInfo{Name: "."}, s.mlst, "cdir", true); err != nil {
				s.finishListTransferControl()
				return
			}
		} else if s.dirPos < len(s.dirIter) {
			d := s.dirIter[s.dirPos]
			s.dirPos++
			var err error
			if s.dirMode == "STAT" {
				err = formatSTATLine(s.xferBuf, d, time.Now())
			} else {
				err = formatMLxLine(s.xferBuf, d, s.mlst, "", true)
			}
			if err != nil {
				s.reply(451, "Error formatting directory entry")
				s.setState(stateCommand, true, true)
				return
			}
		} else {
			s.finishListTransferControl()
			return
		}
	}

	n, err := s.dataSocket.Write(s.xferBuf.usedArea())
	if err != nil {
		if err == errAgain {
			return
		}
		s.setState(stateCommand, true, true)
		return
	}
	s.xferBuf.markFree(n)
	s.xferBuf.coalesce()
}

func (s *session) finishListTransferControl() {
	s.reply(250, "OK")
	s.setState(stateCommand, true, true)
}

// prepareDirListing implements xfer_dir steps 1-4 of spec.md §4.6.7.
// MLST always describes the single named object (step 2's "for MLST on
// a file, emit a single entry" extended to directories too, since MLST
// never lists children — that is MLSD's job); every other mode lists a
// directory's children or falls back to a single entry for a file arg.
func (s *session) prepareDirListing(arg, mode string) ([]direntInfo, bool, error) {
	target := s.cwd
	if arg != "" {
		resolved, err := s.resolveArg(arg)
		if err == nil {
			target = resolved
		} else {
			stripped, ok := stripListWorkaroundFlags(arg)
			if !ok {
				return nil, false, err
			}
			resolved, err2 := s.resolveArg(stripped)
			if err2 != nil {
				return nil, false, err
			}
			target = resolved
		}
	}

	if mode == "MLST" {
		info, err := s.fs.Stat(target)
		if err != nil {
			return nil, false, err
		}
		info.Name = baseName(target)
		return []direntInfo{info}, false, nil
	}

	isDir, err := s.fs.IsDir(target)
	if err != nil {
		return nil, false, err
	}
	if !isDir {
		if mode == "MLSD" {
			return nil, false, errNotDirectory
		}
		info, err := s.fs.Stat(target)
		if err != nil {
			return nil, false, err
		}
		info.Name = baseName(target)
		return []direntInfo{info}, false, nil
	}

	entries, err := s.fs.ReadDir(target)
	if err != nil {
		return nil, false, err
	}
	filtered := entries[:0]
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		filtered = append(filtered, e)
	}
	cdirDue := mode == "MLSD" && s.mlst.Type
	return filtered, cdirDue, nil
}

// baseName returns the last '/'-separated component of an already
// resolved (so always '/'-rooted) path.
func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// stripListWorkaroundFlags strips a leading "-a" or "-l" token when it is
// followed by end-of-string or a space, per spec.md §4.6.7 step 2.
func stripListWorkaroundFlags(arg string) (string, bool) {
	for _, flag := range []string{"-a", "-l"} {
		if arg == flag {
			return "", true
		}
		if strings.HasPrefix(arg, flag+" ") {
			return strings.TrimSpace(arg[len(flag):]), true
		}
	}
	return arg, false
}

// listTransfer is the list-transfer pump from spec.md §4.6.7: format one
// dirent per empty-buffer cycle, then flush to the data socket.
func (s *session) listTransfer() {
	if s.xferBuf.usedSize() == 0 {
		s.xferBuf.clear()
		if s.dirCdirDue {
			s.dirCdirDue = false
			if err := formatMLxLine(s.xferBuf, direntInfo{Name: "."}, s.mlst, "cdir", false); err != nil {
				s.finishListTransfer()
				return
			}
		} else if s.dirPos < len(s.dirIter) {
			d := s.dirIter[s.dirPos]
			s.dirPos++
			if err := s.formatDirent(d); err != nil {
				s.reply(451, "Error formatting directory entry")
				s.setState(stateCommand, true, true)
				return
			}
		} else {
			s.finishListTransfer()
			return
		}
	}

	n, err := s.dataSocket.Write(s.xferBuf.usedArea())
	if err != nil {
		if err == errAgain {
			return
		}
		s.reply(426, "Connection broken during transfer")
		s.setState(stateCommand, true, true)
		return
	}
	s.xferBuf.markFree(n)
	s.xferBuf.coalesce()
}

func (s *session) formatDirent(d direntInfo) error {
	now := time.Now()
	switch s.dirMode {
	case "LIST":
		return formatListLine(s.xferBuf, d, now)
	case "NLST":
		return formatNLSTLine(s.xferBuf, d)
	case "MLSD":
		return formatMLxLine(s.xferBuf, d, s.mlst, "", false)
	default:
		return formatListLine(s.xferBuf, d, now)
	}
}

func (s *session) finishListTransfer() {
	s.reply(226, "OK")
	s.setState(stateCommand, true, true)
}
