package server

import "strings"

// statParent adapts this session's fs to PathResolver's statDirFunc.
func (s *session) statParent(path string) (bool, error) {
	return s.fs.IsDir(path)
}

// resolveArg runs PathResolver against arg relative to s.cwd, per
// spec.md §4.3.
func (s *session) resolveArg(arg string) (string, error) {
	return resolve(s.statParent, s.cwd, arg)
}

// quoteDoubled implements the RFC 959 257-response convention of
// doubling embedded double-quotes, per spec.md §4.6.5.
func quoteDoubled(path string) string {
	return strings.ReplaceAll(path, `"`, `""`)
}

func (s *session) handlePWD(arg string) {
	s.reply(257, `"`+quoteDoubled(s.cwd)+`" is the current directory`)
}

// handleCWD implements CWD, special-casing a bare ".." argument into the
// CDUP behavior per PathResolver's note that this is a command-layer
// decision, not resolvePath's.
func (s *session) handleCWD(arg string) {
	if arg == ".." {
		s.handleCDUP("")
		return
	}
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	isDir, err := s.fs.IsDir(resolved)
	if err != nil {
		s.replyError(err)
		return
	}
	if !isDir {
		s.reply(550, "Not a directory.")
		return
	}
	s.lwd = s.cwd
	s.cwd = resolved
	s.reply(250, "Directory changed to "+s.cwd)
}

func (s *session) handleCDUP(arg string) {
	resolved, err := s.resolveArg("..")
	if err != nil {
		s.replyError(err)
		return
	}
	s.lwd = s.cwd
	s.cwd = resolved
	s.reply(250, "Directory changed to "+s.cwd)
}

func (s *session) handleMKD(arg string) {
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.MakeDir(resolved); err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, `"`+quoteDoubled(resolved)+`" created`)
}

func (s *session) handleRMD(arg string) {
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.RemoveDir(resolved); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory removed")
}

func (s *session) handleDELE(arg string) {
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.DeleteFile(resolved); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "File deleted")
}

// handleRNFR sets rename_from; per spec.md §4.6.1's command table, RNTO
// without a preceding RNFR is a 503 bad-sequence error.
func (s *session) handleRNFR(arg string) {
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if _, err := s.fs.Stat(resolved); err != nil {
		s.replyError(err)
		return
	}
	s.renameFrom = resolved
	s.reply(350, "File exists, ready for destination name")
}

func (s *session) handleRNTO(arg string) {
	if s.renameFrom == "" {
		s.reply(503, "RNFR required first")
		return
	}
	from := s.renameFrom
	s.renameFrom = ""
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if err := s.fs.Rename(from, resolved); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Rename successful")
}
