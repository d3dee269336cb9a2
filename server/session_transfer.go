package server

import (
	"io"
	"os"
	"strings"
	"time"
)

// devZeroPath is the reserved path that turns a transfer into an
// unbounded source or sink of zero bytes, with no filesystem I/O
// involved, per spec.md §4.6.8.
const devZeroPath = "/devZero"

func (s *session) handleTYPE(arg string) {
	arg = strings.ToUpper(strings.TrimSpace(arg))
	switch arg {
	case "A", "A N":
		s.transferType = 'A'
		s.reply(200, "Type set to ASCII")
	case "I", "L 8":
		s.transferType = 'I'
		s.reply(200, "Type set to Image")
	default:
		s.reply(504, "Command not implemented for that parameter")
	}
}

func (s *session) handleALLO(arg string) {
	s.reply(202, "Command not implemented, superfluous at this site.")
}

// handleRETR implements RETR per spec.md §4.6.8.
func (s *session) handleRETR(arg string) {
	if !s.pasvFlag && !s.portFlag {
		s.reply(503, "Bad sequence of commands")
		return
	}
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if resolved == devZeroPath {
		s.devZero = true
		s.fileSize = 0
	} else {
		info, err := s.fs.Stat(resolved)
		if err != nil {
			s.reply(450, "File not found")
			return
		}
		fh, err := s.fs.OpenFile(resolved, os.O_RDONLY)
		if err != nil {
			s.reply(450, "Can't open file")
			return
		}
		if s.restartPosition != 0 {
			if _, err := fh.Seek(int64(s.restartPosition), io.SeekStart); err != nil {
				fh.Close()
				s.reply(450, "Can't seek file")
				return
			}
		}
		s.fileHandle = fh
		s.fileSize = info.Size
	}
	s.filePosition = int64(s.restartPosition)
	s.restartPosition = 0
	s.recv = false
	s.send = true
	s.pump = (*session).retrieveTransfer
	s.startDataTransfer()
}

// handleSTOR implements STOR per spec.md §4.6.8.
func (s *session) handleSTOR(arg string) {
	s.storeCommon(arg, false)
}

// handleAPPE implements APPE per spec.md §4.6.8: opens for append and, by
// explicit non-goal, ignores restart_position.
func (s *session) handleAPPE(arg string) {
	s.storeCommon(arg, true)
}

func (s *session) storeCommon(arg string, appendMode bool) {
	if !s.pasvFlag && !s.portFlag {
		s.reply(503, "Bad sequence of commands")
		return
	}
	resolved, err := s.resolveArg(arg)
	if err != nil {
		s.replyError(err)
		return
	}
	if resolved == devZeroPath {
		s.devZero = true
	} else {
		flag := os.O_WRONLY | os.O_CREATE
		if appendMode {
			flag |= os.O_APPEND
		} else if s.restartPosition != 0 {
			// reopen in place so Seek can position past existing bytes
		} else {
			flag |= os.O_TRUNC
		}
		fh, err := s.fs.OpenFile(resolved, flag)
		if err != nil {
			s.reply(450, "Can't open file")
			return
		}
		if !appendMode && s.restartPosition != 0 {
			if _, err := fh.Seek(int64(s.restartPosition), io.SeekStart); err != nil {
				fh.Close()
				s.reply(450, "Can't seek file")
				return
			}
		}
		s.fileHandle = fh
	}
	if appendMode {
		s.filePosition = 0
	} else {
		s.filePosition = int64(s.restartPosition)
	}
	s.restartPosition = 0
	s.send = false
	s.recv = true
	s.pump = (*session).storeTransfer
	s.startDataTransfer()
}

// handleSTOU is an explicit non-goal per SPEC_FULL.md's carried-over
// Non-goals list.
func (s *session) handleSTOU(arg string) {
	s.reply(502, "Command not implemented")
}

// retrieveTransfer pumps RETR bytes to the data socket, one poll-cycle
// iteration at a time, per spec.md §4.6.8.
func (s *session) retrieveTransfer() {
	if s.xferBuf.usedSize() == 0 {
		s.xferBuf.clear()
		if !s.devZero {
			n, err := s.fileHandle.Read(s.xferBuf.freeArea())
			if err != nil && err != io.EOF {
				s.reply(451, "Error reading file")
				s.setState(stateCommand, true, true)
				return
			}
			if n == 0 {
				s.finishTransfer(226, "OK")
				return
			}
			s.xferBuf.markUsed(n)
		} else {
			area := s.xferBuf.freeArea()
			for i := range area {
				area[i] = 0
			}
			s.xferBuf.markUsed(len(area))
		}
	}

	toSend := s.xferBuf.usedArea()
	if s.limiter != nil {
		if allowed := s.limiter.Allow(len(toSend)); allowed < len(toSend) {
			toSend = toSend[:allowed]
		}
		if len(toSend) == 0 {
			return
		}
	}

	n, err := s.dataSocket.Write(toSend)
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
	s.filePosition += int64(n)
}

// storeTransfer pumps STOR/APPE bytes from the data socket to the file.
func (s *session) storeTransfer() {
	if s.xferBuf.usedSize() == 0 {
		s.xferBuf.clear()
		n, err := s.dataSocket.Read(s.xferBuf.freeArea(), false)
		if err != nil {
			if err == errAgain {
				return
			}
			s.reply(451, "Error reading from data connection")
			s.setState(stateCommand, true, true)
			return
		}
		if n == 0 {
			s.finishTransfer(226, "OK")
			return
		}
		s.xferBuf.markUsed(n)
	}

	if s.devZero {
		s.filePosition += int64(s.xferBuf.usedSize())
		s.xferBuf.clear()
		return
	}

	n, err := s.fileHandle.Write(s.xferBuf.usedArea())
	if n <= 0 || err != nil {
		s.reply(451, "Failed to write file")
		s.setState(stateCommand, true, true)
		return
	}
	s.xferBuf.markFree(n)
	s.xferBuf.coalesce()
	s.filePosition += int64(n)
}

// finishTransfer records the completed transfer with the MetricsCollector
// and log sink before returning to COMMAND.
func (s *session) finishTransfer(code int, msg string) {
	d := time.Since(s.lastActivity)
	op := "RETR"
	if s.recv {
		op = "STOR"
	}
	s.server.metrics.RecordTransfer(op, s.filePosition, d)
	s.server.log().Info(fields{"session": s.id, "op": op, "bytes": s.filePosition}, "transfer complete")
	s.reply(code, msg)
	s.setState(stateCommand, true, true)
}
