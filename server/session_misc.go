package server

import (
	"os"
	"strconv"
	"strings"
)

func (s *session) handleSYST(arg string) {
	s.reply(215, "UNIX Type: L8")
}

func (s *session) handleSTRU(arg string) {
	if strings.ToUpper(strings.TrimSpace(arg)) == "F" {
		s.reply(200, "Structure set to File")
		return
	}
	s.reply(504, "Command not implemented for that parameter")
}

func (s *session) handleMODE(arg string) {
	if strings.ToUpper(strings.TrimSpace(arg)) == "S" {
		s.reply(200, "Mode set to Stream")
		return
	}
	s.reply(504, "Command not implemented for that parameter")
}

func (s *session) handleNOOP(arg string) {
	s.reply(200, "OK")
}

// helpCommands is the fixed listing HELP with no argument reports, per
// spec.md §4.6.5.
var helpCommands = []string{
	"USER", "PASS", "ACCT", "QUIT", "CWD", "XCWD", "CDUP", "XCUP", "PWD", "XPWD",
	"MKD", "XMKD", "RMD", "XRMD", "LIST", "NLST", "MLSD", "MLST", "RETR", "STOR",
	"APPE", "STOU", "DELE", "RNFR", "RNTO", "REST", "TYPE", "MODE", "STRU",
	"PORT", "PASV", "EPSV", "EPRT", "SIZE", "MDTM", "MFMT", "FEAT", "OPTS",
	"SYST", "STAT", "HELP", "NOOP", "SITE", "HOST", "HASH", "ABOR", "ALLO",
}

func (s *session) handleHELP(arg string) {
	arg = strings.ToUpper(strings.TrimSpace(arg))
	if arg == "" {
		s.replyLine("214-The following commands are recognized:")
		var line strings.Builder
		for i, c := range helpCommands {
			line.WriteString(" " + c)
			if (i+1)%8 == 0 {
				s.replyLine(line.String())
				line.Reset()
			}
		}
		if line.Len() > 0 {
			s.replyLine(line.String())
		}
		s.reply(214, "End")
		return
	}
	for _, c := range helpCommands {
		if c == arg {
			s.reply(214, "Syntax: "+arg+" ...")
			return
		}
	}
	s.reply(502, "Unknown command "+arg)
}

// handleSITE implements SITE HELP/USER/PASS/PORT/SAVE/CHMOD. Only
// SITE HELP is auth-exempt, per spec.md §4.6.5's command table — the
// exemption is enforced here rather than at dispatch since the table
// only tracks exemptions at whole-command granularity.
func (s *session) handleSITE(arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		s.reply(501, "SITE command requires parameters")
		return
	}
	sub := strings.ToUpper(fields[0])

	if sub != "HELP" && !(s.authorizedUser && s.authorizedPass) {
		s.reply(530, "Not logged in")
		return
	}

	switch sub {
	case "HELP":
		s.reply(214, "SITE HELP USER PASS PORT SAVE CHMOD")
	case "USER":
		if len(fields) < 2 {
			s.reply(501, "Syntax: SITE USER <name>")
			return
		}
		s.server.config.User = fields[1]
		s.reply(200, "SITE USER command successful")
	case "PASS":
		if len(fields) < 2 {
			s.reply(501, "Syntax: SITE PASS <pass>")
			return
		}
		s.server.config.Pass = fields[1]
		s.reply(200, "SITE PASS command successful")
	case "PORT":
		if len(fields) < 2 {
			s.reply(501, "Syntax: SITE PORT <n>")
			return
		}
		port, err := strconv.Atoi(fields[1])
		if err != nil || port <= 0 || port > 65535 {
			s.reply(501, "Invalid port")
			return
		}
		s.server.config.Port = port
		s.reply(200, "SITE PORT command successful; takes effect on restart")
	case "SAVE":
		s.reply(200, "SITE SAVE command successful")
	case "CHMOD":
		if len(fields) < 3 {
			s.reply(501, "Syntax: SITE CHMOD <mode> <path>")
			return
		}
		mode, err := strconv.ParseUint(fields[1], 8, 32)
		if err != nil || mode > 0777 {
			s.reply(501, "Invalid mode")
			return
		}
		resolved, err := s.resolveArg(strings.Join(fields[2:], " "))
		if err != nil {
			s.replyError(err)
			return
		}
		if err := s.fs.Chmod(resolved, os.FileMode(mode)); err != nil {
			s.replyError(err)
			return
		}
		s.reply(200, "SITE CHMOD command successful")
	default:
		s.reply(502, "SITE command not implemented")
	}
}

// handleHOST implements RFC 7151: recorded before login, rejected after.
func (s *session) handleHOST(arg string) {
	if s.authorizedUser || s.authorizedPass {
		s.reply(503, "HOST must be sent before login")
		return
	}
	s.hostArg = strings.TrimSpace(arg)
	s.reply(220, "HOST accepted")
}

// handleQUIT replies 221 and half-closes the command socket, per
// spec.md §4.6.5 and §5.
func (s *session) handleQUIT(arg string) {
	s.reply(221, "Goodbye")
	s.halfClose()
}
