package server

// handleUSERCmd implements USER per spec.md §4.6.6: authorized_user is
// set iff the configured user is empty or matches arg. An empty
// configured password completes the login immediately.
func (s *session) handleUSERCmd(arg string) {
	s.user = arg
	s.authorizedUser = s.server.config.User == "" || arg == s.server.config.User
	s.authorizedPass = false

	if !s.authorizedUser {
		s.reply(530, "Not logged in")
		return
	}
	if s.server.config.Pass == "" {
		if err := s.completeLogin(""); err != nil {
			s.reply(530, "Not logged in")
			return
		}
		s.reply(230, "OK")
		return
	}
	s.reply(331, "Need password")
}

// handlePASSCmd implements PASS per spec.md §4.6.6.
func (s *session) handlePASSCmd(arg string) {
	if !s.authorizedUser {
		s.reply(530, "Not logged in")
		return
	}
	s.authorizedPass = s.server.config.Pass == "" || arg == s.server.config.Pass
	if !s.authorizedPass {
		s.server.metrics.RecordAuthentication(false, s.user)
		s.reply(430, "Invalid password")
		return
	}
	if err := s.completeLogin(arg); err != nil {
		s.authorizedPass = false
		s.server.metrics.RecordAuthentication(false, s.user)
		s.reply(430, "Invalid password")
		return
	}
	s.reply(230, "OK")
}

// completeLogin asks the Driver for a ClientContext once both auth gates
// pass, establishing this session's filesystem view and its PASV/EPSV
// advertising Settings per spec.md §4.6.4.
func (s *session) completeLogin(pass string) error {
	ctx, err := s.server.driver.Authenticate(s.user, pass, s.hostArg)
	if err != nil {
		return err
	}
	s.fs = ctx
	s.server.metrics.RecordAuthentication(true, s.user)
	return nil
}

// handleACCT implements ACCT per spec.md §4.6.6's command table: RFC 1123
// requires the verb exist, but this server has no account concept beyond
// the USER/PASS pair.
func (s *session) handleACCT(arg string) {
	s.reply(202, "Command not implemented, superfluous at this site.")
}
