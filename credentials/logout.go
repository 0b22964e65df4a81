package credentials

// LogoutReason says why the credential set was torn down.
type LogoutReason string

const (
	// ReasonSessionExpired: the refresh sub-protocol failed.
	ReasonSessionExpired LogoutReason = "session_expired"
	// ReasonTokenLapsed: the expiry monitor saw the access token run out.
	ReasonTokenLapsed LogoutReason = "token_lapsed"
	// ReasonUserLogout: the user asked to log out.
	ReasonUserLogout LogoutReason = "user_logout"
)

// OnForcedLogout registers fn to be called after every ForceLogout. Listeners
// run synchronously in registration order.
func (s *Store) OnForcedLogout(fn func(LogoutReason)) {
	if fn == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// ForceLogout clears every credential and notifies the listeners. Listeners
// are notified even when clearing the persisted records failed, and that
// failure is returned.
func (s *Store) ForceLogout(reason LogoutReason) error {
	err := s.ClearAll()
	if err != nil {
		s.log.Error().Err(err).Str("reason", string(reason)).Msg("forced logout left persisted credentials behind")
	} else {
		s.log.Info().Str("reason", string(reason)).Msg("forced logout")
	}

	s.listenersMu.Lock()
	listeners := make([]func(LogoutReason), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}
	return err
}
