package ftp

import "time"

// startKeepAliveLocked starts a goroutine that sends NOOP commands
// if the connection has been idle for the configured idleTimeout.
// The caller holds s.mu.
func (s *Session) startKeepAliveLocked() {
	if s.idleTimeout <= 0 {
		return
	}

	quit := make(chan struct{})
	s.quitChan = quit

	// We use a ticker that runs at half the idle timeout to be safe
	ticker := time.NewTicker(s.idleTimeout / 2)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// A held lock means a command or a data transfer is in
				// progress; the connection is not idle.
				if !s.mu.TryLock() {
					continue
				}
				if s.conn == nil {
					s.mu.Unlock()
					return
				}
				if time.Since(s.lastCommand) >= s.idleTimeout {
					s.logger.Debug("sending keep-alive NOOP")
					// Ignore errors (connection might be closed)
					_, _ = s.exchangeLocked("NOOP")
				}
				s.mu.Unlock()
			case <-quit:
				return
			}
		}
	}()
}

// stopKeepAliveLocked stops the keep-alive goroutine, if any.
func (s *Session) stopKeepAliveLocked() {
	if s.quitChan != nil {
		close(s.quitChan)
		s.quitChan = nil
	}
}
