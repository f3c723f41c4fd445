// Package ftp implements an interactive FTP client engine over IPv4.
//
// # Overview
//
// A Session owns one control connection and provides:
//   - Multi-line reply framing and an origin-tagged transcript of every
//     server reply ("server: ") and local diagnostic ("system: ")
//   - Login, navigation and file management commands
//   - Active (PORT) and passive (PASV) data channels, one per LIST, RETR or STOR
//   - Resumable downloads and uploads (REST) that run concurrently and can be
//     paused, resumed and canceled
//
// # Basic Usage
//
//	s, err := ftp.Dial("192.168.1.10:21", ftp.WithTimeout(10*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Quit()
//
//	if err := s.Login("anonymous", "guest@"); err != nil {
//	    log.Fatal(err)
//	}
//
// The lower-level steps are available too; each returns the server reply:
//
//	resp, err := s.Connect("192.168.1.10", "21")      // 220
//	resp, err = s.AuthenticateUser("anonymous")        // 331
//	resp, err = s.AuthenticatePassword("guest@")       // 230
//
// # Directory Listings
//
// Every data command consumes a data channel negotiated just before it:
//
//	if _, err := s.SetPassiveMode(); err != nil {
//	    return err
//	}
//	entries, err := s.ListEntries("")
//
// # Managed Transfers
//
// Download and Upload register the transfer and return immediately. The
// registry allows one running transfer per (local, remote, size, direction):
//
//	info, err := s.Download("big.iso", "big.iso", size, false)
//	...
//	s.Pause(info.ID)
//	...
//	s.Resume(info.ID) // REST <bytes so far>, then RETR
//	info, err = s.Wait(info.ID)
//
// Transfers take turns on the control connection; their data connections
// run in parallel with the caller.
//
// # Error Handling
//
// Errors wrap sentinel values that can be matched with errors.Is, and
// negative replies carry their context in a *ProtocolError:
//
//	if _, err := s.MakeDirectory("existing"); err != nil {
//	    var pe *ftp.ProtocolError
//	    if errors.As(err, &pe) {
//	        fmt.Printf("Command: %s\n", pe.Command)
//	        fmt.Printf("Code: %s\n", pe.Code)
//	    }
//	    if errors.Is(err, ftp.ErrServerRejected) {
//	        // 5xx: do not retry
//	    }
//	}
package ftp
