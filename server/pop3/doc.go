// Package pop3 implements a POP3 (Post Office Protocol version 3) server engine.
//
// This package owns protocol correctness and nothing else:
//   - RFC 1939 POP3 core protocol
//   - RFC 1939 §7 APOP challenge/response authentication
//   - RFC 2449 CAPA, PIPELINING and extended response codes
//   - RFC 6856 LANG with English and Dutch response tables
//   - Dot-stuffed multiline responses
//
// Mailbox data is supplied by the host application through the Backend
// interface. The engine never persists anything on its own.
//
// # Server States
//
//	AUTHORIZATION → TRANSACTION → (QUIT commits deletions, connection closes)
//
// # Starting a POP3 Server
//
//	srv, err := pop3.New[MySessionData](ctx, "pop3", "mail.example.com", ":110", backend, pop3.ServerOptions{
//		MaxConnections: 500,
//		IdleTimeout:    10 * time.Minute,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	go srv.Start(errChan)
//
// # Message Numbering
//
// Every 1-based message number addresses the available view: the loaded
// messages that are not flagged for deletion, recomputed for every command.
// After "DELE 2" on a three message maildrop, LIST returns the original
// messages 1 and 3 numbered 1 and 2.
//
// # Message Deletion
//
// Messages marked with DELE are only deleted when the session
// ends normally with QUIT. If the connection is closed abnormally or
// times out, deletions are not applied.
package pop3
