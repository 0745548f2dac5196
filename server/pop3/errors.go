package pop3

import "errors"

var (
	// ErrUnknownCommand is returned by DecodeCommand for empty lines and
	// verbs outside the recognized set.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrLineTooLong is reported by the LineFramer when a client line
	// exceeds the configured maximum.
	ErrLineTooLong = errors.New("line too long")

	// ErrMaildropNotLoaded means a transaction command was dispatched without
	// a loaded maildrop. It is fatal to the connection.
	ErrMaildropNotLoaded = errors.New("maildrop not loaded in transaction state")

	// ErrTooManyInvalidCommands closes a connection that exceeded the invalid
	// command limit.
	ErrTooManyInvalidCommands = errors.New("too many invalid commands")

	// ErrNoContent is returned by Message.Contents when no fetcher was set.
	ErrNoContent = errors.New("message has no content fetcher")

	// ErrIdleTimeout ends a connection that stayed silent for too long.
	ErrIdleTimeout = errors.New("idle timeout")

	// ErrServerShutdown ends connections when the server is closing.
	ErrServerShutdown = errors.New("server shutting down")
)
