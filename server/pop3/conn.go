package pop3

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/migadu/pop3d/pkg/metrics"
	serverPkg "github.com/migadu/pop3d/server"
	"github.com/migadu/pop3d/server/idgen"
)

// DefaultMaxInvalidCommands is the number of unparseable lines tolerated
// before the connection is closed.
const DefaultMaxInvalidCommands = 10

const readBufferSize = 4096

// errQuit ends the read loop after a successful QUIT.
var errQuit = errors.New("quit")

// ConnOptions configure a single connection. Everything in it is read-only
// and may be shared between connections.
type ConnOptions struct {
	// ID identifies the connection in logs. Generated when empty.
	ID string
	// Hostname is used in the APOP banner.
	Hostname string
	// ServerName labels logs and metrics, e.g. "pop3" or "pop3s".
	ServerName string
	// Service is the name announced in the greeting and QUIT responses.
	Service string

	Languages       *LanguageSet
	DefaultLanguage string
	Capabilities    []string

	MaxInvalidCommands int
	MaxLineLength      int
	IdleTimeout        time.Duration

	// Secure marks connections that run over TLS.
	Secure bool
	Stats  serverPkg.ConnectionStatsProvider

	// OnAuthenticated is called once the session enters TRANSACTION.
	OnAuthenticated func()
}

// Conn runs the POP3 state machine over one Transport.
type Conn[T any] struct {
	serverPkg.Session

	// Data is free for the Backend to use for the lifetime of the connection.
	Data T

	backend   Backend[T]
	opts      ConnOptions
	transport Transport
	framer    *LineFramer
	session   *Session

	mu     sync.Mutex // guards writer and closed
	writer *bufio.Writer
	closed bool

	remoteAddr net.Addr
	startTime  time.Time
}

// NewConn prepares a connection. Serve must be called to run it.
func NewConn[T any](t Transport, backend Backend[T], opts ConnOptions) *Conn[T] {
	if opts.Languages == nil {
		opts.Languages = DefaultLanguages()
	}
	if opts.MaxInvalidCommands <= 0 {
		opts.MaxInvalidCommands = DefaultMaxInvalidCommands
	}
	if opts.MaxLineLength == 0 {
		opts.MaxLineLength = DefaultMaxLineLength
	}
	if opts.Capabilities == nil {
		opts.Capabilities = DefaultCapabilities()
	}
	if opts.Service == "" {
		opts.Service = Implementation
	}
	if opts.ServerName == "" {
		opts.ServerName = "pop3"
	}
	if opts.ID == "" {
		opts.ID = idgen.New()
	}

	lang, ok := opts.Languages.Lookup(opts.DefaultLanguage)
	if !ok {
		lang = opts.Languages.Default()
	}

	c := &Conn[T]{
		backend:   backend,
		opts:      opts,
		transport: t,
		framer:    NewLineFramer(opts.MaxLineLength),
		session:   newSession(NewBanner(opts.Hostname), lang),
		writer:    bufio.NewWriter(t),
		startTime: time.Now(),
	}

	if ra, ok := t.(RemoteAddresser); ok {
		c.remoteAddr = ra.RemoteAddr()
	}
	host, _ := serverPkg.GetHostPortFromAddr(c.remoteAddr)

	c.Session = serverPkg.Session{
		Id:         opts.ID,
		RemoteIP:   host,
		HostName:   opts.Hostname,
		ServerName: opts.ServerName,
		Protocol:   "POP3",
		Stats:      opts.Stats,
	}

	t.SetIdleTimeout(opts.IdleTimeout)
	return c
}

// ID returns the connection identifier.
func (c *Conn[T]) ID() string { return c.opts.ID }

// RemoteAddr returns the peer address if the transport exposes one.
func (c *Conn[T]) RemoteAddr() net.Addr { return c.remoteAddr }

// Secure reports whether the connection runs over TLS.
func (c *Conn[T]) Secure() bool { return c.opts.Secure }

// SessionState exposes the protocol state, mainly for backends and tests.
func (c *Conn[T]) SessionState() *Session { return c.session }

// Serve greets the client and processes commands until QUIT, disconnect,
// idle timeout or a fatal error. A clean QUIT or client hang-up returns nil.
// Backend errors are returned wrapped; the transport is always closed. A
// panic in a handler ends this session only.
func (c *Conn[T]) Serve(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in session: %v", r)
		}
		c.finish(ctx, err)
	}()

	c.DebugLog("connection established")

	if err := c.writeResponse(OK(c.localize(MsgGreeting, c.opts.Service, c.peerDescription()), c.session.banner.String())); err != nil {
		return err
	}
	if err := c.flush(); err != nil {
		return err
	}

	buf := make([]byte, readBufferSize)
	for {
		for {
			line, ok, ferr := c.framer.Next()
			if !ok {
				break
			}
			if err := c.handleFrame(ctx, line, ferr); err != nil {
				_ = c.flush()
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
			if c.framer.Pending() == 0 {
				if err := c.flush(); err != nil {
					return err
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return ErrServerShutdown
		}

		n, rerr := c.transport.Read(buf)
		if n > 0 {
			_, _ = c.framer.Write(buf[:n])
		}
		if rerr != nil {
			if n > 0 && c.framer.Pending() > 0 {
				continue
			}
			switch {
			case ctx.Err() != nil:
				return ErrServerShutdown
			case isTimeout(rerr):
				_ = c.writeResponse(Err(ExtNone, c.localize(MsgIdleTimeout)))
				_ = c.flush()
				return ErrIdleTimeout
			case errors.Is(rerr, io.EOF) || serverPkg.IsConnectionError(rerr):
				c.DebugLog("client dropped connection: %v", rerr)
				return nil
			default:
				return fmt.Errorf("read: %w", rerr)
			}
		}
	}
}

func (c *Conn[T]) handleFrame(ctx context.Context, line string, frameErr error) error {
	if frameErr != nil {
		c.DebugLog("dropped oversized line")
		return c.invalidCommand()
	}

	cmd, err := DecodeCommand(line)
	if err != nil {
		c.DebugLog("invalid command: %v", err)
		return c.invalidCommand()
	}

	start := time.Now()
	status, err := c.dispatch(ctx, cmd)
	metrics.CommandDuration.WithLabelValues(c.opts.ServerName, cmd.Verb).Observe(time.Since(start).Seconds())
	if status != "" {
		metrics.CommandsTotal.WithLabelValues(c.opts.ServerName, cmd.Verb, status).Inc()
	}
	return err
}

// invalidCommand answers an unparseable line and enforces the limit. The
// response that crosses the limit is the last one sent.
func (c *Conn[T]) invalidCommand() error {
	metrics.InvalidCommands.WithLabelValues(c.opts.ServerName).Inc()
	if c.session.countInvalid() > c.opts.MaxInvalidCommands {
		c.WarnLog("closing connection after %d invalid commands", c.session.invalidCommands)
		if err := c.writeResponse(Err(ExtNone, c.localize(MsgTooManyInvalid))); err != nil {
			return err
		}
		return ErrTooManyInvalidCommands
	}
	return c.writeResponse(Err(ExtNone, c.localize(MsgInvalidCommand)))
}

// Shutdown tells the client the server is going away and closes the
// transport, which unblocks a pending read in Serve.
func (c *Conn[T]) Shutdown() {
	c.mu.Lock()
	if !c.closed {
		_, _ = c.writer.WriteString(Err(ExtNone, c.localize(MsgShutdown)).Encode())
		_ = c.writer.Flush()
	}
	c.mu.Unlock()
	c.close()
}

func (c *Conn[T]) finish(ctx context.Context, err error) {
	c.close()

	if c.session.state == StateTransaction {
		metrics.AuthenticatedConnectionsCurrent.WithLabelValues(c.opts.ServerName).Dec()
	}
	metrics.ConnectionDuration.WithLabelValues(c.opts.ServerName).Observe(time.Since(c.startTime).Seconds())

	if releaser, ok := c.backend.(SessionReleaser[T]); ok {
		releaser.ReleaseSession(context.WithoutCancel(ctx), c)
	}

	var reason string
	switch {
	case err == nil:
		reason = "normal"
	case errors.Is(err, ErrTooManyInvalidCommands):
		reason = "abuse"
	case errors.Is(err, ErrIdleTimeout):
		reason = "idle_timeout"
	case errors.Is(err, ErrServerShutdown):
		reason = "shutdown"
	case errors.Is(err, ErrMaildropNotLoaded):
		reason = "internal_error"
	default:
		reason = "error"
	}
	metrics.Disconnects.WithLabelValues(c.opts.ServerName, reason).Inc()

	if err != nil && !errors.Is(err, ErrIdleTimeout) && !errors.Is(err, ErrServerShutdown) && !errors.Is(err, ErrTooManyInvalidCommands) {
		c.ErrorLog("connection ended with error: %v", err)
	} else {
		c.DebugLog("connection closed (%s) after %s", reason, time.Since(c.startTime).Round(time.Millisecond))
	}
}

func (c *Conn[T]) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.transport.Close()
}

func (c *Conn[T]) localize(key MessageKey, args ...any) string {
	return c.session.language.Localize(key, args...)
}

func (c *Conn[T]) peerDescription() string {
	if c.remoteAddr == nil {
		return "unknown peer"
	}
	return c.remoteAddr.Network() + " " + c.remoteAddr.String()
}

func (c *Conn[T]) writeResponse(r Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	_, err := c.writer.WriteString(r.Encode())
	return err
}

func (c *Conn[T]) writeMultiline(r Response, lines []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if _, err := c.writer.WriteString(r.Encode()); err != nil {
		return err
	}
	return WriteMultiline(c.writer, lines)
}

func (c *Conn[T]) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.writer.Flush()
}
