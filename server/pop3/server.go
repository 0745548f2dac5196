package pop3

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/migadu/pop3d/logger"
	"github.com/migadu/pop3d/pkg/metrics"
	serverPkg "github.com/migadu/pop3d/server"
)

// ServerOptions holds the settings shared by every connection of a Server.
type ServerOptions struct {
	// Service is the name used in greetings. Defaults to Implementation.
	Service string
	// TLSConfig turns the listener into an implicit TLS (POP3S) listener.
	TLSConfig *tls.Config

	MaxConnections      int
	MaxConnectionsPerIP int
	TrustedNetworks     []string

	IdleTimeout        time.Duration
	MaxInvalidCommands int
	MaxLineLength      int

	Languages       *LanguageSet
	DefaultLanguage string
	Capabilities    []string

	// DrainTimeout bounds how long Close waits for sessions. Defaults to 30s.
	DrainTimeout time.Duration
}

// Server accepts connections on one address and runs a Conn for each.
type Server[T any] struct {
	addr     string
	name     string
	hostname string
	backend  Backend[T]
	options  ServerOptions

	appCtx context.Context
	cancel context.CancelFunc

	// Connection counters
	totalConnections         atomic.Int64
	authenticatedConnections atomic.Int64

	limiter *serverPkg.ConnectionLimiter

	listenerMu sync.Mutex
	listener   net.Listener

	activeConns   map[*Conn[T]]struct{}
	activeConnsMu sync.RWMutex
	connsWg       sync.WaitGroup
}

// New creates a server. Nothing is bound until Start or Serve is called.
func New[T any](appCtx context.Context, name, hostname, addr string, backend Backend[T], options ServerOptions) (*Server[T], error) {
	if backend == nil {
		return nil, errors.New("pop3: backend is required")
	}
	if hostname == "" {
		return nil, errors.New("pop3: hostname is required")
	}
	if options.Languages == nil {
		options.Languages = DefaultLanguages()
	}
	if options.DefaultLanguage != "" {
		if _, ok := options.Languages.Lookup(options.DefaultLanguage); !ok {
			return nil, fmt.Errorf("pop3: unknown default language %q", options.DefaultLanguage)
		}
	}
	if options.DrainTimeout <= 0 {
		options.DrainTimeout = 30 * time.Second
	}

	serverCtx, cancel := context.WithCancel(appCtx)

	return &Server[T]{
		addr:        addr,
		name:        name,
		hostname:    hostname,
		backend:     backend,
		options:     options,
		appCtx:      serverCtx,
		cancel:      cancel,
		limiter:     serverPkg.NewConnectionLimiterWithTrustedNets("POP3", options.MaxConnections, options.MaxConnectionsPerIP, options.TrustedNetworks),
		activeConns: make(map[*Conn[T]]struct{}),
	}, nil
}

// Start binds the configured address and serves until the application
// context is cancelled. Fatal listener errors are sent to errChan.
func (s *Server[T]) Start(errChan chan error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.cancel()
		errChan <- fmt.Errorf("failed to create listener: %w", err)
		return
	}

	if s.options.TLSConfig != nil {
		listener = tls.NewListener(listener, s.options.TLSConfig)
		logger.Info("POP3 server listening with TLS", "name", s.name, "addr", s.addr, "idle_timeout", s.options.IdleTimeout)
	} else {
		logger.Info("POP3 server listening", "name", s.name, "addr", s.addr, "tls", false, "idle_timeout", s.options.IdleTimeout)
	}

	if err := s.Serve(listener); err != nil {
		errChan <- err
	}
}

// Serve accepts connections from listener. It returns nil after a graceful
// stop and the accept error otherwise.
func (s *Server[T]) Serve(listener net.Listener) error {
	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	defer listener.Close()

	s.limiter.StartCleanup(s.appCtx)

	go func() {
		<-s.appCtx.Done()
		logger.Debug("POP3: stopping", "name", s.name)
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.appCtx.Done():
				logger.Info("POP3 server stopped gracefully", "name", s.name)
				return nil
			default:
				return err
			}
		}

		releaseConn, err := s.limiter.Accept(conn.RemoteAddr())
		if err != nil {
			logger.Debug("POP3: Connection rejected", "name", s.name, "error", err)
			metrics.ConnectionsRejected.WithLabelValues(s.name).Inc()
			conn.Close()
			continue
		}

		totalCount := s.totalConnections.Add(1)
		metrics.ConnectionsTotal.WithLabelValues(s.name).Inc()
		metrics.ConnectionsCurrent.WithLabelValues(s.name).Inc()

		c := NewConn[T](NewNetTransport(conn), s.backend, s.connOptions())
		logger.Debug("POP3: new connection", "name", s.name, "remote", c.RemoteIP, "session", c.ID(), "total_connections", totalCount, "authenticated_connections", s.authenticatedConnections.Load())

		s.addConn(c)
		s.connsWg.Add(1)

		go func() {
			defer func() {
				if c.SessionState().State() == StateTransaction {
					s.authenticatedConnections.Add(-1)
				}
				s.totalConnections.Add(-1)
				metrics.ConnectionsCurrent.WithLabelValues(s.name).Dec()
				s.removeConn(c)
				releaseConn()
				s.connsWg.Done()
			}()
			if err := c.Serve(s.appCtx); err != nil && !errors.Is(err, ErrServerShutdown) {
				c.DebugLog("session ended: %v", err)
			}
		}()
	}
}

func (s *Server[T]) connOptions() ConnOptions {
	return ConnOptions{
		Hostname:           s.hostname,
		ServerName:         s.name,
		Service:            s.options.Service,
		Languages:          s.options.Languages,
		DefaultLanguage:    s.options.DefaultLanguage,
		Capabilities:       s.options.Capabilities,
		MaxInvalidCommands: s.options.MaxInvalidCommands,
		MaxLineLength:      s.options.MaxLineLength,
		IdleTimeout:        s.options.IdleTimeout,
		Secure:             s.options.TLSConfig != nil,
		Stats:              s,
		OnAuthenticated: func() {
			s.authenticatedConnections.Add(1)
		},
	}
}

// Addr returns the bound address once Serve is running.
func (s *Server[T]) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close notifies active sessions, stops accepting and waits for sessions to
// drain.
func (s *Server[T]) Close() {
	s.cancel()
	s.sendGracefulShutdownMessage()
	s.waitForSessionsDrain(s.options.DrainTimeout)
}

func (s *Server[T]) waitForSessionsDrain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.connsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("POP3: All sessions drained gracefully", "name", s.name)
	case <-time.After(timeout):
		logger.Warn("POP3: Session drain timeout, forcing shutdown", "name", s.name, "timeout", timeout)
	}
}

func (s *Server[T]) addConn(c *Conn[T]) {
	s.activeConnsMu.Lock()
	defer s.activeConnsMu.Unlock()
	s.activeConns[c] = struct{}{}
}

func (s *Server[T]) removeConn(c *Conn[T]) {
	s.activeConnsMu.Lock()
	defer s.activeConnsMu.Unlock()
	delete(s.activeConns, c)
}

func (s *Server[T]) sendGracefulShutdownMessage() {
	s.activeConnsMu.RLock()
	conns := make([]*Conn[T], 0, len(s.activeConns))
	for c := range s.activeConns {
		conns = append(conns, c)
	}
	s.activeConnsMu.RUnlock()

	if len(conns) == 0 {
		return
	}

	logger.Debug("POP3: Sending graceful shutdown message to active connections", "name", s.name, "count", len(conns))
	for _, c := range conns {
		c.Shutdown()
	}
}

// GetTotalConnections returns the current total connection count
func (s *Server[T]) GetTotalConnections() int64 {
	return s.totalConnections.Load()
}

// GetAuthenticatedConnections returns the current authenticated connection count
func (s *Server[T]) GetAuthenticatedConnections() int64 {
	return s.authenticatedConnections.Load()
}
