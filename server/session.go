package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/migadu/pop3d/logger"
)

// ConnectionStatsProvider defines an interface for getting connection statistics
type ConnectionStatsProvider interface {
	GetTotalConnections() int64
	GetAuthenticatedConnections() int64
}

// Session carries the identity of one client connection for logging.
type Session struct {
	Id         string
	RemoteIP   string
	User       string // Login name once authenticated
	HostName   string
	ServerName string // Name of the server instance (e.g., "pop3", "pop3s")
	Protocol   string
	Stats      ConnectionStatsProvider
}

func (s *Session) attrs(format string, args ...any) []any {
	user := "none"
	if s.User != "" {
		user = s.User
	}

	protocolPrefix := s.Protocol
	if s.ServerName != "" {
		protocolPrefix = fmt.Sprintf("%s-%s", s.Protocol, s.ServerName)
	}

	attrs := []any{"protocol", protocolPrefix, "conn", fmt.Sprintf("remote=%s", s.RemoteIP), "user", user, "session", s.Id}
	if s.Stats != nil {
		attrs = append(attrs, "conn_total", s.Stats.GetTotalConnections(), "conn_auth", s.Stats.GetAuthenticatedConnections())
	}
	return append(attrs, "msg", fmt.Sprintf(format, args...))
}

func (s *Session) log(level slog.Level, format string, args ...any) {
	l := logger.Get()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, "Session", s.attrs(format, args...)...)
}

func (s *Session) Log(format string, args ...any) {
	s.log(slog.LevelInfo, format, args...)
}

func (s *Session) DebugLog(format string, args ...any) {
	s.log(slog.LevelDebug, format, args...)
}

func (s *Session) WarnLog(format string, args ...any) {
	s.log(slog.LevelWarn, format, args...)
}

func (s *Session) ErrorLog(format string, args ...any) {
	s.log(slog.LevelError, format, args...)
}
