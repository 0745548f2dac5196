package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/migadu/pop3d/config"
	"github.com/migadu/pop3d/logger"
	"github.com/migadu/pop3d/mailstore"
	"github.com/migadu/pop3d/server/pop3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startServers starts every configured listener and returns the channel
// receiving their fatal errors.
func startServers(ctx context.Context, deps *serverDependencies) chan error {
	errChan := make(chan error, 4)
	cfg := deps.config

	if deps.tlsManager != nil {
		if handler := deps.tlsManager.HTTPHandler(); handler != nil {
			go startHTTPServer(ctx, deps, "HTTP-01 challenge", deps.tlsManager.HTTPAddr(), handler, errChan)
		}
	}

	if cfg.Metrics.Enabled {
		go startHTTPServer(ctx, deps, "metrics", cfg.Metrics.Addr, metricsRouter(deps), errChan)
	}

	if cfg.Servers.POP3.Start {
		go startPOP3Server(ctx, deps, "pop3", cfg.Servers.POP3, errChan)
	}
	if cfg.Servers.POP3S.Start {
		go startPOP3Server(ctx, deps, "pop3s", cfg.Servers.POP3S, errChan)
	}

	return errChan
}

func metricsRouter(deps *serverDependencies) http.Handler {
	path := deps.config.Metrics.Path
	if path == "" {
		path = "/metrics"
	}

	r := mux.NewRouter()
	r.Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	if deps.healthMonitor != nil {
		r.Handle("/health", deps.healthMonitor.Handler()).Methods(http.MethodGet)
	}
	return r
}

func startHTTPServer(ctx context.Context, deps *serverDependencies, name, addr string, handler http.Handler, errChan chan error) {
	deps.serverManager.Add()
	defer deps.serverManager.Done()

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Infof("Shutting down %s server...", name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", "name", name, "error", err)
		}
	}()

	logger.Info("HTTP server listening", "name", name, "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("%s server failed: %w", name, err)
	}
}

func startPOP3Server(ctx context.Context, deps *serverDependencies, name string, serverConfig config.POP3ServerConfig, errChan chan error) {
	deps.serverManager.Add()
	defer deps.serverManager.Done()

	options, err := pop3Options(serverConfig, deps)
	if err != nil {
		errChan <- fmt.Errorf("invalid configuration for %s: %w", name, err)
		return
	}

	s, err := pop3.New[mailstore.SessionData](ctx, name, deps.config.Hostname, serverConfig.Addr, deps.store, options)
	if err != nil {
		errChan <- err
		return
	}

	go func() {
		<-ctx.Done()
		logger.Infof("Shutting down POP3 server %s...", name)
		s.Close()
	}()

	s.Start(errChan)
}

func pop3Options(serverConfig config.POP3ServerConfig, deps *serverDependencies) (pop3.ServerOptions, error) {
	idleTimeout, err := serverConfig.GetCommandTimeout()
	if err != nil {
		return pop3.ServerOptions{}, err
	}
	drainTimeout, err := serverConfig.GetDrainTimeout()
	if err != nil {
		return pop3.ServerOptions{}, err
	}

	var tlsConfig *tls.Config
	if serverConfig.TLS {
		if deps.tlsManager == nil {
			return pop3.ServerOptions{}, fmt.Errorf("tls is enabled but no TLS provider is configured")
		}
		tlsConfig = deps.tlsManager.GetTLSConfig()
	}

	return pop3.ServerOptions{
		Service:             serverConfig.Service,
		TLSConfig:           tlsConfig,
		MaxConnections:      serverConfig.MaxConnections,
		MaxConnectionsPerIP: serverConfig.MaxConnectionsPerIP,
		TrustedNetworks:     serverConfig.TrustedNetworks,
		IdleTimeout:         idleTimeout,
		MaxInvalidCommands:  serverConfig.MaxInvalidCommands,
		MaxLineLength:       serverConfig.MaxLineLength,
		DefaultLanguage:     serverConfig.DefaultLanguage,
		Capabilities:        serverConfig.Capabilities,
		DrainTimeout:        drainTimeout,
	}, nil
}
