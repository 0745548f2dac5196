package tlsmanager

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/migadu/pop3d/config"
	"github.com/migadu/pop3d/logger"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

const defaultCacheDir = "/var/lib/pop3d/certs"

// ErrMissingServerName is returned when a TLS handshake is attempted without SNI
var ErrMissingServerName = errors.New("missing server name")

// ErrHostNotAllowed is returned when a TLS handshake is attempted for a domain not in the allowlist
var ErrHostNotAllowed = errors.New("host not allowed")

// ErrCertificateUnavailable is returned when a certificate cannot be retrieved
var ErrCertificateUnavailable = errors.New("certificate unavailable")

// Manager provides certificates for implicit TLS listeners, either from
// files or from Let's Encrypt.
type Manager struct {
	config      config.TLSConfig
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config

	certMu sync.RWMutex
	cert   *tls.Certificate

	rateLimitMap map[string]time.Time // Rate-limited domains and their retry-after times
	rateLimitMu  sync.RWMutex
}

// New creates a TLS manager for the configured provider.
func New(cfg config.TLSConfig) (*Manager, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("TLS is not enabled in configuration")
	}

	m := &Manager{
		config:       cfg,
		rateLimitMap: make(map[string]time.Time),
	}

	switch cfg.Provider {
	case "file":
		if err := m.initFileProvider(); err != nil {
			return nil, fmt.Errorf("failed to initialize file provider: %w", err)
		}
	case "letsencrypt":
		if err := m.initLetsEncryptProvider(); err != nil {
			return nil, fmt.Errorf("failed to initialize Let's Encrypt provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown TLS provider: %s (must be 'file' or 'letsencrypt')", cfg.Provider)
	}

	logger.Info("TLS manager initialized", "provider", cfg.Provider)
	return m, nil
}

func baseTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:    tls.VersionTLS12,
		NextProtos:    []string{"pop3"},
		Renegotiation: tls.RenegotiateNever,
	}
}

func (m *Manager) initFileProvider() error {
	if m.config.CertFile == "" || m.config.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file are required for provider='file'")
	}
	if err := m.Reload(); err != nil {
		return err
	}

	m.tlsConfig = baseTLSConfig()
	m.tlsConfig.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		m.certMu.RLock()
		defer m.certMu.RUnlock()
		return m.cert, nil
	}
	return nil
}

// Reload re-reads the certificate files. New handshakes use the new
// certificate; it is a no-op for Let's Encrypt.
func (m *Manager) Reload() error {
	if m.config.Provider != "file" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	m.certMu.Lock()
	m.cert = &cert
	m.certMu.Unlock()

	logger.Info("Loaded TLS certificate from files", "cert", m.config.CertFile, "key", m.config.KeyFile)
	return nil
}

func (m *Manager) initLetsEncryptProvider() error {
	leCfg := m.config.LetsEncrypt
	if leCfg == nil {
		return fmt.Errorf("letsencrypt configuration is required for provider='letsencrypt'")
	}
	if leCfg.Email == "" {
		return fmt.Errorf("letsencrypt.email is required")
	}
	if len(leCfg.Domains) == 0 {
		return fmt.Errorf("letsencrypt.domains is required and must not be empty")
	}

	cacheDir := leCfg.CacheDir
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return fmt.Errorf("failed to create certificate cache %s: %w", cacheDir, err)
	}

	m.autocertMgr = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Email:      leCfg.Email,
		HostPolicy: autocert.HostWhitelist(leCfg.Domains...),
		Cache:      autocert.DirCache(cacheDir),
		Client: &acme.Client{
			DirectoryURL: acme.LetsEncryptURL,
		},
	}

	// SNI-less clients get the first configured domain.
	defaultDomain := leCfg.Domains[0]

	m.tlsConfig = baseTLSConfig()
	m.tlsConfig.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		return m.getCertificate(hello, defaultDomain)
	}

	logger.Info("Let's Encrypt autocert initialized", "domains", leCfg.Domains, "cache", cacheDir, "default_domain", defaultDomain)
	return nil
}

func (m *Manager) getCertificate(hello *tls.ClientHelloInfo, defaultDomain string) (*tls.Certificate, error) {
	serverName := strings.ToLower(hello.ServerName)
	if serverName == "" {
		if defaultDomain == "" {
			return nil, ErrMissingServerName
		}
		logger.Debug("TLS: Missing SNI - using default domain", "domain", defaultDomain)
		serverName = defaultDomain
	}

	if err := m.autocertMgr.HostPolicy(context.Background(), serverName); err != nil {
		logger.Info("TLS: Rejected certificate request for unconfigured domain", "domain", serverName)
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, serverName)
	}

	if limited, retryAfter := m.isRateLimited(serverName); limited {
		// Cached certificates are still served while rate limited.
		if _, err := m.autocertMgr.Cache.Get(context.Background(), serverName); errors.Is(err, autocert.ErrCacheMiss) {
			return nil, fmt.Errorf("%w for %s: rate limited until %v", ErrCertificateUnavailable, serverName, retryAfter)
		}
	}

	modified := *hello
	modified.ServerName = serverName
	cert, err := m.autocertMgr.GetCertificate(&modified)
	if err != nil {
		if retryAfter, ok := parseRateLimit(err); ok {
			m.markRateLimited(serverName, retryAfter)
		}
		logger.Error("TLS: Failed to get certificate", "server_name", serverName, "error", err)
		return nil, fmt.Errorf("%w for %s: %v", ErrCertificateUnavailable, serverName, err)
	}

	m.clearRateLimit(serverName)
	return cert, nil
}

// parseRateLimit recognizes ACME 429 responses and extracts the retry-after
// time, defaulting to 24 hours.
func parseRateLimit(err error) (time.Time, bool) {
	errStr := err.Error()
	if !strings.Contains(errStr, "429") || !strings.Contains(errStr, "rateLimited") {
		return time.Time{}, false
	}

	retryAfter := time.Now().Add(24 * time.Hour)
	if _, rest, ok := strings.Cut(errStr, "retry after "); ok {
		ts, _, _ := strings.Cut(rest, ": ")
		if parsed, perr := time.Parse("2006-01-02 15:04:05 MST", strings.TrimSpace(ts)); perr == nil {
			retryAfter = parsed
		}
	}
	return retryAfter, true
}

// GetTLSConfig returns the TLS configuration for use with servers
func (m *Manager) GetTLSConfig() *tls.Config {
	return m.tlsConfig
}

// HTTPHandler returns the ACME HTTP-01 challenge handler, or nil for file
// certificates.
func (m *Manager) HTTPHandler() http.Handler {
	if m.autocertMgr == nil {
		return nil
	}
	return m.autocertMgr.HTTPHandler(nil)
}

// HTTPAddr is the address for the challenge listener.
func (m *Manager) HTTPAddr() string {
	if m.config.LetsEncrypt == nil || m.config.LetsEncrypt.HTTPAddr == "" {
		return ":80"
	}
	return m.config.LetsEncrypt.HTTPAddr
}

func (m *Manager) isRateLimited(domain string) (bool, time.Time) {
	m.rateLimitMu.RLock()
	defer m.rateLimitMu.RUnlock()

	retryAfter, exists := m.rateLimitMap[domain]
	if !exists || time.Now().After(retryAfter) {
		return false, time.Time{}
	}
	return true, retryAfter
}

func (m *Manager) markRateLimited(domain string, retryAfter time.Time) {
	m.rateLimitMu.Lock()
	defer m.rateLimitMu.Unlock()

	m.rateLimitMap[domain] = retryAfter
	logger.Warn("TLS: Domain marked as rate-limited", "domain", domain, "retry_after", retryAfter)
}

func (m *Manager) clearRateLimit(domain string) {
	m.rateLimitMu.Lock()
	defer m.rateLimitMu.Unlock()

	delete(m.rateLimitMap, domain)
}
