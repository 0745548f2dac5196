package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/migadu/pop3d/logger"
)

// ConnectionLimiter enforces total and per-IP connection limits for one
// listener. A limit of zero disables it.
type ConnectionLimiter struct {
	maxConnections   int
	maxPerIP         int
	currentTotal     atomic.Int64
	perIPConnections map[string]*atomic.Int64
	mu               sync.RWMutex
	cleanupInterval  time.Duration
	protocol         string
	trustedNets      []*net.IPNet // exempt from per-IP limits
}

// ConnectionStats is a snapshot of a limiter's counters.
type ConnectionStats struct {
	Protocol         string
	TotalConnections int64
	MaxConnections   int64
	MaxPerIP         int64
	IPConnections    map[string]int64
}

// NewConnectionLimiter creates a limiter without trusted networks.
func NewConnectionLimiter(protocol string, maxConnections, maxPerIP int) *ConnectionLimiter {
	return NewConnectionLimiterWithTrustedNets(protocol, maxConnections, maxPerIP, nil)
}

// NewConnectionLimiterWithTrustedNets creates a limiter whose trusted networks
// bypass the per-IP limit. Unparseable entries are logged and ignored.
func NewConnectionLimiterWithTrustedNets(protocol string, maxConnections, maxPerIP int, trusted []string) *ConnectionLimiter {
	trustedNets, err := ParseTrustedNetworks(trusted)
	if err != nil {
		logger.Warn("Connection limiter: ignoring trusted networks", "protocol", protocol, "error", err)
		trustedNets = nil
	}

	return &ConnectionLimiter{
		maxConnections:   maxConnections,
		maxPerIP:         maxPerIP,
		perIPConnections: make(map[string]*atomic.Int64),
		cleanupInterval:  5 * time.Minute,
		protocol:         protocol,
		trustedNets:      trustedNets,
	}
}

// ParseTrustedNetworks parses CIDRs. Plain addresses become /32 or /128.
func ParseTrustedNetworks(cidrs []string) ([]*net.IPNet, error) {
	var networks []*net.IPNet
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted network '%s': not a valid IP address or CIDR", cidr)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			network = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		networks = append(networks, network)
	}
	return networks, nil
}

// IsTrustedConnection reports whether remoteAddr is in a trusted network.
func (cl *ConnectionLimiter) IsTrustedConnection(remoteAddr net.Addr) bool {
	if len(cl.trustedNets) == 0 {
		return false
	}
	ip := net.ParseIP(remoteHost(remoteAddr))
	if ip == nil {
		return false
	}
	for _, network := range cl.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// CanAccept checks the limits without registering a connection.
func (cl *ConnectionLimiter) CanAccept(remoteAddr net.Addr) error {
	if cl.maxConnections <= 0 && cl.maxPerIP <= 0 {
		return nil
	}

	if cl.maxConnections > 0 {
		if current := cl.currentTotal.Load(); current >= int64(cl.maxConnections) {
			return fmt.Errorf("maximum connections reached (%d/%d)", current, cl.maxConnections)
		}
	}

	if cl.maxPerIP > 0 && !cl.IsTrustedConnection(remoteAddr) {
		ip := remoteHost(remoteAddr)
		cl.mu.RLock()
		ipCounter, exists := cl.perIPConnections[ip]
		cl.mu.RUnlock()
		if exists {
			if current := ipCounter.Load(); current >= int64(cl.maxPerIP) {
				return fmt.Errorf("maximum connections per IP reached for %s (%d/%d)", ip, current, cl.maxPerIP)
			}
		}
	}

	return nil
}

// Accept registers a connection and returns its release function. The
// release function may be called more than once.
func (cl *ConnectionLimiter) Accept(remoteAddr net.Addr) (func(), error) {
	if err := cl.CanAccept(remoteAddr); err != nil {
		return nil, err
	}

	ip := remoteHost(remoteAddr)
	trusted := cl.IsTrustedConnection(remoteAddr)
	total := cl.currentTotal.Add(1)

	var ipCounter *atomic.Int64
	if cl.maxPerIP > 0 && !trusted {
		cl.mu.Lock()
		var exists bool
		ipCounter, exists = cl.perIPConnections[ip]
		if !exists {
			ipCounter = &atomic.Int64{}
			cl.perIPConnections[ip] = ipCounter
		}
		cl.mu.Unlock()
		perIP := ipCounter.Add(1)
		logger.Debug("Connection limiter: Connection accepted", "protocol", cl.protocol, "ip", ip, "total", total, "max_total", cl.maxConnections, "per_ip", perIP, "max_per_ip", cl.maxPerIP)
	} else {
		logger.Debug("Connection limiter: Connection accepted", "protocol", cl.protocol, "ip", ip, "trusted", trusted, "total", total, "max_total", cl.maxConnections)
	}

	var once sync.Once
	return func() {
		once.Do(func() { cl.release(ip, ipCounter) })
	}, nil
}

func (cl *ConnectionLimiter) release(ip string, ipCounter *atomic.Int64) {
	total := cl.currentTotal.Add(-1)
	if ipCounter == nil {
		logger.Debug("Connection limiter: Connection released", "protocol", cl.protocol, "ip", ip, "total", total)
		return
	}

	remaining := ipCounter.Add(-1)
	if remaining <= 0 {
		cl.mu.Lock()
		if ipCounter.Load() <= 0 {
			delete(cl.perIPConnections, ip)
		}
		cl.mu.Unlock()
	}
	logger.Debug("Connection limiter: Connection released", "protocol", cl.protocol, "ip", ip, "total", total, "per_ip", remaining)
}

// GetStats returns the current counters.
func (cl *ConnectionLimiter) GetStats() ConnectionStats {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	stats := ConnectionStats{
		Protocol:         cl.protocol,
		TotalConnections: cl.currentTotal.Load(),
		MaxConnections:   int64(cl.maxConnections),
		MaxPerIP:         int64(cl.maxPerIP),
		IPConnections:    make(map[string]int64, len(cl.perIPConnections)),
	}
	for ip, counter := range cl.perIPConnections {
		stats.IPConnections[ip] = counter.Load()
	}
	return stats
}

// StartCleanup removes stale per-IP entries until ctx is done.
func (cl *ConnectionLimiter) StartCleanup(ctx context.Context) {
	if cl.cleanupInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(cl.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cl.cleanup()
			}
		}
	}()
}

func (cl *ConnectionLimiter) cleanup() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cleaned := 0
	for ip, counter := range cl.perIPConnections {
		if counter.Load() <= 0 {
			delete(cl.perIPConnections, ip)
			cleaned++
		}
	}
	if cleaned > 0 {
		logger.Debug("Connection limiter: Cleaned up stale IP entries", "protocol", cl.protocol, "count", cleaned)
	}
}
