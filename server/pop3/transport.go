package pop3

import (
	"errors"
	"io"
	"net"
	"time"
)

// Transport is the byte stream a connection runs over. Plain TCP and TLS
// connections are interchangeable beneath it.
type Transport interface {
	io.ReadWriteCloser
	// SetIdleTimeout bounds how long a single Read may wait. Zero disables it.
	SetIdleTimeout(d time.Duration)
}

// RemoteAddresser is implemented by transports that know their peer.
type RemoteAddresser interface {
	RemoteAddr() net.Addr
}

type netTransport struct {
	net.Conn
	idle time.Duration
}

// NewNetTransport adapts a net.Conn (plain or *tls.Conn).
func NewNetTransport(conn net.Conn) Transport {
	return &netTransport{Conn: conn}
}

func (t *netTransport) Read(p []byte) (int, error) {
	if t.idle > 0 {
		if err := t.Conn.SetReadDeadline(time.Now().Add(t.idle)); err != nil {
			return 0, err
		}
	}
	return t.Conn.Read(p)
}

func (t *netTransport) SetIdleTimeout(d time.Duration) {
	t.idle = d
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
