package pop3

import (
	"fmt"
	"strings"

	"github.com/migadu/pop3d/server/idgen"
)

// Banner is the per-connection APOP challenge, rendered as <token@hostname>.
type Banner struct {
	Token    string
	Hostname string
}

// NewBanner generates a fresh banner for hostname.
func NewBanner(hostname string) Banner {
	return Banner{Token: idgen.New(), Hostname: hostname}
}

// String returns the exact wire form used in the greeting and in APOP digests.
func (b Banner) String() string {
	return "<" + b.Token + "@" + b.Hostname + ">"
}

// ParseBanner reverses Banner.String.
func ParseBanner(s string) (Banner, error) {
	if len(s) < 3 || s[0] != '<' || s[len(s)-1] != '>' {
		return Banner{}, fmt.Errorf("invalid banner %q", s)
	}
	token, host, ok := strings.Cut(s[1:len(s)-1], "@")
	if !ok || token == "" || host == "" {
		return Banner{}, fmt.Errorf("invalid banner %q", s)
	}
	return Banner{Token: token, Hostname: host}, nil
}
