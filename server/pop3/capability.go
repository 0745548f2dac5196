package pop3

// Implementation is advertised through the IMPLEMENTATION capability.
const Implementation = "pop3d"

// DefaultCapabilities returns the CAPA listing used when a server does not
// configure its own.
func DefaultCapabilities() []string {
	return []string{
		"IMPLEMENTATION " + Implementation,
		"LOGIN-DELAY 0",
		"USER",
		"UIDL",
		"UTF8",
		"EXPIRE NEVER",
		"LANG",
		"PIPELINING",
		"TOP",
		"RESP-CODES",
		"AUTH-RESP-CODE",
	}
}
