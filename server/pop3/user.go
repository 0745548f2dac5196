package pop3

// User is a principal returned by Backend.LookupUser.
type User struct {
	// Name is the login identifier, often an address.
	Name string
	// Credential is passed back to Backend.CompareCredential for USER/PASS.
	Credential string
	// Secret is the APOP shared secret. Nil disables APOP for this user.
	Secret []byte
}

// HasSecret reports whether the user can authenticate with APOP.
func (u *User) HasSecret() bool {
	return u != nil && u.Secret != nil
}
