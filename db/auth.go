package db

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	blfCryptPrefix = "{BLF-CRYPT}"
	ssha512Prefix  = "{SSHA512}"
	sha512Prefix   = "{SHA512}"
)

var ErrPasswordMismatch = errors.New("password mismatch")

// GenerateBcryptHash hashes a password in the {BLF-CRYPT} scheme.
func GenerateBcryptHash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error generating bcrypt hash: %w", err)
	}
	return blfCryptPrefix + string(hash), nil
}

// VerifyPassword checks password against a stored hash. Bcrypt hashes with
// or without the {BLF-CRYPT} prefix are accepted, as are base64 {SSHA512}
// and {SHA512} hashes imported from other systems.
func VerifyPassword(hashedPassword, password string) error {
	switch {
	case strings.HasPrefix(hashedPassword, ssha512Prefix):
		return verifySHA512(strings.TrimPrefix(hashedPassword, ssha512Prefix), password, true)
	case strings.HasPrefix(hashedPassword, sha512Prefix):
		return verifySHA512(strings.TrimPrefix(hashedPassword, sha512Prefix), password, false)
	case strings.HasPrefix(hashedPassword, blfCryptPrefix),
		strings.HasPrefix(hashedPassword, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(strings.TrimPrefix(hashedPassword, blfCryptPrefix)), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	default:
		return fmt.Errorf("unsupported password hash format")
	}
}

func verifySHA512(encoded, password string, salted bool) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode password hash: %w", err)
	}
	if len(decoded) < sha512.Size || (!salted && len(decoded) != sha512.Size) {
		return fmt.Errorf("invalid SHA512 hash length")
	}

	hash, salt := decoded[:sha512.Size], decoded[sha512.Size:]
	h := sha512.New()
	h.Write([]byte(password))
	h.Write(salt)
	if subtle.ConstantTimeCompare(h.Sum(nil), hash) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
