package pop3

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// APOPDigest computes hex(MD5(banner || secret)) as defined in RFC 1939 §7.
func APOPDigest(banner Banner, secret []byte) string {
	h := md5.New()
	h.Write([]byte(banner.String()))
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyAPOP compares a client supplied digest against the expected one.
// Hex case is ignored.
func VerifyAPOP(banner Banner, secret []byte, digest string) bool {
	expected := APOPDigest(banner, secret)
	got := strings.ToLower(digest)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
