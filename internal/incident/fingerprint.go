package incident

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint identifies an incident within a project. Two errors share an incident exactly
// when their name and message are equal, so the hash covers both, NUL separated.
func Fingerprint(name, message string) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
