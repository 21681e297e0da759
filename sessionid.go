package banjo

import (
	"crypto/rand"
	"encoding/hex"
	"os"
)

// TestSessionIDEnv is the environment variable that overrides session-id
// generation for deterministic tests.
const TestSessionIDEnv = "BANJO_TEST_SESSION_ID"

// NewSessionID returns lower-case hex of 16 cryptographically-random
// bytes, optionally prefixed by prefix. If TestSessionIDEnv is set, its
// value is returned verbatim (ignoring prefix) so snapshot tests can be
// deterministic.
func NewSessionID(prefix string) (string, error) {
	if v, ok := os.LookupEnv(TestSessionIDEnv); ok && v != "" {
		return v, nil
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := hex.EncodeToString(buf)
	if prefix != "" {
		return prefix + id, nil
	}
	return id, nil
}
