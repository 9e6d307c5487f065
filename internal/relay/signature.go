package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/anand-gl/jsoncanonicalizer"
)

// ComputeSignature returns the hex-encoded HMAC-SHA256 of
// "<timestamp>.<canonicalJSON(event)>" under the session signing secret.
// The event payload is canonicalized first so that key ordering and
// whitespace differences between sender and receiver do not matter.
func ComputeSignature(secret string, timestamp int64, event []byte) (string, error) {
	canonical, err := jsoncanonicalizer.Transform(event)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize event payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature reports whether the received signature matches the
// recomputed one, using a constant-time comparison. Events that fail this
// check must never be forwarded.
func VerifySignature(secret string, timestamp int64, event []byte, signature string) bool {
	expected, err := ComputeSignature(secret, timestamp, event)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
