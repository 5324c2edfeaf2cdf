package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex signs message with key and returns the lowercase hex digest.
func HMACSHA256Hex(key, message string) string {
	mac := hmac.New(sha256.New, []byte(key))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualHex compares two hex digests in constant time.
func EqualHex(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
