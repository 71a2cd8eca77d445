// Package idempotency provides the deterministic hashing helpers the gateway
// relies on for message identity and payload checksums.
package idempotency

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives a deterministic message id from the source address and
// payload. Used when the broker delivers a message without its own id.
func Fingerprint(address, payload string) string {
	sum := sha256.Sum256([]byte(address + payload))
	return "SHA256:" + hex.EncodeToString(sum[:])
}

// Checksum returns the lowercase hex MD5 of the payload
func Checksum(payload string) string {
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
