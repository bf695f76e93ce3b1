package quickpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ChecksumHeader carries the gateway's signature of the callback body.
const ChecksumHeader = "Quickpay-Checksum-Sha256"

// Checksum computes the hex-encoded HMAC-SHA256 of body under the account's
// private key.
func Checksum(body []byte, privateKey string) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyChecksum reports whether the received signature matches the body.
// The comparison is constant time.
func VerifyChecksum(body []byte, privateKey, received string) bool {
	return hmac.Equal([]byte(Checksum(body, privateKey)), []byte(received))
}
