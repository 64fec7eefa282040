// Package line implements the LINE platform edge: webhook signature
// verification, event parsing, and the Messaging API client for reply and
// push deliveries.
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader is the request header carrying the webhook HMAC.
const SignatureHeader = "X-Line-Signature"

// VerifySignature checks the webhook HMAC: SHA-256 over the raw, unparsed
// body keyed with the channel secret, base64-encoded. Comparison is
// constant-time.
func VerifySignature(body []byte, signature, channelSecret string) bool {
	if signature == "" || channelSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature a sender would attach for body.
func Sign(body []byte, channelSecret string) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
