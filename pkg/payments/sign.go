package payments

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// Sign computes the gateway signature for a JSON body: the MD5 hex digest of
// the base64-encoded body concatenated with the API key.
func Sign(body []byte, apiKey string) string {
	encoded := base64.StdEncoding.EncodeToString(body)
	sum := md5.Sum([]byte(encoded + apiKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a webhook signature against the expected one in
// constant time.
func VerifySignature(body []byte, signature, apiKey string) bool {
	expected := Sign(body, apiKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
