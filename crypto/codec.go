package crypto

import "encoding/base64"

// EncodeBase64 / DecodeBase64 are the base64 codec used for every wire
// field in §6.1 (signatures, ephemeral public keys, encrypted bodies).
// Standard (not URL-safe) encoding with padding, matching the envelope
// wire format's plain JSON strings.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes a base64 string produced by EncodeBase64. Malformed
// input (§4.1.4 "Fails if called with malformed base64") surfaces the
// underlying encoding error.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
