package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// validSignature checks an HMAC-SHA256 hex signature of the raw webhook body.
func validSignature(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
