package polar

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// secretPrefix marks a webhook secret whose remainder is base64-encoded key
// material (Standard Webhooks convention).
const secretPrefix = "whsec_"

// SignatureHeaders carries the three webhook signature headers.
type SignatureHeaders struct {
	ID        string // webhook-id
	Timestamp string // webhook-timestamp
	Signature string // webhook-signature, space-separated "scheme,base64" tokens
}

// DecodeSecret returns the raw key material for a webhook secret. A secret
// with the whsec_ prefix is base64-decoded; anything else is used as-is.
func DecodeSecret(secret string) ([]byte, error) {
	if strings.HasPrefix(secret, secretPrefix) {
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
		if err != nil {
			return nil, fmt.Errorf("decode webhook secret: %w", err)
		}
		return key, nil
	}
	return []byte(secret), nil
}

// Sign computes the signature for a delivery: base64(HMAC-SHA256(key,
// "{id}.{timestamp}.{body}")).
func Sign(key []byte, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the delivery signature against every candidate in
// the signature header. The header holds space-separated "scheme,value"
// tokens; a delivery is valid if any v1 candidate matches. Comparison is
// constant-time.
func VerifySignature(secret string, hdr SignatureHeaders, body []byte) (bool, error) {
	if hdr.ID == "" || hdr.Timestamp == "" || hdr.Signature == "" {
		return false, nil
	}

	key, err := DecodeSecret(secret)
	if err != nil {
		return false, err
	}

	expected := Sign(key, hdr.ID, hdr.Timestamp, body)

	for _, candidate := range strings.Fields(hdr.Signature) {
		scheme, value, found := strings.Cut(candidate, ",")
		if !found || scheme != "v1" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(value)) == 1 {
			return true, nil
		}
	}

	return false, nil
}
