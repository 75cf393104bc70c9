package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the shared-secret credentials for authenticated API
// requests. The same scheme is used by clients to sign requests and by the
// server middleware to verify them.
type HMACAuth struct {
	Key    string // API key identifier
	Secret string // shared secret
}

// Headers returns the authentication headers for a request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
//
// Returned header keys:
//   - WXMARK-API-KEY
//   - WXMARK-TIMESTAMP
//   - WXMARK-SIGNATURE
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp,
// which keeps signatures deterministic in tests.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return map[string]string{
		"WXMARK-API-KEY":   h.Key,
		"WXMARK-TIMESTAMP": ts,
		"WXMARK-SIGNATURE": sig,
	}
}

// Verify checks a request signature against the shared secret. maxSkew bounds
// how far the request timestamp may drift from now; zero disables the check.
func (h *HMACAuth) Verify(method, path, body, tsHeader, sigHeader string, maxSkew time.Duration) bool {
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return false
	}
	if maxSkew > 0 {
		drift := time.Since(time.Unix(ts, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > maxSkew {
			return false
		}
	}
	want := hmacSHA256Base64([]byte(h.Secret), tsHeader+method+path+body)
	return hmac.Equal([]byte(want), []byte(sigHeader))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
