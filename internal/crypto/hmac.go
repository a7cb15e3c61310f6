package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HMACAuth holds the L2 API credentials derived for a wallet on the
// Polymarket CLOB.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret, URL-safe base64
	Passphrase string // API passphrase
}

// Sign returns the L2 signature of timestamp+method+path+body.
func (h *HMACAuth) Sign(unixTS int64, method, path, body string) string {
	message := strconv.FormatInt(unixTS, 10) + method + path + body
	return hmacSHA256Base64(decodeSecret(h.Secret), message)
}

// Apply sets the five POLY_* L2 headers on req for the given wallet address
// and request body.
func (h *HMACAuth) Apply(req *http.Request, address, body string) {
	h.ApplyAt(req, address, body, time.Now().Unix())
}

// ApplyAt is Apply with a caller-supplied Unix timestamp.
func (h *HMACAuth) ApplyAt(req *http.Request, address, body string, unixTS int64) {
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_API_KEY", h.Key)
	req.Header.Set("POLY_PASSPHRASE", h.Passphrase)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(unixTS, 10))
	req.Header.Set("POLY_SIGNATURE", h.Sign(unixTS, req.Method, req.URL.Path, body))
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

// decodeSecret accepts URL-safe or standard base64 and falls back to the raw
// bytes so a malformed secret yields a rejected signature instead of a panic.
func decodeSecret(secret string) []byte {
	if b, err := base64.URLEncoding.DecodeString(secret); err == nil {
		return b
	}
	if b, err := base64.StdEncoding.DecodeString(secret); err == nil {
		return b
	}
	return []byte(secret)
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key, URL-safe base64
// encoded.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
