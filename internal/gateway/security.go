package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SigHeader carries the HMAC of the raw request body, hex encoded with a
// scheme prefix, computed with the shared secret the sender was provisioned.
const (
	SigHeader = "X-Sentry-Signature"
	sigPrefix = "sha256="
)

const (
	ReasonOK               = "ok"
	ReasonMissingSignature = "missing_signature"
	ReasonBadSigFormat     = "bad_signature_format"
	ReasonSigMismatch      = "signature_mismatch"
	ReasonInvalidEvent     = "invalid_event"
	ReasonReplayExceeded   = "replay_window_exceeded"
	ReasonDuplicateEvent   = "duplicate_event_id"
	ReasonRateLimited      = "rate_limited"
	ReasonProcessingError  = "processing_error"
)

func ComputeSignature(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the header against the raw body in constant time.
func VerifySignature(secret, body []byte, header string) (bool, string) {
	if header == "" {
		return false, ReasonMissingSignature
	}
	if !strings.HasPrefix(header, sigPrefix) {
		return false, ReasonBadSigFormat
	}
	provided := strings.TrimSpace(strings.TrimPrefix(header, sigPrefix))
	expected := ComputeSignature(secret, body)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return false, ReasonSigMismatch
	}
	return true, ReasonOK
}

func SHA256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CheckReplayWindow rejects events whose claimed timestamp is too far from
// server time in either direction.
func CheckReplayWindow(ts, now time.Time, window time.Duration) (bool, string) {
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return false, ReasonReplayExceeded
	}
	return true, ReasonOK
}
