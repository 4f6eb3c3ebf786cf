// Package signature authenticates webhook bodies signed with HMAC-SHA256.
//
// Senders put "sha256=" followed by the hex-encoded HMAC of the exact request
// body in a header. Validation must run over the bytes received on the wire:
// re-encoding a parsed body changes whitespace and key order and breaks the
// digest.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Prefix is the scheme marker every signature header starts with.
const Prefix = "sha256="

// Reasons a signature can be rejected.
const (
	ReasonMalformedHeader   = "malformed-header"
	ReasonSignatureMismatch = "signature-mismatch"
	ReasonInternal          = "internal-error"
)

var (
	ErrMalformedHeader = errors.New("signature header is malformed")
	ErrMismatch        = errors.New("signature does not match body")
	ErrInternal        = errors.New("signature validation failed internally")
)

// InvalidError describes why a signature was rejected.
type InvalidError struct {
	Reason string
	err    error
}

func (e *InvalidError) Error() string {
	return e.err.Error()
}

func (e *InvalidError) Unwrap() error {
	return e.err
}

func invalid(reason string, err error) *InvalidError {
	return &InvalidError{Reason: reason, err: err}
}

// Reason extracts the rejection reason from err, or "" when err is nil or not
// a validation error.
func Reason(err error) string {
	var inv *InvalidError
	if errors.As(err, &inv) {
		return inv.Reason
	}
	return ""
}

// Validate checks signatureHeader against the HMAC-SHA256 of rawBody keyed by
// secret. It returns nil when the signature is valid and an *InvalidError
// otherwise.
func Validate(rawBody []byte, signatureHeader, secret string) error {
	if !strings.HasPrefix(signatureHeader, Prefix) {
		return invalid(ReasonMalformedHeader, ErrMalformedHeader)
	}
	if secret == "" {
		return invalid(ReasonInternal, ErrInternal)
	}

	expected := digest(rawBody, secret)
	received := []byte(signatureHeader[len(Prefix):])

	if !constantTimeEqual(expected, received) {
		return invalid(ReasonSignatureMismatch, ErrMismatch)
	}
	return nil
}

// Sign returns the header value a sender would attach to body.
func Sign(body []byte, secret string) string {
	return Prefix + string(digest(body, secret))
}

func digest(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

// constantTimeEqual compares the received digest to the expected one. The
// loop always walks the full expected length and never exits on the first
// differing byte; a length mismatch is folded into the accumulator instead of
// returning early.
func constantTimeEqual(expected, received []byte) bool {
	var diff byte
	n := len(received)

	for i := 0; i < len(expected); i++ {
		var b byte
		if i < n {
			b = received[i]
		}
		diff |= expected[i] ^ b
	}

	lengthDiff := uint(len(expected) ^ n)
	for lengthDiff != 0 {
		diff |= byte(lengthDiff) | 1
		lengthDiff >>= 8
	}

	return diff == 0
}
