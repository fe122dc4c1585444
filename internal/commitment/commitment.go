// Package commitment derives and checks sealed-bid commitments.
//
// A commitment is the legacy Keccak-256 digest of the bid amount, encoded as a
// 32-byte big-endian unsigned integer of base units, immediately followed by
// the raw bytes of the bidder's secret. The fixed-width amount keeps the
// boundary between amount and secret unambiguous. Clients compute it before
// the bidding window closes and reveal (amount, secret) afterwards.
package commitment

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"github.com/sudo-init-do/blindbid/internal/apperr"
)

const (
	// DigestSize is the length of a commitment in bytes.
	DigestSize = 32

	// MaxAmountDigits bounds the decimal digits of an amount; 2^256-1 has 78.
	MaxAmountDigits = 78

	amountSize = 32
)

// ErrInvalidInput is returned for amounts or secrets that cannot be committed to.
var ErrInvalidInput error = apperr.InvalidInput

// Digest is an opaque sealed-bid commitment.
type Digest [DigestSize]byte

// String renders the digest as 0x-prefixed hex.
func (d Digest) String() string {
	return "0x" + hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(b []byte) error {
	parsed, err := ParseDigest(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a hex digest, with or without the 0x prefix.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return d, fmt.Errorf("%w: digest is not hex: %v", ErrInvalidInput, err)
	}
	if len(raw) != DigestSize {
		return d, fmt.Errorf("%w: digest must be %d bytes, got %d", ErrInvalidInput, DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// ParseAmount parses a base-unit amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount is not numeric", ErrInvalidInput)
	}
	if err := CheckAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// CheckAmount accepts non-negative whole amounts that fit in 256 bits. The
// digit bound is checked on the coefficient and exponent before anything
// expands the value, so inputs like 1e20000000 are rejected in constant time.
func CheckAmount(amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: amount is negative", ErrInvalidInput)
	}
	exp := int(amount.Exponent())
	if exp > MaxAmountDigits || exp < -MaxAmountDigits {
		return fmt.Errorf("%w: amount exceeds %d digits", ErrInvalidInput, MaxAmountDigits)
	}
	if digits := len(amount.Coefficient().Text(10)); digits+exp > MaxAmountDigits {
		return fmt.Errorf("%w: amount exceeds %d digits", ErrInvalidInput, MaxAmountDigits)
	}
	if !amount.IsInteger() {
		return fmt.Errorf("%w: amount is not a whole number of base units", ErrInvalidInput)
	}
	if amount.BigInt().BitLen() > 8*amountSize {
		return fmt.Errorf("%w: amount does not fit in %d bytes", ErrInvalidInput, amountSize)
	}
	return nil
}

// Commit returns the commitment to amount and secret.
func Commit(amount decimal.Decimal, secret string) (Digest, error) {
	var d Digest
	if err := CheckAmount(amount); err != nil {
		return d, err
	}
	if secret == "" {
		return d, fmt.Errorf("%w: secret must not be empty", ErrInvalidInput)
	}

	var encoded [amountSize]byte
	amount.BigInt().FillBytes(encoded[:])

	h := sha3.NewLegacyKeccak256()
	h.Write(encoded[:])
	h.Write([]byte(secret))
	h.Sum(d[:0])
	return d, nil
}

// Verify reports whether digest commits to amount and secret.
func Verify(digest Digest, amount decimal.Decimal, secret string) bool {
	computed, err := Commit(amount, secret)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(computed[:], digest[:]) == 1
}
