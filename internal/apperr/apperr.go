// Package apperr defines the error kinds returned by the auction and escrow
// core. Every kind is terminal for the operation that produced it; the core
// never retries.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed operation. A Kind is itself an error so callers
// can match with errors.Is(err, apperr.OutOfWindow).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	OutOfWindow        Kind = "out_of_window"
	DuplicateBid       Kind = "duplicate_bid"
	DuplicateReveal    Kind = "duplicate_reveal"
	AlreadyVoted       Kind = "already_voted"
	NoSealedBid        Kind = "no_sealed_bid"
	CommitmentMismatch Kind = "commitment_mismatch"
	UnauthorizedParty  Kind = "unauthorized_party"
	AlreadyFinalized   Kind = "already_finalized"
	AlreadyResolved    Kind = "already_resolved"
	InvalidInput       Kind = "invalid_input"
	NotFound           Kind = "not_found"
)

// Error carries enough context to render a message for the caller.
type Error struct {
	Kind      Kind
	Op        string
	ListingID string
	Reason    string
	Err       error
}

// New returns an error of the given kind for op on a listing.
func New(kind Kind, op, listingID, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, ListingID: listingID, Reason: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ListingID != "" {
		msg += " " + e.ListingID
	}
	msg += ": " + string(e.Kind)
	switch {
	case e.Reason != "":
		msg += ": " + e.Reason
	case e.Err != nil && e.Err != error(e.Kind):
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// Wrap converts err into an *Error of the given kind, keeping an existing
// kind and filling in missing context.
func Wrap(err error, kind Kind, op, listingID string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			e.Op = op
		}
		if e.ListingID == "" {
			e.ListingID = listingID
		}
		return e
	}
	if k := KindOf(err); k != "" {
		// keep the message, not the kind prefix fmt.Errorf("%w: ...") put there
		reason := strings.TrimPrefix(strings.TrimPrefix(err.Error(), string(k)), ": ")
		return &Error{Kind: k, Op: op, ListingID: listingID, Reason: reason, Err: err}
	}
	return &Error{Kind: kind, Op: op, ListingID: listingID, Err: err}
}

// WithContext fills in the operation and listing of a kinded error. Errors
// without a kind, such as storage failures, are returned unchanged.
func WithContext(err error, op, listingID string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) == "" {
		return err
	}
	return Wrap(err, "", op, listingID)
}
