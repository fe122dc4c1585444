package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKind(t *testing.T) {
	err := New(DuplicateBid, "submitSealedBid", "l-1", "bidder %s already sealed", "alice")
	require.True(t, errors.Is(err, DuplicateBid))
	require.False(t, errors.Is(err, DuplicateReveal))
	assert.Equal(t, "submitSealedBid l-1: duplicate_bid: bidder alice already sealed", err.Error())

	wrapped := fmt.Errorf("handler: %w", err)
	require.True(t, errors.Is(wrapped, DuplicateBid))
	assert.Equal(t, DuplicateBid, KindOf(wrapped))
}

func TestWrap(t *testing.T) {
	plain := fmt.Errorf("%w: secret must not be empty", InvalidInput)
	err := Wrap(plain, CommitmentMismatch, "revealBid", "l-2")
	require.True(t, errors.Is(err, InvalidInput))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "revealBid", e.Op)
	assert.Equal(t, "l-2", e.ListingID)
	assert.Equal(t, "revealBid l-2: invalid_input: secret must not be empty", err.Error())

	bare := Wrap(InvalidInput, NotFound, "createListing", "")
	assert.Equal(t, "createListing: invalid_input", bare.Error())

	infra := Wrap(errors.New("connection refused"), NotFound, "getListing", "l-4")
	assert.Equal(t, "getListing l-4: not_found: connection refused", infra.Error())

	existing := &Error{Kind: NotFound}
	out := Wrap(existing, InvalidInput, "getListing", "l-3")
	require.True(t, errors.Is(out, NotFound))
	assert.Equal(t, "l-3", existing.ListingID)

	assert.Nil(t, Wrap(nil, NotFound, "x", "y"))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}

func TestWithContext(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Same(t, plain, WithContext(plain, "finalize", "l-1"))

	err := WithContext(New(OutOfWindow, "", "", "too early"), "finalize", "l-1")
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "finalize", e.Op)
	assert.Equal(t, "l-1", e.ListingID)
	assert.True(t, errors.Is(err, OutOfWindow))
}
