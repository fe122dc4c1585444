package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/commitment"
	"github.com/sudo-init-do/blindbid/internal/escrow"
	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

// newTestStore connects to BLINDBID_TEST_DATABASE_URL; the tests are skipped without it.
func newTestStore(t *testing.T) *ListingStore {
	t.Helper()
	dsn := os.Getenv("BLINDBID_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BLINDBID_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	return NewListingStore(pool)
}

func TestListingStoreUnknownID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "not-a-uuid")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = store.Get(ctx, uuid.NewString())
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestListingStoreAuctionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var settled []escrow.Settlement
	ctrl, err := marketplace.NewController(marketplace.Config{RevealDuration: time.Hour}, marketplace.Deps{
		Store: store,
		Settler: marketplace.SettlerFunc(func(_ context.Context, s escrow.Settlement) error {
			settled = append(settled, s)
			return nil
		}),
	})
	require.NoError(t, err)

	t0 := time.Now().UTC().Truncate(time.Millisecond)
	seller, arbiter := "seller-"+uuid.NewString(), "arbiter-"+uuid.NewString()
	l, err := ctrl.CreateListing(ctx, seller, marketplace.NewListing{
		Name:         "lamp",
		Category:     "home",
		Condition:    marketplace.ConditionUsed,
		Price:        decimal.NewFromInt(10),
		AuctionStart: t0.Add(time.Minute),
		AuctionEnd:   t0.Add(2 * time.Hour),
		Arbiter:      arbiter,
	}, t0)
	require.NoError(t, err)

	bidAt := t0.Add(time.Hour)
	revealAt := t0.Add(2*time.Hour + time.Minute)
	doneAt := t0.Add(3*time.Hour + time.Minute)

	bids := map[string]int64{"alice": 100, "bob": 70}
	for bidder, amount := range bids {
		d, err := commitment.Commit(decimal.NewFromInt(amount), bidder+"-secret")
		require.NoError(t, err)
		_, err = ctrl.SubmitSealedBid(ctx, bidder, l.ID, d, bidAt)
		require.NoError(t, err)
	}
	for _, bidder := range []string{"bob", "alice"} {
		_, err := ctrl.RevealBid(ctx, bidder, l.ID, decimal.NewFromInt(bids[bidder]), bidder+"-secret", revealAt)
		require.NoError(t, err)
	}

	res, err := ctrl.Finalize(ctx, "anyone", l.ID, doneAt)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Winner)
	assert.True(t, res.WinningPrice.Equal(decimal.NewFromInt(70)))

	rec, err := store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, marketplace.StatusSold, rec.Listing.Status)
	assert.Len(t, rec.Ledger.Sealed, 2)
	require.Len(t, rec.Ledger.Revealed, 2)
	assert.Equal(t, "bob", rec.Ledger.Revealed[0].Bidder)
	require.NotNil(t, rec.Escrow)
	assert.True(t, rec.Escrow.Held.Equal(decimal.NewFromInt(70)))

	_, err = ctrl.VoteRelease(ctx, "alice", l.ID, doneAt)
	require.NoError(t, err)
	status, err := ctrl.VoteRelease(ctx, seller, l.ID, doneAt)
	require.NoError(t, err)
	assert.True(t, status.Resolved)
	require.Len(t, settled, 1)
	assert.Equal(t, seller, settled[0].Payee)

	rec, err = store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, rec.Escrow.Resolved)
	assert.Equal(t, escrow.OutcomeRelease, rec.Escrow.Outcome)
	assert.Len(t, rec.Escrow.Votes, 2)

	views, err := ctrl.ListListings(ctx, marketplace.Filter{Seller: seller}, doneAt)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "finalized", views[0].Phase)
}
