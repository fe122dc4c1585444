package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

type fixedListings []marketplace.ListingView

func (f fixedListings) ListListings(context.Context, marketplace.Filter, time.Time) ([]marketplace.ListingView, error) {
	return f, nil
}

func view(status marketplace.ListingStatus, phase string, sealed, revealed int, escrow bool) marketplace.ListingView {
	return marketplace.ListingView{
		Listing:      marketplace.Listing{Status: status},
		Phase:        phase,
		SealedBids:   sealed,
		RevealedBids: revealed,
		HasEscrow:    escrow,
	}
}

func TestStats(t *testing.T) {
	src := fixedListings{
		view(marketplace.StatusOpen, "bidding", 2, 0, false),
		view(marketplace.StatusOpen, "revealing", 3, 1, false),
		view(marketplace.StatusSold, "finalized", 4, 3, true),
		view(marketplace.StatusUnsold, "finalized", 1, 0, false),
	}
	h := NewHandler(src)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/admin/stats", nil), rec)
	require.NoError(t, h.Stats(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var got Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 4, got.Listings)
	assert.Equal(t, 2, got.ByStatus["open"])
	assert.Equal(t, 2, got.ByPhase["finalized"])
	assert.Equal(t, 10, got.SealedBids)
	assert.Equal(t, 4, got.RevealedBids)
	assert.Equal(t, 1, got.Escrows)
}
