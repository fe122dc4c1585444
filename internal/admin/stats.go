package admin

import (
	"context"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

var log = logging.Logger("admin")

// Listings is what the admin views read from
type Listings interface {
	ListListings(ctx context.Context, f marketplace.Filter, now time.Time) ([]marketplace.ListingView, error)
}

// Stats summarises the marketplace
type Stats struct {
	Listings     int            `json:"listings"`
	ByStatus     map[string]int `json:"by_status"`
	ByPhase      map[string]int `json:"by_phase"`
	SealedBids   int            `json:"sealed_bids"`
	RevealedBids int            `json:"revealed_bids"`
	Escrows      int            `json:"escrows"`
}

// Collect counts listings, bids and escrows as of now
func Collect(ctx context.Context, src Listings, now time.Time) (Stats, error) {
	views, err := src.ListListings(ctx, marketplace.Filter{}, now)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		Listings: len(views),
		ByStatus: make(map[string]int),
		ByPhase:  make(map[string]int),
	}
	for _, v := range views {
		s.ByStatus[string(v.Status)]++
		s.ByPhase[v.Phase]++
		s.SealedBids += v.SealedBids
		s.RevealedBids += v.RevealedBids
		if v.HasEscrow {
			s.Escrows++
		}
	}
	return s, nil
}

type Handler struct {
	src Listings
	Now func() time.Time
}

func NewHandler(src Listings) *Handler {
	return &Handler{src: src, Now: time.Now}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/stats", h.Stats)
}

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	s, err := Collect(c.Request().Context(), h.src, h.Now())
	if err != nil {
		log.Errorw("stats failed", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not compute stats"})
	}
	return c.JSON(http.StatusOK, s)
}
