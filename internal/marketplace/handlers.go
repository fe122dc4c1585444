package marketplace

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/commitment"
)

// Handler exposes the controller over HTTP. Every time gate is evaluated
// against Now, the single clock of the process.
type Handler struct {
	ctrl   *Controller
	events *EventLog
	Now    func() time.Time
}

// NewHandler returns a handler; events may be nil when polling is not offered.
func NewHandler(ctrl *Controller, events *EventLog) *Handler {
	return &Handler{ctrl: ctrl, events: events, Now: func() time.Time { return time.Now().UTC() }}
}

// RegisterPublic mounts the read-only routes.
func (h *Handler) RegisterPublic(g *echo.Group) {
	g.GET("/listings", h.ListListings)
	g.GET("/listings/:id", h.GetListing)
	g.GET("/listings/:id/result", h.GetAuctionResult)
	g.GET("/listings/:id/escrow", h.GetEscrowStatus)
	g.GET("/listings/:id/events", h.ListEvents)
}

// RegisterAuthed mounts the routes that act on behalf of the caller.
func (h *Handler) RegisterAuthed(g *echo.Group) {
	g.POST("/listings", h.CreateListing)
	g.POST("/listings/:id/bids", h.SubmitSealedBid)
	g.POST("/listings/:id/reveal", h.RevealBid)
	g.POST("/listings/:id/finalize", h.Finalize)
	g.POST("/listings/:id/escrow/release", h.VoteRelease)
	g.POST("/listings/:id/escrow/refund", h.VoteRefund)
}

// RegisterAdmin mounts operator routes.
func (h *Handler) RegisterAdmin(g *echo.Group) {
	g.POST("/listings/:id/settle", h.RetrySettlement)
}

func callerOf(c echo.Context) (string, bool) {
	uid, ok := c.Get("user_id").(string)
	return uid, ok && uid != ""
}

// CreateListing - seller opens a sealed-bid auction
// POST /listings
func (h *Handler) CreateListing(c echo.Context) error {
	uid, ok := callerOf(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req NewListing
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	l, err := h.ctrl.CreateListing(c.Request().Context(), uid, req, h.Now())
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

// SubmitSealedBid - bidder submits a commitment
// POST /listings/:id/bids
func (h *Handler) SubmitSealedBid(c echo.Context) error {
	uid, ok := callerOf(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req struct {
		Commitment string `json:"commitment"`
	}
	if err := c.Bind(&req); err != nil || req.Commitment == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload: commitment required"})
	}
	digest, err := commitment.ParseDigest(req.Commitment)
	if err != nil {
		return renderError(c, err)
	}
	bid, err := h.ctrl.SubmitSealedBid(c.Request().Context(), uid, c.Param("id"), digest, h.Now())
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message":      "Your bid has been successfully submitted!",
		"listing_id":   c.Param("id"),
		"commitment":   bid.Commitment.String(),
		"submitted_at": bid.SubmittedAt.UTC().Format(time.RFC3339),
	})
}

// RevealBid - bidder opens their commitment
// POST /listings/:id/reveal
func (h *Handler) RevealBid(c echo.Context) error {
	uid, ok := callerOf(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req struct {
		Amount string `json:"amount"`
		Secret string `json:"secret"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	amount, err := commitment.ParseAmount(req.Amount)
	if err != nil {
		return renderError(c, err)
	}
	reveal, err := h.ctrl.RevealBid(c.Request().Context(), uid, c.Param("id"), amount, req.Secret, h.Now())
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":     "Your bid has been successfully revealed!",
		"listing_id":  c.Param("id"),
		"amount":      reveal.Amount.String(),
		"revealed_at": reveal.RevealedAt.UTC().Format(time.RFC3339),
	})
}

// Finalize - anyone closes an auction whose reveal window has passed
// POST /listings/:id/finalize
func (h *Handler) Finalize(c echo.Context) error {
	uid, ok := callerOf(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.ctrl.Finalize(c.Request().Context(), uid, c.Param("id"), h.Now())
	if errors.Is(err, apperr.AlreadyFinalized) {
		return c.JSON(http.StatusOK, echo.Map{"result": res, "already_finalized": true})
	}
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"result": res, "already_finalized": false})
}

// VoteRelease - escrow party votes to pay the seller
// POST /listings/:id/escrow/release
func (h *Handler) VoteRelease(c echo.Context) error {
	uid, ok := callerOf(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	st, err := h.ctrl.VoteRelease(c.Request().Context(), uid, c.Param("id"), h.Now())
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// VoteRefund - escrow party votes to refund the buyer
// POST /listings/:id/escrow/refund
func (h *Handler) VoteRefund(c echo.Context) error {
	uid, ok := callerOf(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	st, err := h.ctrl.VoteRefund(c.Request().Context(), uid, c.Param("id"), h.Now())
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// RetrySettlement - admin re-runs the payout of a resolved escrow
// POST /admin/listings/:id/settle
func (h *Handler) RetrySettlement(c echo.Context) error {
	s, err := h.ctrl.RetrySettlement(c.Request().Context(), c.Param("id"))
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "settled", "settlement": s})
}

// ListListings - GET /listings?seller=&category=&status=&phase=
func (h *Handler) ListListings(c echo.Context) error {
	f := Filter{
		Seller:   c.QueryParam("seller"),
		Category: c.QueryParam("category"),
		Status:   ListingStatus(c.QueryParam("status")),
		Phase:    c.QueryParam("phase"),
	}
	items, err := h.ctrl.ListListings(c.Request().Context(), f, h.Now())
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"listings": items})
}

// GetListing - GET /listings/:id
func (h *Handler) GetListing(c echo.Context) error {
	v, err := h.ctrl.GetListing(c.Request().Context(), c.Param("id"), h.Now())
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// GetAuctionResult - GET /listings/:id/result
func (h *Handler) GetAuctionResult(c echo.Context) error {
	res, err := h.ctrl.GetAuctionResult(c.Request().Context(), c.Param("id"))
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetEscrowStatus - GET /listings/:id/escrow
func (h *Handler) GetEscrowStatus(c echo.Context) error {
	st, err := h.ctrl.GetEscrowStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// ListEvents - GET /listings/:id/events?since=<seq>
func (h *Handler) ListEvents(c echo.Context) error {
	if h.events == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "event log disabled"})
	}
	var since uint64
	if s := c.QueryParam("since"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "since must be a sequence number"})
		}
		since = n
	}
	events := h.events.Since(c.Param("id"), since)
	if events == nil {
		events = []Event{}
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.UnauthorizedParty:
		return http.StatusForbidden
	case apperr.NoSealedBid, apperr.CommitmentMismatch:
		return http.StatusUnprocessableEntity
	case apperr.OutOfWindow, apperr.DuplicateBid, apperr.DuplicateReveal, apperr.AlreadyVoted,
		apperr.AlreadyFinalized, apperr.AlreadyResolved:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func renderError(c echo.Context, err error) error {
	kind := apperr.KindOf(err)
	if kind == "" {
		log.Errorw("request failed", "path", c.Path(), "listing", c.Param("id"), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	body := echo.Map{"error": err.Error(), "kind": string(kind)}
	var e *apperr.Error
	if errors.As(err, &e) {
		body["op"] = e.Op
		body["listing_id"] = e.ListingID
	}
	return c.JSON(StatusFor(kind), body)
}

