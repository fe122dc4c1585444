// Package marketplace runs the lifecycle of sealed-bid listings: creation,
// bidding, reveal, finalization and the escrow that follows a sale.
package marketplace

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/auction"
	"github.com/sudo-init-do/blindbid/internal/commitment"
	"github.com/sudo-init-do/blindbid/internal/escrow"
)

var log = logging.Logger("marketplace")

// Config holds the controller's fixed policy.
type Config struct {
	// RevealDuration is the grace period after auction end during which
	// bids may be revealed. It is copied into each listing at creation.
	RevealDuration time.Duration
	// MaxAuctionDuration caps auctionEnd - auctionStart; zero means no cap.
	MaxAuctionDuration time.Duration
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Store   Store
	Settler Settler
	// Events is optional.
	Events EventSink
}

// Controller orchestrates listings. All time gates use the now passed by the
// caller; the controller never reads the wall clock.
type Controller struct {
	cfg     Config
	store   Store
	settler Settler
	events  EventSink
}

// NewController wires a controller.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Store == nil {
		return nil, errors.New("marketplace: store is required")
	}
	if deps.Settler == nil {
		return nil, errors.New("marketplace: settler is required")
	}
	if cfg.RevealDuration <= 0 {
		return nil, errors.New("marketplace: reveal duration must be positive")
	}
	return &Controller{cfg: cfg, store: deps.Store, settler: deps.Settler, events: deps.Events}, nil
}

// CreateListing opens a new listing owned by caller.
func (c *Controller) CreateListing(ctx context.Context, caller string, in NewListing, now time.Time) (Listing, error) {
	const op = "createListing"
	now = storedTime(now)
	if caller == "" {
		return Listing{}, apperr.New(apperr.UnauthorizedParty, op, "", "caller identity is required")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Listing{}, apperr.New(apperr.InvalidInput, op, "", "name is required")
	}
	if in.Arbiter == "" || in.Arbiter == caller {
		return Listing{}, apperr.New(apperr.InvalidInput, op, "", "an arbiter other than the seller is required")
	}
	if in.Condition != "" && in.Condition != ConditionNew && in.Condition != ConditionUsed {
		return Listing{}, apperr.New(apperr.InvalidInput, op, "", "unknown condition %q", in.Condition)
	}
	if err := commitment.CheckAmount(in.Price); err != nil {
		return Listing{}, apperr.New(apperr.InvalidInput, op, "", "price must be a whole number of base units of at most %d digits", commitment.MaxAmountDigits)
	}
	if c.cfg.MaxAuctionDuration > 0 && in.AuctionEnd.Sub(in.AuctionStart) > c.cfg.MaxAuctionDuration {
		return Listing{}, apperr.New(apperr.InvalidInput, op, "", "auction may last at most %s", c.cfg.MaxAuctionDuration)
	}

	l := Listing{
		ID:             uuid.New().String(),
		Seller:         caller,
		Arbiter:        in.Arbiter,
		Name:           in.Name,
		Category:       in.Category,
		Condition:      in.Condition,
		Price:          in.Price,
		DescHash:       in.DescHash,
		ImageHash:      in.ImageHash,
		AuctionStart:   storedTime(in.AuctionStart),
		AuctionEnd:     storedTime(in.AuctionEnd),
		RevealDuration: c.cfg.RevealDuration,
		Status:         StatusOpen,
		CreatedAt:      storedTime(now),
	}
	ledger, err := auction.New(l.ID, l.Window(), l.Price)
	if err != nil {
		return Listing{}, err
	}
	if err := c.store.Create(ctx, &Record{Listing: l, Ledger: ledger}); err != nil {
		return Listing{}, apperr.WithContext(err, op, l.ID)
	}

	log.Infow("listing created", "listing", l.ID, "seller", caller, "start", l.AuctionStart, "end", l.AuctionEnd)
	c.publish(ctx, Event{
		Type: EventListingCreated, ListingID: l.ID, Actor: caller, At: now,
		Parties: []string{l.Seller, l.Arbiter},
		Data:    map[string]interface{}{"name": l.Name, "price": l.Price.String()},
	})
	return l, nil
}

// SubmitSealedBid records caller's commitment for a listing.
func (c *Controller) SubmitSealedBid(ctx context.Context, caller, listingID string, digest commitment.Digest, now time.Time) (auction.SealedBid, error) {
	const op = "submitSealedBid"
	now = storedTime(now)
	var bid auction.SealedBid
	var seller string
	err := c.store.Update(ctx, listingID, func(rec *Record) error {
		if caller == rec.Listing.Seller || caller == rec.Listing.Arbiter {
			return apperr.New(apperr.UnauthorizedParty, op, listingID, "seller and arbiter may not bid on the listing")
		}
		var err error
		bid, err = rec.Ledger.SubmitSealedBid(caller, digest, now)
		seller = rec.Listing.Seller
		return err
	})
	if err != nil {
		return auction.SealedBid{}, apperr.WithContext(err, op, listingID)
	}

	log.Infow("sealed bid accepted", "listing", listingID, "bidder", caller)
	c.publish(ctx, Event{
		Type: EventBidSealed, ListingID: listingID, Actor: caller, At: now,
		Parties: []string{caller, seller},
		Data:    map[string]interface{}{"commitment": bid.Commitment.String()},
	})
	return bid, nil
}

// RevealBid opens caller's sealed bid.
func (c *Controller) RevealBid(ctx context.Context, caller, listingID string, amount decimal.Decimal, secret string, now time.Time) (auction.RevealedBid, error) {
	const op = "revealBid"
	now = storedTime(now)
	var reveal auction.RevealedBid
	var seller string
	err := c.store.Update(ctx, listingID, func(rec *Record) error {
		var err error
		reveal, err = rec.Ledger.RevealBid(caller, amount, secret, now)
		seller = rec.Listing.Seller
		return err
	})
	if err != nil {
		return auction.RevealedBid{}, apperr.WithContext(err, op, listingID)
	}

	log.Infow("bid revealed", "listing", listingID, "bidder", caller, "amount", amount)
	c.publish(ctx, Event{
		Type: EventBidRevealed, ListingID: listingID, Actor: caller, At: now,
		Parties: []string{caller, seller},
		Data:    map[string]interface{}{"amount": reveal.Amount.String(), "seq": reveal.Seq},
	})
	return reveal, nil
}

// Finalize closes the auction of a listing once its reveal window has
// passed. Anyone may call it. On a sale the escrow is opened in the same
// update. A repeated call returns the stored result together with an
// AlreadyFinalized error and changes nothing.
func (c *Controller) Finalize(ctx context.Context, caller, listingID string, now time.Time) (auction.Result, error) {
	const op = "finalize"
	now = storedTime(now)
	var (
		res     auction.Result
		replay  bool
		account *escrow.Account
		listing Listing
	)
	err := c.store.Update(ctx, listingID, func(rec *Record) error {
		if rec.Ledger.Result != nil {
			res, replay = *rec.Ledger.Result, true
			return nil
		}
		var err error
		res, err = rec.Ledger.Finalize(now)
		if err != nil {
			return err
		}
		if !res.Sold() {
			rec.Listing.Status = StatusUnsold
			listing = rec.Listing
			return nil
		}
		account, err = escrow.New(listingID, res.Winner, rec.Listing.Seller, rec.Listing.Arbiter, res.WinningPrice, now)
		if err != nil {
			return err
		}
		rec.Listing.Status = StatusSold
		rec.Escrow = account
		listing = rec.Listing
		return nil
	})
	if err != nil {
		return auction.Result{}, apperr.WithContext(err, op, listingID)
	}
	if replay {
		return res, apperr.New(apperr.AlreadyFinalized, op, listingID, "auction was finalized at %s", res.FinalizedAt.Format(time.RFC3339))
	}

	log.Infow("auction finalized", "listing", listingID, "by", caller, "status", listing.Status,
		"winner", res.Winner, "price", res.WinningPrice)
	parties := []string{listing.Seller}
	if res.Sold() {
		parties = append(parties, res.Winner)
	}
	c.publish(ctx, Event{
		Type: EventAuctionFinalized, ListingID: listingID, Actor: caller, At: now,
		Parties: parties,
		Data: map[string]interface{}{
			"status":        string(listing.Status),
			"winner":        res.Winner,
			"winning_price": res.WinningPrice.String(),
			"valid_reveals": res.ValidReveals,
		},
	})
	if account != nil {
		c.publish(ctx, Event{
			Type: EventEscrowCreated, ListingID: listingID, At: now,
			Parties: []string{account.Buyer, account.Seller, account.Arbiter},
			Data:    map[string]interface{}{"held": account.Held.String()},
		})
	}
	return res, nil
}

// VoteRelease casts caller's vote to pay the seller.
func (c *Controller) VoteRelease(ctx context.Context, caller, listingID string, now time.Time) (escrow.Status, error) {
	return c.vote(ctx, "voteRelease", caller, listingID, escrow.OutcomeRelease, now)
}

// VoteRefund casts caller's vote to refund the buyer.
func (c *Controller) VoteRefund(ctx context.Context, caller, listingID string, now time.Time) (escrow.Status, error) {
	return c.vote(ctx, "voteRefund", caller, listingID, escrow.OutcomeRefund, now)
}

func (c *Controller) vote(ctx context.Context, op, caller, listingID string, outcome escrow.Outcome, now time.Time) (escrow.Status, error) {
	now = storedTime(now)
	var (
		status     escrow.Status
		settlement *escrow.Settlement
	)
	err := c.store.Update(ctx, listingID, func(rec *Record) error {
		if rec.Escrow == nil {
			return apperr.New(apperr.NotFound, op, listingID, "listing has no escrow")
		}
		var err error
		if outcome == escrow.OutcomeRelease {
			settlement, err = rec.Escrow.VoteRelease(caller, now)
		} else {
			settlement, err = rec.Escrow.VoteRefund(caller, now)
		}
		status = rec.Escrow.Status()
		return err
	})
	if err != nil {
		return escrow.Status{}, apperr.WithContext(err, op, listingID)
	}

	parties := []string{status.Buyer, status.Seller, status.Arbiter}
	log.Infow("escrow vote", "listing", listingID, "party", caller, "outcome", outcome,
		"release", status.ReleaseVotes, "refund", status.RefundVotes)
	c.publish(ctx, Event{
		Type: EventEscrowVote, ListingID: listingID, Actor: caller, At: now, Parties: parties,
		Data: map[string]interface{}{
			"vote":          string(outcome),
			"release_votes": status.ReleaseVotes,
			"refund_votes":  status.RefundVotes,
		},
	})
	if settlement == nil {
		return status, nil
	}

	c.publish(ctx, Event{
		Type: EventEscrowResolved, ListingID: listingID, Actor: caller, At: now, Parties: parties,
		Data: map[string]interface{}{
			"outcome": string(settlement.Outcome),
			"payee":   settlement.Payee,
			"amount":  settlement.Amount.String(),
		},
	})
	c.settle(ctx, *settlement, parties)
	return status, nil
}

// settle pays out a resolved escrow. The vote that resolved it is already
// stored, so a failure is logged and published; RetrySettlement repeats it.
func (c *Controller) settle(ctx context.Context, s escrow.Settlement, parties []string) {
	if err := c.settler.Settle(ctx, s); err != nil {
		log.Errorw("settlement failed", "listing", s.ListingID, "payee", s.Payee, "amount", s.Amount, "error", err)
		c.publish(ctx, Event{
			Type: EventSettlementFailed, ListingID: s.ListingID, At: s.At, Parties: parties,
			Data: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	log.Infow("escrow settled", "listing", s.ListingID, "payee", s.Payee, "amount", s.Amount, "outcome", s.Outcome)
}

// RetrySettlement re-executes the payout of a resolved escrow. Settlers are
// idempotent per listing, so this is safe to call repeatedly.
func (c *Controller) RetrySettlement(ctx context.Context, listingID string) (escrow.Settlement, error) {
	const op = "settle"
	rec, err := c.store.Get(ctx, listingID)
	if err != nil {
		return escrow.Settlement{}, apperr.WithContext(err, op, listingID)
	}
	if rec.Escrow == nil || !rec.Escrow.Resolved {
		return escrow.Settlement{}, apperr.New(apperr.NotFound, op, listingID, "no resolved escrow")
	}
	s := rec.Escrow.Settlement()
	if err := c.settler.Settle(ctx, s); err != nil {
		return escrow.Settlement{}, err
	}
	return s, nil
}

// GetListing returns a listing with its progress at now.
func (c *Controller) GetListing(ctx context.Context, listingID string, now time.Time) (ListingView, error) {
	rec, err := c.store.Get(ctx, listingID)
	if err != nil {
		return ListingView{}, apperr.WithContext(err, "getListing", listingID)
	}
	return viewOf(rec, now), nil
}

// ListListings returns listings matching f, newest first.
func (c *Controller) ListListings(ctx context.Context, f Filter, now time.Time) ([]ListingView, error) {
	recs, err := c.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	phase := f.phase()
	out := make([]ListingView, 0, len(recs))
	for _, rec := range recs {
		v := viewOf(rec, now)
		if phase != "" && v.Phase != phase {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// GetAuctionResult returns the result of a finalized auction.
func (c *Controller) GetAuctionResult(ctx context.Context, listingID string) (auction.Result, error) {
	const op = "getAuctionResult"
	rec, err := c.store.Get(ctx, listingID)
	if err != nil {
		return auction.Result{}, apperr.WithContext(err, op, listingID)
	}
	if rec.Ledger.Result == nil {
		return auction.Result{}, apperr.New(apperr.NotFound, op, listingID, "auction not finalized")
	}
	return *rec.Ledger.Result, nil
}

// GetEscrowStatus returns vote counts and resolution of a listing's escrow.
func (c *Controller) GetEscrowStatus(ctx context.Context, listingID string) (escrow.Status, error) {
	const op = "getEscrowStatus"
	rec, err := c.store.Get(ctx, listingID)
	if err != nil {
		return escrow.Status{}, apperr.WithContext(err, op, listingID)
	}
	if rec.Escrow == nil {
		return escrow.Status{}, apperr.New(apperr.NotFound, op, listingID, "listing has no escrow")
	}
	return rec.Escrow.Status(), nil
}

func (c *Controller) publish(ctx context.Context, evt Event) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, evt); err != nil {
		log.Warnw("publish event failed", "type", evt.Type, "listing", evt.ListingID, "error", err)
	}
}

// storedTime drops what Postgres timestamps cannot hold, so both stores
// compare reveal times identically.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
