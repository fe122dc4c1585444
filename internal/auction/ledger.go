package auction

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/commitment"
)

// Phase is the position of a ledger in its lifecycle at a given instant.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseBidding
	PhaseRevealing
	// PhaseEnded means the reveal window has closed but nobody has
	// finalized yet.
	PhaseEnded
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseBidding:
		return "bidding"
	case PhaseRevealing:
		return "revealing"
	case PhaseEnded:
		return "ended"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Window holds the time gates of an auction.
type Window struct {
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	RevealDuration time.Duration `json:"reveal_duration"`
}

// RevealEnd is the last instant at which a bid may be revealed.
func (w Window) RevealEnd() time.Time {
	return w.End.Add(w.RevealDuration)
}

// Validate checks Start <= End and a positive reveal duration.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: auction start and end are required", apperr.InvalidInput)
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: auction end %s is before start %s", apperr.InvalidInput,
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	if w.RevealDuration <= 0 {
		return fmt.Errorf("%w: reveal duration must be positive", apperr.InvalidInput)
	}
	return nil
}

// SealedBid is a bidder's commitment, submitted during the bidding window.
type SealedBid struct {
	Bidder      string            `json:"bidder"`
	Commitment  commitment.Digest `json:"commitment"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// RevealedBid opens a sealed bid. Seq is the order in which reveals were
// accepted.
type RevealedBid struct {
	Bidder     string          `json:"bidder"`
	Amount     decimal.Decimal `json:"amount"`
	Secret     string          `json:"secret"`
	RevealedAt time.Time       `json:"revealed_at"`
	Seq        int             `json:"seq"`
}

// Result is computed once, at finalization.
type Result struct {
	Winner       string          `json:"winner,omitempty"`
	HighestBid   decimal.Decimal `json:"highest_bid"`
	WinningPrice decimal.Decimal `json:"winning_price"`
	SealedBids   int             `json:"sealed_bids"`
	ValidReveals int             `json:"valid_reveals"`
	FinalizedAt  time.Time       `json:"finalized_at"`
}

// Sold reports whether the auction produced a winner.
func (r Result) Sold() bool { return r.Winner != "" }

// Ledger is the bid book of one listing. Fields are exported for storage
// adapters; mutate it only through its methods.
type Ledger struct {
	ListingID string               `json:"listing_id"`
	Window    Window               `json:"window"`
	Reserve   decimal.Decimal      `json:"reserve"`
	Sealed    map[string]SealedBid `json:"sealed"`
	Revealed  []RevealedBid        `json:"revealed"`
	Result    *Result              `json:"result,omitempty"`
}

// New creates an empty ledger.
func New(listingID string, window Window, reserve decimal.Decimal) (*Ledger, error) {
	if err := window.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.InvalidInput, "createListing", listingID)
	}
	if reserve.IsNegative() {
		return nil, apperr.New(apperr.InvalidInput, "createListing", listingID, "reserve price %s is negative", reserve)
	}
	return &Ledger{
		ListingID: listingID,
		Window:    window,
		Reserve:   reserve,
		Sealed:    make(map[string]SealedBid),
	}, nil
}

// Phase returns the lifecycle phase at now.
func (l *Ledger) Phase(now time.Time) Phase {
	switch {
	case l.Result != nil:
		return PhaseFinalized
	case now.Before(l.Window.Start):
		return PhaseCreated
	case !now.After(l.Window.End):
		return PhaseBidding
	case !now.After(l.Window.RevealEnd()):
		return PhaseRevealing
	default:
		return PhaseEnded
	}
}

// SealedBid returns the commitment of bidder, if any.
func (l *Ledger) SealedBid(bidder string) (SealedBid, bool) {
	b, ok := l.Sealed[bidder]
	return b, ok
}

// Reveal returns the accepted reveal of bidder, if any.
func (l *Ledger) Reveal(bidder string) (RevealedBid, bool) {
	for _, r := range l.Revealed {
		if r.Bidder == bidder {
			return r, true
		}
	}
	return RevealedBid{}, false
}

// SubmitSealedBid records a commitment while the bidding window is open.
func (l *Ledger) SubmitSealedBid(bidder string, digest commitment.Digest, now time.Time) (SealedBid, error) {
	const op = "submitSealedBid"
	if bidder == "" {
		return SealedBid{}, apperr.New(apperr.InvalidInput, op, l.ListingID, "bidder is required")
	}
	if digest.IsZero() {
		return SealedBid{}, apperr.New(apperr.InvalidInput, op, l.ListingID, "commitment is required")
	}
	if l.Result != nil {
		return SealedBid{}, apperr.New(apperr.AlreadyFinalized, op, l.ListingID, "auction already finalized")
	}
	if phase := l.Phase(now); phase != PhaseBidding {
		return SealedBid{}, apperr.New(apperr.OutOfWindow, op, l.ListingID,
			"bidding is open from %s to %s, auction is %s",
			l.Window.Start.Format(time.RFC3339), l.Window.End.Format(time.RFC3339), phase)
	}
	if _, ok := l.Sealed[bidder]; ok {
		return SealedBid{}, apperr.New(apperr.DuplicateBid, op, l.ListingID, "bidder %s already sealed a bid", bidder)
	}

	if l.Sealed == nil {
		l.Sealed = make(map[string]SealedBid)
	}
	bid := SealedBid{Bidder: bidder, Commitment: digest, SubmittedAt: now}
	l.Sealed[bidder] = bid
	return bid, nil
}

// RevealBid opens the bidder's commitment during the reveal window.
func (l *Ledger) RevealBid(bidder string, amount decimal.Decimal, secret string, now time.Time) (RevealedBid, error) {
	const op = "revealBid"
	if l.Result != nil {
		return RevealedBid{}, apperr.New(apperr.AlreadyFinalized, op, l.ListingID, "auction already finalized")
	}
	if phase := l.Phase(now); phase != PhaseRevealing {
		return RevealedBid{}, apperr.New(apperr.OutOfWindow, op, l.ListingID,
			"reveal is open after %s until %s, auction is %s",
			l.Window.End.Format(time.RFC3339), l.Window.RevealEnd().Format(time.RFC3339), phase)
	}
	sealed, ok := l.Sealed[bidder]
	if !ok {
		return RevealedBid{}, apperr.New(apperr.NoSealedBid, op, l.ListingID, "bidder %s did not seal a bid", bidder)
	}
	if _, ok := l.Reveal(bidder); ok {
		return RevealedBid{}, apperr.New(apperr.DuplicateReveal, op, l.ListingID, "bidder %s already revealed", bidder)
	}
	if _, err := commitment.Commit(amount, secret); err != nil {
		return RevealedBid{}, apperr.Wrap(err, apperr.InvalidInput, op, l.ListingID)
	}
	if !commitment.Verify(sealed.Commitment, amount, secret) {
		return RevealedBid{}, apperr.New(apperr.CommitmentMismatch, op, l.ListingID,
			"amount and secret do not match the commitment of bidder %s", bidder)
	}

	reveal := RevealedBid{
		Bidder:     bidder,
		Amount:     amount,
		Secret:     secret,
		RevealedAt: now,
		Seq:        len(l.Revealed),
	}
	l.Revealed = append(l.Revealed, reveal)
	return reveal, nil
}

// Finalize computes the result once the reveal window has closed. A second
// call fails with AlreadyFinalized; the cached result stays in l.Result.
func (l *Ledger) Finalize(now time.Time) (Result, error) {
	const op = "finalize"
	if l.Result != nil {
		return *l.Result, apperr.New(apperr.AlreadyFinalized, op, l.ListingID, "auction already finalized")
	}
	if !now.After(l.Window.RevealEnd()) {
		return Result{}, apperr.New(apperr.OutOfWindow, op, l.ListingID,
			"auction can be finalized after %s", l.Window.RevealEnd().Format(time.RFC3339))
	}

	res := DetermineResult(l.Revealed, l.Reserve)
	res.SealedBids = len(l.Sealed)
	res.FinalizedAt = now
	l.Result = &res
	return res, nil
}

// DetermineResult applies the second-price rule to reveals. Reveals below
// reserve are ignored. Equal top amounts go to the earlier reveal, then to
// the lower sequence number.
func DetermineResult(reveals []RevealedBid, reserve decimal.Decimal) Result {
	valid := make([]RevealedBid, 0, len(reveals))
	for _, r := range reveals {
		if r.Amount.GreaterThanOrEqual(reserve) {
			valid = append(valid, r)
		}
	}

	res := Result{ValidReveals: len(valid)}
	if len(valid) == 0 {
		return res
	}

	sort.SliceStable(valid, func(i, j int) bool {
		a, b := valid[i], valid[j]
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c > 0
		}
		if !a.RevealedAt.Equal(b.RevealedAt) {
			return a.RevealedAt.Before(b.RevealedAt)
		}
		return a.Seq < b.Seq
	})

	res.Winner = valid[0].Bidder
	res.HighestBid = valid[0].Amount
	res.WinningPrice = valid[0].Amount
	if len(valid) > 1 {
		res.WinningPrice = valid[1].Amount
	}
	return res
}
