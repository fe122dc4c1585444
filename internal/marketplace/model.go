package marketplace

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/blindbid/internal/auction"
	"github.com/sudo-init-do/blindbid/internal/escrow"
)

// ListingStatus moves from open to sold or unsold, never back
type ListingStatus string

const (
	StatusOpen   ListingStatus = "open"
	StatusSold   ListingStatus = "sold"
	StatusUnsold ListingStatus = "unsold"
)

// Condition of the listed item
type Condition string

const (
	ConditionNew  Condition = "new"
	ConditionUsed Condition = "used"
)

// Listing represents an item put up for a sealed-bid auction
type Listing struct {
	ID             string          `json:"id"`
	Seller         string          `json:"seller"`
	Arbiter        string          `json:"arbiter"`
	Name           string          `json:"name"`
	Category       string          `json:"category,omitempty"`
	Condition      Condition       `json:"condition,omitempty"`
	Price          decimal.Decimal `json:"price"` // reserve price in base units
	DescHash       string          `json:"desc_hash,omitempty"`
	ImageHash      string          `json:"image_hash,omitempty"`
	AuctionStart   time.Time       `json:"auction_start"`
	AuctionEnd     time.Time       `json:"auction_end"`
	RevealDuration time.Duration   `json:"reveal_duration"`
	Status         ListingStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Window returns the auction time gates of the listing
func (l Listing) Window() auction.Window {
	return auction.Window{Start: l.AuctionStart, End: l.AuctionEnd, RevealDuration: l.RevealDuration}
}

// NewListing is the seller's input to CreateListing
type NewListing struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Condition    Condition       `json:"condition"`
	Price        decimal.Decimal `json:"price"`
	DescHash     string          `json:"desc_hash"`
	ImageHash    string          `json:"image_hash"`
	AuctionStart time.Time       `json:"auction_start"`
	AuctionEnd   time.Time       `json:"auction_end"`
	Arbiter      string          `json:"arbiter"`
}

// Record is everything stored for one listing
type Record struct {
	Listing Listing         `json:"listing"`
	Ledger  *auction.Ledger `json:"ledger"`
	Escrow  *escrow.Account `json:"escrow,omitempty"`
}

// ListingView is a listing with its auction progress at a given time
type ListingView struct {
	Listing
	Phase        string `json:"phase"`
	SealedBids   int    `json:"sealed_bids"`
	RevealedBids int    `json:"revealed_bids"`
	HasEscrow    bool   `json:"has_escrow"`
}

func viewOf(rec *Record, now time.Time) ListingView {
	return ListingView{
		Listing:      rec.Listing,
		Phase:        rec.Ledger.Phase(now).String(),
		SealedBids:   len(rec.Ledger.Sealed),
		RevealedBids: len(rec.Ledger.Revealed),
		HasEscrow:    rec.Escrow != nil,
	}
}

// Filter narrows ListListings. Phase matches auction.Phase names; "reveal"
// and "finalize" are accepted as aliases of revealing and ended.
type Filter struct {
	Seller   string
	Category string
	Status   ListingStatus
	Phase    string
}

func (f Filter) phase() string {
	switch f.Phase {
	case "reveal":
		return auction.PhaseRevealing.String()
	case "finalize":
		return auction.PhaseEnded.String()
	}
	return f.Phase
}
