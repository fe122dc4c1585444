// Package escrow holds the proceeds of a sold listing until two of its three
// parties (buyer, seller, arbiter) agree to release them to the seller or
// refund them to the buyer.
package escrow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/blindbid/internal/apperr"
)

// Quorum is the number of matching votes that resolves an account.
const Quorum = 2

// Outcome is what a vote asks for, and what a resolved account did.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

// Role is a party's position in the escrow.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleArbiter Role = "arbiter"
)

// Account is the escrow of one listing. Parties and the held amount never
// change after creation; Votes only grows, and nothing changes once Resolved.
type Account struct {
	ListingID  string             `json:"listing_id"`
	Buyer      string             `json:"buyer"`
	Seller     string             `json:"seller"`
	Arbiter    string             `json:"arbiter"`
	Held       decimal.Decimal    `json:"held"`
	Votes      map[string]Outcome `json:"votes"`
	Resolved   bool               `json:"resolved"`
	Outcome    Outcome            `json:"outcome,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	ResolvedAt time.Time          `json:"resolved_at,omitempty"`
}

// Settlement is the transfer a resolved account calls for.
type Settlement struct {
	ListingID string          `json:"listing_id"`
	Payee     string          `json:"payee"`
	Amount    decimal.Decimal `json:"amount"`
	Outcome   Outcome         `json:"outcome"`
	At        time.Time       `json:"at"`
}

// Status is the public view of an account.
type Status struct {
	ListingID    string          `json:"listing_id"`
	Buyer        string          `json:"buyer"`
	Seller       string          `json:"seller"`
	Arbiter      string          `json:"arbiter"`
	Held         decimal.Decimal `json:"held"`
	ReleaseVotes int             `json:"release_votes"`
	RefundVotes  int             `json:"refund_votes"`
	Resolved     bool            `json:"resolved"`
	Outcome      Outcome         `json:"outcome,omitempty"`
}

// New opens an escrow holding amount for the listing.
func New(listingID, buyer, seller, arbiter string, amount decimal.Decimal, now time.Time) (*Account, error) {
	const op = "createEscrow"
	if buyer == "" || seller == "" || arbiter == "" {
		return nil, apperr.New(apperr.InvalidInput, op, listingID, "buyer, seller and arbiter are required")
	}
	if buyer == seller || buyer == arbiter || seller == arbiter {
		return nil, apperr.New(apperr.InvalidInput, op, listingID, "buyer, seller and arbiter must be distinct")
	}
	if amount.IsNegative() {
		return nil, apperr.New(apperr.InvalidInput, op, listingID, "held amount %s is negative", amount)
	}
	return &Account{
		ListingID: listingID,
		Buyer:     buyer,
		Seller:    seller,
		Arbiter:   arbiter,
		Held:      amount,
		Votes:     make(map[string]Outcome),
		CreatedAt: now,
	}, nil
}

// RoleOf reports the role of party in the account.
func (a *Account) RoleOf(party string) (Role, bool) {
	switch {
	case party == "":
		return "", false
	case party == a.Buyer:
		return RoleBuyer, true
	case party == a.Seller:
		return RoleSeller, true
	case party == a.Arbiter:
		return RoleArbiter, true
	}
	return "", false
}

// VoteRelease votes to pay the seller. It returns the settlement when this
// vote resolves the account.
func (a *Account) VoteRelease(party string, now time.Time) (*Settlement, error) {
	return a.vote("voteRelease", party, OutcomeRelease, now)
}

// VoteRefund votes to return the funds to the buyer. It returns the
// settlement when this vote resolves the account.
func (a *Account) VoteRefund(party string, now time.Time) (*Settlement, error) {
	return a.vote("voteRefund", party, OutcomeRefund, now)
}

func (a *Account) vote(op, party string, outcome Outcome, now time.Time) (*Settlement, error) {
	if a.Resolved {
		return nil, apperr.New(apperr.AlreadyResolved, op, a.ListingID, "escrow already resolved (%s)", a.Outcome)
	}
	if _, ok := a.RoleOf(party); !ok {
		return nil, apperr.New(apperr.UnauthorizedParty, op, a.ListingID, "%s is not a party to this escrow", party)
	}
	if prev, ok := a.Votes[party]; ok {
		return nil, apperr.New(apperr.AlreadyVoted, op, a.ListingID, "%s already voted to %s", party, prev)
	}

	if a.Votes == nil {
		a.Votes = make(map[string]Outcome)
	}
	a.Votes[party] = outcome
	if a.count(outcome) < Quorum {
		return nil, nil
	}

	a.Resolved = true
	a.Outcome = outcome
	a.ResolvedAt = now
	s := a.Settlement()
	return &s, nil
}

func (a *Account) count(outcome Outcome) int {
	n := 0
	for _, v := range a.Votes {
		if v == outcome {
			n++
		}
	}
	return n
}

// Settlement returns the transfer of a resolved account: the seller on
// release, the buyer on refund. It is the zero value while unresolved.
func (a *Account) Settlement() Settlement {
	if !a.Resolved {
		return Settlement{}
	}
	payee := a.Seller
	if a.Outcome == OutcomeRefund {
		payee = a.Buyer
	}
	return Settlement{
		ListingID: a.ListingID,
		Payee:     payee,
		Amount:    a.Held,
		Outcome:   a.Outcome,
		At:        a.ResolvedAt,
	}
}

// Status summarises votes and resolution.
func (a *Account) Status() Status {
	return Status{
		ListingID:    a.ListingID,
		Buyer:        a.Buyer,
		Seller:       a.Seller,
		Arbiter:      a.Arbiter,
		Held:         a.Held,
		ReleaseVotes: a.count(OutcomeRelease),
		RefundVotes:  a.count(OutcomeRefund),
		Resolved:     a.Resolved,
		Outcome:      a.Outcome,
	}
}
