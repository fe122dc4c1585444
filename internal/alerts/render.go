package alerts

import (
	"fmt"

	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

// render builds the title and body a party sees for evt
func render(evt marketplace.Event, party string) (string, string) {
	d := evt.Data
	switch evt.Type {
	case marketplace.EventListingCreated:
		if party == evt.Actor {
			return "Listing created", fmt.Sprintf("Your listing %v is open with reserve %v.", d["name"], d["price"])
		}
		return "You are the arbiter of a listing", fmt.Sprintf("You were named arbiter of listing %v.", d["name"])
	case marketplace.EventBidSealed:
		if party == evt.Actor {
			return "Sealed bid received", fmt.Sprintf("Your sealed bid on %s was recorded. Keep your amount and secret to reveal it.", evt.ListingID)
		}
		return "New sealed bid", fmt.Sprintf("A sealed bid was placed on listing %s.", evt.ListingID)
	case marketplace.EventBidRevealed:
		if party == evt.Actor {
			return "Bid revealed", fmt.Sprintf("Your bid of %v on %s was revealed.", d["amount"], evt.ListingID)
		}
		return "Bid revealed", fmt.Sprintf("A bid of %v was revealed on listing %s.", d["amount"], evt.ListingID)
	case marketplace.EventAuctionFinalized:
		if d["status"] != string(marketplace.StatusSold) {
			return "Auction ended unsold", fmt.Sprintf("Listing %s ended without a valid bid at or above reserve.", evt.ListingID)
		}
		if party == d["winner"] {
			return "You won the auction", fmt.Sprintf("You won listing %s at %v. Funds are held in escrow.", evt.ListingID, d["winning_price"])
		}
		return "Auction finalized", fmt.Sprintf("Listing %s sold at %v.", evt.ListingID, d["winning_price"])
	case marketplace.EventEscrowCreated:
		return "Escrow opened", fmt.Sprintf("%v is held in escrow for listing %s.", d["held"], evt.ListingID)
	case marketplace.EventEscrowVote:
		return "Escrow vote", fmt.Sprintf("A %v vote was cast on listing %s (release %v, refund %v).",
			d["vote"], evt.ListingID, d["release_votes"], d["refund_votes"])
	case marketplace.EventEscrowResolved:
		if party == d["payee"] {
			return "Escrow paid out", fmt.Sprintf("%v from listing %s was credited to your wallet.", d["amount"], evt.ListingID)
		}
		return "Escrow resolved", fmt.Sprintf("Escrow of listing %s resolved with %v.", evt.ListingID, d["outcome"])
	case marketplace.EventSettlementFailed:
		return "Settlement delayed", fmt.Sprintf("Paying out listing %s failed and will be retried.", evt.ListingID)
	}
	return string(evt.Type), fmt.Sprintf("Listing %s changed.", evt.ListingID)
}
