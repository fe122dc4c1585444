// Package auction implements the per-listing sealed-bid ledger.
//
// Bidders submit commitments while the bidding window is open, reveal
// (amount, secret) during the reveal window that follows, and anyone may
// finalize once the reveal window has passed. The result follows the
// second-price rule: the highest valid bid wins and pays the second-highest
// valid amount.
package auction
