package db

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/auction"
	"github.com/sudo-init-do/blindbid/internal/commitment"
	"github.com/sudo-init-do/blindbid/internal/escrow"
	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ListingStore keeps listing records in Postgres. Update locks the listing
// row for the duration of the callback, so concurrent bids, reveals and
// votes on one listing are serialised across every server sharing the
// database.
type ListingStore struct {
	pool *pgxpool.Pool
}

var _ marketplace.Store = (*ListingStore)(nil)

// NewListingStore returns a store backed by pool
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

func (s *ListingStore) Create(ctx context.Context, rec *marketplace.Record) error {
	l := rec.Listing
	_, err := s.pool.Exec(ctx, `
        INSERT INTO listings (id, seller_id, arbiter_id, name, category, condition, price,
                              desc_hash, image_hash, auction_start, auction_end, reveal_duration_ms, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9, $10, $11, $12, $13, $14)`,
		l.ID, l.Seller, l.Arbiter, l.Name, l.Category, string(l.Condition), l.Price.String(),
		l.DescHash, l.ImageHash, l.AuctionStart, l.AuctionEnd, l.RevealDuration.Milliseconds(), string(l.Status), l.CreatedAt,
	)
	if err != nil {
		return xerrors.Errorf("insert listing %s: %w", l.ID, err)
	}
	return nil
}

func (s *ListingStore) Get(ctx context.Context, id string) (*marketplace.Record, error) {
	return load(ctx, s.pool, id, false)
}

func (s *ListingStore) List(ctx context.Context, f marketplace.Filter) ([]*marketplace.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+" = $"+strconv.Itoa(len(args)))
	}
	if f.Seller != "" {
		add("seller_id", f.Seller)
	}
	if f.Category != "" {
		add("category", f.Category)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	q := `SELECT id::text FROM listings`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, xerrors.Errorf("list listings: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, xerrors.Errorf("list listings: %w", err)
	}

	out := make([]*marketplace.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := load(ctx, s.pool, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *ListingStore) Update(ctx context.Context, id string, fn func(rec *marketplace.Record) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return xerrors.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := load(ctx, tx, id, true)
	if err != nil {
		return err
	}
	before := snapshotOf(rec)
	if err := fn(rec); err != nil {
		return err
	}
	if err := persist(ctx, tx, before, rec); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return xerrors.Errorf("commit listing %s: %w", id, err)
	}
	return nil
}

// snapshot records what was already stored before an update
type snapshot struct {
	status    marketplace.ListingStatus
	sealed    map[string]bool
	reveals   int
	hasResult bool
	hasEscrow bool
	votes     map[string]bool
	resolved  bool
}

func snapshotOf(rec *marketplace.Record) snapshot {
	s := snapshot{
		status:    rec.Listing.Status,
		sealed:    make(map[string]bool, len(rec.Ledger.Sealed)),
		reveals:   len(rec.Ledger.Revealed),
		hasResult: rec.Ledger.Result != nil,
		votes:     make(map[string]bool),
	}
	for bidder := range rec.Ledger.Sealed {
		s.sealed[bidder] = true
	}
	if rec.Escrow != nil {
		s.hasEscrow = true
		s.resolved = rec.Escrow.Resolved
		for party := range rec.Escrow.Votes {
			s.votes[party] = true
		}
	}
	return s
}

// persist appends what the update added. Bids and votes are insert-only.
func persist(ctx context.Context, tx pgx.Tx, before snapshot, rec *marketplace.Record) error {
	id := rec.Listing.ID

	for bidder, b := range rec.Ledger.Sealed {
		if before.sealed[bidder] {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO sealed_bids (listing_id, bidder_id, commitment, submitted_at) VALUES ($1, $2, $3, $4)`,
			id, bidder, b.Commitment[:], b.SubmittedAt,
		); err != nil {
			return xerrors.Errorf("insert sealed bid: %w", err)
		}
	}

	for _, r := range rec.Ledger.Revealed[before.reveals:] {
		if _, err := tx.Exec(ctx,
			`INSERT INTO revealed_bids (listing_id, bidder_id, amount, secret, revealed_at, seq)
             VALUES ($1, $2, $3::text::numeric, $4, $5, $6)`,
			id, r.Bidder, r.Amount.String(), r.Secret, r.RevealedAt, r.Seq,
		); err != nil {
			return xerrors.Errorf("insert revealed bid: %w", err)
		}
	}

	if res := rec.Ledger.Result; res != nil && !before.hasResult {
		if _, err := tx.Exec(ctx,
			`INSERT INTO auction_results (listing_id, winner_id, highest_bid, winning_price, sealed_bids, valid_reveals, finalized_at)
             VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5, $6, $7)`,
			id, res.Winner, res.HighestBid.String(), res.WinningPrice.String(), res.SealedBids, res.ValidReveals, res.FinalizedAt,
		); err != nil {
			return xerrors.Errorf("insert auction result: %w", err)
		}
	}

	if rec.Listing.Status != before.status {
		if _, err := tx.Exec(ctx,
			`UPDATE listings SET status = $2 WHERE id = $1 AND status = 'open'`,
			id, string(rec.Listing.Status),
		); err != nil {
			return xerrors.Errorf("update listing status: %w", err)
		}
	}

	a := rec.Escrow
	if a == nil {
		return nil
	}
	if !before.hasEscrow {
		if _, err := tx.Exec(ctx,
			`INSERT INTO escrow_accounts (listing_id, buyer_id, seller_id, arbiter_id, held, created_at)
             VALUES ($1, $2, $3, $4, $5::text::numeric, $6)`,
			id, a.Buyer, a.Seller, a.Arbiter, a.Held.String(), a.CreatedAt,
		); err != nil {
			return xerrors.Errorf("insert escrow: %w", err)
		}
	}
	for party, outcome := range a.Votes {
		if before.votes[party] {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO escrow_votes (listing_id, party_id, outcome) VALUES ($1, $2, $3)`,
			id, party, string(outcome),
		); err != nil {
			return xerrors.Errorf("insert escrow vote: %w", err)
		}
	}
	if a.Resolved && !before.resolved {
		if _, err := tx.Exec(ctx,
			`UPDATE escrow_accounts SET resolved = TRUE, outcome = $2, resolved_at = $3 WHERE listing_id = $1 AND NOT resolved`,
			id, string(a.Outcome), a.ResolvedAt,
		); err != nil {
			return xerrors.Errorf("resolve escrow: %w", err)
		}
	}
	return nil
}

func load(ctx context.Context, q querier, id string, forUpdate bool) (*marketplace.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.New(apperr.NotFound, "", id, "listing not found")
	}

	sql := `SELECT id::text, seller_id, arbiter_id, name, category, condition, price::text, desc_hash, image_hash,
                   auction_start, auction_end, reveal_duration_ms, status, created_at
            FROM listings WHERE id = $1`
	if forUpdate {
		sql += " FOR UPDATE"
	}
	var (
		l         marketplace.Listing
		condition string
		price     string
		revealMS  int64
		status    string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&l.ID, &l.Seller, &l.Arbiter, &l.Name, &l.Category, &condition, &price,
		&l.DescHash, &l.ImageHash, &l.AuctionStart, &l.AuctionEnd, &revealMS, &status, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "", id, "listing not found")
	}
	if err != nil {
		return nil, xerrors.Errorf("load listing %s: %w", id, err)
	}
	l.Condition = marketplace.Condition(condition)
	l.Status = marketplace.ListingStatus(status)
	l.RevealDuration = time.Duration(revealMS) * time.Millisecond
	if l.Price, err = decimal.NewFromString(price); err != nil {
		return nil, xerrors.Errorf("listing %s price: %w", id, err)
	}

	ledger := &auction.Ledger{
		ListingID: l.ID,
		Window:    l.Window(),
		Reserve:   l.Price,
		Sealed:    make(map[string]auction.SealedBid),
	}
	if err := loadBids(ctx, q, ledger); err != nil {
		return nil, err
	}
	if ledger.Result, err = loadResult(ctx, q, id); err != nil {
		return nil, err
	}
	account, err := loadEscrow(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &marketplace.Record{Listing: l, Ledger: ledger, Escrow: account}, nil
}

func loadBids(ctx context.Context, q querier, ledger *auction.Ledger) error {
	rows, err := q.Query(ctx,
		`SELECT bidder_id, commitment, submitted_at FROM sealed_bids WHERE listing_id = $1`, ledger.ListingID)
	if err != nil {
		return xerrors.Errorf("load sealed bids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			b   auction.SealedBid
			raw []byte
		)
		if err := rows.Scan(&b.Bidder, &raw, &b.SubmittedAt); err != nil {
			return xerrors.Errorf("scan sealed bid: %w", err)
		}
		if len(raw) != commitment.DigestSize {
			return xerrors.Errorf("sealed bid of %s has %d byte commitment", b.Bidder, len(raw))
		}
		copy(b.Commitment[:], raw)
		ledger.Sealed[b.Bidder] = b
	}
	if err := rows.Err(); err != nil {
		return xerrors.Errorf("load sealed bids: %w", err)
	}

	rows, err = q.Query(ctx,
		`SELECT bidder_id, amount::text, secret, revealed_at, seq FROM revealed_bids WHERE listing_id = $1 ORDER BY seq`,
		ledger.ListingID)
	if err != nil {
		return xerrors.Errorf("load revealed bids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r      auction.RevealedBid
			amount string
		)
		if err := rows.Scan(&r.Bidder, &amount, &r.Secret, &r.RevealedAt, &r.Seq); err != nil {
			return xerrors.Errorf("scan revealed bid: %w", err)
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return xerrors.Errorf("revealed amount of %s: %w", r.Bidder, err)
		}
		ledger.Revealed = append(ledger.Revealed, r)
	}
	return rows.Err()
}

func loadResult(ctx context.Context, q querier, id string) (*auction.Result, error) {
	var (
		res             auction.Result
		highest, price string
	)
	err := q.QueryRow(ctx,
		`SELECT winner_id, highest_bid::text, winning_price::text, sealed_bids, valid_reveals, finalized_at
         FROM auction_results WHERE listing_id = $1`, id,
	).Scan(&res.Winner, &highest, &price, &res.SealedBids, &res.ValidReveals, &res.FinalizedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("load auction result: %w", err)
	}
	if res.HighestBid, err = decimal.NewFromString(highest); err != nil {
		return nil, xerrors.Errorf("highest bid: %w", err)
	}
	if res.WinningPrice, err = decimal.NewFromString(price); err != nil {
		return nil, xerrors.Errorf("winning price: %w", err)
	}
	return &res, nil
}

func loadEscrow(ctx context.Context, q querier, id string) (*escrow.Account, error) {
	var (
		a          escrow.Account
		held       string
		outcome    *string
		resolvedAt *time.Time
	)
	err := q.QueryRow(ctx,
		`SELECT listing_id::text, buyer_id, seller_id, arbiter_id, held::text, resolved, outcome, created_at, resolved_at
         FROM escrow_accounts WHERE listing_id = $1`, id,
	).Scan(&a.ListingID, &a.Buyer, &a.Seller, &a.Arbiter, &held, &a.Resolved, &outcome, &a.CreatedAt, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("load escrow: %w", err)
	}
	if a.Held, err = decimal.NewFromString(held); err != nil {
		return nil, xerrors.Errorf("escrow held amount: %w", err)
	}
	if outcome != nil {
		a.Outcome = escrow.Outcome(*outcome)
	}
	if resolvedAt != nil {
		a.ResolvedAt = *resolvedAt
	}

	rows, err := q.Query(ctx, `SELECT party_id, outcome FROM escrow_votes WHERE listing_id = $1`, id)
	if err != nil {
		return nil, xerrors.Errorf("load escrow votes: %w", err)
	}
	defer rows.Close()
	a.Votes = make(map[string]escrow.Outcome)
	for rows.Next() {
		var party, vote string
		if err := rows.Scan(&party, &vote); err != nil {
			return nil, xerrors.Errorf("scan escrow vote: %w", err)
		}
		a.Votes[party] = escrow.Outcome(vote)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("load escrow votes: %w", err)
	}
	return &a, nil
}
