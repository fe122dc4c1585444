package db

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/xerrors"
)

var log = logging.Logger("db")

// Connect opens a pool to Postgres and checks it is reachable
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, xerrors.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("unable to ping database: %w", err)
	}
	log.Info("connected to Postgres")
	return pool, nil
}

// EnsureSchema creates every table the service uses. It is idempotent and
// runs at startup and from the migrate command.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	steps := []struct {
		name string
		fn   func(context.Context, *pgxpool.Pool) error
	}{
		{"listings", ensureListingsTable},
		{"bids", ensureBidTables},
		{"auction_results", ensureResultsTable},
		{"escrow", ensureEscrowTables},
		{"wallets", ensureWalletTables},
		{"notifications", ensureNotificationsTable},
	}
	for _, s := range steps {
		if err := s.fn(ctx, pool); err != nil {
			return xerrors.Errorf("ensure %s schema: %w", s.name, err)
		}
		log.Debugw("schema ensured", "part", s.name)
	}
	return nil
}

// ensureListingsTable creates listings; status only ever moves away from 'open'
func ensureListingsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS listings (
            id UUID PRIMARY KEY,
            seller_id TEXT NOT NULL,
            arbiter_id TEXT NOT NULL,
            name TEXT NOT NULL,
            category TEXT NOT NULL DEFAULT '',
            condition TEXT NOT NULL DEFAULT '',
            price NUMERIC(78,0) NOT NULL,
            desc_hash TEXT NOT NULL DEFAULT '',
            image_hash TEXT NOT NULL DEFAULT '',
            auction_start TIMESTAMP WITH TIME ZONE NOT NULL,
            auction_end TIMESTAMP WITH TIME ZONE NOT NULL,
            reveal_duration_ms BIGINT NOT NULL,
            status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open','sold','unsold')),
            created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
            CHECK (auction_start <= auction_end)
        );
        CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings(seller_id);
        CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category);
        CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
    `)
	return err
}

// ensureBidTables creates sealed and revealed bids, one of each per bidder
func ensureBidTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS sealed_bids (
            listing_id UUID NOT NULL REFERENCES listings(id),
            bidder_id TEXT NOT NULL,
            commitment BYTEA NOT NULL CHECK (length(commitment) = 32),
            submitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
            PRIMARY KEY (listing_id, bidder_id)
        );
        CREATE TABLE IF NOT EXISTS revealed_bids (
            listing_id UUID NOT NULL,
            bidder_id TEXT NOT NULL,
            amount NUMERIC(78,0) NOT NULL,
            secret TEXT NOT NULL,
            revealed_at TIMESTAMP WITH TIME ZONE NOT NULL,
            seq INTEGER NOT NULL,
            PRIMARY KEY (listing_id, bidder_id),
            FOREIGN KEY (listing_id, bidder_id) REFERENCES sealed_bids(listing_id, bidder_id)
        );
    `)
	return err
}

func ensureResultsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS auction_results (
            listing_id UUID PRIMARY KEY REFERENCES listings(id),
            winner_id TEXT NOT NULL DEFAULT '',
            highest_bid NUMERIC(78,0) NOT NULL DEFAULT 0,
            winning_price NUMERIC(78,0) NOT NULL DEFAULT 0,
            sealed_bids INTEGER NOT NULL,
            valid_reveals INTEGER NOT NULL,
            finalized_at TIMESTAMP WITH TIME ZONE NOT NULL
        );
    `)
	return err
}

// ensureEscrowTables creates escrow accounts and their votes, one vote per party
func ensureEscrowTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS escrow_accounts (
            listing_id UUID PRIMARY KEY REFERENCES listings(id),
            buyer_id TEXT NOT NULL,
            seller_id TEXT NOT NULL,
            arbiter_id TEXT NOT NULL,
            held NUMERIC(78,0) NOT NULL,
            resolved BOOLEAN NOT NULL DEFAULT FALSE,
            outcome TEXT NULL CHECK (outcome IN ('release','refund')),
            created_at TIMESTAMP WITH TIME ZONE NOT NULL,
            resolved_at TIMESTAMP WITH TIME ZONE NULL
        );
        CREATE TABLE IF NOT EXISTS escrow_votes (
            listing_id UUID NOT NULL REFERENCES escrow_accounts(listing_id),
            party_id TEXT NOT NULL,
            outcome TEXT NOT NULL CHECK (outcome IN ('release','refund')),
            PRIMARY KEY (listing_id, party_id)
        );
    `)
	return err
}

// ensureWalletTables creates balances and the payout journal
func ensureWalletTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS wallets (
            user_id TEXT PRIMARY KEY,
            balance NUMERIC(78,0) NOT NULL DEFAULT 0,
            created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
        );
        CREATE TABLE IF NOT EXISTS transactions (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id TEXT NOT NULL,
            amount NUMERIC(78,0) NOT NULL,
            type TEXT NOT NULL CHECK (type IN ('credit','debit')),
            status TEXT NOT NULL,
            reference TEXT NOT NULL,
            created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
        );
        CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_reference ON transactions(reference, type);
        CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at);
    `)
	return err
}

// ensureNotificationsTable creates in-app notifications; dedupe_key makes
// redelivered events insert nothing
func ensureNotificationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS notifications (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id TEXT NOT NULL,
            type TEXT NOT NULL,
            title TEXT NOT NULL,
            body TEXT,
            reference TEXT NULL,
            metadata JSONB NULL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            read_at TIMESTAMP WITH TIME ZONE NULL
        );
        CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at);
        CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications(user_id) WHERE read_at IS NULL;
        ALTER TABLE notifications ADD COLUMN IF NOT EXISTS dedupe_key TEXT NULL;
        CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedupe ON notifications(dedupe_key);
    `)
	return err
}
