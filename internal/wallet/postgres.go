package wallet

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/escrow"
)

var log = logging.Logger("wallet")

// PGWallets credits settled escrows to wallets in Postgres
type PGWallets struct {
	pool *pgxpool.Pool
}

func NewPGWallets(pool *pgxpool.Pool) *PGWallets {
	return &PGWallets{pool: pool}
}

// Settle records a credit for the payee and raises their balance in one
// transaction. The transaction row is unique per listing, so a replayed
// settlement changes nothing.
func (w *PGWallets) Settle(ctx context.Context, s escrow.Settlement) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return xerrors.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        INSERT INTO transactions (user_id, amount, type, status, reference, created_at)
        VALUES ($1, $2::text::numeric, $3, $4, $5, $6)
        ON CONFLICT (reference, type) DO NOTHING`,
		s.Payee, s.Amount.String(), TypeCredit, StatusCompleted, s.ListingID, s.At,
	)
	if err != nil {
		return xerrors.Errorf("record settlement of %s: %w", s.ListingID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Infow("settlement already recorded", "listing", s.ListingID, "payee", s.Payee)
		return nil
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO wallets (user_id, balance) VALUES ($1, $2::text::numeric)
        ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance`,
		s.Payee, s.Amount.String(),
	); err != nil {
		return xerrors.Errorf("credit wallet of %s: %w", s.Payee, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return xerrors.Errorf("commit settlement of %s: %w", s.ListingID, err)
	}
	log.Infow("wallet credited", "listing", s.ListingID, "payee", s.Payee, "amount", s.Amount.String(), "outcome", s.Outcome)
	return nil
}

func (w *PGWallets) Balance(ctx context.Context, userID string) (Wallet, error) {
	var (
		wl      = Wallet{UserID: userID}
		balance string
	)
	err := w.pool.QueryRow(ctx,
		`SELECT balance::text, created_at FROM wallets WHERE user_id = $1`, userID,
	).Scan(&balance, &wl.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, apperr.New(apperr.NotFound, "Balance", "", "wallet not found")
	}
	if err != nil {
		return Wallet{}, xerrors.Errorf("load wallet of %s: %w", userID, err)
	}
	if wl.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, xerrors.Errorf("wallet balance of %s: %w", userID, err)
	}
	return wl, nil
}

func (w *PGWallets) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := w.pool.Query(ctx, `
        SELECT id::text, user_id, amount::text, type, status, reference, created_at
        FROM transactions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, xerrors.Errorf("load transactions of %s: %w", userID, err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var (
			t      Transaction
			amount string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &amount, &t.Type, &t.Status, &t.Reference, &t.CreatedAt); err != nil {
			return nil, xerrors.Errorf("scan transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, xerrors.Errorf("transaction amount: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
