package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the settled funds of one user
type Wallet struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Transaction is a wallet movement. Reference is the listing whose escrow
// produced it.
type Transaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	TypeCredit = "credit"

	StatusCompleted = "completed"
)

// Book is the read side of a wallet store
type Book interface {
	Balance(ctx context.Context, userID string) (Wallet, error)
	Transactions(ctx context.Context, userID string) ([]Transaction, error)
}
