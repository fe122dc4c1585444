package wallet

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/escrow"
)

// MemoryWallets is the in-process counterpart of PGWallets
type MemoryWallets struct {
	mu      sync.Mutex
	wallets map[string]*Wallet
	txs     []Transaction
	settled map[string]bool
}

func NewMemoryWallets() *MemoryWallets {
	return &MemoryWallets{
		wallets: make(map[string]*Wallet),
		settled: make(map[string]bool),
	}
}

func (m *MemoryWallets) Settle(_ context.Context, s escrow.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled[s.ListingID] {
		return nil
	}
	m.settled[s.ListingID] = true

	w, ok := m.wallets[s.Payee]
	if !ok {
		w = &Wallet{UserID: s.Payee, CreatedAt: s.At}
		m.wallets[s.Payee] = w
	}
	w.Balance = w.Balance.Add(s.Amount)
	m.txs = append(m.txs, Transaction{
		ID:        uuid.NewString(),
		UserID:    s.Payee,
		Amount:    s.Amount,
		Type:      TypeCredit,
		Status:    StatusCompleted,
		Reference: s.ListingID,
		CreatedAt: s.At,
	})
	log.Infow("wallet credited", "listing", s.ListingID, "payee", s.Payee, "amount", s.Amount.String(), "outcome", s.Outcome)
	return nil
}

func (m *MemoryWallets) Balance(_ context.Context, userID string) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return Wallet{}, apperr.New(apperr.NotFound, "Balance", "", "wallet not found")
	}
	return *w, nil
}

func (m *MemoryWallets) Transactions(_ context.Context, userID string) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Transaction
	for _, t := range m.txs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
