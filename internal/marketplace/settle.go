package marketplace

import (
	"context"

	"github.com/sudo-init-do/blindbid/internal/escrow"
)

// Settler moves the funds of a resolved escrow to its payee. Implementations
// must treat a repeated settlement of the same listing as a no-op.
type Settler interface {
	Settle(ctx context.Context, s escrow.Settlement) error
}

// SettlerFunc adapts a function to Settler
type SettlerFunc func(ctx context.Context, s escrow.Settlement) error

func (f SettlerFunc) Settle(ctx context.Context, s escrow.Settlement) error { return f(ctx, s) }
