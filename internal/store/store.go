package store

import (
	"context"

	"github.com/x69x/webmail/internal/model"
)

// Store defines the persistence interface for the locally remembered
// account collection. The collection is saved and loaded wholesale: the
// session controller owns the canonical state and the store only mirrors
// it for durability.
type Store interface {
	// LoadAccounts returns the persisted account collection in its
	// saved order, or an empty slice when nothing has been saved yet.
	LoadAccounts(ctx context.Context) ([]model.Account, error)

	// SaveAccounts replaces the persisted collection with the given
	// one. Saving an empty collection is a no-op so transient empty
	// states never clobber valid persisted data.
	SaveAccounts(ctx context.Context, accounts []model.Account) error

	Close() error
}
