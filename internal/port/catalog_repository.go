package port

import (
	"context"

	"github.com/speles7172/lahak/internal/core/domain"
)

type CatalogRepository interface {
	// FindItem resolves a normalized code to its item, or domain.ErrItemNotFound
	FindItem(ctx context.Context, code string) (*domain.Item, error)

	// ListItems returns every catalog item (bootstrap payload)
	ListItems(ctx context.Context) ([]*domain.Item, error)

	// ListLocations returns the location reference set
	ListLocations(ctx context.Context) ([]domain.Location, error)

	// FindUser resolves an identity against the allow-list (case-insensitive,
	// trimmed), or domain.ErrUnauthorized
	FindUser(ctx context.Context, identity string) (*domain.User, error)
}

type LedgerRepository interface {
	// Apply appends the immutable transaction record and folds its delta into
	// the resolved cell as one unit of work, returning the receipt. The caller
	// holds the cell lease for the duration.
	Apply(ctx context.Context, txn domain.Transaction, cell domain.CellRef) (*domain.Receipt, error)
}
