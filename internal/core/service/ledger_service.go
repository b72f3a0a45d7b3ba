package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/speles7172/lahak/internal/core/domain"
	"github.com/speles7172/lahak/internal/port"
)

// LedgerService is the single mutation path for stock. Every submission is
// validated against the catalog, serialized on its cell, appended to the
// ledger and folded into the aggregate in that order.
type LedgerService struct {
	catalog port.CatalogRepository
	ledger  port.LedgerRepository
	locks   port.LockManager
}

func NewLedgerService(catalog port.CatalogRepository, ledger port.LedgerRepository, locks port.LockManager) *LedgerService {
	return &LedgerService{catalog: catalog, ledger: ledger, locks: locks}
}

// Submit records one stock movement. The id and timestamp are assigned
// here, never taken from the caller. Validation happens before the cell
// lock is touched, so a rejected submission leaves no trace.
func (s *LedgerService) Submit(ctx context.Context, txn domain.Transaction) (*domain.Receipt, error) {
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	item, err := s.catalog.FindItem(ctx, domain.NormalizeCode(txn.ItemCode))
	if err != nil {
		return nil, err
	}

	location := domain.NormalizeCode(txn.Location)
	if err := s.checkLocation(ctx, location); err != nil {
		return nil, err
	}

	cell, err := item.Resolve(location)
	if err != nil {
		return nil, err
	}

	txn.ItemCode = item.Code
	txn.Location = location
	txn.User = strings.TrimSpace(txn.User)
	txn.ID = uuid.NewString()

	release, err := s.locks.Acquire(ctx, cell.Key())
	if err != nil {
		return nil, err
	}
	defer release()

	// Assigned under the lock, so ledger order and timestamps agree per cell.
	txn.RecordedAt = time.Now().UTC()

	return s.ledger.Apply(ctx, txn, cell)
}

// Bootstrap authorizes the identity and returns the full snapshot a
// session starts from. Unknown identities get the error and nothing else.
func (s *LedgerService) Bootstrap(ctx context.Context, identity string) (*domain.Snapshot, error) {
	user, err := s.catalog.FindUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	locations, err := s.catalog.ListLocations(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.catalog.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.Snapshot{User: *user, Locations: locations, Items: items}, nil
}

// Lookup fetches a single item by raw code.
func (s *LedgerService) Lookup(ctx context.Context, code string) (*domain.Item, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		return nil, fmt.Errorf("%w: item code required", domain.ErrValidation)
	}
	return s.catalog.FindItem(ctx, normalized)
}

func (s *LedgerService) checkLocation(ctx context.Context, location string) error {
	locations, err := s.catalog.ListLocations(ctx)
	if err != nil {
		return err
	}
	for _, loc := range locations {
		if loc.Code == location {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a registered location", domain.ErrLocationNotFound, location)
}
