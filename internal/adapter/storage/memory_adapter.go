package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/speles7172/lahak/internal/core/domain"
)

// MemoryAdapter keeps the catalog and the transaction ledger in process
// memory. It backs single-node serving and the in-process tests; the apply
// path has the same unit-of-work shape as the MySQL adapter, with the mutex
// standing in for the database transaction.
type MemoryAdapter struct {
	mu        sync.RWMutex
	items     map[string]*domain.Item
	locations []domain.Location
	users     map[string]domain.User
	ledger    []domain.Transaction
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items: make(map[string]*domain.Item),
		users: make(map[string]domain.User),
	}
}

// Load replaces the adapter's contents with the fixture. In per-location
// form every item gets one cell per registered location, defaulted to 0.
func (m *MemoryAdapter) Load(fx *Fixture) error {
	perLoc, err := fx.PerLocation()
	if err != nil {
		return err
	}

	items := make(map[string]*domain.Item, len(fx.Items))
	locations := make([]domain.Location, 0, len(fx.Locations))
	users := make(map[string]domain.User, len(fx.Users))

	for _, loc := range fx.Locations {
		locations = append(locations, domain.Location{
			Code: domain.NormalizeCode(loc.Code),
			Name: loc.Name,
		})
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].Code < locations[j].Code })

	for _, u := range fx.Users {
		key := strings.ToLower(strings.TrimSpace(u.Email))
		users[key] = domain.User{
			Email:           strings.TrimSpace(u.Email),
			Name:            u.Name,
			DefaultLocation: domain.NormalizeCode(u.DefaultLocation),
		}
	}

	for _, fi := range fx.Items {
		code := domain.NormalizeCode(fi.Code)
		if code == "" {
			return errors.Wrap(domain.ErrConfiguration, "fixture item without code")
		}
		if _, dup := items[code]; dup {
			return errors.Wrapf(domain.ErrConfiguration, "duplicate item code %s", code)
		}
		it := &domain.Item{
			Code:   code,
			Series: fi.Series,
			Name:   fi.Name,
			Volume: fi.Volume,
		}
		if perLoc {
			it.Locations = make(map[string]float64, len(locations))
			for _, loc := range locations {
				it.Locations[loc.Code] = 0
			}
			for loc, qty := range fi.Locations {
				it.Locations[domain.NormalizeCode(loc)] = qty
			}
		} else {
			total := 0.0
			if fi.Total != nil {
				total = *fi.Total
			}
			it.Total = &total
		}
		items[code] = it
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
	m.locations = locations
	m.users = users
	m.ledger = nil
	return nil
}

func (m *MemoryAdapter) FindItem(ctx context.Context, code string) (*domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[domain.NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, code)
	}
	return it.Clone(), nil
}

func (m *MemoryAdapter) ListItems(ctx context.Context) ([]*domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]*domain.Item, 0, len(m.items))
	for _, it := range m.items {
		items = append(items, it.Clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items, nil
}

func (m *MemoryAdapter) ListLocations(ctx context.Context) ([]domain.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	locations := make([]domain.Location, len(m.locations))
	copy(locations, m.locations)
	return locations, nil
}

func (m *MemoryAdapter) FindUser(ctx context.Context, identity string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[strings.ToLower(strings.TrimSpace(identity))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, strings.TrimSpace(identity))
	}
	copied := u
	return &copied, nil
}

// Apply appends the record and folds the delta into the resolved cell under
// one mutex hold, so a reader never observes the ledger and the aggregate
// disagreeing.
func (m *MemoryAdapter) Apply(ctx context.Context, txn domain.Transaction, cell domain.CellRef) (*domain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[cell.ItemCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, cell.ItemCode)
	}

	old := it.Quantity(cell)
	next := old + txn.Qty
	if cell.Location != "" {
		it.Locations[cell.Location] = next
	} else {
		it.Total = &next
	}
	if txn.RecordedAt.After(it.UpdatedAt) {
		it.UpdatedAt = txn.RecordedAt
	}
	m.ledger = append(m.ledger, txn)

	return &domain.Receipt{
		ItemCode:   it.Code,
		ItemName:   it.Name,
		Location:   txn.Location,
		OldQty:     old,
		NewQty:     next,
		Delta:      txn.Qty,
		RecordedAt: txn.RecordedAt,
		Item:       it.Clone(),
	}, nil
}

// Transactions returns a copy of the appended records, oldest first.
func (m *MemoryAdapter) Transactions() []domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ledger := make([]domain.Transaction, len(m.ledger))
	copy(ledger, m.ledger)
	return ledger
}
