package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/speles7172/lahak/internal/core/domain"
)

// ErrSessionClosed means no bootstrap has completed for this session.
var ErrSessionClosed = errors.New("session not open")

// ErrIdentityMismatch means Open named a different identity than the one
// the session bootstrapped with. Sign out first to switch users.
var ErrIdentityMismatch = errors.New("session open for another identity")

// Session is the client-side working set. It is filled exactly once by a
// bootstrap and afterwards kept current purely from submit receipts; no
// operation triggers a re-download. One submission may be outstanding at a
// time.
type Session struct {
	gw *Gateway
	sf singleflight.Group

	mu        sync.RWMutex
	open      bool
	user      domain.User
	locations []domain.Location
	items     map[string]*domain.Item
	selected  string

	busy atomic.Bool
}

func NewSession(gw *Gateway) *Session {
	return &Session{gw: gw}
}

// Open bootstraps the session. Concurrent calls share one flight; once
// open, reopening with the same identity is a no-op and any other identity
// is refused until SignOut.
func (s *Session) Open(ctx context.Context, identity string) error {
	if open, err := s.openFor(identity); open {
		return err
	}

	_, err, _ := s.sf.Do("bootstrap", func() (interface{}, error) {
		if open, err := s.openFor(identity); open {
			return nil, err
		}
		snapshot, err := s.gw.Bootstrap(ctx, identity)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.user = snapshot.User
		s.locations = snapshot.Locations
		s.items = make(map[string]*domain.Item, len(snapshot.Items))
		for _, it := range snapshot.Items {
			s.items[it.Code] = it
		}
		s.selected = snapshot.User.DefaultLocation
		s.open = true
		return nil, nil
	})
	return err
}

// Lookup answers from the local working set only.
func (s *Session) Lookup(code string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.open {
		return nil, ErrSessionClosed
	}
	it, ok := s.items[domain.NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, code)
	}
	return it.Clone(), nil
}

// Submit sends one movement and patches the touched cell from the receipt.
// While a submission is in flight further ones are refused instead of
// queued, so a duplicate can never be produced by impatience.
func (s *Session) Submit(ctx context.Context, payload SubmitPayload) (*domain.Receipt, error) {
	if !s.isOpen() {
		return nil, ErrSessionClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, domain.ErrSubmitInFlight
	}
	defer s.busy.Store(false)

	if payload.Location == "" {
		payload.Location = s.SelectedLocation()
	}
	if payload.User == "" {
		s.mu.RLock()
		payload.User = s.user.Email
		s.mu.RUnlock()
	}

	receipt, err := s.gw.SubmitTransaction(ctx, payload)
	if err != nil {
		return nil, err
	}

	s.patch(receipt)
	return receipt, nil
}

// patch folds a receipt into the working set: the one touched cell and the
// item timestamp, nothing else.
func (s *Session) patch(receipt *domain.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Signed out while the submission was in flight. The server holds the
	// record; the snapshot it would patch is already gone.
	if !s.open {
		return
	}

	it, ok := s.items[receipt.ItemCode]
	if !ok {
		it = &domain.Item{Code: receipt.ItemCode, Name: receipt.ItemName}
		s.items[receipt.ItemCode] = it
	}
	if it.Locations != nil {
		it.Locations[domain.NormalizeCode(receipt.Location)] = receipt.NewQty
	} else {
		qty := receipt.NewQty
		it.Total = &qty
	}
	if receipt.RecordedAt.After(it.UpdatedAt) {
		it.UpdatedAt = receipt.RecordedAt
	}
}

// SelectLocation sets the default location for submissions that name none.
func (s *Session) SelectLocation(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrSessionClosed
	}
	normalized := domain.NormalizeCode(code)
	for _, loc := range s.locations {
		if loc.Code == normalized {
			s.selected = normalized
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrLocationNotFound, code)
}

func (s *Session) SelectedLocation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *Session) User() domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) Locations() []domain.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Location, len(s.locations))
	copy(out, s.locations)
	return out
}

// SignOut drops the working set. The next Open bootstraps from scratch.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.user = domain.User{}
	s.locations = nil
	s.items = nil
	s.selected = ""
	s.busy.Store(false)
}

func (s *Session) isOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// openFor reports whether the session is open, and if so whether identity
// matches the bootstrapped user (trimmed, case-insensitive, same as the
// server's allow-list compare).
func (s *Session) openFor(identity string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.open {
		return false, nil
	}
	if !strings.EqualFold(strings.TrimSpace(identity), s.user.Email) {
		return true, fmt.Errorf("%w: %s", ErrIdentityMismatch, s.user.Email)
	}
	return true, nil
}
