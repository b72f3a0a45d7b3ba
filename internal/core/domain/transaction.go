package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Transaction is one signed stock adjustment. ID and RecordedAt are assigned
// by the authority on apply; appended records are never updated or deleted.
type Transaction struct {
	ID         string
	ItemCode   string
	Qty        float64
	Location   string
	User       string
	Comment    string
	RecordedAt time.Time
}

// Validate checks the submitted fields in the order the protocol promises:
// item code, then quantity, then location and user.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ItemCode) == "" {
		return fmt.Errorf("%w: item code required", ErrValidation)
	}
	if math.IsNaN(t.Qty) || math.IsInf(t.Qty, 0) {
		return fmt.Errorf("%w: qty must be a finite number", ErrValidation)
	}
	if strings.TrimSpace(t.Location) == "" {
		return fmt.Errorf("%w: location required", ErrValidation)
	}
	if strings.TrimSpace(t.User) == "" {
		return fmt.Errorf("%w: user required", ErrValidation)
	}
	return nil
}

// Receipt reports one applied transaction: the before/after quantities of
// the touched cell and the post-apply item snapshot.
type Receipt struct {
	ItemCode   string
	ItemName   string
	Location   string
	OldQty     float64
	NewQty     float64
	Delta      float64
	RecordedAt time.Time
	Item       *Item
}

// Snapshot is the bootstrap payload a session caches: the resolved user,
// the location reference set, and every catalog item.
type Snapshot struct {
	User      User
	Locations []Location
	Items     []*Item
}
