package domain

import (
	"fmt"
	"time"
)

// Item is a catalog record. Exactly one quantity shape is live: Total for a
// single running aggregate, or Locations for one independent cell per
// registered location (keyed by normalized location code).
type Item struct {
	Code      string
	Series    string
	Name      string
	Volume    string
	Total     *float64
	Locations map[string]float64
	UpdatedAt time.Time
}

// Location is a stock-keeping bucket. Reference data, read-only here.
type Location struct {
	Code string
	Name string
}

// User is an allow-listed identity resolved at bootstrap.
type User struct {
	Email           string
	Name            string
	DefaultLocation string
}

// PerLocation reports whether the item keeps one quantity per location.
func (i *Item) PerLocation() bool {
	return i.Locations != nil
}

// Quantity returns the current value of the cell behind ref.
func (i *Item) Quantity(ref CellRef) float64 {
	if ref.Location != "" {
		return i.Locations[ref.Location]
	}
	if i.Total == nil {
		return 0
	}
	return *i.Total
}

// Resolve maps a location code onto the storage cell for this item: the
// named per-location cell, or the single aggregate cell. The caller has
// already checked the location against the reference set.
func (i *Item) Resolve(location string) (CellRef, error) {
	if !i.PerLocation() {
		return CellRef{ItemCode: i.Code}, nil
	}
	loc := NormalizeCode(location)
	if _, ok := i.Locations[loc]; !ok {
		return CellRef{}, fmt.Errorf("%w: %s has no cell for %s", ErrLocationNotFound, i.Code, loc)
	}
	return CellRef{ItemCode: i.Code, Location: loc}, nil
}

// Clone returns a deep copy, so cached snapshots never alias store state.
func (i *Item) Clone() *Item {
	c := *i
	if i.Total != nil {
		t := *i.Total
		c.Total = &t
	}
	if i.Locations != nil {
		c.Locations = make(map[string]float64, len(i.Locations))
		for k, v := range i.Locations {
			c.Locations[k] = v
		}
	}
	return &c
}

// CellRef identifies the quantity cell a transaction lands on. Location is
// empty for the single aggregate cell.
type CellRef struct {
	ItemCode string
	Location string
}

// Key is the serialization used to scope locks to one cell.
func (r CellRef) Key() string {
	if r.Location == "" {
		return r.ItemCode
	}
	return r.ItemCode + ":" + r.Location
}
