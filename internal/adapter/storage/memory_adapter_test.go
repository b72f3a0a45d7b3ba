package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speles7172/lahak/internal/core/domain"
)

func floatPtr(f float64) *float64 { return &f }

func totalFixture() *Fixture {
	return &Fixture{
		Locations: []FixtureLocation{{Code: "MAIN", Name: "Main store"}},
		Users: []FixtureUser{
			{Email: "ada@example.com", Name: "Ada", DefaultLocation: "MAIN"},
		},
		Items: []FixtureItem{
			{Code: "BK-001", Series: "120", Name: "Crate", Volume: "12L", Total: floatPtr(10)},
			{Code: "BK-002", Series: "120", Name: "Barrel", Volume: "60L", Total: floatPtr(3)},
		},
	}
}

func perLocFixture() *Fixture {
	return &Fixture{
		Locations: []FixtureLocation{
			{Code: "A", Name: "Aisle A"},
			{Code: "B", Name: "Aisle B"},
		},
		Users: []FixtureUser{
			{Email: "ada@example.com", Name: "Ada", DefaultLocation: "A"},
		},
		Items: []FixtureItem{
			{Code: "BK-001", Series: "120", Name: "Crate", Volume: "12L", Locations: map[string]float64{"A": 10}},
		},
	}
}

func TestMemoryAdapterLoad_PerLocation(t *testing.T) {
	m := NewMemoryAdapter()
	require.NoError(t, m.Load(perLocFixture()))

	// Raw code input normalizes to the stored key.
	item, err := m.FindItem(context.Background(), " bk 001 ")
	require.NoError(t, err)

	assert.Equal(t, "BK001", item.Code)
	assert.Nil(t, item.Total)
	assert.Equal(t, 10.0, item.Locations["A"])

	// Cells missing from the fixture exist with a zero quantity.
	qty, ok := item.Locations["B"]
	assert.True(t, ok)
	assert.Equal(t, 0.0, qty)
}

func TestMemoryAdapterLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		fx   *Fixture
	}{
		{
			name: "duplicate code after normalization",
			fx: &Fixture{
				Locations: []FixtureLocation{{Code: "MAIN"}},
				Items: []FixtureItem{
					{Code: "BK-001", Total: floatPtr(1)},
					{Code: "bk001", Total: floatPtr(2)},
				},
			},
		},
		{
			name: "mixed quantity shapes",
			fx: &Fixture{
				Locations: []FixtureLocation{{Code: "A"}},
				Items: []FixtureItem{
					{Code: "BK-001", Total: floatPtr(1)},
					{Code: "BK-002", Locations: map[string]float64{"A": 2}},
				},
			},
		},
		{
			name: "unregistered location in item",
			fx: &Fixture{
				Locations: []FixtureLocation{{Code: "A"}},
				Items: []FixtureItem{
					{Code: "BK-001", Locations: map[string]float64{"Z": 2}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewMemoryAdapter().Load(tt.fx)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestMemoryAdapterFindItem_CloneIsolation(t *testing.T) {
	m := NewMemoryAdapter()
	require.NoError(t, m.Load(perLocFixture()))

	item, err := m.FindItem(context.Background(), "BK001")
	require.NoError(t, err)
	item.Locations["A"] = 999

	again, err := m.FindItem(context.Background(), "BK001")
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Locations["A"])
}

func TestMemoryAdapterFindUser(t *testing.T) {
	m := NewMemoryAdapter()
	require.NoError(t, m.Load(totalFixture()))

	user, err := m.FindUser(context.Background(), " ADA@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)
	assert.Equal(t, "MAIN", user.DefaultLocation)

	_, err = m.FindUser(context.Background(), "mallory@example.com")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestMemoryAdapterApply_Total(t *testing.T) {
	m := NewMemoryAdapter()
	require.NoError(t, m.Load(totalFixture()))

	now := time.Now().UTC()
	receipt, err := m.Apply(context.Background(), domain.Transaction{
		ID: "t1", ItemCode: "BK001", Qty: 5, Location: "MAIN",
		User: "ada@example.com", RecordedAt: now,
	}, domain.CellRef{ItemCode: "BK001"})
	require.NoError(t, err)

	assert.Equal(t, 10.0, receipt.OldQty)
	assert.Equal(t, 15.0, receipt.NewQty)
	assert.Equal(t, 5.0, receipt.Delta)
	assert.Equal(t, now, receipt.Item.UpdatedAt)
	assert.Len(t, m.Transactions(), 1)

	// An out-of-order record must not move the timestamp backwards.
	earlier := now.Add(-time.Hour)
	receipt, err = m.Apply(context.Background(), domain.Transaction{
		ID: "t2", ItemCode: "BK001", Qty: -20, Location: "MAIN",
		User: "ada@example.com", RecordedAt: earlier,
	}, domain.CellRef{ItemCode: "BK001"})
	require.NoError(t, err)

	assert.Equal(t, -5.0, receipt.NewQty)
	assert.Equal(t, now, receipt.Item.UpdatedAt)
	assert.Len(t, m.Transactions(), 2)
}

func TestMemoryAdapterApply_PerLocationCell(t *testing.T) {
	m := NewMemoryAdapter()
	require.NoError(t, m.Load(perLocFixture()))

	receipt, err := m.Apply(context.Background(), domain.Transaction{
		ID: "t1", ItemCode: "BK001", Qty: 2.5, Location: "B",
		User: "ada@example.com", RecordedAt: time.Now().UTC(),
	}, domain.CellRef{ItemCode: "BK001", Location: "B"})
	require.NoError(t, err)

	assert.Equal(t, 0.0, receipt.OldQty)
	assert.Equal(t, 2.5, receipt.NewQty)
	assert.Equal(t, 10.0, receipt.Item.Locations["A"], "sibling cell untouched")
}

func TestMemoryAdapterApply_UnknownItem(t *testing.T) {
	m := NewMemoryAdapter()
	require.NoError(t, m.Load(totalFixture()))

	_, err := m.Apply(context.Background(), domain.Transaction{
		ID: "t1", ItemCode: "NOPE", Qty: 1, Location: "MAIN",
		User: "ada@example.com", RecordedAt: time.Now().UTC(),
	}, domain.CellRef{ItemCode: "NOPE"})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}
