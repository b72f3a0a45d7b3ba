package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/speles7172/lahak/internal/core/domain"
)

const defaultLockWait = 2 * time.Second

// MemoryLockManager serializes cell writers inside one process. Each cell
// key owns a one-slot channel acting as its mutex; waiting is bounded.
type MemoryLockManager struct {
	wait  time.Duration
	mu    sync.Mutex
	cells map[string]chan struct{}
}

func NewMemoryLockManager(wait time.Duration) *MemoryLockManager {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &MemoryLockManager{
		wait:  wait,
		cells: make(map[string]chan struct{}),
	}
}

func (m *MemoryLockManager) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	ch, ok := m.cells[key]
	if !ok {
		// Cell slots are never reclaimed; the key space is bounded by
		// catalog size times registered locations.
		ch = make(chan struct{}, 1)
		m.cells[key] = ch
	}
	m.mu.Unlock()

	timer := time.NewTimer(m.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", domain.ErrBusy, key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
