package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/speles7172/lahak/internal/adapter/storage"
	"github.com/speles7172/lahak/internal/core/domain"
	"github.com/speles7172/lahak/internal/core/service"
)

const (
	itemCode      = "BK001"
	initialQty    = 100.0
	workers       = 8
	perWorker     = 25
	maxRetries    = 5
	lockWait      = 2 * time.Second
	retryBackoff  = 10 * time.Millisecond
	totalRequests = workers * perWorker
)

var deltas = []float64{3, -2, 5, -1, 2, -4, 1, -3}

var cells = []string{"A", "B"}

func main() {
	ctx := context.Background()

	adapter := storage.NewMemoryAdapter()
	fx := &storage.Fixture{
		Locations: []storage.FixtureLocation{
			{Code: "A", Name: "Aisle A"},
			{Code: "B", Name: "Aisle B"},
		},
		Users: []storage.FixtureUser{
			{Email: "stress@example.com", Name: "Stress", DefaultLocation: "A"},
		},
		Items: []storage.FixtureItem{
			{Code: itemCode, Name: "Stress crate", Locations: map[string]float64{"A": initialQty, "B": initialQty}},
		},
	}
	if err := adapter.Load(fx); err != nil {
		log.Fatalf("failed to load fixture: %v", err)
	}

	svc := service.NewLedgerService(adapter, adapter, storage.NewMemoryLockManager(lockWait))

	// Expected balance per cell, accumulated only for accepted submissions.
	var mu sync.Mutex
	expected := map[string]float64{"A": initialQty, "B": initialQty}
	var accepted, rejected int

	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				delta := deltas[(worker+i)%len(deltas)]
				location := cells[(worker+i)%len(cells)]

				err := submitWithRetry(ctx, svc, domain.Transaction{
					ItemCode: itemCode,
					Qty:      delta,
					Location: location,
					User:     "stress@example.com",
					Comment:  fmt.Sprintf("worker %d", worker),
				})

				mu.Lock()
				if err != nil {
					rejected++
				} else {
					accepted++
					expected[location] += delta
				}
				mu.Unlock()
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Qty/Cell: %g\n", initialQty)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Accepted:         %d\n", accepted)
	fmt.Printf("Rejected:         %d\n", rejected)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	item, err := adapter.FindItem(ctx, itemCode)
	if err != nil {
		log.Fatalf("failed to read item back: %v", err)
	}

	pass := true
	for _, cell := range cells {
		got := item.Locations[cell]
		if got == expected[cell] {
			fmt.Printf("PASS: cell %s converged to %g\n", cell, got)
		} else {
			fmt.Printf("FAIL: cell %s expected %g, got %g\n", cell, expected[cell], got)
			pass = false
		}
	}

	ledger := adapter.Transactions()
	if len(ledger) == accepted {
		fmt.Printf("PASS: ledger holds %d records, one per accepted submission\n", len(ledger))
	} else {
		fmt.Printf("FAIL: ledger holds %d records, expected %d\n", len(ledger), accepted)
		pass = false
	}

	if !pass {
		log.Fatal("stress test failed")
	}
}

// submitWithRetry retries only on the busy signal, the way an operator
// would. Any other rejection is final.
func submitWithRetry(ctx context.Context, svc *service.LedgerService, txn domain.Transaction) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err = svc.Submit(ctx, txn)
		if !errors.Is(err, domain.ErrBusy) {
			return err
		}
		time.Sleep(retryBackoff)
	}
	return err
}
