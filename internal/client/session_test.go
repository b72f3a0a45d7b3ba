package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speles7172/lahak/internal/core/domain"
)

// fakeSync is a canned sync endpoint that counts bootstraps and remembers
// the last submitted body.
type fakeSync struct {
	bootstraps atomic.Int32
	submitted  chan []byte
	submitGate chan struct{} // when set, submits block until closed
}

func newFakeSync() *fakeSync {
	return &fakeSync{submitted: make(chan []byte, 16)}
}

func (f *fakeSync) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Query().Get("action") == "bootstrap":
			f.bootstraps.Add(1)
			w.Write([]byte(bootstrapReply))
		case r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			f.submitted <- body
			if f.submitGate != nil {
				<-f.submitGate
			}
			w.Write([]byte(`{
				"success": true, "item_code": "BK001", "item_name": "Crate",
				"location": "B", "old_qty": 0, "new_qty": 7, "delta": 7,
				"timestamp": "2026-08-21T09:00:00Z"
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestSession(t *testing.T, f *fakeSync) (*Session, *httptest.Server) {
	srv := httptest.NewServer(f.handler())
	gw, err := NewGateway(srv.URL, nil)
	require.NoError(t, err)
	return NewSession(gw), srv
}

func TestSessionOpen_Once(t *testing.T) {
	f := newFakeSync()
	s, srv := newTestSession(t, f)
	defer srv.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Open(context.Background(), "ada@example.com"); err != nil {
				t.Errorf("open failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// One more after the fact is a no-op.
	require.NoError(t, s.Open(context.Background(), "ada@example.com"))
	assert.Equal(t, int32(1), f.bootstraps.Load(), "the snapshot downloads exactly once")
}

func TestSessionLookup_LocalOnly(t *testing.T) {
	f := newFakeSync()
	s, srv := newTestSession(t, f)

	_, err := s.Lookup("BK001")
	assert.ErrorIs(t, err, ErrSessionClosed)

	require.NoError(t, s.Open(context.Background(), "ada@example.com"))

	// Lookups keep working with the server gone.
	srv.Close()

	item, err := s.Lookup(" bk-001 ")
	require.NoError(t, err)
	assert.Equal(t, "Crate", item.Name)
	assert.Equal(t, 10.0, item.Locations["A"])

	_, err = s.Lookup("ZZ999")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestSessionSubmit_PatchesCell(t *testing.T) {
	f := newFakeSync()
	s, srv := newTestSession(t, f)
	defer srv.Close()

	require.NoError(t, s.Open(context.Background(), "ada@example.com"))

	receipt, err := s.Submit(context.Background(), SubmitPayload{
		ItemCode: "BK001", Qty: 7, Location: "B",
	})
	require.NoError(t, err)
	assert.Equal(t, 7.0, receipt.NewQty)

	item, err := s.Lookup("BK001")
	require.NoError(t, err)
	assert.Equal(t, 7.0, item.Locations["B"], "receipt patches the touched cell")
	assert.Equal(t, 10.0, item.Locations["A"], "other cells stay as bootstrapped")
	assert.Equal(t, time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC), item.UpdatedAt.UTC())
}

func TestSessionSubmit_DefaultsFromSession(t *testing.T) {
	f := newFakeSync()
	s, srv := newTestSession(t, f)
	defer srv.Close()

	require.NoError(t, s.Open(context.Background(), "ada@example.com"))

	_, err := s.Submit(context.Background(), SubmitPayload{ItemCode: "BK001", Qty: 1})
	require.NoError(t, err)

	var sent SubmitPayload
	require.NoError(t, json.Unmarshal(<-f.submitted, &sent))
	assert.Equal(t, "A", sent.Location, "falls back to the selected location")
	assert.Equal(t, "ada@example.com", sent.User, "falls back to the signed-in identity")
}

func TestSessionSubmit_RefusedWhileInFlight(t *testing.T) {
	f := newFakeSync()
	f.submitGate = make(chan struct{})
	s, srv := newTestSession(t, f)
	defer srv.Close()

	require.NoError(t, s.Open(context.Background(), "ada@example.com"))

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), SubmitPayload{ItemCode: "BK001", Qty: 1})
		done <- err
	}()

	// Wait for the first submission to reach the server, then try again.
	<-f.submitted
	_, err := s.Submit(context.Background(), SubmitPayload{ItemCode: "BK001", Qty: 2})
	assert.ErrorIs(t, err, domain.ErrSubmitInFlight)

	close(f.submitGate)
	require.NoError(t, <-done)
}

func TestSessionSignOut_DuringSubmit(t *testing.T) {
	f := newFakeSync()
	f.submitGate = make(chan struct{})
	s, srv := newTestSession(t, f)
	defer srv.Close()

	require.NoError(t, s.Open(context.Background(), "ada@example.com"))

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), SubmitPayload{ItemCode: "BK001", Qty: 7, Location: "B"})
		done <- err
	}()

	// Sign out while the submission sits on the wire, then let it finish.
	<-f.submitted
	s.SignOut()
	close(f.submitGate)

	require.NoError(t, <-done, "the server-side apply still completes")

	// The late receipt lands on a discarded snapshot and goes nowhere.
	_, err := s.Lookup("BK001")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionOpen_IdentityMismatch(t *testing.T) {
	f := newFakeSync()
	s, srv := newTestSession(t, f)
	defer srv.Close()

	require.NoError(t, s.Open(context.Background(), "ada@example.com"))

	err := s.Open(context.Background(), "bob@example.com")
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.Equal(t, int32(1), f.bootstraps.Load(), "the refused open must not refetch")

	// Spelling differences of the same identity are still a no-op.
	require.NoError(t, s.Open(context.Background(), " ADA@Example.COM "))

	// After sign-out the other identity is welcome.
	s.SignOut()
	require.NoError(t, s.Open(context.Background(), "bob@example.com"))
	assert.Equal(t, int32(2), f.bootstraps.Load())
}

func TestSessionSelectLocation(t *testing.T) {
	f := newFakeSync()
	s, srv := newTestSession(t, f)
	defer srv.Close()

	require.NoError(t, s.Open(context.Background(), "ada@example.com"))
	assert.Equal(t, "A", s.SelectedLocation(), "bootstrap selects the user default")

	require.NoError(t, s.SelectLocation(" b "))
	assert.Equal(t, "B", s.SelectedLocation())

	err := s.SelectLocation("Z")
	assert.ErrorIs(t, err, domain.ErrLocationNotFound)
}

func TestSessionSignOut(t *testing.T) {
	f := newFakeSync()
	s, srv := newTestSession(t, f)
	defer srv.Close()

	require.NoError(t, s.Open(context.Background(), "ada@example.com"))
	s.SignOut()

	_, err := s.Lookup("BK001")
	assert.ErrorIs(t, err, ErrSessionClosed)

	// Reopening bootstraps again from scratch.
	require.NoError(t, s.Open(context.Background(), "ada@example.com"))
	assert.Equal(t, int32(2), f.bootstraps.Load())
}
