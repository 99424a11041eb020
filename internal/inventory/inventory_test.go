package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ferreteria/pos/internal/domain"
)

type recordingDecrementer struct {
	mu       sync.Mutex
	failures int
	calls    []string
}

func (r *recordingDecrementer) Decrement(_ context.Context, productID string, qty int, reasonTag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, productID)
	if r.failures > 0 {
		r.failures--
		return errors.New("backend unavailable")
	}
	_ = qty
	_ = reasonTag
	return nil
}

func (r *recordingDecrementer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestDispatcherDeliversEachLine(t *testing.T) {
	rec := &recordingDecrementer{}
	d := NewDispatcher(rec)
	d.EnqueueSale("sale-1", []domain.CartLine{
		{ProductID: "p1", Qty: 2},
		{ProductID: "p2", Qty: 1},
	})
	d.Close()

	if got := rec.callCount(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	rec := &recordingDecrementer{failures: 2}
	d := NewDispatcher(rec)
	d.baseBackoff = time.Millisecond
	d.EnqueueSale("sale-2", []domain.CartLine{{ProductID: "p1", Qty: 1}})
	d.Close()

	if got := rec.callCount(); got != 3 {
		t.Fatalf("calls = %d, want 3 (two failures then success)", got)
	}
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	rec := &recordingDecrementer{failures: 10}
	d := NewDispatcher(rec)
	d.baseBackoff = time.Millisecond
	d.EnqueueSale("sale-3", []domain.CartLine{{ProductID: "p1", Qty: 1}})
	d.Close()

	if got := rec.callCount(); got != 3 {
		t.Fatalf("calls = %d, want maxAttempts 3", got)
	}
}
