// Package inventory is the boundary to the stock-keeping collaborator. Stock
// decrements are eventually consistent with the financial commit: a settled
// sale is never rolled back because a decrement failed.
package inventory

import (
	"context"
	"log"
	"sync"
	"time"

	"ferreteria/pos/internal/domain"
)

type Decrementer interface {
	Decrement(ctx context.Context, productID string, qty int, reasonTag string) error
}

// LogDecrementer stands in when no inventory backend is configured.
type LogDecrementer struct{}

func (LogDecrementer) Decrement(_ context.Context, productID string, qty int, reasonTag string) error {
	log.Printf("[inventory] decrement product=%s qty=%d reason=%s (no backend configured)", productID, qty, reasonTag)
	return nil
}

type request struct {
	productID string
	qty       int
	reason    string
}

// Dispatcher delivers decrement requests to the backend on a worker goroutine,
// retrying each with bounded backoff. Exhausted requests are logged for manual
// reconciliation and dropped.
type Dispatcher struct {
	dec         Decrementer
	queue       chan request
	wg          sync.WaitGroup
	maxAttempts int
	baseBackoff time.Duration
	closeOnce   sync.Once
}

func NewDispatcher(dec Decrementer) *Dispatcher {
	d := &Dispatcher{
		dec:         dec,
		queue:       make(chan request, 256),
		maxAttempts: 3,
		baseBackoff: 100 * time.Millisecond,
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// EnqueueSale queues one decrement per cart line. Non-blocking: if the queue
// is full the request is logged and dropped rather than stalling settlement.
func (d *Dispatcher) EnqueueSale(saleID string, lines []domain.CartLine) {
	for _, line := range lines {
		req := request{productID: line.ProductID, qty: line.Qty, reason: "sale:" + saleID}
		select {
		case d.queue <- req:
		default:
			log.Printf("[inventory] WARN: queue full, dropping decrement product=%s qty=%d reason=%s", req.productID, req.qty, req.reason)
		}
	}
}

func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for req := range d.queue {
		d.deliver(req)
	}
}

func (d *Dispatcher) deliver(req request) {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := d.dec.Decrement(ctx, req.productID, req.qty, req.reason)
		cancel()
		if err == nil {
			return
		}
		if attempt == d.maxAttempts {
			log.Printf("[inventory] WARN: giving up decrement product=%s qty=%d reason=%s after %d attempts: %v", req.productID, req.qty, req.reason, attempt, err)
			return
		}
		time.Sleep(d.baseBackoff * time.Duration(attempt))
	}
}
