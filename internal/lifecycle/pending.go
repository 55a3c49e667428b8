package lifecycle

import (
	"context"
	"sync"
)

// PendingWork tracks background work (write-throughs after a network
// response) so shutdown can wait for it instead of losing writes.
type PendingWork struct {
	wg sync.WaitGroup
}

// Go runs fn in the background and registers it as pending until it returns.
func (p *PendingWork) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// Wait blocks until all pending work has completed or ctx ends.
func (p *PendingWork) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
