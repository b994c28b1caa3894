// Package gate implements bounded admission control over how many requests
// may be in flight at once.
//
// Gate uses a buffered chan struct{} as a semaphore, pre-loaded with
// capacity tokens. Acquiring a Permit is a channel receive; releasing it is
// a channel send. Go's runtime services goroutines blocked on the same
// channel in the order they started waiting, which is what gives Acquire
// its FIFO-on-token-arrival behavior.
package gate

import (
	"context"
	"time"

	"github.com/firasghr/chromefp/cferrors"
)

// DefaultCapacity is the Gate's default permit pool size.
const DefaultCapacity = 1000

// Permit is the opaque handle a caller holds for the lifetime of one
// in-flight request. Release must be called exactly once, on every exit
// path including cancellation, to return the token to the pool.
type Permit struct {
	release func()
}

// Release returns the permit to the Gate. Calling Release more than once is
// a no-op after the first call.
func (p *Permit) Release() {
	if p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

// Gate is a bounded-permit admission controller, safe for concurrent use,
// sized once at construction and shared process-wide or per-Session at the
// caller's discretion.
type Gate struct {
	tokens chan struct{}
}

// New returns a Gate with capacity outstanding permits available
// immediately. capacity <= 0 selects DefaultCapacity.
func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	g := &Gate{tokens: make(chan struct{}, capacity)}
	for i := 0; i < capacity; i++ {
		g.tokens <- struct{}{}
	}
	return g
}

// Acquire blocks until a permit is available, ctx is cancelled, or deadline
// (if non-zero) elapses. A deadline miss or context cancellation returns
// *cferrors.GateBusyError without ever issuing a network operation.
func (g *Gate) Acquire(ctx context.Context, deadline time.Time) (*Permit, error) {
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	select {
	case <-g.tokens:
		return &Permit{release: func() { g.tokens <- struct{}{} }}, nil
	case <-ctx.Done():
		return nil, &cferrors.GateBusyError{}
	}
}

// Available returns the number of permits currently unclaimed, for tests
// and introspection.
func (g *Gate) Available() int {
	return len(g.tokens)
}
