package dv

import "context"

// lease is a channel-serialized mutex, the same pattern the teacher's
// websock type uses for its read/write semaphores: a buffered chan
// struct{} of size 1 holding a single token stands in for a sync.Mutex,
// acquired by receiving the token and released by sending it back.
type lease chan struct{}

func newLease() lease {
	l := make(lease, 1)
	l <- struct{}{}
	return l
}

// acquire blocks until the lease is free or ctx is cancelled.
func (l lease) acquire(ctx context.Context) error {
	select {
	case <-l:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l lease) release() {
	l <- struct{}{}
}

// ExclusiveEngine wraps an Engine with the coordinator-wide exclusive lease
// §5 requires: concurrent DV iterations are disallowed, so Tick acquires a
// single lease for the duration of one iteration and releases it on
// completion or failure.
type ExclusiveEngine struct {
	*Engine
	lease lease
}

// NewExclusiveEngine wraps e with a fresh, unheld lease.
func NewExclusiveEngine(e *Engine) *ExclusiveEngine {
	return &ExclusiveEngine{Engine: e, lease: newLease()}
}

// Tick acquires the coordinator-wide lease, runs one DV iteration, and
// releases the lease before returning — including on error.
func (x *ExclusiveEngine) Tick(ctx context.Context) (int, error) {
	if err := x.lease.acquire(ctx); err != nil {
		return 0, err
	}
	defer x.lease.release()

	return x.Engine.Tick(ctx)
}
