package mutation

import (
	"context"
	"sync"
)

// Pending is a started mutation. It settles exactly once.
type Pending[Res any] struct {
	id   string
	name string

	mu    sync.Mutex
	stage Stage
	res   *Res
	err   error
	done  chan struct{}
}

func newPending[Res any](id, name string) *Pending[Res] {
	return &Pending[Res]{id: id, name: name, done: make(chan struct{})}
}

// ID returns the mutation ID
func (p *Pending[Res]) ID() string {
	return p.id
}

// Name returns the mutation name
func (p *Pending[Res]) Name() string {
	return p.name
}

// Stage returns the current stage
func (p *Pending[Res]) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// Done is closed once the mutation has settled and the cache has been
// invalidated or rolled back
func (p *Pending[Res]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the mutation settles or ctx is done. Abandoning the wait
// does not abort the mutation.
func (p *Pending[Res]) Wait(ctx context.Context) (*Res, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.res, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pending[Res]) setStage(s Stage) {
	p.mu.Lock()
	p.stage = s
	p.mu.Unlock()
}

func (p *Pending[Res]) settle(res *Res, err error) {
	p.mu.Lock()
	p.res, p.err = res, err
	if err != nil {
		p.stage = StageFailed
	} else {
		p.stage = StageSucceeded
	}
	p.mu.Unlock()
	close(p.done)
}
