package engine

import (
	"sync"
)

// Promise is an asynchronous primitive result. It may be settled from any
// goroutine; the sequencer observes settlement at the start of a tick.
type Promise struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   Value
	err     error
}

func (*Promise) isResult() {}

// NewPromise creates an unsettled promise
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolved returns a promise already fulfilled with v
func Resolved(v Value) *Promise {
	p := NewPromise()
	p.Resolve(v)
	return p
}

// Async runs fn on a new goroutine and settles the promise with its result
func Async(fn func() (Value, error)) *Promise {
	p := NewPromise()
	go func() {
		v, err := fn()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}

// Resolve fulfills the promise. Only the first settlement counts.
func (p *Promise) Resolve(v Value) {
	p.settle(v, nil)
}

// Reject fails the promise. Only the first settlement counts.
func (p *Promise) Reject(err error) {
	p.settle(Undefined(), err)
}

func (p *Promise) settle(v Value, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return
	}
	p.settled = true
	p.value = v
	p.err = err
	close(p.done)
}

// Settled reports whether the promise has been resolved or rejected
func (p *Promise) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// Result returns the settled value or rejection error
func (p *Promise) Result() (Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

// Done is closed once the promise settles
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// pendingPromise is what a parked thread remembers about the block that
// suspended it.
type pendingPromise struct {
	promise *Promise
	blockID string
	opcode  string
	isHat   bool
	nested  bool
}
