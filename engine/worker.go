package engine

import (
	"fmt"
	"sync"

	"github.com/petermattis/goid"
)

// workRequest is a unit of work to be executed on the runtime goroutine.
type workRequest struct {
	fn   func()
	done chan error
}

// worker serializes all runtime access through a single goroutine. The
// scheduler is single-threaded; host calls, clock ticks and promise
// callbacks all go through the worker so that no two touch runtime state
// at once.
type worker struct {
	requests chan workRequest
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	gid      chan int64
	id       int64
}

// newWorker creates a worker and starts the processing goroutine.
func newWorker() *worker {
	w := &worker{
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		gid:      make(chan int64, 1),
	}
	go w.loop()
	w.id = <-w.gid
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *worker) loop() {
	defer close(w.stopped)
	w.gid <- goid.Get()
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *worker) execute(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: worker panic: %v", r)
		}
	}()
	fn()
	return nil
}

// onWorker reports whether the caller is running on the worker goroutine
func (w *worker) onWorker() bool {
	return goid.Get() == w.id
}

// Do runs fn on the worker goroutine and blocks until it completes. Calls
// made from the worker goroutine itself run inline.
func (w *worker) Do(fn func()) error {
	if w.onWorker() {
		fn()
		return nil
	}
	select {
	case <-w.quit:
		return ErrDisposed
	default:
	}
	req := workRequest{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return ErrDisposed
	}
	select {
	case err := <-req.done:
		return err
	case <-w.quit:
		return ErrDisposed
	}
}

// run is Do for accessors. A nil or stopped worker runs fn inline, since
// nothing mutates runtime state after the loop has exited. fn runs exactly
// once either way.
func (w *worker) run(fn func()) {
	if w == nil || w.onWorker() {
		fn()
		return
	}
	req := workRequest{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		<-w.stopped
		fn()
		return
	}
	select {
	case <-req.done:
	case <-w.quit:
		<-w.stopped
		select {
		case <-req.done:
		default:
			fn()
		}
	}
}

// Stop shuts down the worker goroutine.
func (w *worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
