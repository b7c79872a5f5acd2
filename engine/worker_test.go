package engine

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestWorkerSerializes(t *testing.T) {
	w := newWorker()
	defer w.Stop()

	if w.onWorker() {
		t.Fatal("test goroutine reported as the worker")
	}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Do(func() { counter++ })
		}()
	}
	wg.Wait()

	var onWorker bool
	if err := w.Do(func() { onWorker = w.onWorker() }); err != nil {
		t.Fatal(err)
	}
	if counter != 20 || !onWorker {
		t.Errorf("counter=%d onWorker=%v", counter, onWorker)
	}
}

func TestWorkerNestedDoRunsInline(t *testing.T) {
	w := newWorker()
	defer w.Stop()

	var order []string
	err := w.Do(func() {
		order = append(order, "outer")
		_ = w.Do(func() { order = append(order, "inner") })
		order = append(order, "after")
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "outer,inner,after" {
		t.Errorf("order = %v", order)
	}
}

func TestWorkerPanicBecomesError(t *testing.T) {
	w := newWorker()
	defer w.Stop()

	err := w.Do(func() { panic("bad state") })
	if err == nil || !strings.Contains(err.Error(), "bad state") {
		t.Errorf("Do() = %v, want the panic as an error", err)
	}
	if err := w.Do(func() {}); err != nil {
		t.Errorf("worker should survive a panic, got %v", err)
	}
}

func TestWorkerStop(t *testing.T) {
	w := newWorker()
	w.Stop()
	w.Stop()
	if err := w.Do(func() { t.Error("work ran after Stop") }); !errors.Is(err, ErrDisposed) {
		t.Errorf("Do() after Stop = %v, want ErrDisposed", err)
	}
}

func TestWorkerRunOnceAcrossStop(t *testing.T) {
	var nilWorker *worker
	calls := 0
	nilWorker.run(func() { calls++ })
	if calls != 1 {
		t.Fatalf("nil worker ran fn %d times", calls)
	}

	w := newWorker()
	release := make(chan struct{})
	go func() {
		_ = w.Do(func() {
			<-release
			w.Stop()
		})
	}()

	var mu sync.Mutex
	ran := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(func() {
				mu.Lock()
				ran++
				mu.Unlock()
			})
		}()
	}
	close(release)
	wg.Wait()

	if ran != 10 {
		t.Errorf("run executed %d times for 10 calls", ran)
	}
	w.run(func() { ran++ })
	if ran != 11 {
		t.Error("run after Stop should execute inline")
	}
}
