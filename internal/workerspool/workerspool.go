// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines executing work-groups of the portable device.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers shared by all the queues of a backend.
type Pool struct {
	// maxParallelism is a soft target on the limit of parallel work to do.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Signaled whenever numRunning is decreased.
	numRunning     int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{maxParallelism: runtime.NumCPU()}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// SetMaxParallelism sets the maxParallelism.
// If set to 0 parallelism is disabled. If set to -1 parallelism is unlimited.
//
// It should only be changed before any work is submitted: if changed during execution the behavior is undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism == 0 {
		return true
	} else if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with w.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there are enough workers left.
// It returns true if it found a worker to run the function, false otherwise.
//
// It's up to the caller to synchronize the end of the function execution.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// ParallelFor calls fn(i) for every i in [0, n), fanning out to available workers, and returns when all
// calls returned. The calling goroutine also takes part in the work, so it never deadlocks, even with
// parallelism disabled.
//
// If any call panics, ParallelFor waits for the others to finish and re-panics with the first panic value.
func (w *Pool) ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	var (
		next      int
		mu        sync.Mutex
		wg        sync.WaitGroup
		panicOnce sync.Once
		panicked  any
	)
	take := func() (int, bool) {
		mu.Lock()
		defer mu.Unlock()
		if next >= n {
			return 0, false
		}
		next++
		return next - 1, true
	}
	loop := func() {
		defer func() {
			if r := recover(); r != nil {
				panicOnce.Do(func() { panicked = r })
				mu.Lock()
				next = n // Stop handing out work.
				mu.Unlock()
			}
		}()
		for i, ok := take(); ok; i, ok = take() {
			fn(i)
		}
	}
	helpers := n - 1
	if w.IsUnlimited() {
		helpers = min(helpers, runtime.NumCPU())
	} else {
		helpers = min(helpers, w.maxParallelism)
	}
	for range helpers {
		wg.Add(1)
		if !w.StartIfAvailable(func() {
			defer wg.Done()
			loop()
		}) {
			wg.Done()
			break
		}
	}
	loop()
	wg.Wait()
	if panicked != nil {
		panic(panicked)
	}
}
