package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many coroutines may be actively executing CPU
// work at once. Unlike a traditional thread pool, it does not own
// goroutines directly — every task coroutine lives in its own goroutine
// for the task's whole lifetime (Go's scheduler already gives the
// stackful, cooperatively-parkable "fiber" the spec describes) — the
// pool only gates how many of those goroutines may hold the semaphore
// at a time. A coroutine that parks on a dependency releases its slot
// first, which is what lets a parked task free capacity for other
// ready work (spec §4.5).
type WorkerPool struct {
	sem *semaphore.Weighted
	grp *errgroup.Group
}

// NewWorkerPool returns a pool that admits at most capacity concurrently
// active coroutines.
func NewWorkerPool(capacity int64) *WorkerPool {
	if capacity < 1 {
		capacity = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(capacity), grp: &errgroup.Group{}}
}

// Acquire blocks until a slot is free or ctx is done.
func (p *WorkerPool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release frees a slot, typically just before a coroutine parks on a
// dependency's resume channel.
func (p *WorkerPool) Release() {
	p.sem.Release(1)
}

// Go launches fn as a tracked coroutine. A panic inside fn is recovered
// and surfaced through Wait rather than crashing the process — a
// misbehaving task body must become a failed task, never a dead
// executor.
func (p *WorkerPool) Go(fn func()) {
	p.grp.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task coroutine panicked: %v", r)
			}
		}()
		fn()
		return nil
	})
}

// Wait blocks until every coroutine launched via Go has returned,
// returning the first recovered panic, if any.
func (p *WorkerPool) Wait() error {
	return p.grp.Wait()
}
