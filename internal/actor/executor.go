// Package actor provides the cooperative concurrency substrate shared by
// every long-lived component in the pipeline: stage, mixer, output,
// destroyer, and the GPU frame factory each own exactly one Executor and
// touch their own state only from tasks run on it (§4, §9 "Concurrency
// substrate").
package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Executor runs submitted work one task at a time on a single dedicated
// goroutine, giving its owner data-race-free access to unsynchronized state
// as long as that state is only ever touched from within a task.
type Executor struct {
	name string
	tasks chan func()

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	loopGoroutine atomic.Uint64
}

// NewExecutor starts an Executor with the given mailbox depth. A depth of 0
// makes BeginInvoke synchronous with the queue (sends block until the loop
// is ready for them); real components use a small bounded depth (§4.9).
func NewExecutor(name string, queueDepth int) *Executor {
	e := &Executor{
		name:  name,
		tasks: make(chan func(), queueDepth),
		stop:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

// Name returns the executor's diagnostic name, used in logging and panics.
func (e *Executor) Name() string { return e.name }

func (e *Executor) loop() {
	defer e.wg.Done()
	e.loopGoroutine.Store(goroutineID())
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.stop:
			// drain whatever is already queued before exiting so callers
			// blocked in Invoke never hang past a Shutdown.
			for {
				select {
				case fn := <-e.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// onLoop reports whether the calling goroutine is this executor's own loop
// goroutine, i.e. whether this call is a reentrant self-invocation.
func (e *Executor) onLoop() bool {
	return goroutineID() == e.loopGoroutine.Load()
}

// Invoke runs f on the executor's loop and blocks until it returns. Called
// from the loop's own goroutine (a task invoking its own executor, or one
// component's task calling back into a peer that calls back into it), f
// runs inline instead of enqueuing — enqueuing would deadlock waiting for a
// loop that is itself blocked waiting on this call.
func (e *Executor) Invoke(f func()) {
	if e.onLoop() {
		f()
		return
	}
	done := make(chan struct{})
	e.tasks <- func() {
		defer close(done)
		f()
	}
	<-done
}

// TryInvoke is Invoke with a context: returns ctx.Err() if ctx is cancelled
// before f ever runs. f itself still runs to completion once started — the
// executor gives no mid-task cancellation, only admission control.
func (e *Executor) TryInvoke(ctx context.Context, f func()) error {
	if e.onLoop() {
		f()
		return nil
	}
	done := make(chan struct{})
	select {
	case e.tasks <- func() {
		defer close(done)
		f()
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown signals the loop to stop and waits for it to drain its mailbox
// and exit, up to timeout. Later submissions are not rejected; work
// enqueued after the loop has exited never runs. A timed-out Shutdown leaves
// the loop goroutine running; callers treat this as a leak to be logged,
// not a panic (§7 "no operation panics across a component boundary").
func (e *Executor) Shutdown(timeout time.Duration) bool {
	e.stopOnce.Do(func() { close(e.stop) })
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// BeginInvoke enqueues f and returns a Future resolving to its result
// without blocking the caller. Defined as a package function rather than a
// method because Go methods cannot carry their own type parameters.
func BeginInvoke[T any](e *Executor, f func() T) *Future[T] {
	fut := newFuture[T]()
	task := func() { fut.complete(f()) }
	if e.onLoop() {
		task()
		return fut
	}
	e.tasks <- task
	return fut
}
