// Package actor implements a cooperative, single-logical-thread execution
// context for each partition. Every Actor drains its own FIFO task queue on
// a dedicated goroutine, so state owned by an actor is never touched by two
// goroutines at once. Futures are the only awaitable primitive: callers
// submit work and get back a Future instead of blocking.
package actor

import (
	"fmt"
	"sync"
	"time"
)

// Task is a unit of work submitted to an actor. The returned value (if any)
// becomes the Future's result.
type Task func() (any, error)

// Scheduler creates and runs actors. Production code uses the default
// Scheduler; tests use TestConcurrencyControl to make execution synchronous.
type Scheduler interface {
	// NewActor creates an actor named name. Names are for logging only.
	NewActor(name string) Actor
}

// Actor is a single logical thread of execution with an unbounded FIFO
// queue. Tasks submitted to the same actor run one at a time, in the order
// submitted, even though the scheduler may run many actors concurrently.
type Actor interface {
	// Submit enqueues task and returns a Future resolved with its result.
	Submit(task Task) *Future

	// RunAtFixedRate schedules task to run every period until the returned
	// CancelFunc is invoked. The first run happens after one period.
	RunAtFixedRate(period time.Duration, task Task) CancelFunc

	// RunOnCompletion registers cb to run on this actor once future
	// resolves. cb observes this actor's FIFO ordering relative to every
	// other task submitted to the same actor.
	RunOnCompletion(future *Future, cb func(any, error))

	// CreateFuture returns a Future that no task owns yet; callers resolve
	// it explicitly with Resolve/Reject. Useful for bridging callback-based
	// collaborators (Raft role-change notifications, disk monitors) into
	// actor-serialized code.
	CreateFuture() *Future

	// Close stops the actor's worker goroutine. Submit after Close panics.
	Close()

	// Name returns the actor's identifying name.
	Name() string
}

// CancelFunc cancels a periodic task registered with RunAtFixedRate.
type CancelFunc func()

// Future is a one-shot, thread-safe completion signal. It mirrors the shape
// of hashicorp/raft's raft.Future (Error()), generalized to also carry a
// result value.
type Future struct {
	mu       sync.Mutex
	done     chan struct{}
	value    any
	err      error
	resolved bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve completes the future successfully with value. Resolving a future
// twice is a programming error and panics, mirroring the "linear handle"
// discipline used for transient snapshots.
func (f *Future) Resolve(value any) {
	f.complete(value, nil)
}

// Reject completes the future with err.
func (f *Future) Reject(err error) {
	f.complete(nil, err)
}

func (f *Future) complete(value any, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		panic(fmt.Sprintf("actor: future resolved twice (value=%v err=%v)", value, err))
	}
	f.resolved = true
	f.value = value
	f.err = err
	close(f.done)
	f.mu.Unlock()
}

// Done returns a channel closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the future has already resolved, without blocking.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves and returns its value and error.
func (f *Future) Wait() (any, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Error blocks until resolution and returns only the error, matching the
// raft.Future idiom the rest of this module relies on.
func (f *Future) Error() error {
	_, err := f.Wait()
	return err
}
