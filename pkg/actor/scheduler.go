package actor

import (
	"sync"
	"time"
)

// queueDepth bounds the channel buffer backing an actor's FIFO; the queue is
// logically unbounded (Submit never rejects for being full, it only
// blocks briefly), this is just the buffer size before Submit blocks the
// caller's goroutine.
const queueDepth = 1024

// DefaultScheduler runs every actor on its own goroutine, draining a
// channel-backed FIFO queue. This is the production Scheduler.
type DefaultScheduler struct{}

// NewScheduler returns the default, goroutine-backed Scheduler.
func NewScheduler() Scheduler {
	return DefaultScheduler{}
}

func (DefaultScheduler) NewActor(name string) Actor {
	a := &goroutineActor{
		name:  name,
		tasks: make(chan func(), queueDepth),
		stop:  make(chan struct{}),
	}
	go a.run()
	return a
}

type goroutineActor struct {
	name string

	tasks chan func()
	stop  chan struct{}

	mu     sync.Mutex
	timers map[*timerHandle]struct{}
	closed bool
}

type timerHandle struct {
	stop chan struct{}
}

func (a *goroutineActor) Name() string { return a.name }

func (a *goroutineActor) run() {
	for {
		select {
		case fn := <-a.tasks:
			fn()
		case <-a.stop:
			// Drain whatever is already queued so futures created before
			// Close don't hang forever, then exit.
			for {
				select {
				case fn := <-a.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (a *goroutineActor) Submit(task Task) *Future {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		panic("actor: Submit called after Close on actor " + a.name)
	}

	f := newFuture()
	a.tasks <- func() {
		value, err := task()
		f.complete(value, err)
	}
	return f
}

func (a *goroutineActor) CreateFuture() *Future {
	return newFuture()
}

func (a *goroutineActor) RunOnCompletion(future *Future, cb func(any, error)) {
	go func() {
		value, err := future.Wait()
		select {
		case a.tasks <- func() { cb(value, err) }:
		case <-a.stop:
		}
	}()
}

func (a *goroutineActor) RunAtFixedRate(period time.Duration, task Task) CancelFunc {
	h := &timerHandle{stop: make(chan struct{})}

	a.mu.Lock()
	if a.timers == nil {
		a.timers = make(map[*timerHandle]struct{})
	}
	a.timers[h] = struct{}{}
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				done := make(chan struct{})
				select {
				case a.tasks <- func() {
					defer close(done)
					_, _ = task()
				}:
				case <-h.stop:
					return
				case <-a.stop:
					return
				}
				select {
				case <-done:
				case <-h.stop:
					return
				case <-a.stop:
					return
				}
			case <-h.stop:
				return
			case <-a.stop:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(h.stop)
			a.mu.Lock()
			delete(a.timers, h)
			a.mu.Unlock()
		})
	}
}

func (a *goroutineActor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	close(a.stop)
}
