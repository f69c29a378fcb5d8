// Package eventloop implements the single-threaded cooperative scheduler the
// event-monitor core runs on. All core state is confined to the goroutine
// executing Loop.Run; collaborators hand work to that goroutine with Post.
package eventloop

import (
	"context"
	"sync"
)

// Loop is a serial task executor. Tasks posted from any goroutine are run
// one at a time, in posting order, on the goroutine that called Run.
type Loop struct {
	mu    sync.Mutex
	queue []func()

	wake chan struct{}
	quit chan struct{}
	once sync.Once
}

// New creates a loop. The loop does not execute anything until Run is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

// Post schedules fn to run on the loop goroutine. It never blocks and is
// safe to call from any goroutine, including from within a running task.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes posted tasks until Quit is called or ctx is cancelled.
// Tasks already dequeued are allowed to finish; queued tasks behind a quit
// are dropped.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-l.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			for {
				fn := l.pop()
				if fn == nil {
					break
				}
				select {
				case <-l.quit:
					return nil
				default:
				}
				fn()
			}
		}
	}
}

// Quit stops the loop. Safe to call multiple times and from any goroutine.
func (l *Loop) Quit() {
	l.once.Do(func() { close(l.quit) })
}

func (l *Loop) pop() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue = l.queue[1:]
	return fn
}
