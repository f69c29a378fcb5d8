package eventloop

import "time"

// Timer is a one-shot or repeating timer whose callback runs on the loop.
// A stopped timer never fires again, even when its expiration was already
// queued. Stop must be called from the loop goroutine; the stopped flag is
// loop-confined, which is what makes cancellation synchronous.
type Timer struct {
	loop     *Loop
	interval time.Duration
	repeat   bool
	fn       func()

	stopped bool
	timer   *time.Timer
}

// NewTimer arms a timer that invokes fn on the loop after interval, and
// again every interval when repeat is set.
func (l *Loop) NewTimer(interval time.Duration, repeat bool, fn func()) *Timer {
	t := &Timer{
		loop:     l,
		interval: interval,
		repeat:   repeat,
		fn:       fn,
	}
	t.arm()
	return t
}

func (t *Timer) arm() {
	t.timer = time.AfterFunc(t.interval, func() {
		t.loop.Post(t.fire)
	})
}

func (t *Timer) fire() {
	if t.stopped {
		return
	}
	if t.repeat {
		t.arm()
	} else {
		t.stopped = true
	}
	t.fn()
}

// Stop cancels the timer. Returns true when the timer had not yet been
// stopped. Loop goroutine only.
func (t *Timer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}
