package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tani-shi/assetbundle-manager/internal/safego"
	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
	"github.com/tani-shi/assetbundle-manager/pkg/logger"
)

const (
	// DefaultInterval is the tick period used when New is given zero.
	DefaultInterval = 20 * time.Millisecond
	maxSleepCap     = 60 * time.Second
)

var (
	ErrStopped     = errors.New("loop stopped")
	ErrInvalidCron = errors.New("invalid cron expression")
)

type call struct {
	fn   func(*bundle.Manager) error
	done chan error
}

type waiter struct {
	cond func(*bundle.Manager) bool
	done chan struct{}
	// cancel is the Done channel of the caller's context.
	cancel <-chan struct{}
}

// Loop owns a Manager and ticks it on a fixed interval.
type Loop struct {
	m        *bundle.Manager
	interval time.Duration
	log      logger.Logger
	now      func() time.Time

	calls   chan call
	waiters chan waiter
	jobs    chan *job
	unjobs  chan string
	stopped chan struct{}
}

// New creates a Loop for m. Nothing runs until Run is called.
func New(m *bundle.Manager, interval time.Duration, l logger.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Loop{
		m:        m,
		interval: interval,
		log:      l,
		now:      time.Now,
		calls:    make(chan call),
		waiters:  make(chan waiter, 16),
		jobs:     make(chan *job),
		unjobs:   make(chan string),
		stopped:  make(chan struct{}),
	}
}

// Stopped is closed when Run returns.
func (lp *Loop) Stopped() <-chan struct{} { return lp.stopped }

// Run ticks the manager until ctx is cancelled. It must be called
// exactly once.
func (lp *Loop) Run(ctx context.Context) {
	defer close(lp.stopped)

	ticker := time.NewTicker(lp.interval)
	defer ticker.Stop()

	h := &jobHeap{}
	var (
		pending []waiter
		timer   *time.Timer
		serial  int
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := (*h)[0].next.Sub(lp.now())
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}
	timerCh := resetTimer()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			lp.m.Tick()
			pending = lp.notify(pending)

		case c := <-lp.calls:
			c.done <- lp.invoke("call", c.fn)

		case w := <-lp.waiters:
			pending = lp.notify(append(pending, w))

		case j := <-lp.jobs:
			heapRemoveByName(h, j.name)
			serial++
			j.serial = serial
			heapPush(h, j)
			timerCh = resetTimer()

		case name := <-lp.unjobs:
			heapRemoveByName(h, name)
			timerCh = resetTimer()

		case <-timerCh:
			now := lp.now()
			for h.Len() > 0 && !(*h)[0].next.After(now) {
				j := heapPop(h)
				if err := lp.invoke("job "+j.name, func(m *bundle.Manager) error {
					j.run(m)
					return nil
				}); err != nil {
					lp.log.Error("loop: %v", err)
				}
				next, err := gronx.NextTickAfter(j.expr, now, false)
				if err != nil {
					lp.log.Warning("loop: dropping job %s: %v", j.name, err)
					continue
				}
				j.next = next
				heapPush(h, j)
			}
			timerCh = resetTimer()
		}
	}
}

// notify releases the waiters whose condition holds, drops those whose
// caller gave up, and returns the rest.
func (lp *Loop) notify(pending []waiter) []waiter {
	rest := pending[:0]
	for _, w := range pending {
		select {
		case <-w.cancel:
			continue
		default:
		}
		if lp.invokeCond(w.cond) {
			close(w.done)
			continue
		}
		rest = append(rest, w)
	}
	return rest
}

func (lp *Loop) invokeCond(cond func(*bundle.Manager) bool) (ok bool) {
	err := lp.invoke("until", func(m *bundle.Manager) error {
		ok = cond(m)
		return nil
	})
	// a panicking condition never holds
	return err == nil && ok
}

// invoke runs fn on the loop goroutine and turns a panic into an error.
func (lp *Loop) invoke(name string, fn func(*bundle.Manager) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = safego.PanicError(name, r)
		}
	}()
	return fn(lp.m)
}

// Do runs fn on the loop goroutine between ticks and returns its error.
func (lp *Loop) Do(ctx context.Context, fn func(*bundle.Manager) error) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case lp.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-lp.stopped:
		return ErrStopped
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Until blocks until cond reports true. cond is evaluated on the loop
// goroutine right away and after every tick, and no longer once ctx is
// done.
func (lp *Loop) Until(ctx context.Context, cond func(*bundle.Manager) bool) error {
	w := waiter{cond: cond, done: make(chan struct{}), cancel: ctx.Done()}
	select {
	case lp.waiters <- w:
	case <-ctx.Done():
		return ctx.Err()
	case <-lp.stopped:
		return ErrStopped
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-lp.stopped:
		return ErrStopped
	}
}

// Schedule registers fn to run on the loop goroutine whenever the cron
// expression expr fires. A job with the same name is replaced.
func (lp *Loop) Schedule(name, expr string, fn func(*bundle.Manager)) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}
	next, err := gronx.NextTickAfter(expr, lp.now(), false)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	select {
	case lp.jobs <- &job{name: name, expr: expr, next: next, run: fn}:
		return nil
	case <-lp.stopped:
		return ErrStopped
	}
}

// Unschedule removes the job registered under name.
func (lp *Loop) Unschedule(name string) {
	select {
	case lp.unjobs <- name:
	case <-lp.stopped:
	}
}
