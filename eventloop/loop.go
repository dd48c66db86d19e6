// Package eventloop implements the host-runtime primitives that the
// snotify core is built against: a readiness watcher for non-blocking
// file descriptors and a one-shot deferred timer, both serialized on a
// single goroutine.
//
// The design is a generalization of the self-pipe + epoll pattern used
// by fsnotify's inotify poller: one epoll instance multiplexes every
// registered fd plus a wakeup pipe, and a min-heap of deadlines stands
// in for a timer wheel. Everything registered through a Loop runs on
// the same goroutine that calls Run, which is what lets snotify.WatchCtx
// dispense with internal locking.
package eventloop

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Handle is returned by Loop.WatchFDReadable and Loop.ScheduleAfter.
// Calling Cancel deregisters the watcher or timer; it is safe to call
// more than once. Like every Loop method other than Invoke and Stop, it
// must be called on the goroutine running Run.
type Handle interface {
	Cancel()
}

// Loop is a single-threaded cooperative event loop: readiness callbacks,
// timer callbacks, and anything queued via Invoke all run on the
// goroutine that calls Run, one at a time, never concurrently with each
// other.
type Loop struct {
	epfd     int
	wakeR    int
	wakeW    int
	handlers map[int]func()

	timers   timerHeap
	timerSeq uint64

	invokeMu sync.Mutex
	invoked  []func()

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Loop and opens its epoll instance and wakeup pipe. The
// Loop does nothing until Run is called.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventloop: pipe2: %w", err)
	}

	l := &Loop{
		epfd:     epfd,
		wakeR:    fds[0],
		wakeW:    fds[1],
		handlers: make(map[int]func()),
		closed:   make(chan struct{}),
	}

	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, l.wakeR, &unix.EpollEvent{
		Fd:     int32(l.wakeR),
		Events: unix.EPOLLIN,
	}); err != nil {
		unix.Close(l.wakeR)
		unix.Close(l.wakeW)
		unix.Close(l.epfd)
		return nil, fmt.Errorf("eventloop: epoll_ctl(wake): %w", err)
	}

	return l, nil
}

// WatchFDReadable registers handler to run, on the loop goroutine,
// whenever fd becomes readable. fd must already be in non-blocking mode.
func (l *Loop) WatchFDReadable(fd int, handler func()) (Handle, error) {
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Fd:     int32(fd),
		Events: unix.EPOLLIN,
	}); err != nil {
		return nil, fmt.Errorf("eventloop: epoll_ctl(add, %d): %w", fd, err)
	}
	l.handlers[fd] = handler
	return &fdHandle{loop: l, fd: fd}, nil
}

type fdHandle struct {
	loop *Loop
	fd   int
	once sync.Once
}

func (h *fdHandle) Cancel() {
	h.once.Do(func() {
		unix.EpollCtl(h.loop.epfd, unix.EPOLL_CTL_DEL, h.fd, nil)
		delete(h.loop.handlers, h.fd)
	})
}

// ScheduleAfter arms a one-shot callback to run after d, on the loop
// goroutine. Cancelling the returned Handle before it fires prevents the
// callback from ever running.
func (l *Loop) ScheduleAfter(d time.Duration, handler func()) Handle {
	l.timerSeq++
	t := &timerEntry{
		deadline: time.Now().Add(d),
		fn:       handler,
		seq:      l.timerSeq,
		index:    -1,
	}
	heap.Push(&l.timers, t)
	l.wake()
	return &timerHandleImpl{t: t}
}

type timerHandleImpl struct{ t *timerEntry }

func (h *timerHandleImpl) Cancel() { h.t.cancelled = true }

// Invoke queues fn to run on the loop goroutine at the next opportunity.
// Together with Stop, it is the only Loop method safe to call from a
// goroutine other than the one running Run, and is how a daemon marshals
// cross-goroutine work
// (e.g. a signal handler) onto the single-threaded core.
func (l *Loop) Invoke(fn func()) {
	l.invokeMu.Lock()
	l.invoked = append(l.invoked, fn)
	l.invokeMu.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	var b [1]byte
	unix.Write(l.wakeW, b[:])
}

func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Run drives the loop until ctx is cancelled or Stop is called. Every
// callback runs on the calling goroutine; the only other goroutine Run
// starts waits for ctx to be cancelled and then calls Stop.
func (l *Loop) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.closed:
		}
	}()

	events := make([]unix.EpollEvent, 16)
	for {
		select {
		case <-l.closed:
			return ctx.Err()
		default:
		}

		timeout := l.nextTimeout()
		n, err := unix.EpollWait(l.epfd, events, timeout)
		if n == -1 {
			if err == unix.EINTR {
				continue
			}
			select {
			case <-l.closed:
				return ctx.Err()
			default:
			}
			return fmt.Errorf("eventloop: epoll_wait: %w", err)
		}

		for _, ev := range events[:n] {
			fd := int(ev.Fd)
			if fd == l.wakeR {
				l.drainWake()
				continue
			}
			if h, ok := l.handlers[fd]; ok {
				h()
			}
		}

		l.runDueTimers()
		l.runInvoked()
	}
}

func (l *Loop) nextTimeout() int {
	for l.timers.Len() > 0 && l.timers[0].cancelled {
		heap.Pop(&l.timers)
	}
	if l.timers.Len() == 0 {
		return -1
	}
	d := time.Until(l.timers[0].deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}

func (l *Loop) runDueTimers() {
	now := time.Now()
	for l.timers.Len() > 0 {
		next := l.timers[0]
		if next.cancelled {
			heap.Pop(&l.timers)
			continue
		}
		if next.deadline.After(now) {
			break
		}
		heap.Pop(&l.timers)
		next.fn()
	}
}

func (l *Loop) runInvoked() {
	l.invokeMu.Lock()
	pending := l.invoked
	l.invoked = nil
	l.invokeMu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Stop terminates Run and releases the loop's epoll instance and wakeup
// pipe. It is safe to call more than once and from any goroutine.
func (l *Loop) Stop() {
	l.closeOnce.Do(func() {
		close(l.closed)
		unix.Close(l.wakeW)
		unix.Close(l.wakeR)
		unix.Close(l.epfd)
	})
}
