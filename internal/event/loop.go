package event

import (
	"container/heap"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Handler receives readiness callbacks for one descriptor.
type Handler struct {
	OnRead  func()
	OnWrite func()
	// WantWrite arms OnWrite for the next wait. Nil means never.
	WantWrite func() bool
}

// Loop is a single-threaded readiness loop built on poll(2). All
// handlers, timers and posted functions run on the goroutine that
// calls Run. Only Post and Exit may be called from other goroutines.
type Loop struct {
	handlers map[int]*Handler
	order    []int
	timers   timerHeap
	timerSeq uint64

	wakeR, wakeW int

	mu     sync.Mutex
	posted []func()
	stop   bool

	signals []chan os.Signal
	closed  bool
}

func New() (*Loop, error) {
	var p [2]int
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("wakeup pipe: %w", err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, fmt.Errorf("wakeup pipe nonblock: %w", err)
		}
	}
	return &Loop{
		handlers: make(map[int]*Handler),
		wakeR:    p[0],
		wakeW:    p[1],
	}, nil
}

// Watch registers h for fd, replacing any previous handler.
func (l *Loop) Watch(fd int, h *Handler) {
	if _, exists := l.handlers[fd]; !exists {
		l.order = append(l.order, fd)
	}
	l.handlers[fd] = h
}

func (l *Loop) Unwatch(fd int) {
	if _, exists := l.handlers[fd]; !exists {
		return
	}
	delete(l.handlers, fd)
	for i, v := range l.order {
		if v == fd {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// AfterFunc runs fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	l.timerSeq++
	t := &Timer{
		when: time.Now().Add(d),
		seq:  l.timerSeq,
		fn:   fn,
		loop: l,
	}
	heap.Push(&l.timers, t)
	return t
}

// Post queues fn to run on the loop goroutine and wakes the loop. Safe
// for concurrent use.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
	l.wakeup()
}

// Exit makes Run return after the current iteration. Safe for
// concurrent use.
func (l *Loop) Exit() {
	l.mu.Lock()
	l.stop = true
	l.mu.Unlock()
	l.wakeup()
}

func (l *Loop) wakeup() {
	var b = [1]byte{1}
	// a full pipe already guarantees a wakeup
	_, _ = unix.Write(l.wakeW, b[:])
}

// Notify delivers the given signals to fn on the loop goroutine. The
// signal itself only queues a wakeup, fn never runs in signal context.
func (l *Loop) Notify(fn func(os.Signal), sigs ...os.Signal) {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, sigs...)
	l.signals = append(l.signals, ch)
	go func() {
		for sig := range ch {
			l.Post(func() { fn(sig) })
		}
	}()
}

func (l *Loop) stopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop
}

func (l *Loop) runPosted() {
	for {
		l.mu.Lock()
		posted := l.posted
		l.posted = nil
		l.mu.Unlock()
		if len(posted) == 0 {
			return
		}
		for _, fn := range posted {
			fn()
		}
	}
}

func (l *Loop) runTimers() {
	now := time.Now()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(*Timer)
		t.fn()
	}
}

func (l *Loop) pollTimeout() int {
	if len(l.timers) == 0 {
		return -1
	}
	d := time.Until(l.timers[0].when)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func (l *Loop) drainWakeup() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Run dispatches events until Exit is called.
func (l *Loop) Run() error {
	fds := make([]unix.PollFd, 0, 8)
	for {
		l.runPosted()
		if l.stopping() {
			return nil
		}

		fds = fds[:0]
		fds = append(fds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
		for _, fd := range l.order {
			h := l.handlers[fd]
			var events int16
			if h.OnRead != nil {
				events |= unix.POLLIN
			}
			if h.WantWrite != nil && h.WantWrite() {
				events |= unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		}

		_, err := unix.Poll(fds, l.pollTimeout())
		if err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("poll: %w", err)
		}

		if fds[0].Revents != 0 {
			l.drainWakeup()
		}
		for _, pfd := range fds[1:] {
			if pfd.Revents == 0 {
				continue
			}
			fd := int(pfd.Fd)
			if pfd.Revents&unix.POLLNVAL != 0 {
				log.Error().Msgf("event: descriptor %d is not open, dropping handler", fd)
				l.Unwatch(fd)
				continue
			}
			if h, ok := l.handlers[fd]; ok && h.OnRead != nil &&
				pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				h.OnRead()
			}
			// the read callback may have dropped the handler
			if h, ok := l.handlers[fd]; ok && h.OnWrite != nil &&
				pfd.Revents&unix.POLLOUT != 0 {
				h.OnWrite()
			}
		}
		l.runTimers()
	}
}

// Close stops signal delivery and releases the wakeup pipe.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	for _, ch := range l.signals {
		signal.Stop(ch)
		close(ch)
	}
	l.signals = nil
	err := errors.Join(unix.Close(l.wakeR), unix.Close(l.wakeW))
	return err
}
