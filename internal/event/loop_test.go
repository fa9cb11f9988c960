package event

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()

	l, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func runWithDeadline(t *testing.T, l *Loop) {
	t.Helper()

	guard := time.AfterFunc(5*time.Second, l.Exit)
	defer guard.Stop()
	require.NoError(t, l.Run())
}

func TestPostWakesLoop(t *testing.T) {
	l := newTestLoop(t)

	var got []int
	go func() {
		for i := range 3 {
			l.Post(func() {
				got = append(got, i)
				if len(got) == 3 {
					l.Exit()
				}
			})
		}
	}()

	runWithDeadline(t, l)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestTimersFireInOrder(t *testing.T) {
	l := newTestLoop(t)

	var fired []string
	l.AfterFunc(30*time.Millisecond, func() {
		fired = append(fired, "late")
		l.Exit()
	})
	l.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "early") })
	l.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "early2") })
	stopped := l.AfterFunc(20*time.Millisecond, func() { fired = append(fired, "stopped") })
	require.True(t, stopped.Stop())
	require.False(t, stopped.Stop())

	runWithDeadline(t, l)
	assert.Equal(t, []string{"early", "early2", "late"}, fired)
}

func TestWatchedDescriptorFiresRead(t *testing.T) {
	l := newTestLoop(t)

	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	var got []byte
	l.Watch(p[0], &Handler{
		OnRead: func() {
			buf := make([]byte, 16)
			n, err := unix.Read(p[0], buf)
			require.NoError(t, err)
			got = append(got, buf[:n]...)
			l.Unwatch(p[0])
			l.Exit()
		},
	})
	l.AfterFunc(5*time.Millisecond, func() {
		_, err := unix.Write(p[1], []byte("ping"))
		require.NoError(t, err)
	})

	runWithDeadline(t, l)
	assert.Equal(t, "ping", string(got))
}

func TestWriteArmedOnlyWhenWanted(t *testing.T) {
	l := newTestLoop(t)

	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	pending := false
	writes := 0
	l.Watch(p[1], &Handler{
		OnWrite:   func() { writes++; pending = false },
		WantWrite: func() bool { return pending },
	})
	l.AfterFunc(10*time.Millisecond, func() { pending = true })
	l.AfterFunc(40*time.Millisecond, l.Exit)

	runWithDeadline(t, l)
	assert.Equal(t, 1, writes)
}

func TestNotifyRunsOnLoop(t *testing.T) {
	l := newTestLoop(t)

	var got os.Signal
	l.Notify(func(sig os.Signal) {
		got = sig
		l.Exit()
	}, syscall.SIGUSR1)
	l.AfterFunc(5*time.Millisecond, func() {
		require.NoError(t, unix.Kill(os.Getpid(), unix.SIGUSR1))
	})

	runWithDeadline(t, l)
	assert.Equal(t, syscall.SIGUSR1, got)
}

func TestExitBeforeRun(t *testing.T) {
	l := newTestLoop(t)

	ran := false
	l.Post(func() { ran = true })
	l.Exit()
	require.NoError(t, l.Run())
	assert.True(t, ran)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
