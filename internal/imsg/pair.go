package imsg

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

var ErrEndpointTaken = errors.New("imsg: endpoint already taken")

// Endpoint is one end of a socket pair. Its descriptor is handed out
// exactly once, either as a Channel for this process or as a File for
// a child.
type Endpoint struct {
	fd    int
	name  string
	taken bool
}

// NewPair creates a connected stream socket pair. Both descriptors are
// close-on-exec until one is explicitly handed to a child.
func NewPair(name string) (*Endpoint, *Endpoint, error) {
	syscall.ForkLock.RLock()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(fds[0])
		unix.CloseOnExec(fds[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair %s: %w", name, err)
	}
	return &Endpoint{fd: fds[0], name: name}, &Endpoint{fd: fds[1], name: name}, nil
}

func (e *Endpoint) Name() string {
	return e.name
}

// Channel hands the descriptor to a Channel owned by this process.
func (e *Endpoint) Channel() (*Channel, error) {
	if e.taken {
		return nil, ErrEndpointTaken
	}
	ch, err := NewChannel(e.fd, e.name)
	if err != nil {
		return nil, err
	}
	e.taken = true
	return ch, nil
}

// File hands the descriptor to an *os.File, meant to be passed to a
// child process and closed by the caller once the child has started.
func (e *Endpoint) File() (*os.File, error) {
	if e.taken {
		return nil, ErrEndpointTaken
	}
	e.taken = true
	return os.NewFile(uintptr(e.fd), e.name), nil
}

// Close releases a descriptor that was never handed out.
func (e *Endpoint) Close() error {
	if e.taken {
		return nil
	}
	e.taken = true
	return unix.Close(e.fd)
}
