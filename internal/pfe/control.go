package pfe

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/Sh00ty/hoststated/internal/event"
	"github.com/Sh00ty/hoststated/internal/imsg"
)

const (
	controlBacklog = 16
	// MaxControlClients bounds concurrent control connections.
	MaxControlClients = 32
)

var ErrSocketInUse = errors.New("control socket already in use")

// ControlListener is the listening control socket. The parent binds it
// before any child starts and passes it to pfe.
type ControlListener struct {
	fd   int
	path string
	file *os.File
}

// ListenControl binds the control socket at path with mode 0660. A stale
// socket left by a previous run is replaced, a live one is an error.
func ListenControl(path string) (*ControlListener, error) {
	if _, err := os.Lstat(path); err == nil {
		if conn, err := net.Dial("unix", path); err == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrSocketInUse, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale control socket: %w", err)
		}
	}

	syscall.ForkLock.RLock()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("control socket: %w", err)
	}

	oldMask := unix.Umask(0o117)
	err = unix.Bind(fd, &unix.SockaddrUnix{Name: path})
	unix.Umask(oldMask)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, controlBacklog); err != nil {
		_ = unix.Close(fd)
		_ = os.Remove(path)
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &ControlListener{
		fd:   fd,
		path: path,
		file: os.NewFile(uintptr(fd), path),
	}, nil
}

// NewControlListener wraps an inherited listening descriptor. Closing it
// does not remove the socket file, the parent owns that.
func NewControlListener(fd int) (*ControlListener, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("control socket nonblock: %w", err)
	}
	return &ControlListener{
		fd:   fd,
		file: os.NewFile(uintptr(fd), "control"),
	}, nil
}

// File is the descriptor to hand to the pfe child.
func (l *ControlListener) File() *os.File {
	return l.file
}

func (l *ControlListener) Path() string {
	return l.path
}

func (l *ControlListener) Close() error {
	err := l.file.Close()
	if l.path != "" {
		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
	}
	return err
}

// ControlServer answers control requests with the same framing as the
// process channels. Every request gets zero or more records followed by
// CTL_END, CTL_OK or CTL_FAIL. A bad request only costs its own client.
type ControlServer struct {
	engine   *Engine
	listener *ControlListener
	clients  map[int]*imsg.Channel
	started  bool
}

func newControlServer(e *Engine, l *ControlListener) *ControlServer {
	return &ControlServer{
		engine:   e,
		listener: l,
		clients:  make(map[int]*imsg.Channel),
	}
}

func (s *ControlServer) start() {
	if err := unix.SetNonblock(s.listener.fd, true); err != nil {
		log.Error().Err(err).Msg("pfe: control socket nonblock")
	}
	s.started = true
	s.engine.loop.Watch(s.listener.fd, &event.Handler{OnRead: s.accept})
}

func (s *ControlServer) accept() {
	for {
		syscall.ForkLock.RLock()
		fd, _, err := unix.Accept4(s.listener.fd, unix.SOCK_CLOEXEC)
		syscall.ForkLock.RUnlock()
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			default:
				log.Error().Err(err).Msg("pfe: control accept")
			}
			return
		}
		if len(s.clients) >= MaxControlClients {
			log.Warn().Msg("pfe: too many control clients, dropping connection")
			_ = unix.Close(fd)
			continue
		}
		ch, err := imsg.NewChannel(fd, "control")
		if err != nil {
			log.Error().Err(err).Msg("pfe: control client")
			_ = unix.Close(fd)
			continue
		}
		s.clients[fd] = ch
		s.engine.loop.WatchChannel(ch,
			func(msg imsg.Message) error { return s.handle(ch, msg) },
			func(err error) { s.drop(ch, err) },
		)
	}
}

func (s *ControlServer) drop(ch *imsg.Channel, err error) {
	if errors.Is(err, imsg.ErrPeerClosed) {
		log.Debug().Msg("pfe: control client closed connection")
	} else {
		log.Warn().Err(err).Msg("pfe: dropping control client")
	}
	delete(s.clients, ch.Fd())
	_ = ch.Close()
}

func (s *ControlServer) close() {
	for fd, ch := range s.clients {
		s.engine.loop.Unwatch(fd)
		_ = ch.Close()
	}
	clear(s.clients)
	if s.started {
		s.engine.loop.Unwatch(s.listener.fd)
	}
	_ = s.listener.Close()
}

// handle answers one request. Only a reply that cannot be queued drops
// the client.
func (s *ControlServer) handle(ch *imsg.Channel, msg imsg.Message) error {
	p, err := msg.Decode()
	if err != nil {
		return ch.Send(PeerID, imsg.CtlFail{Reason: "malformed request"})
	}
	replies, err := s.engine.answer(p)
	if err != nil {
		log.Info().Err(err).Msgf("pfe: control request %s failed", msg.Type)
		return ch.Send(PeerID, imsg.CtlFail{Reason: err.Error()})
	}
	for _, r := range replies {
		if err := ch.Send(PeerID, r); err != nil {
			return err
		}
	}
	return nil
}
