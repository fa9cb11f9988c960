package control

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	retry "github.com/avast/retry-go/v4"
	"golang.org/x/sys/unix"

	"github.com/Sh00ty/hoststated/internal/imsg"
	"github.com/Sh00ty/hoststated/internal/models"
)

const DefaultTimeout = 5 * time.Second

var (
	ErrTimeout  = errors.New("control: timed out waiting for the daemon")
	ErrNotFound = errors.New("control: object not found")
)

// FailError carries the reason of a CTL_FAIL reply.
type FailError struct {
	Reason string
}

func (e *FailError) Error() string {
	return "control: request failed: " + e.Reason
}

// Client talks to the pfe control socket. Requests are answered in
// order, one at a time.
type Client struct {
	ch      *imsg.Channel
	timeout time.Duration
}

// Dial connects to the control socket, retrying while the daemon is
// still starting up.
func Dial(path string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var fd int
	err := retry.Do(
		func() error {
			var err error
			fd, err = connect(path)
			return err
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EAGAIN)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	ch, err := imsg.NewChannel(fd, "control")
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &Client{ch: ch, timeout: timeout}, nil
}

func connect(path string) (int, error) {
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, err
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func (c *Client) Close() error {
	return c.ch.Close()
}

// Request sends p and collects the reply records up to the terminating
// CTL_END or CTL_OK. A CTL_FAIL reply is returned as *FailError.
func (c *Client) Request(p imsg.Payload) ([]imsg.Payload, error) {
	deadline := time.Now().Add(c.timeout)
	if err := c.ch.Send(0, p); err != nil {
		return nil, err
	}
	for c.ch.Pending() {
		_, err := c.ch.Flush()
		if err == nil {
			break
		}
		if !errors.Is(err, imsg.ErrWouldBlock) {
			return nil, err
		}
		if err := c.wait(unix.POLLOUT, deadline); err != nil {
			return nil, err
		}
	}

	var records []imsg.Payload
	for {
		for msg, err := range c.ch.Messages() {
			if err != nil {
				return nil, err
			}
			reply, err := msg.Decode()
			if err != nil {
				return nil, err
			}
			switch reply := reply.(type) {
			case imsg.CtlEnd, imsg.CtlOK:
				return records, nil
			case imsg.CtlFail:
				return records, &FailError{Reason: reply.Reason}
			default:
				records = append(records, reply)
			}
		}
		if err := c.wait(unix.POLLIN, deadline); err != nil {
			return nil, err
		}
		if _, err := c.ch.Read(); err != nil && !errors.Is(err, imsg.ErrWouldBlock) {
			return nil, err
		}
	}
}

func (c *Client) wait(events int16, deadline time.Time) error {
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return ErrTimeout
		}
		fds := []unix.PollFd{{Fd: int32(c.ch.Fd()), Events: events}}
		n, err := unix.Poll(fds, int(left.Milliseconds())+1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
}

// TableView is a table with its hosts as pfe sees them.
type TableView struct {
	Table imsg.CtlTable
	Hosts []models.Host
}

type Summary struct {
	Services []imsg.CtlService
	Tables   []imsg.CtlTable
}

func (c *Client) Summary() (Summary, error) {
	records, err := c.Request(imsg.CtlSummary{})
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	for _, r := range records {
		switch r := r.(type) {
		case imsg.CtlService:
			s.Services = append(s.Services, r)
		case imsg.CtlTable:
			s.Tables = append(s.Tables, r)
		}
	}
	return s, nil
}

func (c *Client) Table(name string) (TableView, error) {
	records, err := c.Request(imsg.CtlGetTable{Name: name})
	if err != nil {
		return TableView{}, err
	}
	var view TableView
	found := false
	for _, r := range records {
		switch r := r.(type) {
		case imsg.CtlTable:
			view.Table = r
			found = true
		case imsg.CtlHost:
			view.Hosts = append(view.Hosts, r.Host)
		}
	}
	if !found {
		return TableView{}, fmt.Errorf("table %q: %w", name, ErrNotFound)
	}
	return view, nil
}

func (c *Client) Service(name string) (imsg.CtlService, error) {
	records, err := c.Request(imsg.CtlGetService{Name: name})
	if err != nil {
		return imsg.CtlService{}, err
	}
	for _, r := range records {
		if svc, ok := r.(imsg.CtlService); ok {
			return svc, nil
		}
	}
	return imsg.CtlService{}, fmt.Errorf("service %q: %w", name, ErrNotFound)
}

func (c *Client) HostEnable(name string) error {
	_, err := c.Request(imsg.CtlHostEnable{Name: name})
	return err
}

func (c *Client) HostDisable(name string) error {
	_, err := c.Request(imsg.CtlHostDisable{Name: name})
	return err
}

func (c *Client) TableEnable(name string) error {
	_, err := c.Request(imsg.CtlTableEnable{Name: name})
	return err
}

func (c *Client) TableDisable(name string) error {
	_, err := c.Request(imsg.CtlTableDisable{Name: name})
	return err
}

func (c *Client) SetVerbose(verbose bool) error {
	_, err := c.Request(imsg.LogVerbose{Verbose: verbose})
	return err
}

func (c *Client) Reload() error {
	_, err := c.Request(imsg.Reload{})
	return err
}
