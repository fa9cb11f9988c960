package control

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Sh00ty/hoststated/internal/imsg"
	"github.com/Sh00ty/hoststated/internal/models"
)

// serveOne accepts a single connection on a fresh socket and answers
// every request with reply(request).
func serveOne(t *testing.T, reply func(imsg.Payload) []imsg.Payload) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ctl.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		f, err := conn.(*net.UnixConn).File()
		_ = conn.Close()
		if err != nil {
			return
		}
		fd, err := unix.Dup(int(f.Fd()))
		_ = f.Close()
		if err != nil {
			return
		}
		ch, err := imsg.NewChannel(fd, "server")
		if err != nil {
			return
		}
		defer ch.Close()
		for {
			_, err := ch.Read()
			if errors.Is(err, imsg.ErrWouldBlock) {
				time.Sleep(time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
			for msg, err := range ch.Messages() {
				if err != nil {
					return
				}
				p, err := msg.Decode()
				if err != nil {
					return
				}
				for _, r := range reply(p) {
					if err := ch.Send(2, r); err != nil {
						return
					}
				}
				for ch.Pending() {
					if _, err := ch.Flush(); err != nil && !errors.Is(err, imsg.ErrWouldBlock) {
						return
					}
				}
			}
		}
	}()
	return path
}

func dial(t *testing.T, path string, timeout time.Duration) *Client {
	t.Helper()

	c, err := Dial(path, timeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSummary(t *testing.T) {
	path := serveOne(t, func(p imsg.Payload) []imsg.Payload {
		if _, ok := p.(imsg.CtlSummary); !ok {
			return []imsg.Payload{imsg.CtlFail{Reason: "unexpected request"}}
		}
		return []imsg.Payload{
			imsg.CtlService{Service: models.Service{Name: "www"}, ActiveTable: "web"},
			imsg.CtlTable{Table: models.Table{Name: "web"}, Hosts: 2, Up: 1},
			imsg.CtlEnd{},
		}
	})
	c := dial(t, path, time.Second)

	s, err := c.Summary()

	require.NoError(t, err)
	require.Len(t, s.Services, 1)
	require.Len(t, s.Tables, 1)
	assert.Equal(t, "www", s.Services[0].Service.Name)
	assert.Equal(t, 1, s.Tables[0].Up)
}

func TestTableWithHosts(t *testing.T) {
	path := serveOne(t, func(p imsg.Payload) []imsg.Payload {
		req := p.(imsg.CtlGetTable)
		if req.Name != "web" {
			return []imsg.Payload{imsg.CtlEnd{}}
		}
		return []imsg.Payload{
			imsg.CtlTable{Table: models.Table{Name: "web"}, Hosts: 1},
			imsg.CtlHost{Host: models.Host{Name: "a", Status: models.HostUp}},
			imsg.CtlEnd{},
		}
	})
	c := dial(t, path, time.Second)

	view, err := c.Table("web")
	require.NoError(t, err)
	assert.Equal(t, "web", view.Table.Table.Name)
	require.Len(t, view.Hosts, 1)
	assert.Equal(t, models.HostUp, view.Hosts[0].Status)

	_, err = c.Table("other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailReply(t *testing.T) {
	path := serveOne(t, func(imsg.Payload) []imsg.Payload {
		return []imsg.Payload{imsg.CtlFail{Reason: "host not found"}}
	})
	c := dial(t, path, time.Second)

	err := c.HostDisable("nope")

	var fail *FailError
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, "host not found", fail.Reason)
	assert.EqualError(t, err, "control: request failed: host not found")
}

func TestRequestTimesOut(t *testing.T) {
	path := serveOne(t, func(imsg.Payload) []imsg.Payload { return nil })
	c := dial(t, path, 50*time.Millisecond)

	err := c.Reload()

	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDialMissingSocket(t *testing.T) {
	_, err := Dial(filepath.Join(t.TempDir(), "missing.sock"), time.Second)

	assert.ErrorIs(t, err, unix.ENOENT)
}
