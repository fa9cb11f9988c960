package supervisor

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/Sh00ty/hoststated/internal/event"
	"github.com/Sh00ty/hoststated/internal/imsg"
	"github.com/Sh00ty/hoststated/internal/logger"
	"github.com/Sh00ty/hoststated/internal/models"
	"github.com/Sh00ty/hoststated/internal/pfe"
)

// PeerID identifies the parent in the header of every frame it sends.
const PeerID uint32 = 0

// Process exit codes.
const (
	ExitOK        = 0
	ExitStartup   = 1
	ExitChildDied = 2
)

// configQueueLimit lets the whole topology be queued before the children
// start reading.
const configQueueLimit = 64 << 20

var ErrChildDied = errors.New("child process died")

type State int

const (
	StateInit State = iota
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Options struct {
	ControlSocket string
	// Grace is how long children get to exit after SIGTERM before they
	// are killed.
	Grace time.Duration
}

type child struct {
	role  Role
	pid   int
	ch    *imsg.Channel
	alive bool
}

// Supervisor is the parent process. It spawns hce and pfe, feeds them the
// configuration and watches them. Losing either child takes the whole
// daemon down.
type Supervisor struct {
	opts     Options
	loop     *event.Loop
	spawner  Spawner
	topology *models.Registry

	state    State
	children map[Role]*child
	listener *pfe.ControlListener
	grace    *event.Timer
	exitCode int
}

func New(loop *event.Loop, spawner Spawner, topology *models.Registry, opts Options) *Supervisor {
	return &Supervisor{
		opts:     opts,
		loop:     loop,
		spawner:  spawner,
		topology: topology,
		children: make(map[Role]*child, 2),
	}
}

func (s *Supervisor) State() State {
	return s.state
}

// Pid of a spawned child, zero before Start.
func (s *Supervisor) Pid(role Role) int {
	if c, ok := s.children[role]; ok {
		return c.pid
	}
	return 0
}

// Start brings the daemon from INIT to RUNNING. On error every resource
// it acquired is released and no child is left behind.
func (s *Supervisor) Start() (err error) {
	if s.state != StateInit {
		return fmt.Errorf("start in state %s", s.state)
	}
	var cleanup []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
		s.killAll()
		for _, c := range s.children {
			_ = c.ch.Close()
		}
		s.state = StateTerminated
	}()

	// children that die during startup are reaped by SIGCHLD
	s.loop.Notify(s.handleSignal, unix.SIGTERM, unix.SIGINT, unix.SIGHUP, unix.SIGCHLD)

	s.listener, err = pfe.ListenControl(s.opts.ControlSocket)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, func() { _ = s.listener.Close() })

	parentHCE, hceParent, err := imsg.NewPair("parent-hce")
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeEndpoints(parentHCE, hceParent))
	parentPFE, pfeParent, err := imsg.NewPair("parent-pfe")
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeEndpoints(parentPFE, pfeParent))
	hcePFE, pfeHCE, err := imsg.NewPair("hce-pfe")
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeEndpoints(hcePFE, pfeHCE))

	if err := s.spawn(RoleHCE, parentHCE, hceParent, hcePFE); err != nil {
		return err
	}
	if err := s.spawn(RolePFE, parentPFE, pfeParent, pfeHCE, s.listener.File()); err != nil {
		return err
	}

	if err := s.sendConfig(); err != nil {
		return err
	}
	for _, c := range s.children {
		s.watch(c)
	}
	s.state = StateRunning
	log.Info().Msgf("parent: started hce (pid %d) and pfe (pid %d)", s.Pid(RoleHCE), s.Pid(RolePFE))
	return nil
}

// spawn starts role with its end of the parent channel, the peer channel
// and any extra files. Descriptors given to the child are closed here.
func (s *Supervisor) spawn(role Role, local, remote, peer *imsg.Endpoint, extra ...*os.File) error {
	remoteFile, err := remote.File()
	if err != nil {
		return err
	}
	defer remoteFile.Close()
	peerFile, err := peer.File()
	if err != nil {
		return err
	}
	defer peerFile.Close()

	ch, err := local.Channel()
	if err != nil {
		return err
	}
	ch.SetQueueLimit(configQueueLimit)

	pid, err := s.spawner.Spawn(role, append([]*os.File{remoteFile, peerFile}, extra...))
	if err != nil {
		_ = ch.Close()
		return err
	}
	s.children[role] = &child{role: role, pid: pid, ch: ch, alive: true}
	log.Debug().Msgf("parent: spawned %s, pid %d", role, pid)
	return nil
}

func closeEndpoints(eps ...*imsg.Endpoint) func() {
	return func() {
		for _, ep := range eps {
			_ = ep.Close()
		}
	}
}

// sendConfig queues the topology for both children. hce does not need
// services.
func (s *Supervisor) sendConfig() error {
	for _, c := range s.children {
		for t := range s.topology.Tables() {
			if err := c.ch.Send(PeerID, imsg.CfgTable{Table: *t}); err != nil {
				return fmt.Errorf("config to %s: %w", c.role, err)
			}
		}
		for h := range s.topology.Hosts() {
			if err := c.ch.Send(PeerID, imsg.CfgHost{Host: *h}); err != nil {
				return fmt.Errorf("config to %s: %w", c.role, err)
			}
		}
		if c.role == RolePFE {
			for svc := range s.topology.Services() {
				if err := c.ch.Send(PeerID, imsg.CfgService{Service: *svc}); err != nil {
					return fmt.Errorf("config to %s: %w", c.role, err)
				}
			}
		}
		if err := c.ch.Send(PeerID, imsg.CfgDone{}); err != nil {
			return fmt.Errorf("config to %s: %w", c.role, err)
		}
		c.ch.SetQueueLimitAfterDrain(imsg.DefaultQueueLimit)
	}
	return nil
}

func (s *Supervisor) watch(c *child) {
	dispatch := s.dispatchHCE
	if c.role == RolePFE {
		dispatch = s.dispatchPFE
	}
	s.loop.WatchChannel(c.ch, dispatch, func(err error) {
		if errors.Is(err, imsg.ErrPeerClosed) {
			log.Error().Msgf("parent: lost channel to %s", c.role)
		} else {
			log.Error().Err(err).Msgf("parent: channel to %s", c.role)
		}
		s.shutdown(ExitChildDied)
	})
}

func (s *Supervisor) dispatchHCE(msg imsg.Message) error {
	p, err := msg.Decode()
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case imsg.HostStatus:
		name := fmt.Sprintf("#%d", p.HostID)
		if h, ok := s.topology.HostByID(p.HostID); ok {
			name = h.Name
		}
		log.Debug().Msgf("parent: host %s is %s", name, p.Status)
		return nil
	default:
		return fmt.Errorf("unexpected %s from hce", msg.Type)
	}
}

func (s *Supervisor) dispatchPFE(msg imsg.Message) error {
	p, err := msg.Decode()
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case imsg.LogVerbose:
		logger.SetVerbose(p.Verbose)
		if c, ok := s.children[RoleHCE]; ok && c.alive {
			return c.ch.Send(PeerID, p)
		}
		return nil
	case imsg.Reload:
		s.reload()
		return nil
	default:
		return fmt.Errorf("unexpected %s from pfe", msg.Type)
	}
}

// reload keeps the running topology. Neither child can swap its
// configuration while running.
func (s *Supervisor) reload() {
	log.Warn().Msg("parent: reload is not supported, keeping the running configuration")
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case unix.SIGTERM, unix.SIGINT:
		log.Info().Msgf("parent: received %s, shutting down", sig)
		s.shutdown(ExitOK)
	case unix.SIGHUP:
		s.reload()
	case unix.SIGCHLD:
		s.reap()
	}
}

// reap collects every child that has exited.
func (s *Supervisor) reap() {
	for _, c := range s.children {
		if !c.alive {
			continue
		}
		var ws unix.WaitStatus
		pid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
		if err != nil && !errors.Is(err, unix.EINTR) {
			if errors.Is(err, unix.ECHILD) {
				c.alive = false
			}
			continue
		}
		if pid != c.pid {
			continue
		}
		c.alive = false
		s.logExit(c, ws)
		if s.state == StateRunning {
			s.shutdown(ExitChildDied)
		}
	}
	if s.state == StateShuttingDown && !s.anyAlive() {
		s.terminate()
	}
}

func (s *Supervisor) logExit(c *child, ws unix.WaitStatus) {
	switch {
	case s.state != StateRunning && (ws.Exited() && ws.ExitStatus() == 0 || ws.Signaled() && ws.Signal() == unix.SIGTERM):
		log.Info().Msgf("parent: %s exited", c.role)
	case ws.Signaled():
		log.Error().Err(ErrChildDied).Msgf("parent: %s (pid %d) terminated by signal %s", c.role, c.pid, ws.Signal())
	default:
		log.Error().Err(ErrChildDied).Msgf("parent: %s (pid %d) exited with status %d", c.role, c.pid, ws.ExitStatus())
	}
}

func (s *Supervisor) anyAlive() bool {
	for _, c := range s.children {
		if c.alive {
			return true
		}
	}
	return false
}

// Stop requests a clean shutdown from any goroutine.
func (s *Supervisor) Stop() {
	s.loop.Post(func() { s.shutdown(ExitOK) })
}

// shutdown stops both children, first politely, then after the grace
// period with SIGKILL. The first reason wins.
func (s *Supervisor) shutdown(code int) {
	if s.state != StateRunning {
		return
	}
	s.state = StateShuttingDown
	s.exitCode = code

	for _, c := range s.children {
		s.loop.Unwatch(c.ch.Fd())
		_ = c.ch.Close()
		if c.alive {
			_ = unix.Kill(c.pid, unix.SIGTERM)
		}
	}
	s.grace = s.loop.AfterFunc(s.opts.Grace, func() {
		for _, c := range s.children {
			if c.alive {
				log.Warn().Msgf("parent: %s did not exit in %s, killing it", c.role, s.opts.Grace)
			}
		}
		s.killAll()
		s.terminate()
	})
	s.reap()
}

// killAll sends SIGKILL to every live child and waits for it.
func (s *Supervisor) killAll() {
	for _, c := range s.children {
		if !c.alive {
			continue
		}
		_ = unix.Kill(c.pid, unix.SIGKILL)
		var ws unix.WaitStatus
		for {
			_, err := unix.Wait4(c.pid, &ws, 0, nil)
			if !errors.Is(err, unix.EINTR) {
				break
			}
		}
		c.alive = false
	}
}

func (s *Supervisor) terminate() {
	if s.state == StateTerminated {
		return
	}
	if s.grace != nil {
		s.grace.Stop()
	}
	s.state = StateTerminated
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			log.Warn().Err(err).Msg("parent: close control socket")
		}
	}
	log.Info().Msg("parent: terminated")
	s.loop.Exit()
}

// Run serves until both children are gone and returns the process exit
// code.
func (s *Supervisor) Run() int {
	if err := s.loop.Run(); err != nil {
		log.Error().Err(err).Msg("parent: event loop")
		s.shutdown(ExitChildDied)
		s.killAll()
		s.terminate()
		return ExitChildDied
	}
	return s.exitCode
}
