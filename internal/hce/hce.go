package hce

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/event"
	"github.com/Sh00ty/hoststated/internal/executor"
	"github.com/Sh00ty/hoststated/internal/imsg"
	"github.com/Sh00ty/hoststated/internal/logger"
	"github.com/Sh00ty/hoststated/internal/metrics"
	"github.com/Sh00ty/hoststated/internal/models"
	"github.com/Sh00ty/hoststated/internal/scheduler"
	"github.com/Sh00ty/hoststated/pkg/healthcheck"
	"github.com/Sh00ty/hoststated/pkg/strategies"
)

// PeerID identifies hce in the header of every frame it sends.
const PeerID uint32 = 1

var ErrUnexpected = errors.New("unexpected message")

type Prober interface {
	ExecuteHealthCheck(executor.Task) error
}

type StrategyFactory func(
	name healthcheck.StrategyName,
	target healthcheck.Target,
	timeout time.Duration,
	checkCfg []byte,
) (healthcheck.Strategy, error)

type probeState struct {
	strategy healthcheck.Strategy
	inFlight bool
	failures uint8
	// generation is bumped on every enable or disable, results of older
	// probes are dropped
	generation uint64
}

// Engine is the health check engine. It owns the authoritative status of
// every host and publishes a HOST_STATUS delta to pfe and the parent
// whenever a probe result changes it.
type Engine struct {
	loop   *event.Loop
	parent *imsg.Channel
	pfe    *imsg.Channel

	reg        *models.Registry
	configured bool

	prober      Prober
	sched       *scheduler.Scheduler
	probes      map[models.HostID]*probeState
	newStrategy StrategyFactory
	metrics     metrics.Metrics

	err error
}

type Option func(*Engine)

// WithStrategyFactory replaces the probe constructor.
func WithStrategyFactory(f StrategyFactory) Option {
	return func(e *Engine) {
		e.newStrategy = f
	}
}

func WithMetrics(m metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(loop *event.Loop, parent, pfe *imsg.Channel, prober Prober, opts ...Option) *Engine {
	e := &Engine{
		loop:        loop,
		parent:      parent,
		pfe:         pfe,
		reg:         models.NewRegistry(),
		prober:      prober,
		probes:      make(map[models.HostID]*probeState),
		newStrategy: strategies.NewStrategy,
		metrics:     metrics.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sched = scheduler.New(loop, e)
	return e
}

// NotifyResult hands a probe result from an executor worker to the loop.
func (e *Engine) NotifyResult(r executor.Result) {
	e.loop.Post(func() { e.applyResult(r) })
}

// Start watches the parent channel. Probing and the pfe channel begin
// once the parent has sent the whole configuration.
func (e *Engine) Start() {
	e.loop.WatchChannel(e.parent, e.dispatchParent, func(err error) {
		e.fatal(fmt.Errorf("parent channel: %w", err))
	})
}

// Err is the reason the engine stopped the loop, nil after a clean exit.
func (e *Engine) Err() error {
	return e.err
}

func (e *Engine) Registry() *models.Registry {
	return e.reg
}

func (e *Engine) Stop() {
	e.sched.Stop()
}

func (e *Engine) fatal(err error) {
	if e.err != nil {
		return
	}
	e.err = err
	log.Error().Err(err).Msg("hce: fatal")
	e.sched.Stop()
	e.loop.Exit()
}

func (e *Engine) dispatchParent(msg imsg.Message) error {
	p, err := msg.Decode()
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case imsg.CfgTable:
		return e.configure(func() error { return e.reg.AddTable(p.Table) })
	case imsg.CfgHost:
		return e.configure(func() error { return e.reg.AddHost(p.Host) })
	case imsg.CfgDone:
		return e.startChecks()
	case imsg.LogVerbose:
		logger.SetVerbose(p.Verbose)
		log.Info().Msgf("hce: verbose logging %t", p.Verbose)
	case imsg.Reload:
		log.Warn().Msg("hce: reload is not supported, keeping the running configuration")
	default:
		return fmt.Errorf("%w: %s from parent", ErrUnexpected, msg.Type)
	}
	return nil
}

func (e *Engine) configure(add func() error) error {
	if e.configured {
		return fmt.Errorf("%w: configuration after CFG_DONE", ErrUnexpected)
	}
	return add()
}

func (e *Engine) dispatchPFE(msg imsg.Message) error {
	p, err := msg.Decode()
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case imsg.HostEnable:
		return e.setHostDisabled(p.HostID, false)
	case imsg.HostDisable:
		return e.setHostDisabled(p.HostID, true)
	case imsg.TableEnable:
		return e.setTableDisabled(p.TableID, false)
	case imsg.TableDisable:
		return e.setTableDisabled(p.TableID, true)
	default:
		return fmt.Errorf("%w: %s from pfe", ErrUnexpected, msg.Type)
	}
}

func (e *Engine) startChecks() error {
	if e.configured {
		return fmt.Errorf("%w: duplicate CFG_DONE", ErrUnexpected)
	}
	e.configured = true
	for host := range e.reg.Hosts() {
		table, _ := e.reg.TableByID(host.TableID)
		strategy, err := e.newStrategy(
			table.Check.Strategy,
			healthcheck.Target{Name: host.Name, Addr: host.Addr},
			table.Check.Timeout,
			table.Check.Params,
		)
		if err != nil {
			return fmt.Errorf("host %s: %w", host.Name, err)
		}
		e.probes[host.ID] = &probeState{strategy: strategy}
		if !host.Disabled && !table.Disabled {
			e.sched.Add(host.ID, table.Check.Interval)
		}
	}
	e.loop.WatchChannel(e.pfe, e.dispatchPFE, func(err error) {
		e.fatal(fmt.Errorf("pfe channel: %w", err))
	})
	hosts, tables, _ := e.reg.Len()
	log.Info().Msgf("hce: checking %d hosts in %d tables", e.sched.Len(), tables)
	e.metrics.Gauge("hce.hosts", hosts)
	return nil
}

// ExecuteHealthCheck is called by the scheduler on the loop goroutine.
func (e *Engine) ExecuteHealthCheck(id models.HostID) {
	probe, ok := e.probes[id]
	if !ok {
		return
	}
	host, _ := e.reg.HostByID(id)
	table, _ := e.reg.TableByID(host.TableID)
	if probe.inFlight {
		log.Debug().Msgf("hce: host %s: previous check still running, skipping cycle", host.Name)
		return
	}
	err := e.prober.ExecuteHealthCheck(executor.Task{
		HostID:     id,
		TableID:    host.TableID,
		Strategy:   probe.strategy,
		Timeout:    table.Check.Timeout,
		Generation: probe.generation,
	})
	if err != nil {
		log.Warn().Err(err).Msgf("hce: host %s: check skipped", host.Name)
		return
	}
	probe.inFlight = true
}

func (e *Engine) applyResult(r executor.Result) {
	probe, ok := e.probes[r.HostID]
	if !ok || r.Generation != probe.generation {
		return
	}
	probe.inFlight = false

	host, _ := e.reg.HostByID(r.HostID)
	table, _ := e.reg.TableByID(host.TableID)
	if host.Disabled || table.Disabled {
		// disabled while the probe was running
		return
	}
	if healthcheck.IsLocal(r.Err) {
		log.Error().Err(r.Err).Msgf("hce: host %s: cannot run check", host.Name)
		return
	}

	host.CheckCount++
	status := models.StatusFromProbe(r.Up)
	if r.Up {
		host.UpCount++
		probe.failures = 0
	} else {
		probe.failures++
		if host.Status == models.HostUp && probe.failures <= table.Check.Retry {
			log.Debug().Err(r.Err).Msgf("hce: host %s: check failed, retry %d/%d",
				host.Name, probe.failures, table.Check.Retry)
			return
		}
	}

	changed, err := e.reg.ApplyHostStatus(host.TableID, host.ID, status)
	if err != nil {
		e.fatal(err)
		return
	}
	if !changed {
		return
	}

	ev := log.Info()
	if r.Err != nil {
		ev = ev.AnErr("reason", r.Err)
	}
	ev.Msgf("hce: host %s, check %s (%s), state %s", host.Name, table.Check.Strategy, r.Took, status)
	e.metrics.Increment("hce.transition." + status.String())

	msg := imsg.HostStatus{
		HostID:     host.ID,
		TableID:    host.TableID,
		Status:     status,
		CheckCount: host.CheckCount,
		UpCount:    host.UpCount,
	}
	if r.Err != nil {
		msg.Error = r.Err.Error()
	}
	if err := e.pfe.Send(PeerID, msg); err != nil {
		e.fatal(fmt.Errorf("send to pfe: %w", err))
		return
	}
	if err := e.parent.Send(PeerID, msg); err != nil {
		e.fatal(fmt.Errorf("send to parent: %w", err))
	}
}

func (e *Engine) setHostDisabled(id models.HostID, disabled bool) error {
	host, changed, err := e.reg.SetHostDisabled(id, disabled)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	table, _ := e.reg.TableByID(host.TableID)
	e.resetProbe(host)
	if disabled || table.Disabled {
		e.sched.Remove(id)
	} else {
		e.sched.Add(id, table.Check.Interval)
	}
	log.Info().Msgf("hce: host %s %s", host.Name, onOff(disabled))
	return nil
}

func (e *Engine) setTableDisabled(id models.TableID, disabled bool) error {
	table, changed, err := e.reg.SetTableDisabled(id, disabled)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	for host := range e.reg.TableHosts(table) {
		e.resetProbe(host)
		if disabled || host.Disabled {
			e.sched.Remove(host.ID)
		} else {
			e.sched.Add(host.ID, table.Check.Interval)
		}
	}
	log.Info().Msgf("hce: table %s %s", table.Name, onOff(disabled))
	return nil
}

func (e *Engine) resetProbe(host *models.Host) {
	host.CheckCount = 0
	host.UpCount = 0
	if probe, ok := e.probes[host.ID]; ok {
		probe.failures = 0
		probe.inFlight = false
		probe.generation++
	}
}

func onOff(disabled bool) string {
	if disabled {
		return "disabled"
	}
	return "enabled"
}
