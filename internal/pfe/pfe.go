package pfe

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/event"
	"github.com/Sh00ty/hoststated/internal/imsg"
	"github.com/Sh00ty/hoststated/internal/logger"
	"github.com/Sh00ty/hoststated/internal/metrics"
	"github.com/Sh00ty/hoststated/internal/models"
	"github.com/Sh00ty/hoststated/internal/pftable"
)

// PeerID identifies pfe in the header of every frame it sends.
const PeerID uint32 = 2

var (
	ErrUnexpected = errors.New("unexpected message")
	// ErrDesync means hce reported a host pfe does not know. Both sides
	// loaded the same configuration, so the mirror can no longer be
	// trusted.
	ErrDesync = errors.New("host status desynchronized")
)

type TableCommitter interface {
	Push(pftable.Update)
}

// Engine is the packet filter engine. It mirrors host status reported by
// hce, recomputes the members of the affected table and commits them.
type Engine struct {
	loop   *event.Loop
	parent *imsg.Channel
	hce    *imsg.Channel
	ctl    *ControlServer

	reg        *models.Registry
	configured bool
	tables     TableCommitter
	metrics    metrics.Metrics

	err error
}

type Option func(*Engine)

func WithMetrics(m metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithControl serves control requests from l once configured.
func WithControl(l *ControlListener) Option {
	return func(e *Engine) {
		e.ctl = newControlServer(e, l)
	}
}

func New(loop *event.Loop, parent, hce *imsg.Channel, tables TableCommitter, opts ...Option) *Engine {
	e := &Engine{
		loop:    loop,
		parent:  parent,
		hce:     hce,
		reg:     models.NewRegistry(),
		tables:  tables,
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start watches the parent channel. The hce channel is read only after
// CFG_DONE, until then its frames wait in the socket.
func (e *Engine) Start() {
	e.loop.WatchChannel(e.parent, e.dispatchParent, func(err error) {
		e.fatal(fmt.Errorf("parent channel: %w", err))
	})
}

func (e *Engine) Err() error {
	return e.err
}

func (e *Engine) Registry() *models.Registry {
	return e.reg
}

// Stop closes the control server and every client connection.
func (e *Engine) Stop() {
	if e.ctl != nil {
		e.ctl.close()
	}
}

func (e *Engine) fatal(err error) {
	if e.err != nil {
		return
	}
	e.err = err
	log.Error().Err(err).Msg("pfe: fatal")
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
	case imsg.CfgService:
		return e.configure(func() error { return e.reg.AddService(p.Service) })
	case imsg.CfgDone:
		return e.startForwarding()
	default:
		return fmt.Errorf("%w: %s from parent", ErrUnexpected, msg.Type)
	}
}

func (e *Engine) configure(add func() error) error {
	if e.configured {
		return fmt.Errorf("%w: configuration after CFG_DONE", ErrUnexpected)
	}
	return add()
}

func (e *Engine) startForwarding() error {
	if e.configured {
		return fmt.Errorf("%w: duplicate CFG_DONE", ErrUnexpected)
	}
	e.configured = true
	e.loop.WatchChannel(e.hce, e.dispatchHCE, func(err error) {
		e.fatal(fmt.Errorf("hce channel: %w", err))
	})
	// start from empty tables, hosts join as hce reports them up
	for table := range e.reg.Tables() {
		e.commit(table)
	}
	if e.ctl != nil {
		e.ctl.start()
	}
	hosts, tables, services := e.reg.Len()
	log.Info().Msgf("pfe: configured %d services, %d tables, %d hosts", services, tables, hosts)
	return nil
}

func (e *Engine) dispatchHCE(msg imsg.Message) error {
	p, err := msg.Decode()
	if err != nil {
		return err
	}
	switch p := p.(type) {
	case imsg.HostStatus:
		return e.applyHostStatus(p)
	default:
		return fmt.Errorf("%w: %s from hce", ErrUnexpected, msg.Type)
	}
}

func (e *Engine) applyHostStatus(st imsg.HostStatus) error {
	host, ok := e.reg.HostByID(st.HostID)
	if !ok {
		return fmt.Errorf("%w: unknown host id %d", ErrDesync, st.HostID)
	}
	table, ok := e.reg.TableByID(st.TableID)
	if !ok || host.TableID != table.ID {
		return fmt.Errorf("%w: host %d reported in table %d", ErrDesync, st.HostID, st.TableID)
	}
	if !st.Status.Valid() {
		return fmt.Errorf("%w: host %d: invalid status %d", ErrDesync, st.HostID, st.Status)
	}
	if host.Disabled || table.Disabled {
		log.Debug().Msgf("pfe: host %s is disabled, ignoring status %s", host.Name, st.Status)
		return nil
	}

	before := e.activeTables(table.ID)
	host.CheckCount = st.CheckCount
	host.UpCount = st.UpCount
	wasUp := host.Status == models.HostUp

	changed, err := e.reg.ApplyHostStatus(table.ID, host.ID, st.Status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDesync, err)
	}
	if !changed {
		log.Warn().Msgf("pfe: host %s: repeated status %s", host.Name, st.Status)
		return nil
	}

	log.Debug().Msgf("pfe: host %s, table %s: %s", host.Name, table.Name, st.Status)
	e.metrics.Increment("pfe.host_status")
	// unknown <-> down keeps the member list
	if wasUp || st.Status == models.HostUp {
		e.commit(table)
		e.logActiveChanges(before)
	}
	return nil
}

func (e *Engine) commit(table *models.Table) {
	hosts := e.reg.EnabledHosts(table)
	e.metrics.Gauge("pfe.table."+table.Name+".up", len(hosts))
	e.tables.Push(pftable.NewUpdate(table, hosts))
}

// activeTables records which table every service of the given table
// forwards to right now.
func (e *Engine) activeTables(id models.TableID) map[models.ServiceID]models.TableID {
	active := make(map[models.ServiceID]models.TableID)
	for svc := range e.reg.ServicesOf(id) {
		if t, ok := e.reg.ActiveTable(svc); ok {
			active[svc.ID] = t.ID
		}
	}
	return active
}

func (e *Engine) logActiveChanges(before map[models.ServiceID]models.TableID) {
	for id, was := range before {
		svc, _ := e.reg.ServiceByID(id)
		now, ok := e.reg.ActiveTable(svc)
		if !ok || now.ID == was {
			continue
		}
		old, _ := e.reg.TableByID(was)
		log.Warn().Msgf("pfe: service %s: switched from table %s to %s", svc.Name, old.Name, now.Name)
	}
}

// setHostDisabled handles HOST_ENABLE and HOST_DISABLE from the control
// socket. hce is told to stop or resume probing.
func (e *Engine) setHostDisabled(id models.HostID, disabled bool) (*models.Host, error) {
	table := e.tableOf(id)
	before := e.activeTables(table)
	host, changed, err := e.reg.SetHostDisabled(id, disabled)
	if err != nil || !changed {
		return host, err
	}
	var p imsg.Payload = imsg.HostEnable{HostID: id}
	if disabled {
		p = imsg.HostDisable{HostID: id}
	}
	if err := e.sendHCE(p); err != nil {
		return host, err
	}
	t, _ := e.reg.TableByID(host.TableID)
	e.commit(t)
	e.logActiveChanges(before)
	log.Info().Msgf("pfe: host %s %s", host.Name, onOff(disabled))
	return host, nil
}

func (e *Engine) tableOf(id models.HostID) models.TableID {
	if host, ok := e.reg.HostByID(id); ok {
		return host.TableID
	}
	return 0
}

func (e *Engine) setTableDisabled(id models.TableID, disabled bool) (*models.Table, error) {
	before := e.activeTables(id)
	table, changed, err := e.reg.SetTableDisabled(id, disabled)
	if err != nil || !changed {
		return table, err
	}
	var p imsg.Payload = imsg.TableEnable{TableID: id}
	if disabled {
		p = imsg.TableDisable{TableID: id}
	}
	if err := e.sendHCE(p); err != nil {
		return table, err
	}
	e.commit(table)
	e.logActiveChanges(before)
	log.Info().Msgf("pfe: table %s %s", table.Name, onOff(disabled))
	return table, nil
}

func (e *Engine) setVerbose(verbose bool) error {
	logger.SetVerbose(verbose)
	return e.sendParent(imsg.LogVerbose{Verbose: verbose})
}

func (e *Engine) reload() error {
	return e.sendParent(imsg.Reload{})
}

func (e *Engine) sendHCE(p imsg.Payload) error {
	if err := e.hce.Send(PeerID, p); err != nil {
		e.fatal(fmt.Errorf("send to hce: %w", err))
		return err
	}
	return nil
}

func (e *Engine) sendParent(p imsg.Payload) error {
	if err := e.parent.Send(PeerID, p); err != nil {
		e.fatal(fmt.Errorf("send to parent: %w", err))
		return err
	}
	return nil
}

func onOff(disabled bool) string {
	if disabled {
		return "disabled"
	}
	return "enabled"
}
