package pfe

import (
	"errors"
	"fmt"

	"github.com/Sh00ty/hoststated/internal/imsg"
	"github.com/Sh00ty/hoststated/internal/models"
)

var ErrUnsupported = errors.New("unsupported request")

// answer builds the reply records for one control request.
func (e *Engine) answer(p imsg.Payload) ([]imsg.Payload, error) {
	switch p := p.(type) {
	case imsg.CtlSummary:
		return e.summary(), nil
	case imsg.CtlGetTable:
		table, err := e.findTable(p.Name, p.ID)
		if err != nil {
			return nil, err
		}
		return e.tableView(table), nil
	case imsg.CtlGetService:
		svc, err := e.findService(p.Name, p.ID)
		if err != nil {
			return nil, err
		}
		return []imsg.Payload{e.serviceView(svc), imsg.CtlEnd{}}, nil
	case imsg.CtlHostEnable:
		return e.hostRequest(p.Name, p.ID, false)
	case imsg.CtlHostDisable:
		return e.hostRequest(p.Name, p.ID, true)
	case imsg.CtlTableEnable:
		return e.tableRequest(p.Name, p.ID, false)
	case imsg.CtlTableDisable:
		return e.tableRequest(p.Name, p.ID, true)
	case imsg.LogVerbose:
		if err := e.setVerbose(p.Verbose); err != nil {
			return nil, err
		}
		return []imsg.Payload{imsg.CtlOK{}}, nil
	case imsg.Reload:
		if err := e.reload(); err != nil {
			return nil, err
		}
		return []imsg.Payload{imsg.CtlOK{}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, p.Type())
	}
}

func (e *Engine) summary() []imsg.Payload {
	var replies []imsg.Payload
	for svc := range e.reg.Services() {
		replies = append(replies, e.serviceView(svc))
	}
	for table := range e.reg.Tables() {
		replies = append(replies, e.tableRecord(table))
	}
	return append(replies, imsg.CtlEnd{})
}

func (e *Engine) tableRecord(t *models.Table) imsg.CtlTable {
	return imsg.CtlTable{
		Table: *t,
		Hosts: len(t.Hosts),
		Up:    e.reg.EnabledHostCount(t),
	}
}

func (e *Engine) tableView(t *models.Table) []imsg.Payload {
	replies := []imsg.Payload{e.tableRecord(t)}
	for host := range e.reg.TableHosts(t) {
		replies = append(replies, imsg.CtlHost{Host: *host})
	}
	return append(replies, imsg.CtlEnd{})
}

func (e *Engine) serviceView(s *models.Service) imsg.CtlService {
	view := imsg.CtlService{Service: *s}
	if t, ok := e.reg.TableByID(s.TableID); ok {
		view.TableName = t.Name
	}
	if t, ok := e.reg.TableByID(s.BackupTableID); ok {
		view.BackupName = t.Name
	}
	if t, ok := e.reg.ActiveTable(s); ok {
		view.ActiveTable = t.Name
	}
	return view
}

func (e *Engine) hostRequest(name string, id uint32, disable bool) ([]imsg.Payload, error) {
	host, err := e.findHost(name, id)
	if err != nil {
		return nil, err
	}
	if _, err := e.setHostDisabled(host.ID, disable); err != nil {
		return nil, err
	}
	return []imsg.Payload{imsg.CtlOK{}}, nil
}

func (e *Engine) tableRequest(name string, id uint32, disable bool) ([]imsg.Payload, error) {
	table, err := e.findTable(name, id)
	if err != nil {
		return nil, err
	}
	if _, err := e.setTableDisabled(table.ID, disable); err != nil {
		return nil, err
	}
	return []imsg.Payload{imsg.CtlOK{}}, nil
}

func (e *Engine) findHost(name string, id uint32) (*models.Host, error) {
	var (
		host *models.Host
		ok   bool
	)
	if name != "" {
		host, ok = e.reg.HostByName(name)
	} else {
		host, ok = e.reg.HostByID(models.HostID(id))
	}
	if !ok {
		return nil, notFound(models.ErrHostNotFound, name, id)
	}
	return host, nil
}

func (e *Engine) findTable(name string, id uint32) (*models.Table, error) {
	var (
		table *models.Table
		ok    bool
	)
	if name != "" {
		table, ok = e.reg.TableByName(name)
	} else {
		table, ok = e.reg.TableByID(models.TableID(id))
	}
	if !ok {
		return nil, notFound(models.ErrTableNotFound, name, id)
	}
	return table, nil
}

func (e *Engine) findService(name string, id uint32) (*models.Service, error) {
	var (
		svc *models.Service
		ok  bool
	)
	if name != "" {
		svc, ok = e.reg.ServiceByName(name)
	} else {
		svc, ok = e.reg.ServiceByID(models.ServiceID(id))
	}
	if !ok {
		return nil, notFound(models.ErrServiceNotFound, name, id)
	}
	return svc, nil
}

func notFound(err error, name string, id uint32) error {
	if name != "" {
		return fmt.Errorf("%q: %w", name, err)
	}
	return fmt.Errorf("id %d: %w", id, err)
}
