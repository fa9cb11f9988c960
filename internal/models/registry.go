package models

import (
	"errors"
	"fmt"
	"iter"
)

var (
	ErrHostNotFound    = errors.New("host not found")
	ErrTableNotFound   = errors.New("table not found")
	ErrServiceNotFound = errors.New("service not found")
	ErrHostNotInTable  = errors.New("host does not belong to table")
	ErrDuplicate       = errors.New("duplicate object")
)

// Registry owns the configured topology of one process. Objects live in
// slices and are addressed through id -> slot maps. Pointers returned by
// the lookup methods stay valid until the next Add call.
type Registry struct {
	hosts    []Host
	tables   []Table
	services []Service

	hostSlot    map[HostID]int
	tableSlot   map[TableID]int
	serviceSlot map[ServiceID]int

	tableByName   map[string]int
	serviceByName map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		hostSlot:      make(map[HostID]int),
		tableSlot:     make(map[TableID]int),
		serviceSlot:   make(map[ServiceID]int),
		tableByName:   make(map[string]int),
		serviceByName: make(map[string]int),
	}
}

func (r *Registry) AddTable(t Table) error {
	if _, exists := r.tableSlot[t.ID]; exists {
		return fmt.Errorf("table id %d: %w", t.ID, ErrDuplicate)
	}
	if _, exists := r.tableByName[t.Name]; exists {
		return fmt.Errorf("table %q: %w", t.Name, ErrDuplicate)
	}
	t.Hosts = nil
	r.tables = append(r.tables, t)
	r.tableSlot[t.ID] = len(r.tables) - 1
	r.tableByName[t.Name] = len(r.tables) - 1
	return nil
}

// AddHost registers h and links it to its table, which must already exist.
func (r *Registry) AddHost(h Host) error {
	if _, exists := r.hostSlot[h.ID]; exists {
		return fmt.Errorf("host id %d: %w", h.ID, ErrDuplicate)
	}
	table, ok := r.TableByID(h.TableID)
	if !ok {
		return fmt.Errorf("host %s table %d: %w", h.Name, h.TableID, ErrTableNotFound)
	}
	table.Hosts = append(table.Hosts, h.ID)
	r.hosts = append(r.hosts, h)
	r.hostSlot[h.ID] = len(r.hosts) - 1
	return nil
}

func (r *Registry) AddService(s Service) error {
	if _, exists := r.serviceSlot[s.ID]; exists {
		return fmt.Errorf("service id %d: %w", s.ID, ErrDuplicate)
	}
	if _, exists := r.serviceByName[s.Name]; exists {
		return fmt.Errorf("service %q: %w", s.Name, ErrDuplicate)
	}
	if _, ok := r.TableByID(s.TableID); !ok {
		return fmt.Errorf("service %s table %d: %w", s.Name, s.TableID, ErrTableNotFound)
	}
	if s.BackupTableID != 0 {
		if _, ok := r.TableByID(s.BackupTableID); !ok {
			return fmt.Errorf("service %s backup table %d: %w", s.Name, s.BackupTableID, ErrTableNotFound)
		}
	}
	r.services = append(r.services, s)
	r.serviceSlot[s.ID] = len(r.services) - 1
	r.serviceByName[s.Name] = len(r.services) - 1
	return nil
}

func (r *Registry) HostByID(id HostID) (*Host, bool) {
	slot, ok := r.hostSlot[id]
	if !ok {
		return nil, false
	}
	return &r.hosts[slot], true
}

func (r *Registry) TableByID(id TableID) (*Table, bool) {
	slot, ok := r.tableSlot[id]
	if !ok {
		return nil, false
	}
	return &r.tables[slot], true
}

func (r *Registry) ServiceByID(id ServiceID) (*Service, bool) {
	slot, ok := r.serviceSlot[id]
	if !ok {
		return nil, false
	}
	return &r.services[slot], true
}

// HostByName returns the first host with the given name in configuration
// order. The same backend may be listed in several tables under one name.
func (r *Registry) HostByName(name string) (*Host, bool) {
	for i := range r.hosts {
		if r.hosts[i].Name == name {
			return &r.hosts[i], true
		}
	}
	return nil, false
}

func (r *Registry) TableByName(name string) (*Table, bool) {
	slot, ok := r.tableByName[name]
	if !ok {
		return nil, false
	}
	return &r.tables[slot], true
}

func (r *Registry) ServiceByName(name string) (*Service, bool) {
	slot, ok := r.serviceByName[name]
	if !ok {
		return nil, false
	}
	return &r.services[slot], true
}

func (r *Registry) Hosts() iter.Seq[*Host] {
	return func(yield func(*Host) bool) {
		for i := range r.hosts {
			if !yield(&r.hosts[i]) {
				return
			}
		}
	}
}

func (r *Registry) Tables() iter.Seq[*Table] {
	return func(yield func(*Table) bool) {
		for i := range r.tables {
			if !yield(&r.tables[i]) {
				return
			}
		}
	}
}

func (r *Registry) Services() iter.Seq[*Service] {
	return func(yield func(*Service) bool) {
		for i := range r.services {
			if !yield(&r.services[i]) {
				return
			}
		}
	}
}

// TableHosts yields the hosts of a table in configuration order.
func (r *Registry) TableHosts(t *Table) iter.Seq[*Host] {
	return func(yield func(*Host) bool) {
		for _, id := range t.Hosts {
			host, ok := r.HostByID(id)
			if !ok {
				continue
			}
			if !yield(host) {
				return
			}
		}
	}
}

func (r *Registry) Len() (hosts, tables, services int) {
	return len(r.hosts), len(r.tables), len(r.services)
}

// ApplyHostStatus stores status for a host of the table and reports
// whether the stored value changed.
func (r *Registry) ApplyHostStatus(tableID TableID, hostID HostID, status HostStatus) (bool, error) {
	if _, ok := r.TableByID(tableID); !ok {
		return false, fmt.Errorf("table %d: %w", tableID, ErrTableNotFound)
	}
	host, ok := r.HostByID(hostID)
	if !ok {
		return false, fmt.Errorf("host %d: %w", hostID, ErrHostNotFound)
	}
	if host.TableID != tableID {
		return false, fmt.Errorf("host %d table %d: %w", hostID, tableID, ErrHostNotInTable)
	}
	if host.Status == status {
		return false, nil
	}
	host.Status = status
	return true, nil
}

// EnabledHostCount is the number of hosts of the table that are up and
// not disabled. A disabled table has none.
func (r *Registry) EnabledHostCount(t *Table) int {
	if t.Disabled {
		return 0
	}
	count := 0
	for host := range r.TableHosts(t) {
		if host.Enabled() {
			count++
		}
	}
	return count
}

// EnabledHosts returns the member list that is committed to the packet
// filter for the table.
func (r *Registry) EnabledHosts(t *Table) []Host {
	if t.Disabled {
		return nil
	}
	members := make([]Host, 0, len(t.Hosts))
	for host := range r.TableHosts(t) {
		if host.Enabled() {
			members = append(members, *host)
		}
	}
	return members
}

// SetHostDisabled flips the disabled flag of a host. In both directions
// the status restarts from unknown.
func (r *Registry) SetHostDisabled(id HostID, disabled bool) (*Host, bool, error) {
	host, ok := r.HostByID(id)
	if !ok {
		return nil, false, fmt.Errorf("host %d: %w", id, ErrHostNotFound)
	}
	if host.Disabled == disabled {
		return host, false, nil
	}
	host.Disabled = disabled
	host.Status = HostUnknown
	return host, true, nil
}

func (r *Registry) SetTableDisabled(id TableID, disabled bool) (*Table, bool, error) {
	table, ok := r.TableByID(id)
	if !ok {
		return nil, false, fmt.Errorf("table %d: %w", id, ErrTableNotFound)
	}
	if table.Disabled == disabled {
		return table, false, nil
	}
	table.Disabled = disabled
	for host := range r.TableHosts(table) {
		host.Status = HostUnknown
	}
	return table, true, nil
}

// ActiveTable is the table a service forwards to: the primary while it
// has members, otherwise the backup table when one is configured.
func (r *Registry) ActiveTable(s *Service) (*Table, bool) {
	primary, ok := r.TableByID(s.TableID)
	if !ok {
		return nil, false
	}
	if s.BackupTableID == 0 || r.EnabledHostCount(primary) > 0 {
		return primary, true
	}
	backup, ok := r.TableByID(s.BackupTableID)
	if !ok {
		return primary, true
	}
	return backup, true
}

// ServicesOf yields the services that use the table as primary or backup.
func (r *Registry) ServicesOf(id TableID) iter.Seq[*Service] {
	return func(yield func(*Service) bool) {
		for i := range r.services {
			s := &r.services[i]
			if s.TableID != id && s.BackupTableID != id {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}
