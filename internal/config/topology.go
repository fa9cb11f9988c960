package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sh00ty/hoststated/internal/models"
	"github.com/Sh00ty/hoststated/pkg/healthcheck"
	"github.com/Sh00ty/hoststated/pkg/strategies"
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 200 * time.Millisecond
)

var ErrInvalid = errors.New("invalid configuration")

type fileConfig struct {
	Interval time.Duration   `yaml:"interval"`
	Timeout  time.Duration   `yaml:"timeout"`
	Tables   []tableConfig   `yaml:"tables"`
	Services []serviceConfig `yaml:"services"`
}

type checkConfig struct {
	Type     healthcheck.StrategyName `yaml:"type"`
	Interval time.Duration            `yaml:"interval"`
	Timeout  time.Duration            `yaml:"timeout"`
	Retry    uint8                    `yaml:"retry"`
	Params   map[string]any           `yaml:"params"`
}

type tableConfig struct {
	Name     string       `yaml:"name"`
	Port     uint16       `yaml:"port"`
	Disabled bool         `yaml:"disabled"`
	Check    checkConfig  `yaml:"check"`
	Hosts    []hostConfig `yaml:"hosts"`
}

type hostConfig struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"`
	Disabled bool   `yaml:"disabled"`
}

type serviceConfig struct {
	Name     string   `yaml:"name"`
	Table    string   `yaml:"table"`
	Backup   string   `yaml:"backup"`
	Virtual  []string `yaml:"virtual"`
	Disabled bool     `yaml:"disabled"`
}

// LoadTopology reads the topology file and builds the registry.
func LoadTopology(path string) (*models.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return ParseTopology(f)
}

// ParseTopology decodes a topology document, assigns ids in file order
// and validates every object before anything is handed to a child.
func ParseTopology(r io.Reader) (*models.Registry, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if fc.Interval <= 0 {
		fc.Interval = defaultInterval
	}
	if fc.Timeout <= 0 {
		fc.Timeout = defaultTimeout
	}

	reg := models.NewRegistry()
	var hostID models.HostID
	for i, tc := range fc.Tables {
		table, err := buildTable(models.TableID(i+1), tc, fc)
		if err != nil {
			return nil, err
		}
		if err := reg.AddTable(table); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, hc := range tc.Hosts {
			hostID++
			host, err := buildHost(hostID, table, tc.Port, hc)
			if err != nil {
				return nil, err
			}
			if err := validateCheck(table, host); err != nil {
				return nil, err
			}
			if err := reg.AddHost(host); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
			}
		}
	}

	for i, sc := range fc.Services {
		svc, err := buildService(models.ServiceID(i+1), sc, reg)
		if err != nil {
			return nil, err
		}
		if err := reg.AddService(svc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return reg, nil
}

func buildTable(id models.TableID, tc tableConfig, fc fileConfig) (models.Table, error) {
	if tc.Name == "" {
		return models.Table{}, fmt.Errorf("%w: table #%d has no name", ErrInvalid, id)
	}
	check := models.CheckSettings{
		Strategy: tc.Check.Type,
		Interval: tc.Check.Interval,
		Timeout:  tc.Check.Timeout,
		Retry:    tc.Check.Retry,
	}
	if check.Strategy == "" {
		check.Strategy = healthcheck.TCPStrategy
	}
	if check.Interval <= 0 {
		check.Interval = fc.Interval
	}
	if check.Timeout <= 0 {
		check.Timeout = fc.Timeout
	}
	if check.Timeout >= check.Interval {
		return models.Table{}, fmt.Errorf("%w: table %s: check timeout %s must be below interval %s",
			ErrInvalid, tc.Name, check.Timeout, check.Interval)
	}
	if len(tc.Check.Params) > 0 {
		params, err := json.Marshal(tc.Check.Params)
		if err != nil {
			return models.Table{}, fmt.Errorf("%w: table %s: check params: %v", ErrInvalid, tc.Name, err)
		}
		check.Params = params
	}
	return models.Table{
		ID:       id,
		Name:     tc.Name,
		Check:    check,
		Disabled: tc.Disabled,
	}, nil
}

func buildHost(id models.HostID, table models.Table, port uint16, hc hostConfig) (models.Host, error) {
	addr, err := parseHostAddr(hc.Addr, port)
	if err != nil {
		return models.Host{}, fmt.Errorf("%w: table %s host %q: %v", ErrInvalid, table.Name, hc.Addr, err)
	}
	name := hc.Name
	if name == "" {
		name = addr.Addr().String()
	}
	return models.Host{
		ID:       id,
		Name:     name,
		Addr:     addr,
		TableID:  table.ID,
		Disabled: hc.Disabled,
	}, nil
}

func parseHostAddr(raw string, port uint16) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap, nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if port == 0 {
		return netip.AddrPort{}, errors.New("no port on host and no table port")
	}
	return netip.AddrPortFrom(addr, port), nil
}

// validateCheck builds the probe once so bad strategy settings fail the
// load rather than the first check cycle.
func validateCheck(table models.Table, host models.Host) error {
	_, err := strategies.NewStrategy(
		table.Check.Strategy,
		healthcheck.Target{Name: host.Name, Addr: host.Addr},
		table.Check.Timeout,
		table.Check.Params,
	)
	if err != nil {
		return fmt.Errorf("%w: table %s: %v", ErrInvalid, table.Name, err)
	}
	return nil
}

func buildService(id models.ServiceID, sc serviceConfig, reg *models.Registry) (models.Service, error) {
	if sc.Name == "" {
		return models.Service{}, fmt.Errorf("%w: service #%d has no name", ErrInvalid, id)
	}
	table, ok := reg.TableByName(sc.Table)
	if !ok {
		return models.Service{}, fmt.Errorf("%w: service %s: unknown table %q", ErrInvalid, sc.Name, sc.Table)
	}
	svc := models.Service{
		ID:       id,
		Name:     sc.Name,
		TableID:  table.ID,
		Disabled: sc.Disabled,
	}
	if sc.Backup != "" {
		backup, ok := reg.TableByName(sc.Backup)
		if !ok {
			return models.Service{}, fmt.Errorf("%w: service %s: unknown backup table %q", ErrInvalid, sc.Name, sc.Backup)
		}
		if backup.ID == table.ID {
			return models.Service{}, fmt.Errorf("%w: service %s: backup table equals primary", ErrInvalid, sc.Name)
		}
		svc.BackupTableID = backup.ID
	}
	for _, raw := range sc.Virtual {
		ap, err := netip.ParseAddrPort(raw)
		if err != nil {
			return models.Service{}, fmt.Errorf("%w: service %s: virtual address %q: %v", ErrInvalid, sc.Name, raw, err)
		}
		svc.Virtual = append(svc.Virtual, ap)
	}
	return svc, nil
}
