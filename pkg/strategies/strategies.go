package strategies

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sh00ty/hoststated/pkg/healthcheck"
	"github.com/Sh00ty/hoststated/pkg/strategies/httphc"
	"github.com/Sh00ty/hoststated/pkg/strategies/mockhc"
	"github.com/Sh00ty/hoststated/pkg/strategies/scripthc"
	"github.com/Sh00ty/hoststated/pkg/strategies/tcpconnhc"
)

const defaultTimeout = 200 * time.Millisecond

// NewStrategy builds the probe for one target. checkCfg carries the
// strategy specific settings as JSON and may be empty.
func NewStrategy(
	name healthcheck.StrategyName,
	target healthcheck.Target,
	timeout time.Duration,
	checkCfg []byte,
) (healthcheck.Strategy, error) {
	var (
		settingsVar any
		createFunc  func(any) (healthcheck.Strategy, error)
	)
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	switch name {
	case healthcheck.HTTPStrategy:
		settingsVar = &httphc.HTTPStrategySettings{}
		createFunc = func(settings any) (healthcheck.Strategy, error) {
			s := settings.(*httphc.HTTPStrategySettings)
			s.Timeout = timeout
			return httphc.NewHTTPStrategy(s, target)
		}
	case healthcheck.TCPStrategy:
		settingsVar = &tcpconnhc.TcpHealthCheckSettings{}
		createFunc = func(settings any) (healthcheck.Strategy, error) {
			s := settings.(*tcpconnhc.TcpHealthCheckSettings)
			s.Timeout = timeout
			return tcpconnhc.NewTcpConnStrategy(s, target)
		}
	case healthcheck.ScriptStrategy:
		settingsVar = &scripthc.ScriptSettings{}
		createFunc = func(settings any) (healthcheck.Strategy, error) {
			s := settings.(*scripthc.ScriptSettings)
			s.Timeout = timeout
			return scripthc.NewScriptStrategy(s, target)
		}
	case healthcheck.MockStrategy:
		settingsVar = &mockhc.MockHCSettings{}
		createFunc = func(settings any) (healthcheck.Strategy, error) {
			s := settings.(*mockhc.MockHCSettings)
			if s.Name == "" {
				s.Name = target.String()
			}
			return mockhc.NewMockHC(s), nil
		}
	default:
		return nil, fmt.Errorf("unknown check strategy %q", name)
	}

	if len(checkCfg) > 0 {
		err := json.Unmarshal(checkCfg, settingsVar)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal cfg for strategy: %s: %w", name, err)
		}
	}
	return createFunc(settingsVar)
}
