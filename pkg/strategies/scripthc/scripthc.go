package scripthc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/Sh00ty/hoststated/pkg/healthcheck"
)

type ScriptSettings struct {
	Timeout time.Duration `json:"-"`
	Path    string        `json:"path"`
}

// ScriptStrategy runs an external program with the target host address as
// its only argument. Exit status zero means the host is up.
type ScriptStrategy struct {
	path    string
	host    string
	timeout time.Duration
}

func NewScriptStrategy(settings *ScriptSettings, target healthcheck.Target) (*ScriptStrategy, error) {
	if settings.Path == "" {
		return nil, fmt.Errorf("script check needs a path")
	}
	return &ScriptStrategy{
		path:    settings.Path,
		host:    target.Addr.Addr().String(),
		timeout: settings.Timeout,
	}, nil
}

func (s *ScriptStrategy) DoHealthCheck(ctx context.Context) (bool, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, s.path, s.host)
	err := cmd.Start()
	if err != nil {
		return false, &healthcheck.LocalError{Err: err}
	}
	err = cmd.Wait()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}
