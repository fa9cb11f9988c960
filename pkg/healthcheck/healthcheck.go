package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"syscall"
)

type StrategyName string

const (
	MockStrategy   StrategyName = "mock"
	HTTPStrategy   StrategyName = "http"
	TCPStrategy    StrategyName = "tcp"
	ScriptStrategy StrategyName = "script"
)

// Strategy runs one probe. A false result or a non-local error both mean
// the target is down.
type Strategy interface {
	DoHealthCheck(ctx context.Context) (bool, error)
}

type Target struct {
	Name string
	Addr netip.AddrPort
}

func (t Target) String() string {
	if t.Name == "" || t.Name == t.Addr.String() {
		return t.Addr.String()
	}
	return fmt.Sprintf("%s(%s)", t.Name, t.Addr)
}

// LocalError is a probe failure caused by this machine (no descriptors,
// no script binary) rather than by the target.
type LocalError struct {
	Err error
}

func (e *LocalError) Error() string {
	return "local probe failure: " + e.Err.Error()
}

func (e *LocalError) Unwrap() error {
	return e.Err
}

func IsLocal(err error) bool {
	var local *LocalError
	return errors.As(err, &local)
}

// ClassifyDialError wraps resource exhaustion errors as local faults.
func ClassifyDialError(err error) error {
	if err == nil {
		return nil
	}
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM} {
		if errors.Is(err, errno) {
			return &LocalError{Err: err}
		}
	}
	return err
}
