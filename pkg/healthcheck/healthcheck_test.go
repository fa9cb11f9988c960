package healthcheck

import (
	"errors"
	"fmt"
	"net/netip"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDialError(t *testing.T) {
	assert.NoError(t, ClassifyDialError(nil))

	refused := fmt.Errorf("dial: %w", syscall.ECONNREFUSED)
	assert.False(t, IsLocal(ClassifyDialError(refused)))

	exhausted := fmt.Errorf("socket: %w", syscall.EMFILE)
	err := ClassifyDialError(exhausted)
	assert.True(t, IsLocal(err))
	assert.True(t, errors.Is(err, syscall.EMFILE))
}

func TestTargetString(t *testing.T) {
	addr := netip.MustParseAddrPort("10.0.0.1:80")
	assert.Equal(t, "10.0.0.1:80", Target{Addr: addr}.String())
	assert.Equal(t, "web1(10.0.0.1:80)", Target{Name: "web1", Addr: addr}.String())
}
