package mockhc

import (
	"context"
	"time"
)

type MockHCSettings struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Delay   string `json:"delay"`
}

// MockHC answers with a fixed outcome after an optional delay.
type MockHC struct {
	name    string
	healthy bool
	delay   time.Duration
}

func NewMockHC(settings *MockHCSettings) *MockHC {
	delay, _ := time.ParseDuration(settings.Delay)
	return &MockHC{
		name:    settings.Name,
		healthy: settings.Healthy,
		delay:   delay,
	}
}

func (h *MockHC) DoHealthCheck(ctx context.Context) (bool, error) {
	if h.delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(h.delay):
		}
	}
	return h.healthy, nil
}
