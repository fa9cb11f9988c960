package metrics

import (
	"time"

	statsd "github.com/smira/go-statsd"
)

type Statsd struct {
	client *statsd.Client
}

// New returns a statsd client tagged with the process name, or Noop when
// addr is empty.
func New(proc string, addr string) Metrics {
	if addr == "" {
		return Noop{}
	}
	clnt := statsd.NewClient(
		addr,
		statsd.MetricPrefix("hoststated."),
		statsd.DefaultTags(statsd.StringTag("proc", proc)),
	)
	return &Statsd{
		client: clnt,
	}
}

func (s *Statsd) Increment(metric string) {
	s.client.Incr(metric, 1)
}

func (s *Statsd) Duration(metric string, duration time.Duration) {
	s.client.PrecisionTiming(metric, duration)
}

func (s *Statsd) Gauge(metric string, value int) {
	s.client.Gauge(metric, int64(value))
}

func (s *Statsd) Close() error {
	return s.client.Close()
}
