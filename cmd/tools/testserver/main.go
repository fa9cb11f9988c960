package main

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/Sh00ty/hoststated/internal/logger"
)

// testserver is a probe target for http checks. GET /health answers with
// the current status, POST /health/down and /health/up flip it so a host
// can be taken down without stopping the process.
func main() {
	fs := pflag.NewFlagSet("testserver", pflag.ExitOnError)
	addr := fs.StringP("listen", "l", "127.0.0.1:8080", "listen address")
	delay := fs.Duration("delay", 0, "answer health checks after this delay")
	_ = fs.Parse(os.Args[1:])

	logger.Setup(logger.Options{Level: "info", Foreground: true, Proc: "testserver"})

	srv := newServer(*delay)
	log.Info().Msgf("serving health checks on %s", *addr)
	if err := http.ListenAndServe(*addr, srv.mux()); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

type server struct {
	down  atomic.Bool
	delay time.Duration
	last  atomic.Int64
}

func newServer(delay time.Duration) *server {
	s := &server{delay: delay}
	s.last.Store(time.Now().UnixNano())
	return s
}

func (s *server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /health/down", func(w http.ResponseWriter, _ *http.Request) {
		s.down.Store(true)
		fmt.Fprintln(w, "down")
	})
	mux.HandleFunc("POST /health/up", func(w http.ResponseWriter, _ *http.Request) {
		s.down.Store(false)
		fmt.Fprintln(w, "up")
	})
	return mux
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	since := now.Sub(time.Unix(0, s.last.Swap(now.UnixNano())))
	log.Info().Msgf("health check from %s (%s) after %s", r.RemoteAddr, r.UserAgent(), since)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}
	if s.down.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
