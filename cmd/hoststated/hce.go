package main

import (
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/Sh00ty/hoststated/internal/config"
	"github.com/Sh00ty/hoststated/internal/event"
	"github.com/Sh00ty/hoststated/internal/executor"
	"github.com/Sh00ty/hoststated/internal/hce"
	"github.com/Sh00ty/hoststated/internal/imsg"
	"github.com/Sh00ty/hoststated/internal/metrics"
	"github.com/Sh00ty/hoststated/internal/supervisor"
)

// childExit turns an engine error into the child's exit status. The parent
// only logs it.
func childExit(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

// childLoop builds the event loop shared by both children and the two
// channels they inherit. SIGTERM from the parent stops the loop, terminal
// signals are left to the parent.
func childLoop(peer string) (*event.Loop, *imsg.Channel, *imsg.Channel, error) {
	signal.Ignore(unix.SIGINT, unix.SIGHUP)

	loop, err := event.New()
	if err != nil {
		return nil, nil, nil, err
	}
	parent, err := imsg.NewChannel(supervisor.ParentFd, "parent")
	if err != nil {
		_ = loop.Close()
		return nil, nil, nil, err
	}
	peerCh, err := imsg.NewChannel(supervisor.PeerFd, peer)
	if err != nil {
		_ = parent.Close()
		_ = loop.Close()
		return nil, nil, nil, err
	}
	loop.Notify(func(sig os.Signal) {
		log.Info().Msgf("received %s, exiting", sig)
		loop.Exit()
	}, unix.SIGTERM)
	return loop, parent, peerCh, nil
}

func closeMetrics(m metrics.Metrics) {
	if c, ok := m.(io.Closer); ok {
		_ = c.Close()
	}
}

func runHCE(cfg config.Config) int {
	loop, parent, pfeCh, err := childLoop("pfe")
	if err != nil {
		log.Error().Err(err).Msg("failed to init channels")
		return supervisor.ExitStartup
	}
	defer loop.Close()
	defer parent.Close()
	defer pfeCh.Close()

	m := metrics.New("hce", cfg.StatsdAddr)
	defer closeMetrics(m)

	var engine *hce.Engine
	checkExecutor := executor.NewExecutor(
		executor.NotifierFunc(func(r executor.Result) { engine.NotifyResult(r) }),
		m,
		cfg.ExecutorConcurrency,
		cfg.ExecutorBuffer,
	)
	engine = hce.New(loop, parent, pfeCh, checkExecutor, hce.WithMetrics(m))
	checkExecutor.Run()
	defer checkExecutor.Close()

	engine.Start()
	if err := loop.Run(); err != nil {
		log.Error().Err(err).Msg("event loop failed")
		return 1
	}
	engine.Stop()
	return childExit(engine.Err())
}
