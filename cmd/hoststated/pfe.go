package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/config"
	"github.com/Sh00ty/hoststated/internal/metrics"
	"github.com/Sh00ty/hoststated/internal/pfe"
	"github.com/Sh00ty/hoststated/internal/pftable"
	"github.com/Sh00ty/hoststated/internal/pftable/kafka"
	"github.com/Sh00ty/hoststated/internal/pftable/postgres"
	"github.com/Sh00ty/hoststated/internal/supervisor"
)

func newCommitter(ctx context.Context, cfg config.Config) (pftable.Committer, error) {
	switch cfg.PFBackend {
	case "", "log":
		return pftable.LogCommitter{}, nil
	case "postgres":
		return postgres.New(
			ctx,
			cfg.DatabaseUser,
			cfg.DatabasePassword,
			cfg.DatabaseHost,
			cfg.DatabasePort,
			cfg.DatabaseName,
		)
	case "kafka":
		if cfg.QueueAddr == "" {
			return nil, fmt.Errorf("kafka backend needs QUEUE_ADDR")
		}
		return kafka.New(cfg.QueueAddr, cfg.QueueTopic), nil
	default:
		return nil, fmt.Errorf("unknown pf backend %q", cfg.PFBackend)
	}
}

func runPFE(cfg config.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop, parent, hceCh, err := childLoop("hce")
	if err != nil {
		log.Error().Err(err).Msg("failed to init channels")
		return supervisor.ExitStartup
	}
	defer loop.Close()
	defer parent.Close()
	defer hceCh.Close()

	ctl, err := pfe.NewControlListener(supervisor.ControlFd)
	if err != nil {
		log.Error().Err(err).Msg("failed to init control socket")
		return supervisor.ExitStartup
	}

	m := metrics.New("pfe", cfg.StatsdAddr)
	defer closeMetrics(m)

	committer, err := newCommitter(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msgf("failed to init %s pf backend", cfg.PFBackend)
		_ = ctl.Close()
		return supervisor.ExitStartup
	}
	tables := pftable.NewQueue(committer, m, cfg.CommitAttempts, cfg.ResendInterval)
	tables.Start(ctx)
	defer tables.Close()

	engine := pfe.New(loop, parent, hceCh, tables, pfe.WithMetrics(m), pfe.WithControl(ctl))
	engine.Start()
	defer engine.Stop()

	if err := loop.Run(); err != nil {
		log.Error().Err(err).Msg("event loop failed")
		return 1
	}
	return childExit(engine.Err())
}
