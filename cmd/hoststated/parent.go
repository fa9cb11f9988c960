package main

import (
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/hoststated/internal/config"
	"github.com/Sh00ty/hoststated/internal/event"
	"github.com/Sh00ty/hoststated/internal/supervisor"
)

func runParent(cfg config.Config, f flags) int {
	reg, err := config.LoadTopology(cfg.ConfigFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return supervisor.ExitStartup
	}

	// children take their settings from the inherited environment
	var childArgs []string
	if f.debug {
		childArgs = append(childArgs, "-d")
	}
	if f.verbose {
		childArgs = append(childArgs, "-v")
	}
	spawner, err := supervisor.NewExecSpawner(childArgs...)
	if err != nil {
		log.Error().Err(err).Msg("failed to init spawner")
		return supervisor.ExitStartup
	}

	loop, err := event.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to init event loop")
		return supervisor.ExitStartup
	}
	defer loop.Close()

	s := supervisor.New(loop, spawner, reg, supervisor.Options{
		ControlSocket: cfg.ControlSocket,
		Grace:         cfg.ShutdownGrace,
	})
	if err := s.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start")
		return supervisor.ExitStartup
	}
	return s.Run()
}
