package config

import (
	"fmt"
	"time"

	"github.com/vrischmann/envconfig"
)

// Config holds the process settings read from the environment. The
// topology itself lives in the file named by ConfigFile.
type Config struct {
	LoggerLevel   string        `envconfig:"LOGGER_LEVEL,default=info"`
	ConfigFile    string        `envconfig:"HOSTSTATED_CONFIG,default=/etc/hoststated.yaml"`
	ControlSocket string        `envconfig:"HOSTSTATED_SOCKET,default=/var/run/hoststated.sock"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE,default=5s"`
	StatsdAddr    string        `envconfig:"STATSD_ADDR,optional"`

	PFBackend      string        `envconfig:"PF_BACKEND,default=log"`
	CommitAttempts uint          `envconfig:"PF_COMMIT_ATTEMPTS,default=3"`
	ResendInterval time.Duration `envconfig:"RESEND_INTERVAL,default=5s"`

	DatabaseHost     string `envconfig:"DATABASE_HOST,optional"`
	DatabaseUser     string `envconfig:"DATABASE_USER,optional"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD,optional"`
	DatabasePort     uint16 `envconfig:"DATABASE_PORT,default=5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME,default=hoststated"`

	QueueAddr  string `envconfig:"QUEUE_ADDR,optional"`
	QueueTopic string `envconfig:"QUEUE_TABLE_UPDATES_TOPIC,default=hoststated.tables"`

	ExecutorConcurrency uint16 `envconfig:"EXECUTOR_CONCURRENCY,default=16"`
	ExecutorBuffer      uint32 `envconfig:"EXECUTOR_BUFFER,default=1024"`
}

func Load() (Config, error) {
	cfg := Config{}
	if err := envconfig.Init(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.ResendInterval <= 0 {
		return fmt.Errorf("RESEND_INTERVAL must be positive, got %s", c.ResendInterval)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("SHUTDOWN_GRACE must not be negative, got %s", c.ShutdownGrace)
	}
	return nil
}
