package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		// MaxEvals is the default evaluation budget for runs that do
		// not specify one; negative means a time budget in seconds
		MaxEvals int `env:"OPT_MAX_EVALS" envDefault:"100"`

		// BatchSize is the default synchronous batch size
		BatchSize int `env:"OPT_BATCH_SIZE" envDefault:"4"`

		// Asynchronous selects one-at-a-time dispatch by default
		Asynchronous bool `env:"OPT_ASYNC" envDefault:"false"`

		// CheckpointDir holds per-run checkpoint files; empty disables
		// checkpointing
		CheckpointDir string `env:"OPT_CHECKPOINT_DIR" envDefault:"data/checkpoints"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Development runs want verbose logs unless told otherwise
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}
