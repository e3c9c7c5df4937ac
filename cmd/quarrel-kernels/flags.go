package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-kernels/internal/config"
	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/ops"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	threads    int64
	dtypeName  string

	cfg config.Config
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to a YAML config file",
			Sources:     cli.EnvVars("QUARREL_CONFIG"),
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (trace, debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (console, json)",
			Value:       "console",
			Destination: &logFormat,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "goroutines per kernel call (0 = one per CPU)",
			Destination: &threads,
		},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "element type for generated tensors (f32, f16, bf16)",
			Value:       "f32",
			Destination: &dtypeName,
		},
	}
}

type flagSetter interface {
	IsSet(name string) bool
}

// applyFlags lets explicitly set command line flags win over the config file.
func applyFlags(c flagSetter, into *config.Config) {
	if c.IsSet("log-level") {
		into.LogLevel = logLevel
	}
	if c.IsSet("log-format") {
		into.LogFormat = logFormat
	}
	if c.IsSet("threads") {
		into.Threads = int(threads)
	}
	if c.IsSet("dtype") {
		into.DType = dtypeName
	}
}

func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return ctx, err
	}
	applyFlags(cmd, &c)
	if err := c.Validate(); err != nil {
		return ctx, fmt.Errorf("config: %w", err)
	}
	logger.Setup(c.LogLevel, c.LogFormat)
	cfg = c
	return ctx, nil
}

func kernelContext() *ops.Context {
	return ops.NewContext(ops.Options{Threads: cfg.Workers()})
}
