package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/monitoring"
	"github.com/23skdu/quarrel-kernels/internal/tensorflight"
)

func serveCmd() *cli.Command {
	var (
		flightAddr  string
		metricsAddr string
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the Arrow Flight tensor store with health and metrics endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "flight-addr",
				Usage:       "Arrow Flight listen address (default from config)",
				Destination: &flightAddr,
			},
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "health and metrics listen address (default from config)",
				Destination: &metricsAddr,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if flightAddr == "" {
				flightAddr = cfg.FlightAddr
			}
			if metricsAddr == "" {
				metricsAddr = cfg.MetricsAddr
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flightAddr, metricsAddr)
		},
	}
}

func serve(ctx context.Context, flightAddr, metricsAddr string) error {
	store := tensorflight.NewServer()
	if err := store.Listen(flightAddr); err != nil {
		return err
	}

	health := monitoring.NewHealthMonitor()
	health.AddCheck("flight", func() error {
		if store.Addr() == nil {
			return errors.New("flight server not listening")
		}
		return nil
	})
	if _, err := health.Start(metricsAddr); err != nil {
		store.Shutdown()
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- store.Serve() }()
	logger.Log.Info("tensor store listening", "flight", store.Addr().String())

	var err error
	select {
	case <-ctx.Done():
		logger.Log.Info("shutting down")
	case err = <-errc:
		logger.Log.Error("flight server stopped", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store.Shutdown()
	if herr := health.Shutdown(shutdownCtx); herr != nil && err == nil {
		err = herr
	}
	return err
}
