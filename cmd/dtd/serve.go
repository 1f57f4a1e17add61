package main

import (
	"benritz/dtd/internal/calc"
	"benritz/dtd/internal/metrics"
	"benritz/dtd/internal/server"
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
)

func serveCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"server"},
		Usage:   "Start the HTTP upload server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "Address on which the server will listen (default from config)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := a.cfg.Server
			if addr := cmd.String("address"); addr != "" {
				cfg.Address = addr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			m, err := metrics.New(reg)
			if err != nil {
				return err
			}

			c, err := calc.New(a.cfg.Params(),
				calc.WithWorkers(a.cfg.Workers),
				calc.WithLogger(a.logger),
				calc.WithRecorder(m),
			)
			if err != nil {
				return err
			}

			return server.New(c, cfg, a.logger.With("component", "server"), reg).ListenAndServe(ctx)
		},
	}
}
