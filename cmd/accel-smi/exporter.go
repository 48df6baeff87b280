// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/accelsmi/cmd/accel-smi/cli"
	"github.com/bureau-foundation/accelsmi/lib/clock"
	"github.com/bureau-foundation/accelsmi/lib/exporter"
)

func (a *app) exporterCommand() *cli.Command {
	var (
		listen   string
		interval time.Duration
	)
	return &cli.Command{
		Name:    "exporter",
		Summary: "Serve processor state as Prometheus metrics",
		Description: `Serve inventory, partition, topology, and throttle residency metrics
on /metrics until interrupted. Throttle residency is sampled in the
background every exporter interval; everything else is read when
scraped.`,
		Usage: "accel-smi exporter [flags]",
		Examples: []cli.Example{
			{Description: "Serve on port 9464 of every interface", Command: "accel-smi exporter --listen :9464"},
		},
		Flags: a.flags("exporter", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&listen, "listen", "", "listen address (default exporter.listen from the configuration)")
			flagSet.DurationVar(&interval, "interval", 0, "throttle sampling period (default exporter.interval from the configuration)")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, "accel-smi exporter [flags]"); err != nil {
				return err
			}
			s, err := a.open("exporter")
			if err != nil {
				return err
			}
			defer s.Close()

			if listen == "" {
				listen = s.config.Exporter.Listen
			}
			if interval <= 0 {
				if interval, err = s.config.Exporter.IntervalDuration(); err != nil {
					return err
				}
			}
			clk := a.clock
			if clk == nil {
				clk = clock.Real()
			}

			collector := exporter.NewCollector(s.registry, s.logger)
			server := exporter.NewServer(exporter.ServerConfig{
				Address:  listen,
				Gatherer: exporter.NewRegistry(collector),
				Logger:   s.logger,
			})

			s.logger.Info("starting exporter", "listen", listen, "interval", interval)
			group, ctx := errgroup.WithContext(a.ctx)
			group.Go(func() error { return collector.Run(ctx, clk, interval) })
			group.Go(func() error { return server.Serve(ctx) })
			return group.Wait()
		},
	}
}
