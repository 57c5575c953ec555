// Package main provides the entry point for the fleet coordinator.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/narvanalabs/gpufleet/internal/aggregator"
	"github.com/narvanalabs/gpufleet/internal/api"
	"github.com/narvanalabs/gpufleet/internal/fleet"
	fleetgrpc "github.com/narvanalabs/gpufleet/internal/grpc"
	"github.com/narvanalabs/gpufleet/internal/metrics"
	"github.com/narvanalabs/gpufleet/internal/poller"
	"github.com/narvanalabs/gpufleet/internal/shutdown"
	"github.com/narvanalabs/gpufleet/internal/workerclient"
	"github.com/narvanalabs/gpufleet/pkg/config"
	"github.com/narvanalabs/gpufleet/pkg/logger"
	"github.com/narvanalabs/gpufleet/ui"
)

func main() {
	app := &cli.App{
		Name:    "fleetd",
		Usage:   "poll GPU worker agents and serve the fleet's status",
		Version: api.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML or JSON config file",
				Value:   "config/fleet.yaml",
				EnvVars: []string{"FLEET_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "override listen_host",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "override listen_port",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"FLEET_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "json or text",
				Value:   "json",
				EnvVars: []string{"FLEET_LOG_FORMAT"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	level, err := logger.ParseLevel(cctx.String("log-level"))
	if err != nil {
		return err
	}
	log := logger.New(level, cctx.String("log-format") != "text")

	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return cli.Exit("", 1)
	}
	if cctx.IsSet("host") {
		cfg.ListenHost = cctx.String("host")
	}
	if cctx.IsSet("port") {
		cfg.ListenPort = cctx.Int("port")
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return cli.Exit("", 1)
	}

	workers := cfg.WorkerConfigs()

	broadcaster := fleet.NewBroadcaster(fleet.DefaultSubscriberBuffer)
	store, err := fleet.NewStore(workers, fleet.WithBroadcaster(broadcaster))
	if err != nil {
		log.Error("failed to build fleet store", "error", err)
		return cli.Exit("", 1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector, err := metrics.New(registry)
	if err != nil {
		log.Error("failed to register metrics", "error", err)
		return cli.Exit("", 1)
	}

	client := workerclient.New(&workerclient.Config{
		Timeout: cfg.RequestTimeout.Std(),
	}, log.WithComponent("workerclient").Logger)

	pl := poller.New(store, client, &poller.Config{
		Interval:       cfg.RefreshInterval.Std(),
		MaxConcurrency: cfg.PollConcurrency,
	}, log.WithComponent("poller").Logger, poller.WithMetrics(metricsCollector))

	service := aggregator.NewService(store, pl, api.Version)

	opts := api.Options{
		Addr:     cfg.ListenAddr(),
		Service:  service,
		Updates:  broadcaster,
		Gatherer: registry,
		Logger:   log.WithComponent("api"),
	}
	if ui.Available() {
		opts.UI = ui.Handler()
	}
	server := api.NewServer(opts)

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout.Std()),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var grpcServer *fleetgrpc.Server
	if cfg.GRPCPort > 0 {
		grpcCfg := fleetgrpc.DefaultConfig()
		grpcCfg.Port = cfg.GRPCPort
		grpcCfg.ResyncInterval = cfg.RefreshInterval.Std()
		grpcServer = fleetgrpc.NewServer(grpcCfg, workers, log.WithComponent("grpc").Logger)
		grpcServer.TrackWorkers(ctx, broadcaster, store)
		coordinator.Register(shutdown.NewGRPCServerComponent("grpc", grpcServer))

		go func() {
			if err := grpcServer.Start(); err != nil {
				log.Error("gRPC server error", "error", err)
				go coordinator.Shutdown()
			}
		}()
	}

	// Shutdown runs newest first: health flips, HTTP intake stops, the
	// poller drains, then gRPC closes.
	coordinator.Register(shutdown.NewWorkerComponent("poller", pl))
	coordinator.Register(shutdown.NewHTTPServerComponent("http", server.HTTPServer()))
	if grpcServer != nil {
		coordinator.Register(shutdown.NewFuncComponent("grpc-health", func(context.Context) error {
			grpcServer.MarkNotServing()
			return nil
		}))
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		log.Error("failed to listen", "addr", cfg.ListenAddr(), "error", err)
		if grpcServer != nil {
			grpcServer.Stop()
		}
		return cli.Exit("", 1)
	}

	var serveFailed atomic.Bool
	go func() {
		if err := server.Serve(ctx, ln); err != nil {
			log.Error("server error", "error", err)
			serveFailed.Store(true)
			go coordinator.Shutdown()
		}
	}()

	log.Info("fleet coordinator started",
		"addr", cfg.ListenAddr(),
		"workers", len(workers),
		"refresh_interval", cfg.RefreshInterval.Std(),
		"request_timeout", cfg.RequestTimeout.Std(),
		"grpc_port", cfg.GRPCPort,
	)
	pl.Start(ctx)

	coordinator.WaitForSignal()
	coordinator.Wait()
	cancel()

	code := coordinator.ExitCode()
	if serveFailed.Load() {
		code = 1
	}
	log.Info("fleet coordinator stopped", "exit_code", code)
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}
