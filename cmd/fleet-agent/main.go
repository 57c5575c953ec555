// Package main provides the entry point for the worker agent.
package main

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/urfave/cli/v2"

	"github.com/narvanalabs/gpufleet/internal/agent"
	"github.com/narvanalabs/gpufleet/internal/api"
	"github.com/narvanalabs/gpufleet/internal/collector"
	"github.com/narvanalabs/gpufleet/internal/shutdown"
	"github.com/narvanalabs/gpufleet/pkg/config"
	"github.com/narvanalabs/gpufleet/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:    "fleet-agent",
		Usage:   "serve this host's GPU and system metrics to the fleet coordinator",
		Version: api.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "override AGENT_LISTEN_HOST",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "override AGENT_LISTEN_PORT",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"AGENT_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "json or text",
				Value:   "json",
				EnvVars: []string{"AGENT_LOG_FORMAT"},
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

	cfg, err := config.LoadAgent()
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

	coll, err := collector.New(&collector.Config{
		ProcRoot:        collector.DefaultProcRoot,
		NvidiaSMIPath:   cfg.NvidiaSMIPath,
		CmdlineMaxArgs:  cfg.CmdlineMaxArgs,
		CPUSampleWindow: cfg.CPUSampleWindow,
	}, log.WithComponent("collector").Logger)
	if err != nil {
		log.Error("failed to open procfs", "error", err)
		return cli.Exit("", 1)
	}

	server := agent.NewServer(cfg.ListenAddr(), coll, cfg.CollectTimeout, log.WithComponent("agent").Logger)

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)
	coordinator.Register(shutdown.NewHTTPServerComponent("http", server.HTTPServer()))

	var serveFailed atomic.Bool
	go func() {
		if err := server.Start(); err != nil {
			log.Error("agent server error", "error", err)
			serveFailed.Store(true)
			coordinator.Shutdown()
		}
	}()

	coordinator.WaitForSignal()
	coordinator.Wait()

	code := coordinator.ExitCode()
	if serveFailed.Load() {
		code = 1
	}
	log.Info("agent stopped", "exit_code", code)
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}
