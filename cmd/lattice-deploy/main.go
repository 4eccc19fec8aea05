// cmd/lattice-deploy/main.go
//
// Entry point for the lattice-deploy CLI. Every command loads the project
// config from .lattice/config.yaml, then either predicts addresses offline
// (address), inspects the registry (registry show) or reconciles the
// configured networks (plan, deploy).

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var (
	Version   = "v0.0.0"
	GitCommit = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "lattice-deploy"
	app.Usage = "deterministic, resumable contract deployments"
	app.Description = "lattice-deploy links compiled artifacts, predicts their CREATE2 addresses and " +
		"brings every configured network in line with the artifact manifest, recording progress " +
		"in an address registry so interrupted runs resume where they stopped."
	app.Version = Version
	if GitCommit != "" {
		app.Version += "-" + GitCommit
	}
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "project",
			Aliases: []string{"C"},
			Usage:   "project directory containing .lattice/config.yaml",
			EnvVars: []string{"LATTICE_PROJECT"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "terminal log level (trace, debug, info, warn, error, crit)",
			Value:   "info",
			EnvVars: []string{"LATTICE_LOG_LEVEL"},
		},
	}
	app.HideHelpCommand = true
	app.Commands = []*cli.Command{
		initCommand(),
		deployCommand(),
		planCommand(),
		addressCommand(),
		registryCommand(),
	}
	return app
}
