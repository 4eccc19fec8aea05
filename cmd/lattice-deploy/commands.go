package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/kingrea/lattice-deploy/internal/config"
	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/fleet"
	"github.com/kingrea/lattice-deploy/internal/journal"
	"github.com/kingrea/lattice-deploy/internal/tui"
)

var (
	networkFlag = &cli.StringSliceFlag{
		Name:    "network",
		Aliases: []string{"n"},
		Usage:   "network to reconcile (repeatable or comma separated; default all)",
	}
	onlyFlag = &cli.StringSliceFlag{
		Name:  "only",
		Usage: "restrict the run to these artifacts; their dependencies are observed, never deployed",
	}
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create .lattice/ with a starter config",
		Action: func(c *cli.Context) error {
			project := c.String("project")
			if project == "" {
				project = "."
			}
			if err := config.InitLatticeDir(project); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "initialised %s/%s\n", strings.TrimSuffix(project, "/"), config.LatticeDir)
			return nil
		},
	}
}

func deployCommand() *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "deploy missing or changed artifacts and retarget proxies",
		Flags: []cli.Flag{
			networkFlag,
			onlyFlag,
			&cli.BoolFlag{Name: "force", Usage: "ignore matching registry entries"},
			&cli.BoolFlag{Name: "tui", Usage: "show live progress"},
			&cli.BoolFlag{Name: "fail-fast", Usage: "cancel remaining networks after the first failure"},
			&cli.BoolFlag{Name: "dry-run", Usage: "decide without sending transactions (same as plan)"},
		},
		Action: func(c *cli.Context) error {
			return reconcile(c, engine.Options{
				Only:   c.StringSlice("only"),
				Force:  c.Bool("force"),
				DryRun: c.Bool("dry-run"),
			})
		},
	}
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "show what deploy would do without sending transactions",
		Flags: []cli.Flag{
			networkFlag,
			onlyFlag,
			&cli.BoolFlag{Name: "force", Usage: "ignore matching registry entries"},
		},
		Action: func(c *cli.Context) error {
			return reconcile(c, engine.Options{
				Only:   c.StringSlice("only"),
				Force:  c.Bool("force"),
				DryRun: true,
			})
		},
	}
}

func reconcile(c *cli.Context, opts engine.Options) error {
	useTUI := c.Bool("tui")
	s, err := openSession(c, sessionOptions{quiet: useTUI, manifest: true})
	if err != nil {
		return err
	}
	defer s.Close()

	networks, err := s.cfg.SelectNetworks(c.StringSlice("network"))
	if err != nil {
		return err
	}
	if err := s.checkArtifacts(opts.Only); err != nil {
		return err
	}
	if len(networks) == 0 {
		return fmt.Errorf("no networks configured in %s", s.cfg.ProjectConfigPath())
	}
	var observers []engine.Observer
	if !opts.DryRun {
		book, err := journal.New(s.cfg.JournalDir())
		if err != nil {
			return err
		}
		observers = append(observers, book)
	}
	fleetOpts := fleet.Options{
		Parallel: s.cfg.Parallel(),
		FailFast: c.Bool("fail-fast"),
		Engine:   opts,
		Logger:   s.logger,
	}
	start := func(ctx context.Context, extra engine.Observer) (fleet.Result, error) {
		runners := make([]fleet.Runner, 0, len(networks))
		for _, network := range networks {
			runner := &networkRunner{session: s, network: network, observers: observers}
			if extra != nil {
				runner.observers = append(append([]engine.Observer(nil), observers...), extra)
			}
			runners = append(runners, runner)
		}
		return fleet.Run(ctx, runners, fleetOpts)
	}

	var result fleet.Result
	if useTUI {
		names := make([]string, 0, len(networks))
		for _, network := range networks {
			names = append(names, network.Name)
		}
		result, err = tui.Run(c.Context, names, start)
	} else {
		result, err = start(c.Context, nil)
	}
	if len(result.Outcomes) > 0 {
		fmt.Fprint(c.App.Writer, tui.RenderReport(result))
	}
	if err != nil {
		if failed := len(result.Failed()); failed > 0 {
			return fmt.Errorf("%d of %d network(s) failed", failed, len(result.Outcomes))
		}
		return err
	}
	return nil
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "print predicted CREATE2 addresses without contacting a node",
		Flags: []cli.Flag{
			onlyFlag,
			&cli.StringFlag{Name: "network", Usage: "use this network's factory override"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c, sessionOptions{manifest: true})
			if err != nil {
				return err
			}
			defer s.Close()
			factory := s.cfg.FactoryFor(config.NetworkConfig{})
			if name := c.String("network"); name != "" {
				network, ok := s.cfg.Network(name)
				if !ok {
					return fmt.Errorf("%w: %s", config.ErrUnknownNetwork, name)
				}
				factory = s.cfg.FactoryFor(network)
			}
			if err := s.checkArtifacts(c.StringSlice("only")); err != nil {
				return err
			}
			predictions, err := engine.Predict(s.table, s.artifacts, factory, c.StringSlice("only")...)
			if err != nil {
				return err
			}
			fmt.Fprint(c.App.Writer, tui.RenderPredictions(factory, predictions))
			return nil
		},
	}
}

func registryCommand() *cli.Command {
	return &cli.Command{
		Name:  "registry",
		Usage: "inspect the address registry",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print recorded addresses per network",
				Flags: []cli.Flag{networkFlag},
				Action: func(c *cli.Context) error {
					s, err := openSession(c, sessionOptions{})
					if err != nil {
						return err
					}
					defer s.Close()
					names := c.StringSlice("network")
					if len(names) == 0 {
						if names, err = s.registry.Networks(); err != nil {
							return err
						}
					}
					if len(names) == 0 {
						fmt.Fprintf(c.App.Writer, "registry %s is empty\n", s.registry.Path())
						return nil
					}
					for i, name := range names {
						record, err := s.registry.Load(name)
						if err != nil {
							return err
						}
						if i > 0 {
							fmt.Fprintln(c.App.Writer)
						}
						fmt.Fprint(c.App.Writer, tui.RenderRegistry(record))
					}
					return nil
				},
			},
		},
	}
}

