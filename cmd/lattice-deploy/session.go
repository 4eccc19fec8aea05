package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/kingrea/lattice-deploy/internal/artifact"
	"github.com/kingrea/lattice-deploy/internal/chain"
	"github.com/kingrea/lattice-deploy/internal/config"
	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/logging"
	"github.com/kingrea/lattice-deploy/internal/manifest"
	"github.com/kingrea/lattice-deploy/internal/registry"
)

// session holds everything one command invocation shares across networks.
type session struct {
	cfg       *config.Config
	logger    *logging.Logger
	table     *manifest.Table
	artifacts *artifact.Store
	registry  *registry.Store
}

type sessionOptions struct {
	// quiet keeps log output off the terminal while the TUI owns it.
	quiet    bool
	manifest bool
}

func openSession(c *cli.Context, opts sessionOptions) (*session, error) {
	cfg, err := config.NewConfig(c.String("project"))
	if err != nil {
		return nil, err
	}
	logOpts := logging.Options{Level: c.String("log-level")}
	if opts.quiet {
		logOpts.Console = io.Discard
	}
	logger, err := logging.New(cfg.LogsDir(), logOpts)
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:       cfg,
		logger:    logger,
		artifacts: artifact.NewStore(),
		registry:  registry.NewStore(cfg.RegistryPath()),
	}
	if opts.manifest {
		table, err := manifest.LoadTableFile(cfg.ManifestPath())
		if err != nil {
			logger.Close()
			return nil, err
		}
		s.table = table
	}
	return s, nil
}

// checkArtifacts verifies that every artifact the run needs has loadable
// bytecode on disk, so a missing build fails before any network is dialled.
func (s *session) checkArtifacts(only []string) error {
	order, err := s.table.TopologicalOrder(only...)
	if err != nil {
		return err
	}
	var problems []string
	for _, name := range order {
		spec, err := s.table.Resolve(name)
		if err != nil {
			return err
		}
		result, _ := s.artifacts.Check(s.table.BytecodePath(spec))
		if result.Ready() {
			continue
		}
		problem := fmt.Sprintf("%s: %s %s", name, result.State, result.Path)
		if result.Err != nil {
			problem += ": " + result.Err.Error()
		}
		s.logger.Warn("Artifact not ready", "artifact", name, "state", result.State, "path", result.Path)
		problems = append(problems, problem)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d artifact(s) not ready:\n  %s", len(problems), strings.Join(problems, "\n  "))
	}
	return nil
}

func (s *session) Close() error {
	return s.logger.Close()
}

// dial connects to network. Writes are enabled only when a signer is needed.
func (s *session) dial(ctx context.Context, network config.NetworkConfig, write bool) (*chain.RPCClient, error) {
	if err := network.RequireRPC(); err != nil {
		return nil, err
	}
	feeCap, tipCap, err := network.FeeCaps()
	if err != nil {
		return nil, err
	}
	opts := []chain.RPCOption{
		chain.WithFeeCaps(feeCap, tipCap),
		chain.WithConfirmTimeout(network.ConfirmTimeout),
		chain.WithLogger(s.logger.New("network", network.Name)),
	}
	if write {
		key, err := network.PrivateKey()
		if err != nil {
			return nil, err
		}
		opts = append(opts, chain.WithSigner(key))
	}
	client, err := chain.Dial(ctx, network.RPCURL, network.ChainID, opts...)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", network.Name, err)
	}
	return client, nil
}

// networkRunner dials lazily so networks connect in parallel inside the
// fleet and an unreachable node only fails its own network.
type networkRunner struct {
	session   *session
	network   config.NetworkConfig
	observers []engine.Observer
}

func (r *networkRunner) Network() string {
	return r.network.Name
}

func (r *networkRunner) Run(ctx context.Context, opts engine.Options) (engine.Report, error) {
	client, err := r.session.dial(ctx, r.network, !opts.DryRun)
	if err != nil {
		return engine.Report{Network: r.network.Name, DryRun: opts.DryRun}, err
	}
	defer client.Close()
	engineOpts := []engine.Option{
		engine.WithFactory(r.session.cfg.FactoryFor(r.network)),
		engine.WithArtifactStore(r.session.artifacts),
		engine.WithLogger(r.session.logger),
	}
	for _, observer := range r.observers {
		engineOpts = append(engineOpts, engine.WithObserver(observer))
	}
	eng, err := engine.New(r.network.Name, r.session.table, client, r.session.registry, engineOpts...)
	if err != nil {
		return engine.Report{Network: r.network.Name}, err
	}
	return eng.Run(ctx, opts)
}
