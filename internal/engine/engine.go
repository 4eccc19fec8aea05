// Package engine reconciles the artifact table against one network.
//
// Artifacts are processed strictly in dependency order. For each one the
// engine observes the registry and live code, decides, acts and commits the
// result to the registry before moving on, so an interrupted run resumes
// where it stopped. The first failure halts the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/kingrea/lattice-deploy/internal/artifact"
	"github.com/kingrea/lattice-deploy/internal/chain"
	"github.com/kingrea/lattice-deploy/internal/create2"
	"github.com/kingrea/lattice-deploy/internal/manifest"
	"github.com/kingrea/lattice-deploy/internal/proxy"
	"github.com/kingrea/lattice-deploy/internal/registry"
)

// RecordStore loads and persists network records.
type RecordStore interface {
	Load(network string) (registry.NetworkRecord, error)
	Persist(record registry.NetworkRecord) error
}

// Options tune a single run.
type Options struct {
	// Only restricts the run to these artifacts. Their dependencies are
	// still observed and resolved but never deployed.
	Only []string
	// Force ignores matching registry entries.
	Force bool
	// DryRun decides without sending transactions or persisting.
	DryRun bool
}

// Engine reconciles one network.
type Engine struct {
	network   string
	table     *manifest.Table
	client    chain.Client
	store     RecordStore
	artifacts *artifact.Store
	factory   common.Address
	logger    log.Logger
	observers []Observer
	clock     func() time.Time
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithFactory overrides the CREATE2 factory.
func WithFactory(factory common.Address) Option {
	return func(e *Engine) {
		e.factory = factory
	}
}

// WithArtifactStore shares an artifact cache between engines.
func WithArtifactStore(store *artifact.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.artifacts = store
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observers = append(e.observers, observer)
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New wires an engine for network.
func New(network string, table *manifest.Table, client chain.Client, store RecordStore, opts ...Option) (*Engine, error) {
	if network == "" {
		return nil, fmt.Errorf("engine: network name is required")
	}
	if table == nil {
		return nil, fmt.Errorf("engine: artifact table is required")
	}
	if client == nil {
		return nil, fmt.Errorf("engine: chain client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: registry store is required")
	}
	e := &Engine{
		network: network,
		table:   table,
		client:  client,
		store:   store,
		factory: create2.ArachnidFactory,
		logger:  log.Root(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.artifacts == nil {
		e.artifacts = artifact.NewStore()
	}
	e.logger = e.logger.New("network", network)
	return e, nil
}

// Network returns the network this engine reconciles.
func (e *Engine) Network() string {
	return e.network
}

// run carries the state of one Run call.
type run struct {
	id       string
	opts     Options
	selected map[string]bool
	record   registry.NetworkRecord
	resolved map[string]common.Address
	deployed map[string]bool
	proxies  *proxy.Resolver
}

func (r *run) isSelected(name string) bool {
	return len(r.selected) == 0 || r.selected[name]
}

// Run reconciles the table (or opts.Only) on the engine's network.
func (e *Engine) Run(ctx context.Context, opts Options) (Report, error) {
	r := &run{
		id:       uuid.NewString(),
		opts:     opts,
		selected: map[string]bool{},
		resolved: map[string]common.Address{},
		deployed: map[string]bool{},
		proxies:  proxy.NewResolver(e.client, proxy.WithLogger(e.logger)),
	}
	for _, name := range opts.Only {
		r.selected[name] = true
	}
	report := Report{RunID: r.id, Network: e.network, DryRun: opts.DryRun, StartedAt: e.now()}
	e.emit(r, Event{Kind: EventRunStarted})
	finish := func(err error) (Report, error) {
		report.FinishedAt = e.now()
		report.Err = err
		e.emit(r, Event{Kind: EventRunFinished, Err: err})
		return report, err
	}

	order, err := e.table.TopologicalOrder(opts.Only...)
	if err != nil {
		return finish(fmt.Errorf("engine: %s: %w", e.network, err))
	}
	record, err := e.store.Load(e.network)
	if err != nil {
		return finish(fmt.Errorf("engine: %s: %w", e.network, err))
	}
	r.record = record.MergeMissing(order)
	e.logger.Info("Reconciling network", "run", r.id, "artifacts", len(order), "dry_run", opts.DryRun, "force", opts.Force)

	for i, name := range order {
		if err := ctx.Err(); err != nil {
			return finish(e.fail(name, err))
		}
		result, err := e.reconcile(ctx, r, name)
		if result.Name != "" {
			report.Results = append(report.Results, result)
			report.Transactions += result.Transactions()
		}
		if err != nil {
			report.Aborted = e.abortedBy(name, order[i+1:])
			var artifactErr *ArtifactError
			if errors.As(err, &artifactErr) {
				artifactErr.Aborted = report.Aborted
			}
			e.logger.Error("Artifact failed", "artifact", name, "aborted", len(report.Aborted), "err", err)
			e.emit(r, Event{Kind: EventFailed, Artifact: name, Err: err})
			return finish(err)
		}
	}
	e.logger.Info("Network reconciled", "run", r.id, "transactions", report.Transactions,
		"skipped", report.Count(VerdictSkip), "deployed", report.Count(VerdictDeploy), "adopted", report.Count(VerdictAdopt))
	return finish(nil)
}

func (e *Engine) reconcile(ctx context.Context, r *run, name string) (Result, error) {
	spec, err := e.table.Resolve(name)
	if err != nil {
		return Result{}, e.fail(name, err)
	}
	selected := r.isSelected(name)
	logger := e.logger.New("artifact", name)
	e.emit(r, Event{Kind: EventArtifactStarted, Artifact: name})

	prep, err := e.builder().prepare(spec, r.resolved)
	if err != nil {
		return Result{}, e.fail(name, err)
	}

	// Observe.
	obs := Observation{Predicted: prep.predicted, Force: r.opts.Force && selected}
	obs.Registry, obs.HasRegistry = r.record.Get(name)
	var registryCode []byte
	if obs.HasRegistry {
		if registryCode, err = e.client.GetCode(ctx, obs.Registry); err != nil {
			return Result{}, e.chainFailure(name, err)
		}
		obs.RegistryHasCode = len(registryCode) > 0
	}
	liveCode := registryCode
	if !obs.HasRegistry || obs.Registry != prep.predicted {
		if liveCode, err = e.client.GetCode(ctx, prep.predicted); err != nil {
			return Result{}, e.chainFailure(name, err)
		}
	}
	obs.PredictedHasCode = len(liveCode) > 0

	// Decide.
	verdict := Decide(obs)
	result := Result{Name: name, Verdict: verdict, Address: prep.predicted, Observed: !selected}
	if obs.Drifted() {
		result.Previous = obs.Registry
	}
	logger.Info("Artifact decided", "verdict", verdict, "address", prep.predicted, "registry", obs.Registry, "drift", obs.Drifted())
	e.emit(r, Event{Kind: EventVerdict, Artifact: name, Verdict: verdict, Address: prep.predicted, Previous: result.Previous})

	if r.opts.DryRun {
		r.resolved[name] = prep.predicted
		r.deployed[name] = verdict != VerdictSkip
		if spec.IsProxy() && selected {
			outcome, err := e.planProxy(ctx, r, spec, prep.predicted, obs.PredictedHasCode)
			if err != nil {
				return result, e.chainFailure(name, err)
			}
			result.Proxy = &outcome
			e.emit(r, Event{Kind: EventProxy, Artifact: name, Address: prep.predicted, Proxy: &outcome})
		}
		return result, nil
	}
	if !selected && verdict == VerdictDeploy {
		return result, e.fail(name, fmt.Errorf("%w: %s has no live deployment at %s", ErrDependencyNotDeployed, name, prep.predicted.Hex()))
	}

	// Act.
	if verdict == VerdictDeploy {
		receipt, err := e.client.SendDeployment(ctx, chain.DeployRequest{
			Factory:  e.factory,
			Salt:     prep.salt,
			InitCode: prep.initCode,
			GasLimit: spec.GasLimit,
		})
		if err != nil {
			return result, e.chainFailure(name, err)
		}
		result.TxHash = receipt.TxHash
		if receipt.Receipt != nil && receipt.Receipt.ContractAddress != (common.Address{}) && receipt.Receipt.ContractAddress != prep.predicted {
			return result, e.fail(name, fmt.Errorf("%w: receipt reports %s, expected %s", ErrDeploymentVerificationFailed, receipt.Receipt.ContractAddress.Hex(), prep.predicted.Hex()))
		}
		if liveCode, err = e.client.GetCode(ctx, prep.predicted); err != nil {
			return result, e.chainFailure(name, err)
		}
		if len(liveCode) == 0 {
			return result, e.fail(name, fmt.Errorf("%w: no code at %s after %s", ErrDeploymentVerificationFailed, prep.predicted.Hex(), receipt.TxHash.Hex()))
		}
		logger.Info("Artifact deployed", "address", prep.predicted, "tx", receipt.TxHash)
	}

	// Commit.
	next := r.record.RecordDeployment(name, prep.predicted, crypto.Keccak256Hash(liveCode))
	if err := e.store.Persist(next); err != nil {
		return result, e.fail(name, err)
	}
	r.record = next
	r.resolved[name] = prep.predicted
	r.deployed[name] = verdict != VerdictSkip
	e.emit(r, Event{Kind: EventCommitted, Artifact: name, Verdict: verdict, Address: prep.predicted, TxHash: result.TxHash})

	if spec.IsProxy() && selected {
		outcome, err := r.proxies.Resolve(ctx, proxy.Request{
			Proxy:                  prep.predicted,
			Spec:                   *spec.Proxy,
			Implementation:         r.resolved[spec.Proxy.Implementation],
			ImplementationDeployed: r.deployed[spec.Proxy.Implementation],
			Lookup:                 lookupIn(r.resolved),
		})
		result.Proxy = &outcome
		e.emit(r, Event{Kind: EventProxy, Artifact: name, Address: prep.predicted, TxHash: outcome.TxHash, Proxy: &outcome, Err: err})
		if err != nil {
			return result, e.fail(name, err)
		}
	}
	return result, nil
}

// planProxy decides what a dry run would do about a proxy. A proxy without
// code yet is necessarily uninitialized.
func (e *Engine) planProxy(ctx context.Context, r *run, spec manifest.ArtifactSpec, addr common.Address, live bool) (proxy.Outcome, error) {
	impl := r.resolved[spec.Proxy.Implementation]
	if !live {
		state := proxy.StateUninitialized
		return proxy.Outcome{Proxy: addr, State: state, Decision: proxy.Plan(state, r.deployed[spec.Proxy.Implementation], impl)}, nil
	}
	return r.proxies.Resolve(ctx, proxy.Request{
		Proxy:                  addr,
		Spec:                   *spec.Proxy,
		Implementation:         impl,
		ImplementationDeployed: r.deployed[spec.Proxy.Implementation],
		DryRun:                 true,
	})
}

func (e *Engine) builder() builder {
	return builder{table: e.table, artifacts: e.artifacts, factory: e.factory}
}

func (e *Engine) emit(r *run, ev Event) {
	if len(e.observers) == 0 {
		return
	}
	ev.RunID = r.id
	ev.Network = e.network
	ev.At = e.now()
	for _, observer := range e.observers {
		observer.OnEvent(ev)
	}
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
