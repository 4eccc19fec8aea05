// Package proxy keeps upgradeable proxies pointed at the implementation
// resolved for the current run.
//
// A proxy is in one of three states relative to the resolved implementation:
// Uninitialized (slot empty), Current (slot matches) or Stale (slot holds a
// different address). Uninitialized proxies receive their initializer along
// with the implementation, stale proxies are upgraded, current proxies are
// left alone. Every transaction is followed by a re-read of the slot.
package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/lmittmann/w3"

	"github.com/kingrea/lattice-deploy/internal/chain"
	"github.com/kingrea/lattice-deploy/internal/manifest"
)

var (
	ErrProxyInitializationFailed = errors.New("proxy initialization failed")
	ErrProxyUpgradeFailed        = errors.New("proxy upgrade failed")
	ErrProxyVerificationFailed   = errors.New("proxy verification failed")
)

// State is the proxy's standing relative to the resolved implementation.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateCurrent       State = "current"
	StateStale         State = "stale"
)

// Action is what the run does about a proxy.
type Action string

const (
	NoOpAlreadyCurrent   Action = "noop"
	DeployImplementation Action = "deploy_implementation"
	RetargetProxyOnly    Action = "retarget"
	DeployAndRetarget    Action = "deploy_and_retarget"
)

// Decision pairs the action with the implementation it targets. Decisions
// are recomputed every run and never stored.
type Decision struct {
	Action         Action
	Implementation common.Address
}

// Retargets reports whether the decision requires a proxy transaction.
func (d Decision) Retargets() bool {
	return d.Action == RetargetProxyOnly || d.Action == DeployAndRetarget
}

// Classify compares the live slot value with the resolved implementation.
func Classify(live, resolved common.Address) State {
	switch {
	case live == (common.Address{}):
		return StateUninitialized
	case live == resolved:
		return StateCurrent
	default:
		return StateStale
	}
}

// Plan maps a proxy state and whether the implementation was deployed in this
// run onto a decision.
func Plan(state State, implDeployed bool, impl common.Address) Decision {
	decision := Decision{Implementation: impl}
	switch {
	case state == StateCurrent && implDeployed:
		decision.Action = DeployImplementation
	case state == StateCurrent:
		decision.Action = NoOpAlreadyCurrent
	case implDeployed:
		decision.Action = DeployAndRetarget
	default:
		decision.Action = RetargetProxyOnly
	}
	return decision
}

// Request describes one proxy to reconcile.
type Request struct {
	Proxy common.Address
	Spec  manifest.ProxySpec
	// Implementation is the resolved address of Spec.Implementation.
	Implementation         common.Address
	ImplementationDeployed bool
	// Lookup resolves artifact references in initializer arguments.
	Lookup manifest.AddressLookup
	// DryRun stops after planning.
	DryRun bool
}

// Outcome reports what Resolve observed and did.
type Outcome struct {
	Proxy    common.Address
	State    State
	Decision Decision
	// Previous and PreviousCodeHash are captured before a stale proxy is
	// upgraded. They are informational.
	Previous         common.Address
	PreviousCodeHash common.Hash
	TxHash           common.Hash
}

// Transacted reports whether Resolve sent a transaction.
func (o Outcome) Transacted() bool {
	return o.TxHash != (common.Hash{})
}

// Resolver reconciles proxies through a chain client.
type Resolver struct {
	client chain.Client
	logger log.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithLogger attaches a logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver builds a resolver on top of client.
func NewResolver(client chain.Client, opts ...Option) *Resolver {
	r := &Resolver{client: client, logger: log.Root()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe reads the implementation slot of proxy.
func (r *Resolver) Observe(ctx context.Context, proxy common.Address, slot common.Hash) (common.Address, error) {
	value, err := r.client.StorageAt(ctx, proxy, slot)
	if err != nil {
		return common.Address{}, fmt.Errorf("proxy: read implementation slot of %s: %w", proxy.Hex(), err)
	}
	return common.BytesToAddress(value.Bytes()), nil
}

// Resolve brings the proxy to the Current state.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Outcome, error) {
	slot := implementationSlot(req.Spec)
	live, err := r.Observe(ctx, req.Proxy, slot)
	if err != nil {
		return Outcome{}, err
	}
	state := Classify(live, req.Implementation)
	outcome := Outcome{
		Proxy:    req.Proxy,
		State:    state,
		Decision: Plan(state, req.ImplementationDeployed, req.Implementation),
	}
	logger := r.logger.New("proxy", req.Proxy, "implementation", req.Implementation)
	if req.DryRun || !outcome.Decision.Retargets() {
		logger.Debug("Proxy planned", "state", state, "action", outcome.Decision.Action)
		return outcome, nil
	}

	var calldata []byte
	switch state {
	case StateUninitialized:
		calldata, err = initializeCalldata(req)
		if err != nil {
			return outcome, fmt.Errorf("%w: %s: %w", ErrProxyInitializationFailed, req.Proxy.Hex(), err)
		}
	case StateStale:
		outcome.Previous = live
		outcome.PreviousCodeHash = r.capture(ctx, logger, live)
		calldata, err = upgradeCalldata(req.Spec.Upgrade, req.Implementation)
		if err != nil {
			return outcome, fmt.Errorf("%w: %s: %w", ErrProxyUpgradeFailed, req.Proxy.Hex(), err)
		}
	}

	receipt, err := r.client.SendTransaction(ctx, chain.TxRequest{To: req.Proxy, Data: calldata})
	if receipt != nil {
		outcome.TxHash = receipt.TxHash
	}
	if err != nil {
		if state == StateUninitialized {
			return outcome, fmt.Errorf("%w: %s: %w", ErrProxyInitializationFailed, req.Proxy.Hex(), err)
		}
		return outcome, fmt.Errorf("%w: %s: %w", ErrProxyUpgradeFailed, req.Proxy.Hex(), err)
	}

	after, err := r.Observe(ctx, req.Proxy, slot)
	if err != nil {
		return outcome, err
	}
	if after != req.Implementation {
		return outcome, fmt.Errorf("%w: %s points at %s, expected %s", ErrProxyVerificationFailed, req.Proxy.Hex(), after.Hex(), req.Implementation.Hex())
	}
	logger.Info("Proxy retargeted", "from", state, "previous", outcome.Previous, "tx", outcome.TxHash)
	return outcome, nil
}

// capture fingerprints the outgoing implementation. Failures are logged and
// otherwise ignored.
func (r *Resolver) capture(ctx context.Context, logger log.Logger, previous common.Address) common.Hash {
	code, err := r.client.GetCode(ctx, previous)
	if err != nil {
		logger.Warn("Could not capture previous implementation", "previous", previous, "err", err)
		return common.Hash{}
	}
	if len(code) == 0 {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(code)
}

func initializeCalldata(req Request) ([]byte, error) {
	if req.Spec.Initializer == nil {
		return upgradeCalldata(req.Spec.Upgrade, req.Implementation)
	}
	init, err := req.Spec.InitializerCalldata(req.Lookup)
	if err != nil {
		return nil, err
	}
	signature := req.Spec.UpgradeAndCall
	if signature == "" {
		signature = manifest.DefaultUpgradeAndCallSignature
	}
	fn, err := w3.NewFunc(signature, "")
	if err != nil {
		return nil, fmt.Errorf("upgrade-and-call signature %s: %w", signature, err)
	}
	return fn.EncodeArgs(req.Implementation, init)
}

func upgradeCalldata(signature string, impl common.Address) ([]byte, error) {
	if signature == "" {
		signature = manifest.DefaultUpgradeSignature
	}
	fn, err := w3.NewFunc(signature, "")
	if err != nil {
		return nil, fmt.Errorf("upgrade signature %s: %w", signature, err)
	}
	return fn.EncodeArgs(impl)
}

func implementationSlot(spec manifest.ProxySpec) common.Hash {
	if spec.Slot == "" {
		return common.HexToHash(manifest.DefaultImplementationSlot)
	}
	return common.HexToHash(spec.Slot)
}
