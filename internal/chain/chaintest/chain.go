// Package chaintest provides an in-memory chain.Client for tests. It
// simulates a CREATE2 factory, EIP-1967 style proxies, reverts and RPC
// faults, and counts every transaction it accepts.
package chaintest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"

	"github.com/kingrea/lattice-deploy/internal/chain"
	"github.com/kingrea/lattice-deploy/internal/create2"
)

// Op names a Client method for fault injection.
type Op string

const (
	OpGetCode         Op = "get_code"
	OpStorageAt       Op = "storage_at"
	OpCall            Op = "call"
	OpSendDeployment  Op = "send_deployment"
	OpSendTransaction Op = "send_transaction"
	OpChainID         Op = "chain_id"
)

var (
	funcUpgradeTo        = w3.MustNewFunc("upgradeTo(address)", "")
	funcUpgradeToAndCall = w3.MustNewFunc("upgradeToAndCall(address,bytes)", "")
	implementationSlot   = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	factoryRuntime       = common.FromHex("0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe03601600081602082378035828234f58015156039578182fd5b8082525050506014600cf3")
)

// Tx is a transaction the chain accepted.
type Tx struct {
	Hash common.Hash
	To   common.Address
	Data []byte
	// Created is set for factory deployments.
	Created common.Address
}

// Chain is a single in-memory network.
type Chain struct {
	mu       sync.Mutex
	id       uint64
	code     map[common.Address][]byte
	storage  map[common.Address]map[common.Hash]common.Hash
	txs      []Tx
	faults   map[Op][]error
	reverts  map[common.Address]map[[4]byte]bool
	discard  bool
	noUpdate bool
	reads    map[Op]int
}

// Option configures a Chain.
type Option func(*Chain)

// WithChainID sets the reported chain id (default 31337).
func WithChainID(id uint64) Option {
	return func(c *Chain) {
		c.id = id
	}
}

// WithoutFactory leaves the default CREATE2 factory undeployed.
func WithoutFactory() Option {
	return func(c *Chain) {
		delete(c.code, create2.ArachnidFactory)
	}
}

// New returns a chain with the deterministic deployment factory installed.
func New(opts ...Option) *Chain {
	c := &Chain{
		id:      31337,
		code:    map[common.Address][]byte{create2.ArachnidFactory: factoryRuntime},
		storage: map[common.Address]map[common.Hash]common.Hash{},
		faults:  map[Op][]error{},
		reverts: map[common.Address]map[[4]byte]bool{},
		reads:   map[Op]int{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCode installs runtime code at addr. Empty code removes the account.
func (c *Chain) SetCode(addr common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(code) == 0 {
		delete(c.code, addr)
		return
	}
	c.code[addr] = append([]byte(nil), code...)
}

// Code returns the runtime code at addr.
func (c *Chain) Code(addr common.Address) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.code[addr]...)
}

// SetStorage writes a storage slot.
func (c *Chain) SetStorage(addr common.Address, slot, value common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStorage(addr, slot, value)
}

// SetImplementation points the proxy at addr to impl through the EIP-1967 slot.
func (c *Chain) SetImplementation(proxy, impl common.Address) {
	c.SetStorage(proxy, implementationSlot, common.BytesToHash(impl.Bytes()))
}

// Implementation reads the EIP-1967 slot of proxy.
func (c *Chain) Implementation(proxy common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return common.BytesToAddress(c.storage[proxy][implementationSlot].Bytes())
}

// FailNext makes the next call of op return err. Calls queue up.
func (c *Chain) FailNext(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op] = append(c.faults[op], err)
}

// RevertCalls makes every transaction to `to` whose calldata starts with
// selector revert.
func (c *Chain) RevertCalls(to common.Address, selector [4]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reverts[to] == nil {
		c.reverts[to] = map[[4]byte]bool{}
	}
	c.reverts[to][selector] = true
}

// DiscardDeployments makes factory deployments succeed without leaving code
// behind, as a node that lies about receipts would.
func (c *Chain) DiscardDeployments(discard bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discard = discard
}

// IgnoreUpgrades makes upgrade calls succeed without touching storage.
func (c *Chain) IgnoreUpgrades(ignore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noUpdate = ignore
}

// TxCount returns how many transactions were accepted.
func (c *Chain) TxCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txs)
}

// Transactions returns the accepted transactions in order.
func (c *Chain) Transactions() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tx(nil), c.txs...)
}

// Reads reports how often op was called.
func (c *Chain) Reads(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[op]
}

func (c *Chain) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, OpGetCode); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.code[addr]...), nil
}

func (c *Chain) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, OpStorageAt); err != nil {
		return common.Hash{}, err
	}
	return c.storage[addr][slot], nil
}

func (c *Chain) Call(ctx context.Context, to common.Address, calldata []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, OpCall); err != nil {
		return nil, err
	}
	if c.reverted(to, calldata) {
		return nil, errors.New("execution reverted")
	}
	return nil, nil
}

func (c *Chain) ChainID(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, OpChainID); err != nil {
		return 0, err
	}
	return c.id, nil
}

// SendDeployment executes the factory call. Deploying onto an address that
// already has code reverts, as CREATE2 does.
func (c *Chain) SendDeployment(ctx context.Context, req chain.DeployRequest) (chain.DeployReceipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, OpSendDeployment); err != nil {
		return chain.DeployReceipt{}, err
	}
	if len(c.code[req.Factory]) == 0 {
		return chain.DeployReceipt{}, fmt.Errorf("chaintest: factory %s has no code", req.Factory.Hex())
	}
	data := create2.FactoryCalldata(req.Salt, req.InitCode)
	target := create2.ComputeAddress(req.InitCode, req.Salt, req.Factory)
	tx := c.record(req.Factory, data)
	if len(c.code[target]) > 0 || len(req.InitCode) == 0 {
		receipt := c.receipt(tx, types.ReceiptStatusFailed)
		return chain.DeployReceipt{TxHash: tx.Hash, Receipt: receipt}, fmt.Errorf("%w: %s", chain.ErrReverted, tx.Hash.Hex())
	}
	if !c.discard {
		c.code[target] = append([]byte(nil), req.InitCode...)
	}
	c.txs[len(c.txs)-1].Created = target
	receipt := c.receipt(tx, types.ReceiptStatusSuccessful)
	receipt.ContractAddress = target
	return chain.DeployReceipt{TxHash: tx.Hash, Receipt: receipt}, nil
}

// SendTransaction executes upgradeTo and upgradeToAndCall against the
// EIP-1967 slot; any other call only succeeds or reverts.
func (c *Chain) SendTransaction(ctx context.Context, req chain.TxRequest) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(ctx, OpSendTransaction); err != nil {
		return nil, err
	}
	tx := c.record(req.To, req.Data)
	if len(c.code[req.To]) == 0 || c.reverted(req.To, req.Data) {
		return c.receipt(tx, types.ReceiptStatusFailed), fmt.Errorf("%w: %s", chain.ErrReverted, tx.Hash.Hex())
	}
	if impl, ok := decodeUpgrade(req.Data); ok && !c.noUpdate {
		if len(c.code[impl]) == 0 {
			return c.receipt(tx, types.ReceiptStatusFailed), fmt.Errorf("%w: implementation %s has no code", chain.ErrReverted, impl.Hex())
		}
		c.setStorage(req.To, implementationSlot, common.BytesToHash(impl.Bytes()))
	}
	return c.receipt(tx, types.ReceiptStatusSuccessful), nil
}

func decodeUpgrade(data []byte) (common.Address, bool) {
	if len(data) < 4 {
		return common.Address{}, false
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	var impl common.Address
	switch selector {
	case funcUpgradeTo.Selector:
		if err := funcUpgradeTo.DecodeArgs(data, &impl); err != nil {
			return common.Address{}, false
		}
	case funcUpgradeToAndCall.Selector:
		var init []byte
		if err := funcUpgradeToAndCall.DecodeArgs(data, &impl, &init); err != nil {
			return common.Address{}, false
		}
	default:
		return common.Address{}, false
	}
	return impl, true
}

func (c *Chain) enter(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.reads[op]++
	if queued := c.faults[op]; len(queued) > 0 {
		c.faults[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (c *Chain) reverted(to common.Address, data []byte) bool {
	if len(data) < 4 {
		return false
	}
	var selector [4]byte
	copy(selector[:], data[:4])
	return c.reverts[to][selector]
}

func (c *Chain) setStorage(addr common.Address, slot, value common.Hash) {
	if c.storage[addr] == nil {
		c.storage[addr] = map[common.Hash]common.Hash{}
	}
	c.storage[addr][slot] = value
}

func (c *Chain) record(to common.Address, data []byte) Tx {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], uint64(len(c.txs)))
	tx := Tx{
		Hash: crypto.Keccak256Hash(nonce[:], to.Bytes(), data),
		To:   to,
		Data: append([]byte(nil), data...),
	}
	c.txs = append(c.txs, tx)
	return tx
}

func (c *Chain) receipt(tx Tx, status uint64) *types.Receipt {
	return &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash,
		BlockNumber: big.NewInt(int64(len(c.txs))),
	}
}

var _ chain.Client = (*Chain)(nil)
