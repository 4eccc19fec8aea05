package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"

	"github.com/kingrea/lattice-deploy/internal/create2"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultConfirmTimeout = 5 * time.Minute
	// gasHeadroom is applied to estimates, in percent.
	gasHeadroom = 120
)

// RPCClient talks JSON-RPC through w3. Transactions are EIP-1559 and signed
// locally; sends are serialised so nonces never race.
type RPCClient struct {
	client *w3.Client
	logger log.Logger

	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  types.Signer

	gasFeeCap      *big.Int
	gasTipCap      *big.Int
	pollInterval   time.Duration
	confirmTimeout time.Duration
	retry          RetryPolicy

	sendMu sync.Mutex
}

// RPCOption customizes an RPCClient during construction.
type RPCOption func(*RPCClient)

// WithSigner enables writes signed by key.
func WithSigner(key *ecdsa.PrivateKey) RPCOption {
	return func(c *RPCClient) {
		c.key = key
		if key != nil {
			c.from = crypto.PubkeyToAddress(key.PublicKey)
		}
	}
}

// WithFeeCaps pins the EIP-1559 fee caps. Nil values are suggested by the node.
func WithFeeCaps(feeCap, tipCap *big.Int) RPCOption {
	return func(c *RPCClient) {
		c.gasFeeCap = feeCap
		c.gasTipCap = tipCap
	}
}

// WithConfirmTimeout bounds how long a send waits for its receipt.
func WithConfirmTimeout(timeout time.Duration) RPCOption {
	return func(c *RPCClient) {
		if timeout > 0 {
			c.confirmTimeout = timeout
		}
	}
}

// WithPollInterval sets the receipt polling period.
func WithPollInterval(interval time.Duration) RPCOption {
	return func(c *RPCClient) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithRetryPolicy overrides the read retry policy.
func WithRetryPolicy(policy RetryPolicy) RPCOption {
	return func(c *RPCClient) {
		c.retry = policy
	}
}

// WithLogger attaches a logger.
func WithLogger(logger log.Logger) RPCOption {
	return func(c *RPCClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Dial connects to rpcURL. When expectedChainID is non-zero the node must
// report the same id.
func Dial(ctx context.Context, rpcURL string, expectedChainID uint64, opts ...RPCOption) (*RPCClient, error) {
	client, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	c := &RPCClient{
		client:         client,
		logger:         log.Root(),
		pollInterval:   defaultPollInterval,
		confirmTimeout: defaultConfirmTimeout,
		retry:          DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	if expectedChainID != 0 && id != expectedChainID {
		client.Close()
		return nil, fmt.Errorf("chain: node reports chain id %d, expected %d", id, expectedChainID)
	}
	c.chainID = new(big.Int).SetUint64(id)
	c.signer = types.LatestSignerForChainID(c.chainID)
	return c, nil
}

// From returns the sending account, or the zero address for read-only clients.
func (c *RPCClient) From() common.Address {
	return c.from
}

// Close releases the connection.
func (c *RPCClient) Close() error {
	return c.client.Close()
}

func (c *RPCClient) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	err := c.retry.do(ctx, func() error {
		return c.client.CallCtx(ctx, eth.Code(addr, nil).Returns(&code))
	})
	if err != nil {
		return nil, fmt.Errorf("chain: get code %s: %w", addr.Hex(), err)
	}
	return code, nil
}

func (c *RPCClient) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	var value common.Hash
	err := c.retry.do(ctx, func() error {
		return c.client.CallCtx(ctx, eth.StorageAt(addr, slot, nil).Returns(&value))
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: storage %s[%s]: %w", addr.Hex(), slot.Hex(), err)
	}
	return value, nil
}

func (c *RPCClient) Call(ctx context.Context, to common.Address, calldata []byte) ([]byte, error) {
	var output []byte
	msg := &w3types.Message{From: c.from, To: &to, Input: calldata}
	err := c.retry.do(ctx, func() error {
		return c.client.CallCtx(ctx, eth.Call(msg, nil, nil).Returns(&output))
	})
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", to.Hex(), err)
	}
	return output, nil
}

func (c *RPCClient) ChainID(ctx context.Context) (uint64, error) {
	var id uint64
	err := c.retry.do(ctx, func() error {
		return c.client.CallCtx(ctx, eth.ChainID().Returns(&id))
	})
	if err != nil {
		return 0, fmt.Errorf("chain: chain id: %w", err)
	}
	return id, nil
}

// SendDeployment routes the creation code through the CREATE2 factory.
func (c *RPCClient) SendDeployment(ctx context.Context, req DeployRequest) (DeployReceipt, error) {
	receipt, err := c.SendTransaction(ctx, TxRequest{
		To:       req.Factory,
		Data:     create2.FactoryCalldata(req.Salt, req.InitCode),
		GasLimit: req.GasLimit,
	})
	if err != nil {
		var hash common.Hash
		if receipt != nil {
			hash = receipt.TxHash
		}
		return DeployReceipt{TxHash: hash, Receipt: receipt}, err
	}
	return DeployReceipt{TxHash: receipt.TxHash, Receipt: receipt}, nil
}

// SendTransaction signs, sends and waits for req. A reverted receipt is
// returned together with ErrReverted.
func (c *RPCClient) SendTransaction(ctx context.Context, req TxRequest) (*types.Receipt, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var nonce uint64
	if err := c.retry.do(ctx, func() error {
		return c.client.CallCtx(ctx, eth.Nonce(c.from, nil).Returns(&nonce))
	}); err != nil {
		return nil, fmt.Errorf("chain: get nonce: %w", err)
	}
	feeCap, tipCap, err := c.feeCaps(ctx)
	if err != nil {
		return nil, err
	}
	gas := req.GasLimit
	if gas == 0 {
		if gas, err = c.estimateGas(ctx, req); err != nil {
			return nil, err
		}
	}
	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        &to,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
		Gas:       gas,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, fmt.Errorf("chain: sign tx: %w", err)
	}
	if err := c.client.CallCtx(ctx, eth.SendTx(signed).Returns(nil)); err != nil {
		return nil, fmt.Errorf("chain: send tx: %w", err)
	}
	c.logger.Debug("Transaction sent", "hash", signed.Hash(), "to", to, "nonce", nonce, "gas", gas)

	receipt, err := c.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
	}
	return receipt, nil
}

func (c *RPCClient) feeCaps(ctx context.Context) (*big.Int, *big.Int, error) {
	if c.gasFeeCap != nil && c.gasTipCap != nil {
		return c.gasFeeCap, c.gasTipCap, nil
	}
	var price, tip *big.Int
	err := c.retry.do(ctx, func() error {
		return c.client.CallCtx(ctx,
			eth.GasPrice().Returns(&price),
			eth.GasTipCap().Returns(&tip),
		)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("chain: suggest fees: %w", err)
	}
	if c.gasTipCap != nil {
		tip = c.gasTipCap
	}
	feeCap := c.gasFeeCap
	if feeCap == nil {
		feeCap = new(big.Int).Add(new(big.Int).Mul(price, big.NewInt(2)), tip)
	}
	return feeCap, tip, nil
}

func (c *RPCClient) estimateGas(ctx context.Context, req TxRequest) (uint64, error) {
	to := req.To
	var gas uint64
	err := c.retry.do(ctx, func() error {
		return c.client.CallCtx(ctx, eth.EstimateGas(&w3types.Message{From: c.from, To: &to, Input: req.Data}, nil).Returns(&gas))
	})
	if err != nil {
		return 0, fmt.Errorf("chain: estimate gas: %w", err)
	}
	return gas * gasHeadroom / 100, nil
}

func (c *RPCClient) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var receipt *types.Receipt
		err := c.client.CallCtx(ctx, eth.TxReceipt(hash).Returns(&receipt))
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %s", ErrConfirmationTimeout, hash.Hex(), c.confirmTimeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Client = (*RPCClient)(nil)
