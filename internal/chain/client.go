// Package chain is the boundary between the deployment engine and a live
// network. Everything the engine learns about or changes on chain goes
// through Client.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrReverted reports a mined transaction with a failed status.
	ErrReverted = errors.New("chain: transaction reverted")
	// ErrConfirmationTimeout reports a transaction that was not mined in time.
	ErrConfirmationTimeout = errors.New("chain: confirmation timeout")
	// ErrNoSigner reports a write attempted on a read-only client.
	ErrNoSigner = errors.New("chain: no signing key configured")
)

// Client is the chain surface the engine and proxy resolver depend on.
type Client interface {
	GetCode(ctx context.Context, addr common.Address) ([]byte, error)
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	Call(ctx context.Context, to common.Address, calldata []byte) ([]byte, error)
	SendDeployment(ctx context.Context, req DeployRequest) (DeployReceipt, error)
	SendTransaction(ctx context.Context, req TxRequest) (*types.Receipt, error)
	ChainID(ctx context.Context) (uint64, error)
}

// DeployRequest asks the CREATE2 factory to create InitCode under Salt.
type DeployRequest struct {
	Factory  common.Address
	Salt     [32]byte
	InitCode []byte
	// GasLimit of zero lets the client estimate.
	GasLimit uint64
}

// DeployReceipt describes a mined deployment.
type DeployReceipt struct {
	TxHash  common.Hash
	Receipt *types.Receipt
}

// TxRequest is a plain call transaction.
type TxRequest struct {
	To       common.Address
	Data     []byte
	GasLimit uint64
}
