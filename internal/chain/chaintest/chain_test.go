package chaintest

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-deploy/internal/chain"
	"github.com/kingrea/lattice-deploy/internal/create2"
)

func TestSendDeploymentCreatesCodeAtPredictedAddress(t *testing.T) {
	ctx := context.Background()
	c := New()
	initCode := []byte{0x60, 0x80, 0x60, 0x40}
	salt := create2.SaltFromSeed(nil)
	receipt, err := c.SendDeployment(ctx, chain.DeployRequest{Factory: create2.ArachnidFactory, Salt: salt, InitCode: initCode})
	require.NoError(t, err)
	want := create2.ComputeAddress(initCode, salt, create2.ArachnidFactory)
	require.Equal(t, want, receipt.Receipt.ContractAddress)

	code, err := c.GetCode(ctx, want)
	require.NoError(t, err)
	require.Equal(t, initCode, code)
	require.Equal(t, 1, c.TxCount())

	_, err = c.SendDeployment(ctx, chain.DeployRequest{Factory: create2.ArachnidFactory, Salt: salt, InitCode: initCode})
	require.ErrorIs(t, err, chain.ErrReverted)
}

func TestSendDeploymentRequiresFactory(t *testing.T) {
	c := New(WithoutFactory())
	_, err := c.SendDeployment(context.Background(), chain.DeployRequest{Factory: create2.ArachnidFactory, InitCode: []byte{1}})
	require.Error(t, err)
	require.Equal(t, 0, c.TxCount())
}

func TestUpgradeCallsUpdateImplementationSlot(t *testing.T) {
	ctx := context.Background()
	c := New()
	proxy := common.HexToAddress("0x1000")
	impl := common.HexToAddress("0x2000")
	c.SetCode(proxy, []byte{1})
	c.SetCode(impl, []byte{2})

	data, err := funcUpgradeToAndCall.EncodeArgs(impl, []byte{0xde, 0xad})
	require.NoError(t, err)
	_, err = c.SendTransaction(ctx, chain.TxRequest{To: proxy, Data: data})
	require.NoError(t, err)
	require.Equal(t, impl, c.Implementation(proxy))

	c.RevertCalls(proxy, funcUpgradeTo.Selector)
	data, err = funcUpgradeTo.EncodeArgs(impl)
	require.NoError(t, err)
	_, err = c.SendTransaction(ctx, chain.TxRequest{To: proxy, Data: data})
	require.ErrorIs(t, err, chain.ErrReverted)
}

func TestFailNextQueuesFaults(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	c.FailNext(OpGetCode, boom)
	_, err := c.GetCode(context.Background(), create2.ArachnidFactory)
	require.ErrorIs(t, err, boom)
	code, err := c.GetCode(context.Background(), create2.ArachnidFactory)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	require.Equal(t, 2, c.Reads(OpGetCode))
}
