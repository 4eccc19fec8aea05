package fleet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-deploy/internal/chain/chaintest"
	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/manifest"
	"github.com/kingrea/lattice-deploy/internal/registry"
)

type stubRunner struct {
	network string
	err     error
	delay   time.Duration
	active  *int32
	peak    *int32
}

func (s stubRunner) Network() string { return s.network }

func (s stubRunner) Run(ctx context.Context, _ engine.Options) (engine.Report, error) {
	if s.active != nil {
		now := atomic.AddInt32(s.active, 1)
		defer atomic.AddInt32(s.active, -1)
		for {
			peak := atomic.LoadInt32(s.peak)
			if now <= peak || atomic.CompareAndSwapInt32(s.peak, peak, now) {
				break
			}
		}
	}
	select {
	case <-ctx.Done():
		return engine.Report{Network: s.network}, ctx.Err()
	case <-time.After(s.delay):
	}
	return engine.Report{Network: s.network, Transactions: 1}, s.err
}

func quiet() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestRunContinuesPastFailedNetwork(t *testing.T) {
	boom := errors.New("rpc down")
	runners := []Runner{
		stubRunner{network: "a"},
		stubRunner{network: "b", err: boom},
		stubRunner{network: "c"},
	}
	result, err := Run(context.Background(), runners, Options{Parallel: 3, Logger: quiet()})
	require.ErrorIs(t, err, boom)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, "b", netErr.Network)
	require.Len(t, result.Failed(), 1)
	require.Equal(t, "a", result.Outcomes[0].Network)
	require.Equal(t, "c", result.Outcomes[2].Network)
	require.NoError(t, result.Outcomes[2].Err)
	require.Equal(t, 3, result.Transactions())
}

func TestRunFailFastCancelsRemainingNetworks(t *testing.T) {
	boom := errors.New("rpc down")
	runners := []Runner{
		stubRunner{network: "a", err: boom},
		stubRunner{network: "b", delay: time.Minute},
	}
	result, err := Run(context.Background(), runners, Options{Parallel: 2, FailFast: true, Logger: quiet()})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, result.Outcomes[1].Err, context.Canceled)
}

func TestRunRespectsParallelLimit(t *testing.T) {
	var active, peak int32
	var runners []Runner
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		runners = append(runners, stubRunner{network: name, delay: 10 * time.Millisecond, active: &active, peak: &peak})
	}
	_, err := Run(context.Background(), runners, Options{Parallel: 2, Logger: quiet()})
	require.NoError(t, err)
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRunRejectsDuplicateNetworks(t *testing.T) {
	_, err := Run(context.Background(), []Runner{stubRunner{network: "a"}, stubRunner{network: "a"}}, Options{})
	require.Error(t, err)
}

func TestRunSharesRegistryFileAcrossEngines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Lib.bin"), []byte("6080604052"), 0o644))
	table, err := manifest.NewTable([]manifest.ArtifactSpec{{Name: "Lib", Bytecode: "Lib.bin"}}, manifest.WithDir(dir))
	require.NoError(t, err)
	store := registry.NewStore(filepath.Join(dir, "addresses.json"))

	var runners []Runner
	chains := map[string]*chaintest.Chain{}
	for _, network := range []string{"alpha", "beta", "gamma"} {
		c := chaintest.New()
		chains[network] = c
		e, err := engine.New(network, table, c, store, engine.WithLogger(quiet()))
		require.NoError(t, err)
		runners = append(runners, e)
	}
	result, err := Run(context.Background(), runners, Options{Parallel: 3, Logger: quiet()})
	require.NoError(t, err)
	require.Equal(t, 3, result.Transactions())

	networks, err := store.Networks()
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, networks)
	for network, c := range chains {
		require.Equal(t, 1, c.TxCount(), network)
	}
}
