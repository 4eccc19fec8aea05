package tui

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/fleet"
	"github.com/kingrea/lattice-deploy/internal/registry"
)

func TestRenderReport(t *testing.T) {
	lib := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	result := fleet.Result{Outcomes: []fleet.Outcome{
		{
			Network: "sepolia",
			Report: engine.Report{
				RunID: "0123456789abcdef",
				Results: []engine.Result{
					{Name: "Lib", Verdict: engine.VerdictDeploy, Address: lib, TxHash: common.HexToHash("0x01")},
					{Name: "Token", Verdict: engine.VerdictSkip, Address: common.HexToAddress("0xbb")},
				},
				Transactions: 1,
			},
		},
		{Network: "holesky", Err: errors.New("dial rpc: connection refused")},
	}}
	out := RenderReport(result)
	for _, want := range []string{"sepolia", "run 01234567", "Lib", "Deploy", lib.Hex(), "1 deploy · 0 adopt · 1 skip", "holesky", "failed", "connection refused", "2 network(s) · 1 transaction(s)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderReportListsAbortedDependents(t *testing.T) {
	result := fleet.Result{Outcomes: []fleet.Outcome{{
		Network: "sepolia",
		Report:  engine.Report{Aborted: []string{"Token", "Vault"}},
		Err:     errors.New("engine: sepolia/Lib: artifact deployment failed"),
	}}}
	out := RenderReport(result)
	if !strings.Contains(out, "aborted: Token, Vault") {
		t.Fatalf("report missing aborted dependents:\n%s", out)
	}
}

func TestRenderRegistry(t *testing.T) {
	addr := common.HexToAddress("0xaa")
	record := registry.NewRecord("local").
		RecordDeployment("Lib", addr, common.HexToHash("0xbeef")).
		MergeMissing([]string{"Token"})
	out := RenderRegistry(record)
	if !strings.Contains(out, addr.Hex()) || !strings.Contains(out, "Token") {
		t.Fatalf("registry rendering incomplete:\n%s", out)
	}
}

func TestRenderPredictions(t *testing.T) {
	out := RenderPredictions(common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C"), []engine.Prediction{
		{Name: "Lib", Address: common.HexToAddress("0xaa")},
	})
	if !strings.Contains(out, "Lib") || !strings.Contains(out, "0x4e59b44847b379578588920cA78FbF26c0B4956C") {
		t.Fatalf("predictions rendering incomplete:\n%s", out)
	}
}
