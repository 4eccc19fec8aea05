package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/chain/chaintest"
	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/logging"
	"github.com/kingrea/lattice-deploy/internal/manifest"
	"github.com/kingrea/lattice-deploy/internal/registry"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	book, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Append("sepolia", time.Time{}, LevelInfo, "entry-"+string(rune('0'+i)))
	}
	lines, total := book.Tail("sepolia", 3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
	if lines, total := book.Tail("mainnet", 3); lines != nil || total != 0 {
		t.Fatalf("expected empty tail for unknown network, got %v %d", lines, total)
	}
}

func TestOnEventFormatsEntries(t *testing.T) {
	book, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	addr := common.HexToAddress("0xaa")
	book.OnEvent(engine.Event{Kind: engine.EventVerdict, RunID: "0123456789abcdef", Network: "local", Artifact: "Token", Verdict: engine.VerdictDeploy, Address: addr, Previous: common.HexToAddress("0xbb"), At: at})
	book.OnEvent(engine.Event{Kind: engine.EventFailed, RunID: "0123456789abcdef", Network: "local", Artifact: "Token", Err: errors.New("boom"), At: at})

	lines, _ := book.Tail("local", 10)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", lines)
	}
	if !strings.HasPrefix(lines[0], "2024-05-01T12:00:00Z WARN  run=01234567 Token verdict=deploy") {
		t.Fatalf("unexpected drift line %q", lines[0])
	}
	if !strings.Contains(lines[0], "previous=") {
		t.Fatalf("drift line missing previous address: %q", lines[0])
	}
	if !strings.Contains(lines[1], "ERROR run=01234567 Token failed: boom") {
		t.Fatalf("unexpected failure line %q", lines[1])
	}
}

func TestJournalRecordsEngineRun(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Lib.bin"), []byte("6080604052"), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := manifest.NewTable([]manifest.ArtifactSpec{{Name: "Lib", Bytecode: "Lib.bin"}}, manifest.WithDir(dir))
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	book, err := New(filepath.Join(dir, "journal"))
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	store := registry.NewStore(filepath.Join(dir, "addresses.json"))
	eng, err := engine.New("local", table, chaintest.New(), store,
		engine.WithLogger(logging.Discard()), engine.WithObserver(book))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if _, err := eng.Run(context.Background(), engine.Options{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines, total := book.Tail("local", 10)
	if total != 4 {
		t.Fatalf("expected started, verdict, committed, finished; got %v", lines)
	}
	if !strings.Contains(lines[1], "Lib verdict=deploy") || !strings.Contains(lines[2], "Lib committed") || !strings.Contains(lines[2], "tx=0x") {
		t.Fatalf("unexpected journal contents %v", lines)
	}
	if !strings.Contains(lines[3], "run finished") {
		t.Fatalf("missing run finished entry: %v", lines)
	}
}
