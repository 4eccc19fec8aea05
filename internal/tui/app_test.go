package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/fleet"
	"github.com/kingrea/lattice-deploy/internal/proxy"
)

func sendAll(t *testing.T, p *Progress, msgs ...tea.Msg) {
	t.Helper()
	for _, msg := range msgs {
		model, _ := p.Update(msg)
		if model != p {
			t.Fatalf("update returned a different model")
		}
	}
}

func TestProgressTracksArtifacts(t *testing.T) {
	p := NewProgress([]string{"sepolia", "holesky"}, NewFeed(1), nil)
	addr := common.HexToAddress("0xaa")
	sendAll(t, p,
		eventMsg{Kind: engine.EventRunStarted, Network: "sepolia", RunID: "0123456789"},
		eventMsg{Kind: engine.EventArtifactStarted, Network: "sepolia", Artifact: "Lib"},
		eventMsg{Kind: engine.EventVerdict, Network: "sepolia", Artifact: "Lib", Verdict: engine.VerdictDeploy, Address: addr},
		eventMsg{Kind: engine.EventCommitted, Network: "sepolia", Artifact: "Lib", Address: addr, TxHash: common.HexToHash("0x01")},
		eventMsg{Kind: engine.EventArtifactStarted, Network: "sepolia", Artifact: "Proxy"},
		eventMsg{Kind: engine.EventVerdict, Network: "sepolia", Artifact: "Proxy", Verdict: engine.VerdictSkip},
		eventMsg{Kind: engine.EventProxy, Network: "sepolia", Artifact: "Proxy", Proxy: &proxy.Outcome{
			State:    proxy.StateStale,
			Decision: proxy.Decision{Action: proxy.RetargetProxyOnly},
			TxHash:   common.HexToHash("0x02"),
		}},
		eventMsg{Kind: engine.EventRunFinished, Network: "sepolia"},
	)
	sepolia := p.byName["sepolia"]
	if !sepolia.finished || sepolia.err != nil {
		t.Fatalf("sepolia should have finished cleanly: %+v", sepolia)
	}
	if sepolia.txs != 2 {
		t.Fatalf("transactions = %d, want 2", sepolia.txs)
	}
	if len(sepolia.rows) != 2 || sepolia.rows[0].state != rowDone {
		t.Fatalf("unexpected rows %+v", sepolia.rows)
	}
	view := p.View()
	for _, want := range []string{"LATTICE DEPLOY", "sepolia", "Done", "Lib", "Deploy", "Proxy Retarget", addr.Hex(), "holesky", "Waiting"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestProgressShowsFailures(t *testing.T) {
	p := NewProgress(nil, NewFeed(1), nil)
	boom := errors.New("execution reverted")
	sendAll(t, p,
		eventMsg{Kind: engine.EventRunStarted, Network: "local", RunID: "run"},
		eventMsg{Kind: engine.EventArtifactStarted, Network: "local", Artifact: "Token"},
		eventMsg{Kind: engine.EventFailed, Network: "local", Artifact: "Token", Err: boom},
		eventMsg{Kind: engine.EventRunFinished, Network: "local", Err: boom},
	)
	view := p.View()
	if !strings.Contains(view, "Failed") || !strings.Contains(view, "execution reverted") {
		t.Fatalf("failure not rendered:\n%s", view)
	}
}

func TestProgressInterruptCancelsAndWaitsForResult(t *testing.T) {
	cancelled := false
	p := NewProgress([]string{"local"}, NewFeed(1), func() { cancelled = true })
	_, cmd := p.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !cancelled {
		t.Fatalf("interrupt should cancel the run")
	}
	if cmd != nil {
		t.Fatalf("interrupt should wait for the run to stop before quitting")
	}
	if !strings.Contains(p.View(), "Cancelling") {
		t.Fatalf("expected cancelling footer")
	}
	_, cmd = p.Update(finishedMsg{err: context.Canceled})
	if cmd == nil {
		t.Fatalf("finished message should quit")
	}
	if _, err := p.Result(); !errors.Is(err, context.Canceled) {
		t.Fatalf("result error = %v", err)
	}
}

func TestFeedPreservesOrderAndDeliversResultLast(t *testing.T) {
	feed := NewFeed(8)
	go func() {
		feed.OnEvent(engine.Event{Kind: engine.EventRunStarted, Network: "a"})
		feed.OnEvent(engine.Event{Kind: engine.EventRunFinished, Network: "a"})
		feed.Finish(fleet.Result{Outcomes: []fleet.Outcome{{Network: "a"}}}, nil)
	}()
	var kinds []string
	for {
		msg := feed.next()()
		switch m := msg.(type) {
		case eventMsg:
			kinds = append(kinds, string(m.Kind))
			continue
		case finishedMsg:
			kinds = append(kinds, "finished")
			if len(m.result.Outcomes) != 1 {
				t.Fatalf("result not delivered")
			}
			continue
		case feedClosedMsg:
		}
		break
	}
	want := "run_started,run_finished,finished"
	if strings.Join(kinds, ",") != want {
		t.Fatalf("order = %v, want %s", kinds, want)
	}
}

func TestFeedStopUnblocksSenders(t *testing.T) {
	feed := NewFeed(1)
	feed.OnEvent(engine.Event{Kind: engine.EventRunStarted})
	done := make(chan struct{})
	go func() {
		feed.OnEvent(engine.Event{Kind: engine.EventRunFinished})
		close(done)
	}()
	feed.Stop()
	feed.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sender still blocked after Stop")
	}
}
