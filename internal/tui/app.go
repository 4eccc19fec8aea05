// internal/tui/app.go
//
// Live progress view for `lattice-deploy deploy --tui`. It uses bubbletea,
// which follows The Elm Architecture:
//
// 1. Model: per-network, per-artifact progress
// 2. Update: engine events arrive as messages and mutate the model
// 3. View: the model is rendered to a string
//
// Engines run on their own goroutines and publish into a Feed; the program
// drains the Feed one message at a time, so events keep their order.

package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/fleet"
	"github.com/kingrea/lattice-deploy/internal/proxy"
)

const feedBuffer = 64

// StartFunc launches the deployment with obs attached to every engine and
// blocks until it finishes.
type StartFunc func(ctx context.Context, obs engine.Observer) (fleet.Result, error)

// Feed carries engine events from the engines into the program. It is an
// engine.Observer.
type Feed struct {
	ch   chan tea.Msg
	stop chan struct{}
}

type eventMsg engine.Event

type finishedMsg struct {
	result fleet.Result
	err    error
}

type feedClosedMsg struct{}

// NewFeed creates a feed buffering up to size messages.
func NewFeed(size int) *Feed {
	if size < 1 {
		size = 1
	}
	return &Feed{ch: make(chan tea.Msg, size), stop: make(chan struct{})}
}

// OnEvent forwards ev. It blocks while the buffer is full unless the feed
// has been stopped.
func (f *Feed) OnEvent(ev engine.Event) {
	f.send(eventMsg(ev))
}

// Finish delivers the fleet result after every event and closes the feed.
func (f *Feed) Finish(result fleet.Result, err error) {
	f.send(finishedMsg{result: result, err: err})
	close(f.ch)
}

// Stop unblocks pending and future sends once nobody is reading.
func (f *Feed) Stop() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
}

func (f *Feed) send(msg tea.Msg) {
	select {
	case f.ch <- msg:
	case <-f.stop:
	}
}

func (f *Feed) next() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-f.ch
		if !ok {
			return feedClosedMsg{}
		}
		return msg
	}
}

type rowState int

const (
	rowPending rowState = iota
	rowRunning
	rowDone
	rowFailed
)

type artifactRow struct {
	name     string
	state    rowState
	verdict  engine.Verdict
	address  common.Address
	previous common.Address
	txs      int
	proxy    *proxy.Outcome
	err      error
}

type networkProgress struct {
	name     string
	runID    string
	started  time.Time
	finished bool
	err      error
	txs      int
	rows     []*artifactRow
	byName   map[string]*artifactRow
}

func (n *networkProgress) row(name string) *artifactRow {
	if row, ok := n.byName[name]; ok {
		return row
	}
	row := &artifactRow{name: name}
	n.rows = append(n.rows, row)
	n.byName[name] = row
	return row
}

// Progress is the bubbletea model. In bubbletea, this holds ALL your state.
type Progress struct {
	feed     *Feed
	cancel   context.CancelFunc
	spinner  spinner.Model
	networks []*networkProgress
	byName   map[string]*networkProgress

	done        bool
	interrupted bool
	result      fleet.Result
	err         error

	width int
}

// NewProgress builds the model for networks. cancel is invoked when the
// operator interrupts.
func NewProgress(networks []string, feed *Feed, cancel context.CancelFunc) *Progress {
	p := &Progress{
		feed:   feed,
		cancel: cancel,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(labelStyleRunning),
		),
		byName: map[string]*networkProgress{},
	}
	for _, name := range networks {
		p.network(name)
	}
	return p
}

func (p *Progress) network(name string) *networkProgress {
	if n, ok := p.byName[name]; ok {
		return n
	}
	n := &networkProgress{name: name, byName: map[string]*artifactRow{}}
	p.networks = append(p.networks, n)
	p.byName[name] = n
	return n
}

// Result returns the fleet result once the program has finished.
func (p *Progress) Result() (fleet.Result, error) {
	return p.result, p.err
}

// Init is called once when the program starts.
func (p *Progress) Init() tea.Cmd {
	if p.feed == nil {
		return p.spinner.Tick
	}
	return tea.Batch(p.spinner.Tick, p.feed.next())
}

// Update is called when a message is received.
func (p *Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		return p, nil

	case spinner.TickMsg:
		if p.done {
			return p, nil
		}
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd

	case eventMsg:
		p.apply(engine.Event(msg))
		return p, p.feed.next()

	case finishedMsg:
		p.done = true
		p.result = msg.result
		p.err = msg.err
		return p, tea.Quit

	case feedClosedMsg:
		return p, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if p.done {
				return p, tea.Quit
			}
			if !p.interrupted {
				p.interrupted = true
				if p.cancel != nil {
					p.cancel()
				}
			}
		}
	}
	return p, nil
}

func (p *Progress) apply(ev engine.Event) {
	n := p.network(ev.Network)
	switch ev.Kind {
	case engine.EventRunStarted:
		n.runID = ev.RunID
		n.started = ev.At
		n.finished = false
		n.err = nil
	case engine.EventArtifactStarted:
		n.row(ev.Artifact).state = rowRunning
	case engine.EventVerdict:
		row := n.row(ev.Artifact)
		row.verdict = ev.Verdict
		row.address = ev.Address
		row.previous = ev.Previous
	case engine.EventCommitted:
		row := n.row(ev.Artifact)
		row.state = rowDone
		row.address = ev.Address
		if ev.TxHash != (common.Hash{}) {
			row.txs++
			n.txs++
		}
	case engine.EventProxy:
		row := n.row(ev.Artifact)
		row.proxy = ev.Proxy
		if ev.Proxy != nil && ev.Proxy.Transacted() {
			row.txs++
			n.txs++
		}
		if ev.Err != nil {
			row.state = rowFailed
			row.err = ev.Err
		}
	case engine.EventFailed:
		row := n.row(ev.Artifact)
		row.state = rowFailed
		row.err = ev.Err
	case engine.EventRunFinished:
		n.finished = true
		n.err = ev.Err
	}
}

// View renders the model.
func (p *Progress) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ LATTICE DEPLOY")
	sections := []string{header}
	for _, n := range p.networks {
		sections = append(sections, p.renderNetwork(n))
	}
	sections = append(sections, p.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

// Run shows live progress while start executes and returns its result.
func Run(ctx context.Context, networks []string, start StartFunc, opts ...tea.ProgramOption) (fleet.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	feed := NewFeed(feedBuffer)
	model := NewProgress(networks, feed, cancel)
	program := tea.NewProgram(model, opts...)
	go func() {
		result, err := start(ctx, feed)
		feed.Finish(result, err)
	}()
	if _, err := program.Run(); err != nil {
		cancel()
		feed.Stop()
		return fleet.Result{}, fmt.Errorf("tui: %w", err)
	}
	return model.Result()
}
