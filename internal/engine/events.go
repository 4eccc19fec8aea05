package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/proxy"
)

// EventKind enumerates engine progress notifications.
type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventArtifactStarted EventKind = "artifact_started"
	EventVerdict         EventKind = "verdict"
	EventCommitted       EventKind = "committed"
	EventProxy           EventKind = "proxy"
	EventFailed          EventKind = "failed"
	EventRunFinished     EventKind = "run_finished"
)

// Event is delivered to observers synchronously, in order.
type Event struct {
	Kind     EventKind
	RunID    string
	Network  string
	Artifact string
	Verdict  Verdict
	Address  common.Address
	// Previous is the registry address an artifact drifted away from.
	Previous common.Address
	TxHash   common.Hash
	Proxy    *proxy.Outcome
	Err      error
	At       time.Time
}

// Observer receives engine events. Implementations must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// Result is the outcome for one artifact.
type Result struct {
	Name     string
	Verdict  Verdict
	Address  common.Address
	Previous common.Address
	TxHash   common.Hash
	Proxy    *proxy.Outcome
	// Observed is set for dependencies outside the artifact filter.
	Observed bool
}

// Transactions counts the transactions spent on this artifact.
func (r Result) Transactions() int {
	n := 0
	if r.TxHash != (common.Hash{}) {
		n++
	}
	if r.Proxy != nil && r.Proxy.Transacted() {
		n++
	}
	return n
}

// Report summarises a run on one network.
type Report struct {
	RunID        string
	Network      string
	DryRun       bool
	StartedAt    time.Time
	FinishedAt   time.Time
	Results      []Result
	Transactions int
	// Aborted names the dependents of a failed artifact that were never
	// attempted.
	Aborted []string
	Err     error
}

// Count returns how many artifacts received verdict.
func (r Report) Count(verdict Verdict) int {
	n := 0
	for _, result := range r.Results {
		if result.Verdict == verdict {
			n++
		}
	}
	return n
}

// Result returns the result recorded for name.
func (r Report) Result(name string) (Result, bool) {
	for _, result := range r.Results {
		if result.Name == name {
			return result, true
		}
	}
	return Result{}, false
}
