// Package fleet reconciles several networks at once. Each network gets its
// own engine and runs sequentially inside; networks never share state beyond
// the registry file, which serialises its own writes.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/lattice-deploy/internal/engine"
)

// Runner reconciles one network. *engine.Engine satisfies it.
type Runner interface {
	Network() string
	Run(ctx context.Context, opts engine.Options) (engine.Report, error)
}

// Options tune a fleet run.
type Options struct {
	// Parallel caps concurrently running networks; zero or less means one
	// at a time.
	Parallel int
	// FailFast cancels the remaining networks after the first failure.
	FailFast bool
	Engine   engine.Options
	Logger   log.Logger
}

// Outcome is the result for one network.
type Outcome struct {
	Network string
	Report  engine.Report
	Err     error
}

// Result collects outcomes in the order runners were given.
type Result struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that ended in error.
func (r Result) Failed() []Outcome {
	var failed []Outcome
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// Transactions sums transactions across networks.
func (r Result) Transactions() int {
	total := 0
	for _, outcome := range r.Outcomes {
		total += outcome.Report.Transactions
	}
	return total
}

// NetworkError names the network a failure belongs to.
type NetworkError struct {
	Network string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fleet: %s: %v", e.Network, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Run reconciles every runner. One network failing does not stop the others
// unless FailFast is set. The returned error joins every network failure.
func Run(ctx context.Context, runners []Runner, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Root()
	}
	seen := make(map[string]struct{}, len(runners))
	for _, runner := range runners {
		if _, dup := seen[runner.Network()]; dup {
			return Result{}, fmt.Errorf("fleet: network %s listed twice", runner.Network())
		}
		seen[runner.Network()] = struct{}{}
	}

	limit := opts.Parallel
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	result := Result{Outcomes: make([]Outcome, len(runners))}
	var mu sync.Mutex
	for i, runner := range runners {
		i, runner := i, runner
		g.Go(func() error {
			network := runner.Network()
			var (
				report engine.Report
				err    error
			)
			if ctxErr := gctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				report, err = runner.Run(gctx, opts.Engine)
			}
			mu.Lock()
			result.Outcomes[i] = Outcome{Network: network, Report: report, Err: err}
			mu.Unlock()
			if err != nil {
				logger.Error("Network failed", "network", network, "err", err)
				if opts.FailFast {
					return err
				}
				return nil
			}
			logger.Info("Network done", "network", network, "transactions", report.Transactions)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, outcome := range result.Outcomes {
		if outcome.Err != nil {
			errs = append(errs, &NetworkError{Network: outcome.Network, Err: outcome.Err})
		}
	}
	return result, errors.Join(errs...)
}
