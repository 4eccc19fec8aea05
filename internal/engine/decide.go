package engine

import "github.com/ethereum/go-ethereum/common"

// Verdict is the engine's decision for one artifact.
type Verdict string

const (
	// VerdictSkip means the registry entry is live and matches the current
	// bytecode.
	VerdictSkip Verdict = "skip"
	// VerdictDeploy means a deployment transaction is required.
	VerdictDeploy Verdict = "deploy"
	// VerdictAdopt means the predicted address already holds code; it is
	// recorded without a transaction.
	VerdictAdopt Verdict = "adopt"
)

// Observation is everything Decide looks at.
type Observation struct {
	Registry         common.Address
	HasRegistry      bool
	RegistryHasCode  bool
	Predicted        common.Address
	PredictedHasCode bool
	Force            bool
}

// Drifted reports whether the recorded address no longer matches the
// current bytecode.
func (o Observation) Drifted() bool {
	return o.HasRegistry && o.Registry != o.Predicted
}

// Decide is the single place where registry state and live code are
// compared. A registry address without live code is redeployed.
func Decide(obs Observation) Verdict {
	if !obs.Force && obs.HasRegistry && obs.RegistryHasCode && obs.Registry == obs.Predicted {
		return VerdictSkip
	}
	if obs.PredictedHasCode {
		return VerdictAdopt
	}
	return VerdictDeploy
}
