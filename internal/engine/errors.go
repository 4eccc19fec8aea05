package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDeploymentVerificationFailed = errors.New("deployment verification failed")
	ErrArtifactDeploymentFailed     = errors.New("artifact deployment failed")
	// ErrDependencyNotDeployed reports a dependency outside the artifact
	// filter that would need a deployment first.
	ErrDependencyNotDeployed = errors.New("dependency not deployed")
	// ErrUndeclaredLibrary reports a library the artifact file links against
	// that the manifest does not list in base_libs.
	ErrUndeclaredLibrary = errors.New("undeclared library")
)

// ArtifactError attaches the network and artifact to a failure so a run can
// be resumed after the cause is fixed.
type ArtifactError struct {
	Network  string
	Artifact string
	Err      error
	// Aborted lists the artifacts that depend on Artifact and were left
	// unprocessed when the run halted.
	Aborted []string
}

func (e *ArtifactError) Error() string {
	msg := fmt.Sprintf("engine: %s/%s: %v", e.Network, e.Artifact, e.Err)
	if len(e.Aborted) > 0 {
		msg += " (aborted: " + strings.Join(e.Aborted, ", ") + ")"
	}
	return msg
}

func (e *ArtifactError) Unwrap() error { return e.Err }

func (e *Engine) fail(name string, err error) error {
	return &ArtifactError{Network: e.network, Artifact: name, Err: err}
}

// chainFailure marks err as a chain-side failure.
func (e *Engine) chainFailure(name string, err error) error {
	return e.fail(name, fmt.Errorf("%w: %w", ErrArtifactDeploymentFailed, err))
}

// abortedBy returns the dependents of name that are still pending in rest.
func (e *Engine) abortedBy(name string, rest []string) []string {
	pending := make(map[string]bool, len(rest))
	for _, n := range rest {
		pending[n] = true
	}
	var out []string
	for _, dependent := range e.table.Dependents(name) {
		if pending[dependent] {
			out = append(out, dependent)
		}
	}
	return out
}
