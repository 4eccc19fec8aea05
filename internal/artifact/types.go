// Package artifact reads compiled creation bytecode from the files a
// Solidity toolchain leaves behind. Three shapes are understood: raw hex
// (.bin), Hardhat artifacts and Foundry artifacts.
package artifact

import (
	"errors"
	"path/filepath"
	"strings"
)

// Kind captures the on-disk shape of a compiled artifact.
type Kind string

const (
	// KindHex is a bare hex string, optionally 0x-prefixed (solc --bin).
	KindHex Kind = "hex"
	// KindHardhat is a JSON artifact whose "bytecode" field is a hex string.
	KindHardhat Kind = "hardhat"
	// KindFoundry is a JSON artifact whose "bytecode" field is an object
	// with the hex under "object".
	KindFoundry Kind = "foundry"
)

// State reports what Check found on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

var (
	ErrEmptyBytecode = errors.New("artifact: empty bytecode")
	ErrUnknownFormat = errors.New("artifact: unknown format")
)

// Bytecode is creation code as text, still carrying any library
// placeholders. Linking happens on the text form.
type Bytecode struct {
	Name string
	Path string
	Kind Kind
	// Hex is the code without a 0x prefix.
	Hex string
	// LinkReferences lists the library identifiers the compiler recorded as
	// unresolved, when the artifact format carries them.
	LinkReferences []string
}

// CheckResult is the status of an artifact file.
type CheckResult struct {
	Path  string
	State State
	Kind  Kind
	Err   error
}

// Ready reports whether the file could be loaded.
func (r CheckResult) Ready() bool {
	return r.State == StateReady
}

// DetectKind guesses the artifact shape from the file extension and, for
// JSON, the bytecode field layout.
func DetectKind(path string, data []byte) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin", ".hex", "":
		return KindHex
	}
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return KindHex
	}
	raw, err := decodeJSON(data)
	if err != nil {
		return ""
	}
	switch raw.Bytecode.kind {
	case KindFoundry:
		return KindFoundry
	case KindHardhat:
		return KindHardhat
	}
	return ""
}
