// Package linker substitutes library placeholders in creation bytecode with
// resolved library addresses. Linking is purely textual: the bytecode stays
// hex until every placeholder is gone.
package linker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnresolvedLibraryMarker = errors.New("library marker not found in bytecode")
	ErrMissingLibraryAddress   = errors.New("library address not resolved")
	ErrUnlinked                = errors.New("bytecode still contains library placeholders")
	ErrInvalidBytecode         = errors.New("bytecode is not valid hex")
)

// Style selects the placeholder convention of the compiler that produced the
// bytecode.
type Style int

const (
	// StyleHashed is the solc >= 0.5 form: __$<34 hex of keccak256(name)>$__.
	StyleHashed Style = iota
	// StyleLegacy is the pre-0.5 form: __<name> padded with underscores.
	StyleLegacy
)

// markerLength is the width of an address in hex, which every placeholder
// occupies.
const markerLength = 40

var (
	hashedPlaceholder = regexp.MustCompile(`__\$[0-9a-fA-F]{34}\$__`)
	legacyPlaceholder = regexp.MustCompile(`__[A-Za-z0-9_$.:/]{38}`)
)

// Marker returns the placeholder the compiler emitted for the library name.
func Marker(name string, style Style) string {
	if style == StyleLegacy {
		marker := "__" + name
		if len(marker) > markerLength {
			return marker[:markerLength]
		}
		return marker + strings.Repeat("_", markerLength-len(marker))
	}
	hash := crypto.Keccak256Hash([]byte(name)).Hex()[2:]
	return "__$" + hash[:34] + "$__"
}

// Library names a library and the identifier its placeholder was derived
// from. Key defaults to Name.
type Library struct {
	Name string
	Key  string
}

func (l Library) key() string {
	if l.Key != "" {
		return l.Key
	}
	return l.Name
}

// LinkedBytecode is creation code with every placeholder substituted.
type LinkedBytecode struct {
	hex  string
	code []byte
}

// Hex returns the linked code without a 0x prefix.
func (b LinkedBytecode) Hex() string {
	return b.hex
}

// Bytes returns a copy of the decoded code.
func (b LinkedBytecode) Bytes() []byte {
	return append([]byte(nil), b.code...)
}

// LinkError names the library that could not be linked.
type LinkError struct {
	Artifact string
	Library  string
	Err      error
}

func (e *LinkError) Error() string {
	if e.Library == "" {
		return fmt.Sprintf("linker: %s: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("linker: %s: %s: %v", e.Artifact, e.Library, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// Link replaces every placeholder for libs with the matching address in
// resolved. A library whose marker never appears, or whose address is
// unknown, fails the link, as does any placeholder left over afterwards.
func Link(artifact, bytecodeHex string, libs []Library, resolved map[string]common.Address, style Style) (LinkedBytecode, error) {
	code := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(bytecodeHex), "0x"), "0X")
	for _, lib := range libs {
		marker := Marker(lib.key(), style)
		if !strings.Contains(code, marker) {
			return LinkedBytecode{}, &LinkError{Artifact: artifact, Library: lib.Name, Err: ErrUnresolvedLibraryMarker}
		}
		addr, ok := resolved[lib.Name]
		if !ok {
			return LinkedBytecode{}, &LinkError{Artifact: artifact, Library: lib.Name, Err: ErrMissingLibraryAddress}
		}
		code = strings.ReplaceAll(code, marker, strings.ToLower(addr.Hex()[2:]))
	}
	if leftover := Unlinked(code); len(leftover) > 0 {
		return LinkedBytecode{}, &LinkError{
			Artifact: artifact,
			Err:      fmt.Errorf("%w: %s", ErrUnlinked, strings.Join(leftover, ", ")),
		}
	}
	decoded, err := hex.DecodeString(code)
	if err != nil {
		return LinkedBytecode{}, &LinkError{
			Artifact: artifact,
			Err:      fmt.Errorf("%w: %v", ErrInvalidBytecode, err),
		}
	}
	return LinkedBytecode{hex: code, code: decoded}, nil
}

// Unlinked lists the distinct placeholders still present in code.
func Unlinked(code string) []string {
	var found []string
	seen := map[string]struct{}{}
	add := func(match string) {
		if _, ok := seen[match]; ok {
			return
		}
		seen[match] = struct{}{}
		found = append(found, match)
	}
	for _, match := range hashedPlaceholder.FindAllString(code, -1) {
		add(match)
	}
	stripped := hashedPlaceholder.ReplaceAllString(code, "")
	for _, match := range legacyPlaceholder.FindAllString(stripped, -1) {
		add(match)
	}
	stripped = legacyPlaceholder.ReplaceAllString(stripped, "")
	if idx := strings.Index(stripped, "__"); idx >= 0 {
		end := idx + markerLength
		if end > len(stripped) {
			end = len(stripped)
		}
		add(stripped[idx:end])
	}
	return found
}
