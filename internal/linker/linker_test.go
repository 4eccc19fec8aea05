package linker

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const libAddress = "0x00000000000000000000000000000000000000AB"

func TestMarkerShapes(t *testing.T) {
	hashed := Marker("src/Math.sol:Math", StyleHashed)
	if len(hashed) != markerLength || !strings.HasPrefix(hashed, "__$") || !strings.HasSuffix(hashed, "$__") {
		t.Fatalf("unexpected hashed marker %q", hashed)
	}
	if hashed != Marker("src/Math.sol:Math", StyleHashed) {
		t.Fatalf("hashed marker is not deterministic")
	}
	legacy := Marker("Math", StyleLegacy)
	if legacy != "__Math"+strings.Repeat("_", 34) {
		t.Fatalf("unexpected legacy marker %q", legacy)
	}
	long := Marker(strings.Repeat("L", 60), StyleLegacy)
	if len(long) != markerLength {
		t.Fatalf("legacy marker not truncated: %d", len(long))
	}
}

func TestLinkSubstitutesEveryOccurrence(t *testing.T) {
	marker := Marker("Math", StyleHashed)
	code := "6080" + marker + "5050" + marker
	linked, err := Link("Contract", "0x"+code, []Library{{Name: "Math"}}, map[string]common.Address{
		"Math": common.HexToAddress(libAddress),
	}, StyleHashed)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	want := "6080" + strings.Repeat("0", 38) + "ab" + "5050" + strings.Repeat("0", 38) + "ab"
	if linked.Hex() != want {
		t.Fatalf("linked = %s\nwant     %s", linked.Hex(), want)
	}
	if len(linked.Bytes()) != len(want)/2 {
		t.Fatalf("unexpected decoded length %d", len(linked.Bytes()))
	}
}

func TestLinkUsesLibraryKey(t *testing.T) {
	code := "60" + Marker("src/Math.sol:Math", StyleHashed)
	_, err := Link("Contract", code, []Library{{Name: "Math", Key: "src/Math.sol:Math"}}, map[string]common.Address{
		"Math": common.HexToAddress(libAddress),
	}, StyleHashed)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
}

func TestLinkFailsWhenMarkerMissing(t *testing.T) {
	_, err := Link("Contract", "6080", []Library{{Name: "Math"}}, map[string]common.Address{
		"Math": common.HexToAddress(libAddress),
	}, StyleHashed)
	if !errors.Is(err, ErrUnresolvedLibraryMarker) {
		t.Fatalf("expected unresolved marker, got %v", err)
	}
	var linkErr *LinkError
	if !errors.As(err, &linkErr) || linkErr.Library != "Math" || linkErr.Artifact != "Contract" {
		t.Fatalf("unexpected error detail %+v", linkErr)
	}
}

func TestLinkFailsWhenAddressMissing(t *testing.T) {
	code := "60" + Marker("Math", StyleLegacy)
	_, err := Link("Contract", code, []Library{{Name: "Math"}}, nil, StyleLegacy)
	if !errors.Is(err, ErrMissingLibraryAddress) {
		t.Fatalf("expected missing address, got %v", err)
	}
}

func TestLinkRejectsLeftoverPlaceholders(t *testing.T) {
	code := "60" + Marker("Math", StyleHashed) + Marker("Undeclared", StyleHashed)
	_, err := Link("Contract", code, []Library{{Name: "Math"}}, map[string]common.Address{
		"Math": common.HexToAddress(libAddress),
	}, StyleHashed)
	if !errors.Is(err, ErrUnlinked) {
		t.Fatalf("expected unlinked error, got %v", err)
	}
}

func TestUnlinked(t *testing.T) {
	if got := Unlinked("60806040"); len(got) != 0 {
		t.Fatalf("clean code reported placeholders: %v", got)
	}
	legacy := Marker("Old", StyleLegacy)
	hashed := Marker("New", StyleHashed)
	got := Unlinked("60" + hashed + "00" + legacy + "00" + hashed)
	if len(got) != 2 || got[0] != hashed || got[1] != legacy {
		t.Fatalf("unlinked = %v", got)
	}
}

func TestLinkRejectsNonHexBytecode(t *testing.T) {
	for _, code := range []string{"6080zz604052", "60806"} {
		_, err := Link("Broken", code, nil, nil, StyleHashed)
		if !errors.Is(err, ErrInvalidBytecode) {
			t.Fatalf("%q: expected invalid bytecode error, got %v", code, err)
		}
		var linkErr *LinkError
		if !errors.As(err, &linkErr) || linkErr.Artifact != "Broken" {
			t.Fatalf("%q: expected LinkError naming the artifact, got %v", code, err)
		}
	}
}

func TestLinkedBytesAreIndependentCopies(t *testing.T) {
	linked, err := Link("Lib", "60806040", nil, nil, StyleHashed)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	first := linked.Bytes()
	first[0] = 0xff
	if linked.Bytes()[0] != 0x60 {
		t.Fatalf("linked code mutated through returned bytes")
	}
}
