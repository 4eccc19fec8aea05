package engine

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/artifact"
	"github.com/kingrea/lattice-deploy/internal/create2"
	"github.com/kingrea/lattice-deploy/internal/linker"
	"github.com/kingrea/lattice-deploy/internal/manifest"
)

// prepared is an artifact ready for deployment: linked, encoded and with
// its address predicted.
type prepared struct {
	spec      manifest.ArtifactSpec
	initCode  []byte
	salt      [32]byte
	predicted common.Address
}

// builder links and predicts artifacts. It holds no per-run state; resolved
// addresses are passed in explicitly.
type builder struct {
	table     *manifest.Table
	artifacts *artifact.Store
	factory   common.Address
}

func (b builder) prepare(spec manifest.ArtifactSpec, resolved map[string]common.Address) (prepared, error) {
	code, err := b.artifacts.Load(spec.Name, b.table.BytecodePath(spec))
	if err != nil {
		return prepared{}, err
	}
	libs := make([]linker.Library, 0, len(spec.BaseLibs))
	for _, name := range spec.BaseLibs {
		lib, err := b.table.Resolve(name)
		if err != nil {
			return prepared{}, err
		}
		libs = append(libs, linker.Library{Name: name, Key: lib.MarkerName()})
	}
	if missing := undeclaredLinks(code.LinkReferences, libs); len(missing) > 0 {
		return prepared{}, fmt.Errorf("%w: %s links %s", ErrUndeclaredLibrary, spec.Name, strings.Join(missing, ", "))
	}
	linked, err := linker.Link(spec.Name, code.Hex, libs, resolved, linkStyle(b.table.LinkStyle))
	if err != nil {
		return prepared{}, err
	}
	args, err := spec.ConstructorArgs(lookupIn(resolved))
	if err != nil {
		return prepared{}, err
	}
	initCode := create2.InitCode(linked.Bytes(), args)
	salt := create2.SaltFromSeed(spec.VanitySeed)
	return prepared{
		spec:      spec,
		initCode:  initCode,
		salt:      salt,
		predicted: create2.ComputeAddress(initCode, salt, b.factory),
	}, nil
}

// undeclaredLinks returns the compiler link references that match no
// declared library. A reference matches by full "file:Name" identifier or by
// its bare contract name.
func undeclaredLinks(refs []string, libs []linker.Library) []string {
	if len(refs) == 0 {
		return nil
	}
	declared := map[string]bool{}
	for _, lib := range libs {
		declared[lib.Name] = true
		declared[lib.Key] = true
		declared[bareName(lib.Key)] = true
	}
	var missing []string
	for _, ref := range refs {
		if declared[ref] || declared[bareName(ref)] {
			continue
		}
		missing = append(missing, ref)
	}
	return missing
}

func bareName(id string) string {
	if i := strings.LastIndex(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func linkStyle(style manifest.LinkStyle) linker.Style {
	if style == manifest.LinkStyleLegacy {
		return linker.StyleLegacy
	}
	return linker.StyleHashed
}

func lookupIn(resolved map[string]common.Address) manifest.AddressLookup {
	return func(name string) (common.Address, bool) {
		addr, ok := resolved[name]
		return addr, ok
	}
}

// Prediction is the offline address of one artifact.
type Prediction struct {
	Name         string
	Address      common.Address
	InitCodeHash common.Hash
	Salt         [32]byte
}

// Predict computes addresses without touching a chain. Every artifact is
// assumed to live at its predicted address, so dependents link against
// their dependencies' predictions.
func Predict(table *manifest.Table, artifacts *artifact.Store, factory common.Address, names ...string) ([]Prediction, error) {
	if artifacts == nil {
		artifacts = artifact.NewStore()
	}
	order, err := table.TopologicalOrder(names...)
	if err != nil {
		return nil, err
	}
	b := builder{table: table, artifacts: artifacts, factory: factory}
	resolved := make(map[string]common.Address, len(order))
	out := make([]Prediction, 0, len(order))
	for _, name := range order {
		spec, err := table.Resolve(name)
		if err != nil {
			return nil, err
		}
		prep, err := b.prepare(spec, resolved)
		if err != nil {
			return nil, fmt.Errorf("engine: predict %s: %w", name, err)
		}
		resolved[name] = prep.predicted
		out = append(out, Prediction{
			Name:         name,
			Address:      prep.predicted,
			InitCodeHash: create2.InitCodeHash(prep.initCode),
			Salt:         prep.salt,
		})
	}
	return out, nil
}
