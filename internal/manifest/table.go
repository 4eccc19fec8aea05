// Package manifest holds the static artifact table: every deployable unit,
// the libraries linked into it, the contracts it builds on, and the
// constructor arguments baked into its creation code.
package manifest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownArtifact   = errors.New("unknown artifact")
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrInvalidDefinition = errors.New("invalid artifact definition")
)

// LinkStyle selects how library placeholders are derived from names.
type LinkStyle string

const (
	LinkStyleHashed LinkStyle = "hashed"
	LinkStyleLegacy LinkStyle = "legacy"
)

// ArtifactSpec declares one deployable unit.
type ArtifactSpec struct {
	Name string `json:"name" yaml:"name"`
	// Bytecode points at the compiled artifact, relative to the manifest file.
	Bytecode string `json:"bytecode" yaml:"bytecode"`
	// LinkName is the identifier the compiler hashed into library
	// placeholders (usually "path/File.sol:Name"). Defaults to Name.
	LinkName   string        `json:"link_name,omitempty" yaml:"link_name,omitempty"`
	BaseDeps   []string      `json:"base_deps,omitempty" yaml:"base_deps,omitempty"`
	BaseLibs   []string      `json:"base_libs,omitempty" yaml:"base_libs,omitempty"`
	Immutable  ImmutableArgs `json:"immutable,omitempty" yaml:"immutable,omitempty"`
	VanitySeed *uint64       `json:"vanity_seed,omitempty" yaml:"vanity_seed,omitempty"`
	GasLimit   uint64        `json:"gas_limit,omitempty" yaml:"gas_limit,omitempty"`
	Proxy      *ProxySpec    `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

// ImmutableArgs are constructor arguments appended to the creation code.
type ImmutableArgs struct {
	Types  []string `json:"types,omitempty" yaml:"types,omitempty"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// ProxySpec marks an artifact as an upgradeable proxy fronting another
// artifact's implementation.
type ProxySpec struct {
	Implementation string       `json:"implementation" yaml:"implementation"`
	Initializer    *Initializer `json:"initializer,omitempty" yaml:"initializer,omitempty"`
	Upgrade        string       `json:"upgrade,omitempty" yaml:"upgrade,omitempty"`
	UpgradeAndCall string       `json:"upgrade_and_call,omitempty" yaml:"upgrade_and_call,omitempty"`
	// Slot overrides the storage slot holding the implementation address.
	Slot string `json:"slot,omitempty" yaml:"slot,omitempty"`
}

// Initializer is the call a fresh proxy receives alongside its first
// implementation.
type Initializer struct {
	Signature string   `json:"signature" yaml:"signature"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`
}

const (
	DefaultUpgradeSignature        = "upgradeTo(address)"
	DefaultUpgradeAndCallSignature = "upgradeToAndCall(address,bytes)"
	// DefaultImplementationSlot is bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1).
	DefaultImplementationSlot = "0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc"
)

// Clone returns a deep copy of the spec.
func (s ArtifactSpec) Clone() ArtifactSpec {
	clone := s
	clone.BaseDeps = cloneStrings(s.BaseDeps)
	clone.BaseLibs = cloneStrings(s.BaseLibs)
	clone.Immutable = ImmutableArgs{
		Types:  cloneStrings(s.Immutable.Types),
		Values: cloneStrings(s.Immutable.Values),
	}
	if s.VanitySeed != nil {
		seed := *s.VanitySeed
		clone.VanitySeed = &seed
	}
	if s.Proxy != nil {
		proxy := *s.Proxy
		if s.Proxy.Initializer != nil {
			init := *s.Proxy.Initializer
			init.Args = cloneStrings(s.Proxy.Initializer.Args)
			proxy.Initializer = &init
		}
		clone.Proxy = &proxy
	}
	return clone
}

// MarkerName is the identifier used to derive this artifact's library placeholder.
func (s ArtifactSpec) MarkerName() string {
	if s.LinkName != "" {
		return s.LinkName
	}
	return s.Name
}

// IsProxy reports whether the artifact fronts an implementation.
func (s ArtifactSpec) IsProxy() bool {
	return s.Proxy != nil
}

// Dependencies returns every artifact that must be resolved before this one:
// base contracts, linked libraries, the proxied implementation and any
// artifact referenced by an argument. Order follows declaration, duplicates
// are dropped.
func (s ArtifactSpec) Dependencies() []string {
	var deps []string
	seen := map[string]struct{}{}
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		deps = append(deps, name)
	}
	for _, dep := range s.BaseDeps {
		add(dep)
	}
	for _, lib := range s.BaseLibs {
		add(lib)
	}
	for _, value := range s.Immutable.Values {
		if ref, ok := ArtifactReference(value); ok {
			add(ref)
		}
	}
	if s.Proxy != nil {
		add(s.Proxy.Implementation)
		if s.Proxy.Initializer != nil {
			for _, value := range s.Proxy.Initializer.Args {
				if ref, ok := ArtifactReference(value); ok {
					add(ref)
				}
			}
		}
	}
	return deps
}

// Validate checks the spec in isolation.
func (s ArtifactSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return invalidf("name is required")
	}
	if strings.TrimSpace(s.Bytecode) == "" {
		return invalidf("%s: bytecode is required", s.Name)
	}
	if len(s.Immutable.Types) != len(s.Immutable.Values) {
		return invalidf("%s: %d immutable types but %d values", s.Name, len(s.Immutable.Types), len(s.Immutable.Values))
	}
	if _, err := parseArgumentTypes(s.Immutable.Types); err != nil {
		return invalidf("%s: %v", s.Name, err)
	}
	for _, dep := range s.Dependencies() {
		if dep == s.Name {
			return &CycleError{Members: []string{s.Name, s.Name}}
		}
	}
	if s.Proxy != nil {
		if strings.TrimSpace(s.Proxy.Implementation) == "" {
			return invalidf("%s: proxy implementation is required", s.Name)
		}
		if s.Proxy.Initializer != nil && strings.TrimSpace(s.Proxy.Initializer.Signature) == "" {
			return invalidf("%s: proxy initializer signature is required", s.Name)
		}
		// The proxy address must survive implementation upgrades.
		for _, value := range s.Immutable.Values {
			if ref, ok := ArtifactReference(value); ok && ref == s.Proxy.Implementation {
				return invalidf("%s: proxy constructor cannot reference its implementation %s", s.Name, ref)
			}
		}
	}
	return nil
}

// Normalized fills proxy defaults.
func (s ArtifactSpec) Normalized() ArtifactSpec {
	clone := s.Clone()
	clone.Name = strings.TrimSpace(clone.Name)
	if clone.Proxy != nil {
		if clone.Proxy.Upgrade == "" {
			clone.Proxy.Upgrade = DefaultUpgradeSignature
		}
		if clone.Proxy.UpgradeAndCall == "" {
			clone.Proxy.UpgradeAndCall = DefaultUpgradeAndCallSignature
		}
		if clone.Proxy.Slot == "" {
			clone.Proxy.Slot = DefaultImplementationSlot
		}
	}
	return clone
}

// Table is the loaded, validated set of artifacts. It is never mutated after
// construction.
type Table struct {
	// Dir is the directory bytecode paths are resolved against.
	Dir       string
	LinkStyle LinkStyle
	specs     []ArtifactSpec
	index     map[string]int
}

// NewTable validates the specs and indexes them by name. Declaration order is
// preserved and used as the ordering tie-break.
func NewTable(specs []ArtifactSpec, opts ...TableOption) (*Table, error) {
	if len(specs) == 0 {
		return nil, invalidf("at least one artifact is required")
	}
	table := &Table{
		LinkStyle: LinkStyleHashed,
		specs:     make([]ArtifactSpec, 0, len(specs)),
		index:     make(map[string]int, len(specs)),
	}
	for _, opt := range opts {
		opt(table)
	}
	for idx, raw := range specs {
		spec := raw.Normalized()
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("manifest: artifact[%d]: %w", idx, err)
		}
		if _, exists := table.index[spec.Name]; exists {
			return nil, fmt.Errorf("manifest: %w", invalidf("duplicate artifact %s", spec.Name))
		}
		table.index[spec.Name] = len(table.specs)
		table.specs = append(table.specs, spec)
	}
	for _, spec := range table.specs {
		for _, dep := range spec.Dependencies() {
			if _, ok := table.index[dep]; !ok {
				return nil, fmt.Errorf("manifest: %s depends on %w: %s", spec.Name, ErrUnknownArtifact, dep)
			}
		}
		if spec.Proxy != nil {
			impl := table.specs[table.index[spec.Proxy.Implementation]]
			if impl.IsProxy() {
				return nil, fmt.Errorf("manifest: %w", invalidf("%s: implementation %s is itself a proxy", spec.Name, impl.Name))
			}
		}
	}
	switch table.LinkStyle {
	case LinkStyleHashed, LinkStyleLegacy:
	default:
		return nil, fmt.Errorf("manifest: %w", invalidf("link style must be %q or %q", LinkStyleHashed, LinkStyleLegacy))
	}
	return table, nil
}

// TableOption customizes a Table during construction.
type TableOption func(*Table)

// WithDir sets the directory bytecode paths are resolved against.
func WithDir(dir string) TableOption {
	return func(t *Table) {
		t.Dir = dir
	}
}

// WithLinkStyle selects the placeholder convention used by the compiler.
func WithLinkStyle(style LinkStyle) TableOption {
	return func(t *Table) {
		if style != "" {
			t.LinkStyle = style
		}
	}
}

// Resolve returns the spec registered under name.
func (t *Table) Resolve(name string) (ArtifactSpec, error) {
	idx, ok := t.index[name]
	if !ok {
		return ArtifactSpec{}, fmt.Errorf("manifest: %w: %s", ErrUnknownArtifact, name)
	}
	return t.specs[idx].Clone(), nil
}

// Names returns artifact names in declaration order.
func (t *Table) Names() []string {
	names := make([]string, len(t.specs))
	for i, spec := range t.specs {
		names[i] = spec.Name
	}
	return names
}

// Len reports how many artifacts the table declares.
func (t *Table) Len() int {
	return len(t.specs)
}

// TopologicalOrder returns the requested artifacts plus everything they
// transitively depend on, dependencies first. With no names the whole table
// is ordered. Independent artifacts keep their declaration order.
func (t *Table) TopologicalOrder(names ...string) ([]string, error) {
	if len(names) == 0 {
		names = t.Names()
	}
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(t.specs))
	var stack []string
	ordered := make([]string, 0, len(t.specs))

	var visit func(string) error
	visit = func(name string) error {
		idx, ok := t.index[name]
		if !ok {
			return fmt.Errorf("manifest: %w: %s", ErrUnknownArtifact, name)
		}
		switch color[name] {
		case black:
			return nil
		case gray:
			return &CycleError{Members: cycleFrom(stack, name)}
		}
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range t.sortedDependencies(t.specs[idx]) {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		ordered = append(ordered, name)
		return nil
	}
	for _, name := range t.sortByDeclaration(names) {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Dependents returns the artifacts that (transitively) depend on name.
func (t *Table) Dependents(name string) []string {
	var out []string
	for _, spec := range t.specs {
		if spec.Name == name {
			continue
		}
		order, err := t.TopologicalOrder(spec.Name)
		if err != nil {
			continue
		}
		for _, dep := range order {
			if dep == name {
				out = append(out, spec.Name)
				break
			}
		}
	}
	return out
}

func (t *Table) sortedDependencies(spec ArtifactSpec) []string {
	return t.sortByDeclaration(spec.Dependencies())
}

func (t *Table) sortByDeclaration(names []string) []string {
	out := cloneStrings(names)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && t.position(out[j]) < t.position(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (t *Table) position(name string) int {
	if idx, ok := t.index[name]; ok {
		return idx
	}
	return len(t.specs)
}

func cycleFrom(stack []string, name string) []string {
	for i, member := range stack {
		if member == name {
			cycle := cloneStrings(stack[i:])
			return append(cycle, name)
		}
	}
	return []string{name, name}
}

// CycleError reports the members of a dependency cycle, starting and ending
// with the same artifact.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("manifest: %s: %s", ErrCyclicDependency, strings.Join(e.Members, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
