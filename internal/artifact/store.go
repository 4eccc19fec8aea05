package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
)

// Store loads compiled artifacts and caches them by path for the lifetime
// of a run. Networks in a fleet share one store.
type Store struct {
	mu       sync.Mutex
	readFile func(string) ([]byte, error)
	cache    map[string]Bytecode
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithReader overrides how files are read.
func WithReader(read func(string) ([]byte, error)) StoreOption {
	return func(s *Store) {
		s.readFile = read
	}
}

// NewStore builds an artifact store.
func NewStore(opts ...StoreOption) *Store {
	store := &Store{
		readFile: os.ReadFile,
		cache:    map[string]Bytecode{},
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Check inspects the artifact on disk without failing on a missing file.
func (s *Store) Check(path string) (CheckResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Path: path, State: StateMissing}, nil
		}
		return CheckResult{Path: path, State: StateError, Err: err}, err
	}
	if info.IsDir() {
		err := fmt.Errorf("artifact: expected file got directory: %s", path)
		return CheckResult{Path: path, State: StateInvalid, Err: err}, err
	}
	code, err := s.Load("", path)
	if err != nil {
		return CheckResult{Path: path, State: StateInvalid, Err: err}, err
	}
	return CheckResult{Path: path, State: StateReady, Kind: code.Kind}, nil
}

// Load returns the creation bytecode stored at path.
func (s *Store) Load(name, path string) (Bytecode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[path]; ok {
		cached.Name = name
		return cached, nil
	}
	data, err := s.readFile(path)
	if err != nil {
		return Bytecode{}, fmt.Errorf("artifact: read %s: %w", path, err)
	}
	code, err := Parse(path, data)
	if err != nil {
		return Bytecode{}, err
	}
	s.cache[path] = code
	code.Name = name
	return code, nil
}

// Parse decodes an artifact payload. The path is used for format detection
// and error messages only.
func Parse(path string, data []byte) (Bytecode, error) {
	kind := DetectKind(path, data)
	code := Bytecode{Path: path, Kind: kind}
	switch kind {
	case KindHex:
		code.Hex = strings.TrimSpace(string(data))
	case KindHardhat, KindFoundry:
		raw, err := decodeJSON(data)
		if err != nil {
			return Bytecode{}, fmt.Errorf("artifact: parse %s: %w", path, err)
		}
		code.Hex = raw.Bytecode.hex
		code.LinkReferences = raw.Bytecode.linkReferences()
	default:
		return Bytecode{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	code.Hex = strings.TrimPrefix(strings.TrimPrefix(code.Hex, "0x"), "0X")
	if code.Hex == "" {
		return Bytecode{}, fmt.Errorf("%w: %s", ErrEmptyBytecode, path)
	}
	if len(code.Hex)%2 != 0 {
		return Bytecode{}, fmt.Errorf("artifact: %s: odd-length hex", path)
	}
	return code, nil
}

type jsonArtifact struct {
	Bytecode       bytecodeField             `json:"bytecode"`
	LinkReferences map[string]map[string]any `json:"linkReferences"`
}

// bytecodeField accepts both the Hardhat string form and the Foundry object
// form of "bytecode".
type bytecodeField struct {
	kind  Kind
	hex   string
	links map[string]map[string]any
}

func (f *bytecodeField) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		f.kind = KindHardhat
		f.hex = text
		return nil
	}
	var object struct {
		Object         string                    `json:"object"`
		LinkReferences map[string]map[string]any `json:"linkReferences"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("bytecode field: %w", err)
	}
	f.kind = KindFoundry
	f.hex = object.Object
	f.links = object.LinkReferences
	return nil
}

func (f bytecodeField) linkReferences() []string {
	return flattenLinks(f.links)
}

func decodeJSON(data []byte) (jsonArtifact, error) {
	var raw jsonArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return jsonArtifact{}, err
	}
	if raw.Bytecode.kind == KindHardhat && len(raw.LinkReferences) > 0 {
		raw.Bytecode.links = raw.LinkReferences
	}
	return raw, nil
}

// flattenLinks turns {"src/Lib.sol": {"Lib": [...]}} into "src/Lib.sol:Lib".
func flattenLinks(links map[string]map[string]any) []string {
	if len(links) == 0 {
		return nil
	}
	var out []string
	for file, libs := range links {
		for lib := range libs {
			out = append(out, file+":"+lib)
		}
	}
	sort.Strings(out)
	return out
}
