package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrPersistence wraps every failure to write the registry file.
var ErrPersistence = errors.New("registry: persistence failed")

// codeHashesKey is the reserved top-level key holding per-network code
// hashes. Keys starting with "_" are never treated as network names.
const codeHashesKey = "_codehashes"

// Store reads and writes the registry file. Calls are serialised so several
// networks may share one file within a run.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the JSON file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the registry file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the record for network. A missing file or network section
// yields an empty record.
func (s *Store) Load(network string) (NetworkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return NetworkRecord{}, err
	}
	record := NewRecord(network)
	if raw, ok := doc[network]; ok {
		section, err := decodeSection(raw)
		if err != nil {
			return NetworkRecord{}, fmt.Errorf("registry: %s: network %s: %w", s.path, network, err)
		}
		for name, value := range section {
			addr, ok, err := decodeAddress(value)
			if err != nil {
				return NetworkRecord{}, fmt.Errorf("registry: %s: %s/%s: %w", s.path, network, name, err)
			}
			if !ok {
				continue
			}
			record.Addresses[name] = addr
		}
	}
	hashes, err := s.codeHashes(doc)
	if err != nil {
		return NetworkRecord{}, err
	}
	for name, hash := range hashes[network] {
		record.CodeHashes[name] = hash
	}
	return record, nil
}

// Networks lists the network sections present in the file, sorted.
func (s *Store) Networks() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	var names []string
	for key := range doc {
		if strings.HasPrefix(key, "_") {
			continue
		}
		names = append(names, key)
	}
	sort.Strings(names)
	return names, nil
}

// Persist writes the record's entries into the file. Other networks, unknown
// top-level keys and entries of this network the record does not mention are
// kept as they are.
func (s *Store) Persist(record NetworkRecord) error {
	if record.Network == "" || strings.HasPrefix(record.Network, "_") {
		return fmt.Errorf("%w: invalid network name %q", ErrPersistence, record.Network)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	section := map[string]json.RawMessage{}
	if raw, ok := doc[record.Network]; ok {
		if section, err = decodeSection(raw); err != nil {
			return fmt.Errorf("%w: %s: network %s: %w", ErrPersistence, s.path, record.Network, err)
		}
	}
	for name, addr := range record.Addresses {
		section[name] = encodeAddress(addr)
	}
	if doc[record.Network], err = json.Marshal(section); err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersistence, record.Network, err)
	}

	hashes := map[string]json.RawMessage{}
	if raw, ok := doc[codeHashesKey]; ok {
		if err := json.Unmarshal(raw, &hashes); err != nil {
			return fmt.Errorf("%w: %s: %s: %w", ErrPersistence, s.path, codeHashesKey, err)
		}
	}
	networkHashes := map[string]string{}
	if raw, ok := hashes[record.Network]; ok {
		if err := json.Unmarshal(raw, &networkHashes); err != nil {
			return fmt.Errorf("%w: %s: %s/%s: %w", ErrPersistence, s.path, codeHashesKey, record.Network, err)
		}
	}
	for name := range record.Addresses {
		if hash, ok := record.CodeHashes[name]; ok {
			networkHashes[name] = hash.Hex()
		} else {
			delete(networkHashes, name)
		}
	}
	if len(networkHashes) == 0 {
		delete(hashes, record.Network)
	} else if hashes[record.Network], err = json.Marshal(networkHashes); err != nil {
		return fmt.Errorf("%w: encode code hashes: %w", ErrPersistence, err)
	}
	if len(hashes) == 0 {
		delete(doc, codeHashesKey)
	} else if doc[codeHashesKey], err = json.Marshal(hashes); err != nil {
		return fmt.Errorf("%w: encode code hashes: %w", ErrPersistence, err)
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}
	if err := writeFileAtomic(s.path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, s.path, err)
	}
	return nil
}

func (s *Store) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) codeHashes(doc map[string]json.RawMessage) (map[string]map[string]common.Hash, error) {
	raw, ok := doc[codeHashesKey]
	if !ok {
		return nil, nil
	}
	var encoded map[string]map[string]string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("registry: %s: %s: %w", s.path, codeHashesKey, err)
	}
	out := make(map[string]map[string]common.Hash, len(encoded))
	for network, entries := range encoded {
		out[network] = make(map[string]common.Hash, len(entries))
		for name, value := range entries {
			out[network][name] = common.HexToHash(value)
		}
	}
	return out, nil
}

func decodeSection(raw json.RawMessage) (map[string]json.RawMessage, error) {
	section := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &section); err != nil {
		return nil, err
	}
	return section, nil
}

// decodeAddress accepts a hex address string or null. Any other value is
// reported as not an address so it survives untouched.
func decodeAddress(raw json.RawMessage) (*common.Address, bool, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, true, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, false, nil
	}
	if !common.IsHexAddress(text) {
		return nil, false, fmt.Errorf("invalid address %q", text)
	}
	addr := common.HexToAddress(text)
	return &addr, true, nil
}

func encodeAddress(addr *common.Address) json.RawMessage {
	if addr == nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(`"` + addr.Hex() + `"`)
}
