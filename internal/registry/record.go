// Package registry persists the addresses resolved for each artifact on each
// network. A record is a value: updates return a new record and nothing is
// written until the store persists it.
package registry

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkRecord is the registry section for one network. A nil address means
// the artifact is known but not yet observed on chain.
type NetworkRecord struct {
	Network    string
	Addresses  map[string]*common.Address
	CodeHashes map[string]common.Hash
}

// NewRecord returns an empty record for network.
func NewRecord(network string) NetworkRecord {
	return NetworkRecord{
		Network:    network,
		Addresses:  map[string]*common.Address{},
		CodeHashes: map[string]common.Hash{},
	}
}

// Get returns the recorded address. Unset and zero addresses report false.
func (r NetworkRecord) Get(name string) (common.Address, bool) {
	addr := r.Addresses[name]
	if addr == nil || *addr == (common.Address{}) {
		return common.Address{}, false
	}
	return *addr, true
}

// CodeHash returns the code hash captured when the address was recorded.
func (r NetworkRecord) CodeHash(name string) (common.Hash, bool) {
	hash, ok := r.CodeHashes[name]
	return hash, ok
}

// RecordDeployment returns a copy of the record with name bound to addr.
// A zero codeHash leaves any previous hash out.
func (r NetworkRecord) RecordDeployment(name string, addr common.Address, codeHash common.Hash) NetworkRecord {
	next := r.Clone()
	bound := addr
	next.Addresses[name] = &bound
	if codeHash == (common.Hash{}) {
		delete(next.CodeHashes, name)
	} else {
		next.CodeHashes[name] = codeHash
	}
	return next
}

// MergeMissing returns a copy of the record where every name without an
// entry is present with a nil address. Existing entries are untouched.
func (r NetworkRecord) MergeMissing(names []string) NetworkRecord {
	next := r.Clone()
	for _, name := range names {
		if _, ok := next.Addresses[name]; !ok {
			next.Addresses[name] = nil
		}
	}
	return next
}

// Names returns the artifact names present in the record, sorted.
func (r NetworkRecord) Names() []string {
	names := make([]string, 0, len(r.Addresses))
	for name := range r.Addresses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (r NetworkRecord) Clone() NetworkRecord {
	next := NewRecord(r.Network)
	for name, addr := range r.Addresses {
		if addr == nil {
			next.Addresses[name] = nil
			continue
		}
		copied := *addr
		next.Addresses[name] = &copied
	}
	for name, hash := range r.CodeHashes {
		next.CodeHashes[name] = hash
	}
	return next
}
