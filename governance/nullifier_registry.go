// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package governance

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ScopeKind separates the namespaces of nullifier scopes, so a caller-chosen
// proposal id can never alias an internal scope.
type ScopeKind uint8

const (
	ScopeProposal   ScopeKind = 0x00 // one scope per proposal id
	ScopeDelegation ScopeKind = 0x01 // delegation proofs
	ScopeGuardian   ScopeKind = 0x02 // spent emergency guardian requests
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeProposal:
		return "proposal"
	case ScopeDelegation:
		return "delegation"
	case ScopeGuardian:
		return "guardian"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Scope names the namespace a nullifier is spent in
type Scope struct {
	Kind ScopeKind
	ID   common.Hash
}

// ProposalScope returns the scope of ballots on proposalID.
func ProposalScope(proposalID common.Hash) Scope {
	return Scope{Kind: ScopeProposal, ID: proposalID}
}

var (
	// DelegationScope is the nullifier scope of delegation proofs.
	DelegationScope = Scope{Kind: ScopeDelegation, ID: crypto.Keccak256Hash([]byte("delegation"))}

	// GuardianScope records spent emergency request digests.
	GuardianScope = Scope{Kind: ScopeGuardian, ID: crypto.Keccak256Hash([]byte("guardian-request"))}
)

// ConsumeResult is the outcome of NullifierRegistry.TryConsume
type ConsumeResult uint8

const (
	Consumed    ConsumeResult = 0x00 // first use, now recorded
	AlreadyUsed ConsumeResult = 0x01 // the (scope, nullifier) pair was spent before
)

// NullifierStatus is the advisory answer of NullifierRegistry.Status
type NullifierStatus uint8

const (
	NullifierUnused NullifierStatus = 0x00
	NullifierUsed   NullifierStatus = 0x01
)

// NullifierEntry is one spent (scope, nullifier) pair
type NullifierEntry struct {
	Scope     Scope
	Nullifier Nullifier
}

type nullifierShard struct {
	mu   sync.Mutex
	used map[NullifierEntry]struct{}
}

// NullifierRegistry is the exactly-once consumption ledger keyed by
// (scope, nullifier). It is sharded by nullifier so unrelated spends do not
// contend on one lock.
type NullifierRegistry struct {
	shards [lockStripes]nullifierShard
}

// NewNullifierRegistry creates an empty registry
func NewNullifierRegistry() *NullifierRegistry {
	r := new(NullifierRegistry)
	for i := range r.shards {
		r.shards[i].used = make(map[NullifierEntry]struct{})
	}
	return r
}

func (r *NullifierRegistry) shard(n Nullifier) *nullifierShard {
	return &r.shards[n[0]]
}

// TryConsume atomically spends nullifier within scope. Of any number of
// concurrent calls with the same pair exactly one observes Consumed.
// Pairs are keyed per scope, so AlreadyUsed always refers to the scope
// passed in; a spend in another scope never conflicts.
func (r *NullifierRegistry) TryConsume(scope Scope, nullifier Nullifier) ConsumeResult {
	s := r.shard(nullifier)
	key := NullifierEntry{Scope: scope, Nullifier: nullifier}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.used[key]; ok {
		return AlreadyUsed
	}
	s.used[key] = struct{}{}
	return Consumed
}

// Status reports whether the pair has been spent. The answer is advisory:
// only TryConsume decides.
func (r *NullifierRegistry) Status(scope Scope, nullifier Nullifier) NullifierStatus {
	s := r.shard(nullifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.used[NullifierEntry{Scope: scope, Nullifier: nullifier}]; ok {
		return NullifierUsed
	}
	return NullifierUnused
}

// restore marks previously spent pairs as used.
func (r *NullifierRegistry) restore(entries []NullifierEntry) {
	for _, e := range entries {
		r.TryConsume(e.Scope, e.Nullifier)
	}
}

// Entries returns every spent pair.
func (r *NullifierRegistry) Entries() []NullifierEntry {
	var entries []NullifierEntry
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for e := range s.used {
			entries = append(entries, e)
		}
		s.mu.Unlock()
	}
	return entries
}

// Len returns the number of spent pairs.
func (r *NullifierRegistry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.used)
		s.mu.Unlock()
	}
	return n
}
