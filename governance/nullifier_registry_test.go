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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestNullifierRegistry_ConsumeOnce(t *testing.T) {
	r := NewNullifierRegistry()
	scope := ProposalScope(common.HexToHash("0x01"))
	n := crypto.Keccak256Hash([]byte("voter-1"))

	if st := r.Status(scope, n); st != NullifierUnused {
		t.Fatalf("fresh nullifier status = %d, want unused", st)
	}
	if res := r.TryConsume(scope, n); res != Consumed {
		t.Fatalf("first consume = %d, want consumed", res)
	}
	if res := r.TryConsume(scope, n); res != AlreadyUsed {
		t.Fatalf("second consume = %d, want already used", res)
	}
	if st := r.Status(scope, n); st != NullifierUsed {
		t.Fatalf("spent nullifier status = %d, want used", st)
	}
}

func TestNullifierRegistry_ScopesAreIndependent(t *testing.T) {
	r := NewNullifierRegistry()
	n := crypto.Keccak256Hash([]byte("voter-1"))

	if r.TryConsume(ProposalScope(common.HexToHash("0x01")), n) != Consumed {
		t.Fatal("consume in scope 1 failed")
	}
	if r.TryConsume(ProposalScope(common.HexToHash("0x02")), n) != Consumed {
		t.Fatal("same nullifier in another scope must be unrelated")
	}
	if r.TryConsume(DelegationScope, n) != Consumed {
		t.Fatal("delegation scope must be unrelated to proposal scopes")
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
}

func TestNullifierRegistry_ProposalCannotAliasInternalScopes(t *testing.T) {
	r := NewNullifierRegistry()
	n := crypto.Keccak256Hash([]byte("voter-1"))

	// A caller-chosen proposal id equal to an internal scope id.
	for _, internal := range []Scope{DelegationScope, GuardianScope} {
		if r.TryConsume(internal, n) != Consumed {
			t.Fatalf("consume in %v scope failed", internal.Kind)
		}
		if r.TryConsume(ProposalScope(internal.ID), n) != Consumed {
			t.Errorf("proposal %x collided with the %v scope", internal.ID, internal.Kind)
		}
		if r.Status(ProposalScope(internal.ID), n) != NullifierUsed {
			t.Errorf("proposal %x spend not recorded", internal.ID)
		}
	}
}

func TestNullifierRegistry_ConcurrentExactlyOnce(t *testing.T) {
	r := NewNullifierRegistry()
	scope := ProposalScope(common.HexToHash("0xaa"))

	const (
		nullifiers = 16
		racers     = 32
	)
	var (
		wg       sync.WaitGroup
		consumed [nullifiers]atomic.Int32
		rejected [nullifiers]atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < nullifiers; i++ {
		n := crypto.Keccak256Hash([]byte{byte(i)})
		for j := 0; j < racers; j++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				if r.TryConsume(scope, n) == Consumed {
					consumed[i].Add(1)
				} else {
					rejected[i].Add(1)
				}
			}(i)
		}
	}
	close(start)
	wg.Wait()

	for i := 0; i < nullifiers; i++ {
		if got := consumed[i].Load(); got != 1 {
			t.Errorf("nullifier %d consumed %d times, want exactly 1", i, got)
		}
		if got := rejected[i].Load(); got != racers-1 {
			t.Errorf("nullifier %d rejected %d times, want %d", i, got, racers-1)
		}
	}
}

func TestNullifierRegistry_RestoreAndEntries(t *testing.T) {
	r := NewNullifierRegistry()
	entries := []NullifierEntry{
		{Scope: ProposalScope(common.HexToHash("0x01")), Nullifier: common.HexToHash("0x0a")},
		{Scope: GuardianScope, Nullifier: common.HexToHash("0x0b")},
	}
	r.restore(entries)

	for _, e := range entries {
		if r.TryConsume(e.Scope, e.Nullifier) != AlreadyUsed {
			t.Errorf("restored entry %v/%x/%x must be spent", e.Scope.Kind, e.Scope.ID, e.Nullifier)
		}
	}
	if got := len(r.Entries()); got != len(entries) {
		t.Errorf("entries = %d, want %d", got, len(entries))
	}
}
