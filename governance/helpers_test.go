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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/shadowvote/govcore/event"
)

var testEpoch = time.Unix(1_700_000_000, 0)

func newTestClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(testEpoch)
	return clk
}

// mockVerifier accepts the proofs it issued and serves their public outputs.
type mockVerifier struct {
	mu     sync.Mutex
	next   int
	proofs map[string]map[string][]byte
}

func newMockVerifier() *mockVerifier {
	return &mockVerifier{proofs: make(map[string]map[string][]byte)}
}

func (v *mockVerifier) VerifyProof(proof Proof) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.proofs[string(proof)]
	return ok
}

func (v *mockVerifier) ExtractPublicValue(proof Proof, field string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fields, ok := v.proofs[string(proof)]
	if !ok {
		return nil, errors.New("unknown proof")
	}
	return fields[field], nil
}

func (v *mockVerifier) issue(fields map[string][]byte) Proof {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next++
	proof := Proof(fmt.Sprintf("proof-%d", v.next))
	v.proofs[string(proof)] = fields
	return proof
}

// voteProof issues a ballot proof spending nullifier with a proven amount.
func (v *mockVerifier) voteProof(nullifier Nullifier, amount uint64) Proof {
	amt := uint256.NewInt(amount).Bytes()
	if len(amt) == 0 {
		amt = []byte{0}
	}
	return v.issue(map[string][]byte{
		FieldNullifier:   nullifier.Bytes(),
		FieldTokenAmount: amt,
	})
}

// ownerProof issues a proof opening to commitment only, as used for
// revocation.
func (v *mockVerifier) ownerProof(commitment Commitment) Proof {
	return v.issue(map[string][]byte{FieldCommitment: commitment.Bytes()})
}

// delegationProof issues a delegation proof for commitment spending nullifier
// with a proven token balance.
func (v *mockVerifier) delegationProof(commitment Commitment, nullifier Nullifier, balance *uint256.Int) Proof {
	bal := balance.Bytes()
	if len(bal) == 0 {
		bal = []byte{0}
	}
	return v.issue(map[string][]byte{
		FieldCommitment:  commitment.Bytes(),
		FieldNullifier:   nullifier.Bytes(),
		FieldTokenAmount: bal,
	})
}

func testHash(s string) common.Hash {
	return crypto.Keccak256Hash([]byte(s))
}

type published struct {
	typ     event.Type
	payload any
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(typ event.Type, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{typ, payload})
}

func (p *recordingPublisher) ofType(typ event.Type) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, e := range p.events {
		if e.typ == typ {
			out = append(out, e.payload)
		}
	}
	return out
}
