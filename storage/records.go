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

package storage

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/shadowvote/govcore/governance"
)

// Database key layout. Ordered collections are keyed by a big-endian index
// so iteration returns them in their original order.
var (
	schemaKey = []byte("govcore-schema")

	nullifierPrefix  = []byte("n") // n + scope kind + scope id + nullifier -> {}
	tallyPrefix      = []byte("t") // t + proposal id -> tallyRecord
	windowPrefix     = []byte("w") // w + proposal id -> windowRecord
	votePrefix       = []byte("v") // v + index -> voteRecord
	delegationPrefix = []byte("d") // d + index -> delegationRecord
	actionPrefix     = []byte("a") // a + index -> actionRecord
)

const schemaVersion = 2

type tallyRecord struct {
	ProposalID common.Hash
	For        *big.Int
	Against    *big.Int
	Abstain    *big.Int
	VoterCount uint64
	Total      *big.Int
}

type windowRecord struct {
	ProposalID common.Hash
	EndsAt     uint64
}

type voteRecord struct {
	Nullifier  common.Hash
	ProposalID common.Hash
	Choice     uint8
	Weight     *big.Int
	RawAmount  *big.Int
	CastAt     uint64
}

type delegationRecord struct {
	ID             common.Hash
	Delegator      common.Hash
	Delegate       common.Hash
	Amount         *big.Int
	Power          *big.Int
	Type           uint8
	CreatedAt      uint64
	ExpiresAt      uint64
	RevokedAt      uint64
	Active         bool
	HasConstraints bool
	ProposalIDs    []common.Hash
}

type actionRecord struct {
	ID          common.Hash
	PayloadRef  common.Hash
	QueuedAt    uint64
	Delay       uint64
	Emergency   bool
	State       uint8
	ExecutedAt  uint64
	CancelledAt uint64
}

// encodeTime stores the zero time as 0 and everything else as Unix nanoseconds.
func encodeTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func decodeTime(n uint64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(n))
}

func toBig(v *uint256.Int) *big.Int {
	return v.ToBig()
}

func fromBig(b *big.Int) uint256.Int {
	var v uint256.Int
	if b != nil {
		v.SetFromBig(b)
	}
	return v
}

func newTallyRecord(t *governance.VoteTally) *tallyRecord {
	return &tallyRecord{
		ProposalID: t.ProposalID,
		For:        toBig(&t.ForVotes),
		Against:    toBig(&t.AgainstVotes),
		Abstain:    toBig(&t.AbstainVotes),
		VoterCount: t.VoterCount,
		Total:      toBig(&t.TotalPower),
	}
}

func (r *tallyRecord) tally() governance.VoteTally {
	return governance.VoteTally{
		ProposalID:   r.ProposalID,
		ForVotes:     fromBig(r.For),
		AgainstVotes: fromBig(r.Against),
		AbstainVotes: fromBig(r.Abstain),
		VoterCount:   r.VoterCount,
		TotalPower:   fromBig(r.Total),
	}
}

func newVoteRecord(v *governance.VoteRecord) *voteRecord {
	return &voteRecord{
		Nullifier:  v.Nullifier,
		ProposalID: v.ProposalID,
		Choice:     uint8(v.Choice),
		Weight:     toBig(&v.Weight),
		RawAmount:  toBig(&v.RawAmount),
		CastAt:     encodeTime(v.CastAt),
	}
}

func (r *voteRecord) vote() governance.VoteRecord {
	return governance.VoteRecord{
		Nullifier:  r.Nullifier,
		ProposalID: r.ProposalID,
		Choice:     governance.VoteChoice(r.Choice),
		Weight:     fromBig(r.Weight),
		RawAmount:  fromBig(r.RawAmount),
		CastAt:     decodeTime(r.CastAt),
	}
}

func newDelegationRecord(d *governance.Delegation) *delegationRecord {
	r := &delegationRecord{
		ID:        d.ID,
		Delegator: d.DelegatorCommitment,
		Delegate:  d.DelegateCommitment,
		Amount:    toBig(&d.Amount),
		Power:     toBig(&d.Power),
		Type:      uint8(d.Type),
		CreatedAt: encodeTime(d.CreatedAt),
		ExpiresAt: encodeTime(d.ExpiresAt),
		RevokedAt: encodeTime(d.RevokedAt),
		Active:    d.IsActive,
	}
	if d.Constraints != nil {
		r.HasConstraints = true
		r.ProposalIDs = d.Constraints.ProposalIDs
	}
	return r
}

func (r *delegationRecord) delegation() governance.Delegation {
	d := governance.Delegation{
		ID:                  r.ID,
		DelegatorCommitment: r.Delegator,
		DelegateCommitment:  r.Delegate,
		Amount:              fromBig(r.Amount),
		Power:               fromBig(r.Power),
		Type:                governance.DelegationType(r.Type),
		CreatedAt:           decodeTime(r.CreatedAt),
		ExpiresAt:           decodeTime(r.ExpiresAt),
		RevokedAt:           decodeTime(r.RevokedAt),
		IsActive:            r.Active,
	}
	if r.HasConstraints {
		d.Constraints = &governance.DelegationConstraints{ProposalIDs: r.ProposalIDs}
	}
	return d
}

func newActionRecord(a *governance.TimelockAction) *actionRecord {
	return &actionRecord{
		ID:          a.ID,
		PayloadRef:  a.PayloadRef,
		QueuedAt:    encodeTime(a.QueuedAt),
		Delay:       uint64(a.Delay),
		Emergency:   a.Emergency,
		State:       uint8(a.State),
		ExecutedAt:  encodeTime(a.ExecutedAt),
		CancelledAt: encodeTime(a.CancelledAt),
	}
}

func (r *actionRecord) action() governance.TimelockAction {
	return governance.TimelockAction{
		ID:          r.ID,
		PayloadRef:  r.PayloadRef,
		QueuedAt:    decodeTime(r.QueuedAt),
		Delay:       time.Duration(r.Delay),
		Emergency:   r.Emergency,
		State:       governance.ActionState(r.State),
		ExecutedAt:  decodeTime(r.ExecutedAt),
		CancelledAt: decodeTime(r.CancelledAt),
	}
}
