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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Nullifier is a single-use token proving that an eligible party has not
// already acted within a scope.
type Nullifier = common.Hash

// Commitment stands in for an identity in place of a plaintext key.
type Commitment = common.Hash

// Proof is an opaque zero-knowledge proof. Its contents are only
// interpreted by a ProofVerifier.
type Proof []byte

// Public output names read from proofs through ProofVerifier.ExtractPublicValue.
const (
	FieldNullifier   = "nullifier"
	FieldTokenAmount = "tokenAmount"
	FieldCommitment  = "commitment"
)

// WeightMethod selects how a token amount maps to voting power
type WeightMethod uint8

const (
	WeightLinear     WeightMethod = 0x00 // power == amount
	WeightQuadratic  WeightMethod = 0x01 // power == floor(sqrt(amount))
	WeightConviction WeightMethod = 0x02 // linear; lock multipliers live outside the core
)

func (m WeightMethod) String() string {
	switch m {
	case WeightLinear:
		return "linear"
	case WeightQuadratic:
		return "quadratic"
	case WeightConviction:
		return "conviction"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m WeightMethod) MarshalText() ([]byte, error) {
	switch m {
	case WeightLinear, WeightQuadratic, WeightConviction:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidWeightMethod, uint8(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *WeightMethod) UnmarshalText(text []byte) error {
	switch string(text) {
	case "linear":
		*m = WeightLinear
	case "quadratic":
		*m = WeightQuadratic
	case "conviction":
		*m = WeightConviction
	default:
		return fmt.Errorf("%w: %q", ErrInvalidWeightMethod, text)
	}
	return nil
}

// VoteChoice is the option a ballot supports
type VoteChoice uint8

const (
	ChoiceFor     VoteChoice = 0x00
	ChoiceAgainst VoteChoice = 0x01
	ChoiceAbstain VoteChoice = 0x02
)

func (c VoteChoice) String() string {
	switch c {
	case ChoiceFor:
		return "for"
	case ChoiceAgainst:
		return "against"
	case ChoiceAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the three ballot options.
func (c VoteChoice) Valid() bool {
	return c <= ChoiceAbstain
}

// VoteRecord is an accepted ballot. Records are never mutated; with vote
// changing enabled a later record supersedes an earlier one.
type VoteRecord struct {
	Nullifier  Nullifier
	ProposalID common.Hash
	Choice     VoteChoice
	Weight     uint256.Int
	RawAmount  uint256.Int
	CastAt     time.Time
	Superseded bool
}

// VoteTally aggregates the weighted choices of one proposal
type VoteTally struct {
	ProposalID   common.Hash
	ForVotes     uint256.Int
	AgainstVotes uint256.Int
	AbstainVotes uint256.Int
	VoterCount   uint64
	TotalPower   uint256.Int
}

// Leader names the currently winning side of a proposal
type Leader string

const (
	LeaderFor     Leader = "for"
	LeaderAgainst Leader = "against"
	LeaderTie     Leader = "tie"
)

// VotingStats extends a tally with derived participation figures
type VotingStats struct {
	Tally             VoteTally
	ParticipationRate float64       // totalPower / quorumRequired
	QuorumReached     bool          // totalPower >= quorumRequired
	TimeRemaining     time.Duration // zero when no deadline is known or it has passed
	CurrentLeader     Leader
}

// DelegationType describes the breadth of a delegation
type DelegationType uint8

const (
	DelegationFull    DelegationType = 0x00 // all of the amount, all proposals
	DelegationPartial DelegationType = 0x01 // part of the delegator's tokens
	DelegationScoped  DelegationType = 0x02 // restricted to listed proposals
)

func (t DelegationType) String() string {
	switch t {
	case DelegationFull:
		return "full"
	case DelegationPartial:
		return "partial"
	case DelegationScoped:
		return "scoped"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// DelegationConstraints narrows where a delegation applies.
// An empty ProposalIDs list means every proposal.
type DelegationConstraints struct {
	ProposalIDs []common.Hash
}

// Delegation is a directed edge from a delegator to a delegate.
// Revocation is a tombstone; records are never deleted.
type Delegation struct {
	ID                  common.Hash
	DelegatorCommitment Commitment
	DelegateCommitment  Commitment
	Amount              uint256.Int
	Power               uint256.Int
	Type                DelegationType
	CreatedAt           time.Time
	ExpiresAt           time.Time // zero means no expiry
	RevokedAt           time.Time // zero while not revoked
	IsActive            bool
	Constraints         *DelegationConstraints

	seq uint64 // insertion order
}

// IsExpired reports whether the delegation has passively expired at now.
func (d *Delegation) IsExpired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// IsValidForProposal reports whether the delegation's constraints allow it to
// count towards proposalID. A nil proposalID matches every delegation.
func (d *Delegation) IsValidForProposal(proposalID *common.Hash) bool {
	if proposalID == nil || d.Constraints == nil || len(d.Constraints.ProposalIDs) == 0 {
		return true
	}
	for _, id := range d.Constraints.ProposalIDs {
		if id == *proposalID {
			return true
		}
	}
	return false
}

// counts reports whether the delegation contributes power at now for proposalID.
func (d *Delegation) counts(now time.Time, proposalID *common.Hash) bool {
	return d.IsActive && !d.IsExpired(now) && d.IsValidForProposal(proposalID)
}

func (d *Delegation) copy() *Delegation {
	cpy := *d
	if d.Constraints != nil {
		cpy.Constraints = &DelegationConstraints{
			ProposalIDs: append([]common.Hash(nil), d.Constraints.ProposalIDs...),
		}
	}
	return &cpy
}

// DelegateRank is one row of the delegate leaderboard
type DelegateRank struct {
	Commitment      Commitment
	ReceivedPower   uint256.Int
	DelegationCount int
}

// DelegationStats summarises the delegation graph
type DelegationStats struct {
	TotalDelegations  int
	ActiveDelegations int
	TotalActivePower  uint256.Int
	TopDelegates      []DelegateRank
}

// ActionState is the lifecycle state of a timelocked action
type ActionState uint8

const (
	ActionQueued     ActionState = 0x00
	ActionExecutable ActionState = 0x01 // derived on read
	ActionExecuted   ActionState = 0x02
	ActionCancelled  ActionState = 0x03
	ActionExpired    ActionState = 0x04 // derived on read
)

func (s ActionState) String() string {
	switch s {
	case ActionQueued:
		return "queued"
	case ActionExecutable:
		return "executable"
	case ActionExecuted:
		return "executed"
	case ActionCancelled:
		return "cancelled"
	case ActionExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s ActionState) Terminal() bool {
	return s == ActionExecuted || s == ActionCancelled || s == ActionExpired
}

// TimelockAction is a delayed action. State holds the stored state
// (Queued, Executed or Cancelled); Executable and Expired are derived from
// the clock by the scheduler.
type TimelockAction struct {
	ID          common.Hash
	PayloadRef  common.Hash
	QueuedAt    time.Time
	Delay       time.Duration
	Emergency   bool
	State       ActionState
	ExecutedAt  time.Time
	CancelledAt time.Time

	expiryReported bool
	executing      bool // executor running
}

// ETA is the first instant the action may execute.
func (a *TimelockAction) ETA() time.Time {
	return a.QueuedAt.Add(a.Delay)
}
