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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/shadowvote/govcore/event"
)

// Event types published by the core. Payloads never carry nullifiers or the
// commitments of voters and delegators.
const (
	EventVoteCast                event.Type = "vote_cast"
	EventDelegationCreated       event.Type = "delegation_created"
	EventDelegationRevoked       event.Type = "delegation_revoked"
	EventTimelockQueued          event.Type = "timelock_queued"
	EventTimelockEmergencyQueued event.Type = "timelock_emergency_queued"
	EventTimelockExecuted        event.Type = "timelock_executed"
	EventTimelockCancelled       event.Type = "timelock_cancelled"
	EventTimelockExpired         event.Type = "timelock_expired"
)

// VoteCastEvent is the payload of EventVoteCast
type VoteCastEvent struct {
	ProposalID common.Hash
	Choice     VoteChoice
	Weight     uint256.Int
	Timestamp  time.Time
}

// DelegationCreatedEvent is the payload of EventDelegationCreated
type DelegationCreatedEvent struct {
	DelegationID   common.Hash
	Type           DelegationType
	Amount         uint256.Int
	DelegatedPower uint256.Int
	Timestamp      time.Time
}

// DelegationRevokedEvent is the payload of EventDelegationRevoked
type DelegationRevokedEvent struct {
	DelegationID common.Hash
	Reason       string
	Timestamp    time.Time
}

// TimelockEvent is the payload of every timelock_* event
type TimelockEvent struct {
	ActionID   common.Hash
	PayloadRef common.Hash
	State      ActionState
	Emergency  bool
	ETA        time.Time
	Authority  common.Address // guardian or admin for cancel and emergency requests
	Timestamp  time.Time
}
