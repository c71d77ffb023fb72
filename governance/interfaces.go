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
	"github.com/ethereum/go-ethereum/common"

	"github.com/shadowvote/govcore/event"
)

// ProofVerifier is the external zero-knowledge proof capability
type ProofVerifier interface {
	// VerifyProof reports whether the proof is valid
	VerifyProof(proof Proof) bool

	// ExtractPublicValue returns a named public output of the proof, or nil
	// without error when the proof carries no such output
	ExtractPublicValue(proof Proof, field string) ([]byte, error)
}

// StateLoader supplies the state the core resumes from at startup
type StateLoader interface {
	// LoadPriorState is called exactly once by Core.Initialize
	LoadPriorState() (*PriorState, error)
}

// Publisher receives committed domain events. Implementations must not block.
type Publisher interface {
	Publish(eventType event.Type, payload any)
}

// ActionExecutor carries out the payload of a timelocked action
type ActionExecutor interface {
	// ExecuteAction runs the payload referenced by payloadRef. It is called
	// without scheduler locks held, so it may use the TimelockScheduler
	// directly, but it must not call back into the Core: Core.Execute holds
	// the core state lock until the executor returns.
	ExecuteAction(actionID common.Hash, payloadRef common.Hash) error
}

// nopPublisher drops every event.
type nopPublisher struct{}

func (nopPublisher) Publish(event.Type, any) {}
