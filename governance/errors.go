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
)

// Lifecycle errors
var (
	ErrNotInitialized      = errors.New("governance core not initialized")
	ErrAlreadyInitialized  = errors.New("governance core already initialized")
	ErrInvalidConfig       = errors.New("invalid governance configuration")
	ErrInvalidWeightMethod = errors.New("invalid weight method")
)

// Proof errors
var (
	ErrInvalidProof = errors.New("invalid proof")
)

// Voting errors
var (
	ErrAlreadyVoted      = errors.New("nullifier already used for this proposal")
	ErrBelowThreshold    = errors.New("token amount below voting threshold")
	ErrInvalidChoice     = errors.New("invalid vote choice")
	ErrVotingPeriodEnded = errors.New("voting period has ended")
)

// Delegation errors
var (
	ErrAmountTooLow          = errors.New("delegation amount below minimum")
	ErrAmountTooHigh         = errors.New("delegation amount above maximum")
	ErrAlreadyExists         = errors.New("delegation already exists")
	ErrNotFound              = errors.New("not found")
	ErrAlreadyRevoked        = errors.New("delegation already revoked")
	ErrLocked                = errors.New("delegation is locked")
	ErrSelfDelegation        = errors.New("cannot delegate to self")
	ErrInvalidConstraints    = errors.New("invalid delegation constraints")
	ErrNotDelegator          = errors.New("proof does not belong to the delegator")
	ErrDelegationAlreadyUsed = errors.New("delegation nullifier already used")
	ErrExceedsProvenBalance  = errors.New("delegation amount exceeds proven balance")
)

// Timelock errors
var (
	ErrNotReady         = errors.New("timelock action not ready")
	ErrExpired          = errors.New("timelock action expired")
	ErrAlreadyExecuted  = errors.New("timelock action already executed")
	ErrAlreadyCancelled = errors.New("timelock action already cancelled")
	ErrUnauthorized     = errors.New("caller is not a guardian or admin")
	ErrInvalidDelay     = errors.New("timelock delay out of bounds")

	ErrExecutionInProgress = errors.New("timelock action execution in progress")
)

// LockedError reports a revocation attempted inside the delegation lock period.
type LockedError struct {
	SecondsRemaining uint64
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v: %d seconds remaining", ErrLocked, e.SecondsRemaining)
}

// Is makes errors.Is(err, ErrLocked) hold for every LockedError.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}
