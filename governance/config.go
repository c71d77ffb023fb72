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

// VotingConfig holds the configuration of the vote tally engine
type VotingConfig struct {
	Method            WeightMethod
	VoteThreshold     uint256.Int // minimum proven token amount
	MaxVotingPower    uint256.Int // 0 means unlimited
	QuorumRequired    uint256.Int
	AllowVoteChange   bool
	VerifyParallelism int // batch proof verification workers
}

// DefaultVotingConfig returns the default voting configuration
func DefaultVotingConfig() VotingConfig {
	return VotingConfig{
		Method:            WeightLinear,
		VoteThreshold:     *uint256.NewInt(1),
		QuorumRequired:    *uint256.NewInt(10_000_000_000),
		AllowVoteChange:   false,
		VerifyParallelism: 8,
	}
}

// Validate checks the voting configuration for consistency.
func (c VotingConfig) Validate() error {
	if _, err := c.Method.MarshalText(); err != nil {
		return err
	}
	if c.VerifyParallelism < 1 {
		return fmt.Errorf("%w: verify parallelism must be positive, got %d", ErrInvalidConfig, c.VerifyParallelism)
	}
	return nil
}

// DelegationConfig holds the configuration of the delegation graph
type DelegationConfig struct {
	MinAmount          uint256.Int
	MaxAmount          uint256.Int
	UseQuadratic       bool          // delegated power = sqrt(amount)
	Method             WeightMethod  // applied to net power
	LockPeriod         time.Duration // minimum age before revocation
	MaxDelegationDepth int           // only direct delegation is supported
}

// DefaultDelegationConfig returns the default delegation configuration
func DefaultDelegationConfig() DelegationConfig {
	return DelegationConfig{
		MinAmount:          *uint256.NewInt(1_000_000),
		MaxAmount:          *uint256.MustFromDecimal("1000000000000000000000000"),
		UseQuadratic:       false,
		Method:             WeightLinear,
		LockPeriod:         7 * 24 * time.Hour,
		MaxDelegationDepth: 1,
	}
}

// Validate checks the delegation configuration for consistency.
func (c DelegationConfig) Validate() error {
	if _, err := c.Method.MarshalText(); err != nil {
		return err
	}
	if !c.MaxAmount.IsZero() && c.MinAmount.Gt(&c.MaxAmount) {
		return fmt.Errorf("%w: min delegation amount %s exceeds max %s", ErrInvalidConfig, c.MinAmount.Dec(), c.MaxAmount.Dec())
	}
	if c.LockPeriod < 0 {
		return fmt.Errorf("%w: negative lock period", ErrInvalidConfig)
	}
	if c.MaxDelegationDepth != 1 {
		return fmt.Errorf("%w: max delegation depth must be 1, got %d", ErrInvalidConfig, c.MaxDelegationDepth)
	}
	return nil
}

// TimelockConfig holds the configuration of the timelock scheduler
type TimelockConfig struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	GracePeriod    time.Duration
	EmergencyDelay time.Duration // 0 means MinDelay/2
	Admin          common.Address
	Guardians      []common.Address
}

// DefaultTimelockConfig returns the default timelock configuration
func DefaultTimelockConfig() TimelockConfig {
	return TimelockConfig{
		MinDelay:    24 * time.Hour,
		MaxDelay:    30 * 24 * time.Hour,
		GracePeriod: 7 * 24 * time.Hour,
	}
}

// emergencyDelay resolves the configured emergency delay.
func (c TimelockConfig) emergencyDelay() time.Duration {
	if c.EmergencyDelay == 0 {
		return c.MinDelay / 2
	}
	return c.EmergencyDelay
}

// Validate checks the timelock configuration for consistency.
func (c TimelockConfig) Validate() error {
	if c.MinDelay <= 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("%w: delay bounds [%v, %v]", ErrInvalidConfig, c.MinDelay, c.MaxDelay)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("%w: grace period must be positive", ErrInvalidConfig)
	}
	if d := c.emergencyDelay(); d < 0 || d >= c.MinDelay {
		return fmt.Errorf("%w: emergency delay %v must be below min delay %v", ErrInvalidConfig, d, c.MinDelay)
	}
	return nil
}

// Config aggregates the configuration of every governance component
type Config struct {
	Voting     VotingConfig
	Delegation DelegationConfig
	Timelock   TimelockConfig
}

// DefaultConfig returns the default governance configuration
func DefaultConfig() Config {
	return Config{
		Voting:     DefaultVotingConfig(),
		Delegation: DefaultDelegationConfig(),
		Timelock:   DefaultTimelockConfig(),
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Voting.Validate(); err != nil {
		return fmt.Errorf("voting: %w", err)
	}
	if err := c.Delegation.Validate(); err != nil {
		return fmt.Errorf("delegation: %w", err)
	}
	if err := c.Timelock.Validate(); err != nil {
		return fmt.Errorf("timelock: %w", err)
	}
	return nil
}
