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
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvote/govcore/governance"
)

func testState() *governance.PriorState {
	at := time.Unix(1_700_000_000, 123)
	proposal := common.HexToHash("0x01")
	return &governance.PriorState{
		Nullifiers: []governance.NullifierEntry{
			{Scope: governance.ProposalScope(proposal), Nullifier: common.HexToHash("0xaa")},
			{Scope: governance.DelegationScope, Nullifier: common.HexToHash("0xbb")},
		},
		Tallies: []governance.VoteTally{{
			ProposalID: proposal,
			ForVotes:   *uint256.NewInt(10),
			VoterCount: 1,
			TotalPower: *uint256.NewInt(10),
		}},
		Votes: []governance.VoteRecord{{
			Nullifier:  common.HexToHash("0xaa"),
			ProposalID: proposal,
			Choice:     governance.ChoiceFor,
			Weight:     *uint256.NewInt(10),
			RawAmount:  *uint256.NewInt(100),
			CastAt:     at,
		}},
		Proposals: []governance.ProposalWindow{{ProposalID: proposal, VotingEndsAt: at.Add(time.Hour)}},
		Delegations: []governance.Delegation{
			{
				ID:                  common.HexToHash("0xd1"),
				DelegatorCommitment: common.HexToHash("0xc1"),
				DelegateCommitment:  common.HexToHash("0xc2"),
				Amount:              *uint256.MustFromDecimal("1000000000000000000000"),
				Power:               *uint256.MustFromDecimal("1000000000000000000000"),
				Type:                governance.DelegationScoped,
				CreatedAt:           at,
				IsActive:            true,
				Constraints:         &governance.DelegationConstraints{ProposalIDs: []common.Hash{proposal}},
			},
			{
				ID:                  common.HexToHash("0xd2"),
				DelegatorCommitment: common.HexToHash("0xc3"),
				DelegateCommitment:  common.HexToHash("0xc2"),
				Amount:              *uint256.NewInt(5_000_000),
				Power:               *uint256.NewInt(5_000_000),
				CreatedAt:           at,
				RevokedAt:           at.Add(time.Minute),
			},
		},
		Actions: []governance.TimelockAction{{
			ID:         common.HexToHash("0xe1"),
			PayloadRef: common.HexToHash("0xf1"),
			QueuedAt:   at,
			Delay:      24 * time.Hour,
			State:      governance.ActionExecuted,
			ExecutedAt: at.Add(25 * time.Hour),
		}},
	}
}

func requireSameState(t *testing.T, want, got *governance.PriorState) {
	t.Helper()
	assert.ElementsMatch(t, want.Nullifiers, got.Nullifiers)
	assert.Equal(t, want.Tallies, got.Tallies)
	require.Len(t, got.Votes, len(want.Votes))
	for i := range want.Votes {
		assert.True(t, want.Votes[i].CastAt.Equal(got.Votes[i].CastAt))
		assert.Equal(t, want.Votes[i].Weight, got.Votes[i].Weight)
		assert.Equal(t, want.Votes[i].Nullifier, got.Votes[i].Nullifier)
	}
	require.Len(t, got.Proposals, len(want.Proposals))
	assert.True(t, want.Proposals[0].VotingEndsAt.Equal(got.Proposals[0].VotingEndsAt))
	require.Len(t, got.Delegations, len(want.Delegations))
	for i := range want.Delegations {
		w, g := want.Delegations[i], got.Delegations[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.Amount, g.Amount)
		assert.Equal(t, w.IsActive, g.IsActive)
		assert.Equal(t, w.Constraints, g.Constraints)
		assert.True(t, w.RevokedAt.Equal(g.RevokedAt))
		assert.Equal(t, w.ExpiresAt.IsZero(), g.ExpiresAt.IsZero())
	}
	require.Len(t, got.Actions, len(want.Actions))
	assert.Equal(t, want.Actions[0].State, got.Actions[0].State)
	assert.Equal(t, want.Actions[0].Delay, got.Actions[0].Delay)
	assert.True(t, want.Actions[0].ExecutedAt.Equal(got.Actions[0].ExecutedAt))
	assert.True(t, got.Actions[0].CancelledAt.IsZero())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Config{Engine: EngineMemory}.Validate())
	require.ErrorIs(t, Config{Engine: "rocksdb"}.Validate(), ErrUnknownEngine)
	require.Error(t, Config{Engine: EngineLevelDB}.Validate())
}

func TestStoreEmpty(t *testing.T) {
	s, err := Open(Config{Engine: EngineMemory})
	require.NoError(t, err)
	defer s.Close()

	state, err := s.LoadPriorState()
	require.NoError(t, err)
	assert.Empty(t, state.Nullifiers)
	assert.Empty(t, state.Delegations)
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	s, err := Open(Config{Engine: EngineMemory})
	require.NoError(t, err)
	defer s.Close()

	want := testState()
	require.NoError(t, s.SaveSnapshot(want))
	got, err := s.LoadPriorState()
	require.NoError(t, err)
	requireSameState(t, want, got)

	// A later, smaller snapshot replaces the earlier one entirely.
	smaller := testState()
	smaller.Delegations = smaller.Delegations[:1]
	smaller.Nullifiers = nil
	require.NoError(t, s.SaveSnapshot(smaller))
	got, err = s.LoadPriorState()
	require.NoError(t, err)
	assert.Len(t, got.Delegations, 1)
	assert.Empty(t, got.Nullifiers)
}

func TestStoreDiskEngines(t *testing.T) {
	for _, engine := range []Engine{EngineLevelDB, EnginePebble} {
		t.Run(string(engine), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Engine = engine
			cfg.DataDir = t.TempDir()

			s, err := Open(cfg)
			require.NoError(t, err)

			_, err = Open(cfg)
			require.ErrorIs(t, err, ErrDataDirLocked)

			want := testState()
			require.NoError(t, s.SaveSnapshot(want))
			require.NoError(t, s.Close())

			s, err = Open(cfg)
			require.NoError(t, err)
			defer s.Close()
			got, err := s.LoadPriorState()
			require.NoError(t, err)
			requireSameState(t, want, got)
		})
	}
}

func TestStoreResumesCore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{Engine: EngineMemory})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SaveSnapshot(testState()))

	core, err := governance.New(governance.DefaultConfig(), rejectAll{}, s)
	require.NoError(t, err)
	require.NoError(t, core.Initialize(ctx))

	status, err := core.NullifierStatus(governance.ProposalScope(common.HexToHash("0x01")), common.HexToHash("0xaa"))
	require.NoError(t, err)
	assert.Equal(t, governance.NullifierUsed, status)

	tally, err := core.GetVoteTally(common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), tally.ForVotes.Uint64())

	d, err := core.GetDelegation(common.HexToHash("0xd2"))
	require.NoError(t, err)
	assert.False(t, d.IsActive)

	snap, err := core.Snapshot()
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(snap))
}

type rejectAll struct{}

func (rejectAll) VerifyProof(governance.Proof) bool { return false }

func (rejectAll) ExtractPublicValue(governance.Proof, string) ([]byte, error) { return nil, nil }
