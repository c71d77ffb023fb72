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
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type graphFixture struct {
	proofs     int
	graph      *DelegationGraph
	verifier   *mockVerifier
	nullifiers *NullifierRegistry
	clock      *clock.Mock
	publisher  *recordingPublisher
}

func newGraphFixture(config DelegationConfig) *graphFixture {
	f := &graphFixture{
		verifier:   newMockVerifier(),
		nullifiers: NewNullifierRegistry(),
		clock:      newTestClock(),
		publisher:  new(recordingPublisher),
	}
	f.graph = NewDelegationGraph(config, f.verifier, f.nullifiers, f.clock, f.publisher)
	return f
}

// input builds a request backed by a fresh proof whose balance equals amount.
func (f *graphFixture) input(from, to Commitment, amount uint64) DelegationInput {
	f.proofs++
	nullifier := testHash(fmt.Sprintf("delegation-%d", f.proofs))
	return DelegationInput{
		DelegatorCommitment: from,
		DelegateCommitment:  to,
		Amount:              *uint256.NewInt(amount),
		Type:                DelegationFull,
		Proof:               f.verifier.delegationProof(from, nullifier, uint256.NewInt(amount)),
	}
}

func (f *graphFixture) mustDelegate(t *testing.T, from, to Commitment, amount uint64) *Delegation {
	t.Helper()
	d, err := f.graph.Delegate(f.input(from, to, amount))
	if err != nil {
		t.Fatalf("delegate %x -> %x: %v", from[:4], to[:4], err)
	}
	return d
}

func (f *graphFixture) revokeInput(d *Delegation) RevokeInput {
	return RevokeInput{
		DelegationID: d.ID,
		Reason:       "changed mind",
		Proof:        f.verifier.ownerProof(d.DelegatorCommitment),
	}
}

var (
	alice = testHash("alice")
	bob   = testHash("bob")
	carol = testHash("carol")
	dave  = testHash("dave")
)

func TestPowerOfAdditivity(t *testing.T) {
	f := newGraphFixture(DefaultDelegationConfig())
	f.mustDelegate(t, bob, alice, 2_000_000_000)
	f.mustDelegate(t, alice, carol, 500_000_000)

	power := f.graph.PowerOf(alice, uint256.NewInt(1_000_000_000), nil)
	if power.Uint64() != 2_500_000_000 {
		t.Fatalf("power = %s, want 2500000000", power.Dec())
	}
}

func TestPowerOfQuadraticAndClamp(t *testing.T) {
	config := DefaultDelegationConfig()
	config.Method = WeightQuadratic
	f := newGraphFixture(config)
	f.mustDelegate(t, bob, alice, 8_000_000)

	if power := f.graph.PowerOf(alice, uint256.NewInt(1_000_000), nil); power.Uint64() != 3000 {
		t.Errorf("quadratic net power = %s, want sqrt(9e6) = 3000", power.Dec())
	}
	// Bob gave away more than he holds.
	if power := f.graph.PowerOf(bob, uint256.NewInt(1_000_000), nil); !power.IsZero() {
		t.Errorf("negative net power = %s, want clamp to 0", power.Dec())
	}
}

func TestDelegateQuadraticPower(t *testing.T) {
	config := DefaultDelegationConfig()
	config.UseQuadratic = true
	f := newGraphFixture(config)

	d := f.mustDelegate(t, bob, alice, 4_000_000)
	if d.Power.Uint64() != 2000 || d.Amount.Uint64() != 4_000_000 {
		t.Errorf("power = %s amount = %s, want 2000 and 4000000", d.Power.Dec(), d.Amount.Dec())
	}
}

func TestRevocationLock(t *testing.T) {
	config := DefaultDelegationConfig()
	config.LockPeriod = 604800 * time.Second
	f := newGraphFixture(config)
	d := f.mustDelegate(t, bob, alice, 2_000_000)

	f.clock.Add(604799 * time.Second)
	_, err := f.graph.Revoke(f.revokeInput(d))
	var locked *LockedError
	if !errors.As(err, &locked) || locked.SecondsRemaining != 1 {
		t.Fatalf("revoke at t0+604799: err = %v, want Locked(1)", err)
	}
	if !errors.Is(err, ErrLocked) {
		t.Error("LockedError must match ErrLocked")
	}

	f.clock.Add(time.Second)
	revoked, err := f.graph.Revoke(f.revokeInput(d))
	if err != nil {
		t.Fatalf("revoke at t0+604800: %v", err)
	}
	if revoked.IsActive || !revoked.RevokedAt.Equal(f.clock.Now()) {
		t.Errorf("revoked record = %+v", revoked)
	}
	if _, err := f.graph.Revoke(f.revokeInput(d)); !errors.Is(err, ErrAlreadyRevoked) {
		t.Errorf("double revoke: err = %v, want ErrAlreadyRevoked", err)
	}
	if power := f.graph.PowerOf(alice, uint256.NewInt(0), nil); !power.IsZero() {
		t.Errorf("revoked delegation still counts: %s", power.Dec())
	}
}

func TestRevocationLockRoundsUp(t *testing.T) {
	config := DefaultDelegationConfig()
	config.LockPeriod = 10 * time.Second
	f := newGraphFixture(config)
	d := f.mustDelegate(t, bob, alice, 2_000_000)

	f.clock.Add(8500 * time.Millisecond)
	_, err := f.graph.Revoke(f.revokeInput(d))
	var locked *LockedError
	if !errors.As(err, &locked) || locked.SecondsRemaining != 2 {
		t.Fatalf("err = %v, want Locked(2)", err)
	}
}

func TestRevokeRequiresDelegator(t *testing.T) {
	config := DefaultDelegationConfig()
	config.LockPeriod = 0
	f := newGraphFixture(config)
	d := f.mustDelegate(t, bob, alice, 2_000_000)

	input := f.revokeInput(d)
	input.Proof = f.verifier.ownerProof(alice)
	if _, err := f.graph.Revoke(input); !errors.Is(err, ErrNotDelegator) {
		t.Errorf("revoke by delegate: err = %v, want ErrNotDelegator", err)
	}
	input.Proof = Proof("forged")
	if _, err := f.graph.Revoke(input); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("forged proof: err = %v, want ErrInvalidProof", err)
	}
	input = f.revokeInput(d)
	input.DelegationID = testHash("missing")
	if _, err := f.graph.Revoke(input); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestDelegateValidation(t *testing.T) {
	f := newGraphFixture(DefaultDelegationConfig())

	tests := []struct {
		name   string
		mutate func(*DelegationInput)
		err    error
	}{
		{"forged proof", func(in *DelegationInput) { in.Proof = Proof("forged") }, ErrInvalidProof},
		{"foreign proof", func(in *DelegationInput) {
			in.Proof = f.verifier.delegationProof(carol, testHash("carol-delegation"), uint256.NewInt(2_000_000))
		}, ErrNotDelegator},
		{"no nullifier", func(in *DelegationInput) { in.Proof = f.verifier.ownerProof(bob) }, ErrInvalidProof},
		{"above proven balance", func(in *DelegationInput) {
			in.Proof = f.verifier.delegationProof(bob, testHash("bob-small"), uint256.NewInt(1_999_999))
		}, ErrExceedsProvenBalance},
		{"self", func(in *DelegationInput) {
			in.DelegateCommitment = bob
		}, ErrSelfDelegation},
		{"too low", func(in *DelegationInput) { in.Amount = *uint256.NewInt(999_999) }, ErrAmountTooLow},
		{"too high", func(in *DelegationInput) {
			in.Amount = *uint256.MustFromDecimal("1000000000000000000000001")
			in.Proof = f.verifier.delegationProof(bob, testHash("bob-rich"), &in.Amount)
		}, ErrAmountTooHigh},
		{"scoped without proposals", func(in *DelegationInput) { in.Type = DelegationScoped }, ErrInvalidConstraints},
		{"unknown type", func(in *DelegationInput) { in.Type = DelegationType(9) }, ErrInvalidConstraints},
		{"expiry in the past", func(in *DelegationInput) { in.ExpiresAt = testEpoch }, ErrInvalidConstraints},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input(bob, alice, 2_000_000)
			tt.mutate(&in)
			if _, err := f.graph.Delegate(in); !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
		})
	}
	if stats := f.graph.GetDelegationStats(0); stats.TotalDelegations != 0 {
		t.Errorf("rejected requests created %d delegations", stats.TotalDelegations)
	}
}

func TestDelegateDuplicateAndReplay(t *testing.T) {
	f := newGraphFixture(DefaultDelegationConfig())
	first := f.mustDelegate(t, bob, alice, 2_000_000)

	if first.ID != DelegationID(bob, alice, uint256.NewInt(2_000_000), testEpoch) {
		t.Error("delegation id is not derived from its content")
	}
	if _, err := f.graph.Delegate(f.input(bob, alice, 2_000_000)); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate submission: err = %v, want ErrAlreadyExists", err)
	}
	f.clock.Add(time.Second)
	if _, err := f.graph.Delegate(f.input(bob, alice, 2_000_000)); err != nil {
		t.Errorf("same edge one second later: %v", err)
	}

	nullifier := testHash("bob-delegation")
	in := f.input(bob, carol, 3_000_000)
	in.Proof = f.verifier.delegationProof(bob, nullifier, uint256.NewInt(3_000_000))
	if _, err := f.graph.Delegate(in); err != nil {
		t.Fatal(err)
	}
	in = f.input(bob, dave, 3_000_000)
	in.Proof = f.verifier.delegationProof(bob, nullifier, uint256.NewInt(3_000_000))
	if _, err := f.graph.Delegate(in); !errors.Is(err, ErrDelegationAlreadyUsed) {
		t.Errorf("replayed delegation nullifier: err = %v, want ErrDelegationAlreadyUsed", err)
	}
	if f.nullifiers.Status(DelegationScope, nullifier) != NullifierUsed {
		t.Error("delegation nullifier not recorded under the delegation scope")
	}
}

func TestDelegationProofIsSingleUse(t *testing.T) {
	f := newGraphFixture(DefaultDelegationConfig())

	// Reusing one proof for different delegates and amounts.
	proof := f.verifier.delegationProof(bob, testHash("bob-once"), uint256.NewInt(5_000_000))
	first := f.input(bob, alice, 2_000_000)
	first.Proof = proof
	if _, err := f.graph.Delegate(first); err != nil {
		t.Fatal(err)
	}
	for _, to := range []Commitment{carol, dave} {
		in := f.input(bob, to, 3_000_000)
		in.Proof = proof
		if _, err := f.graph.Delegate(in); !errors.Is(err, ErrDelegationAlreadyUsed) {
			t.Errorf("reused proof to %x: err = %v, want ErrDelegationAlreadyUsed", to[:4], err)
		}
	}
	// A proof without a nullifier is rejected outright.
	bare := f.input(bob, carol, 2_000_000)
	bare.Proof = f.verifier.ownerProof(bob)
	for i := 0; i < 2; i++ {
		if _, err := f.graph.Delegate(bare); !errors.Is(err, ErrInvalidProof) {
			t.Errorf("attempt %d without nullifier: err = %v, want ErrInvalidProof", i, err)
		}
	}
	if stats := f.graph.GetDelegationStats(0); stats.ActiveDelegations != 1 {
		t.Errorf("active delegations = %d, want 1", stats.ActiveDelegations)
	}
}

func TestScopedAndExpiringDelegations(t *testing.T) {
	f := newGraphFixture(DefaultDelegationConfig())
	p1, p2 := testHash("p1"), testHash("p2")

	scoped := f.input(bob, alice, 5_000_000)
	scoped.Type = DelegationScoped
	scoped.Constraints = &DelegationConstraints{ProposalIDs: []common.Hash{p1}}
	if _, err := f.graph.Delegate(scoped); err != nil {
		t.Fatal(err)
	}
	expiring := f.input(carol, alice, 1_000_000)
	expiring.Type = DelegationPartial
	expiring.ExpiresAt = testEpoch.Add(time.Hour)
	if _, err := f.graph.Delegate(expiring); err != nil {
		t.Fatal(err)
	}

	zero := uint256.NewInt(0)
	if got := f.graph.PowerOf(alice, zero, &p1); got.Uint64() != 6_000_000 {
		t.Errorf("power for p1 = %s, want 6000000", got.Dec())
	}
	if got := f.graph.PowerOf(alice, zero, &p2); got.Uint64() != 1_000_000 {
		t.Errorf("power for p2 = %s, want 1000000", got.Dec())
	}
	if got := f.graph.PowerOf(alice, zero, nil); got.Uint64() != 6_000_000 {
		t.Errorf("power for any proposal = %s, want 6000000", got.Dec())
	}

	f.clock.Add(time.Hour)
	if got := f.graph.PowerOf(alice, zero, &p2); !got.IsZero() {
		t.Errorf("expired delegation still counts: %s", got.Dec())
	}
	received := f.graph.GetReceivedDelegations(alice)
	if len(received) != 2 || !received[1].IsActive || !received[1].IsExpired(f.clock.Now()) {
		t.Error("expiry must be observed, not written")
	}
}

func TestDelegationQueries(t *testing.T) {
	f := newGraphFixture(DefaultDelegationConfig())
	d1 := f.mustDelegate(t, bob, alice, 2_000_000)
	d2 := f.mustDelegate(t, bob, carol, 3_000_000)
	d3 := f.mustDelegate(t, dave, alice, 4_000_000)

	got, err := f.graph.GetDelegation(d2.ID)
	if err != nil || got.ID != d2.ID || got.Amount.Uint64() != 3_000_000 {
		t.Fatalf("get delegation: %+v, %v", got, err)
	}
	if _, err := f.graph.GetDelegation(testHash("none")); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing delegation: err = %v", err)
	}
	given := f.graph.GetGivenDelegations(bob)
	if len(given) != 2 || given[0].ID != d1.ID || given[1].ID != d2.ID {
		t.Errorf("given delegations out of order")
	}
	received := f.graph.GetReceivedDelegations(alice)
	if len(received) != 2 || received[0].ID != d1.ID || received[1].ID != d3.ID {
		t.Errorf("received delegations out of order")
	}
	if f.graph.GetReceivedDelegations(testHash("nobody")) != nil {
		t.Error("unknown commitment must have no delegations")
	}

	// Returned records are copies.
	received[0].IsActive = false
	if again, _ := f.graph.GetDelegation(d1.ID); !again.IsActive {
		t.Error("caller mutated the stored record")
	}
}

func TestDelegationStatsRanking(t *testing.T) {
	config := DefaultDelegationConfig()
	config.LockPeriod = 0
	f := newGraphFixture(config)

	f.mustDelegate(t, alice, carol, 5_000_000) // carol first, 5M
	f.mustDelegate(t, alice, bob, 2_000_000)   // bob second, 2M + 3M below
	f.mustDelegate(t, carol, bob, 3_000_000)
	f.mustDelegate(t, bob, dave, 9_000_000)
	revoked := f.mustDelegate(t, dave, alice, 7_000_000)
	if _, err := f.graph.Revoke(f.revokeInput(revoked)); err != nil {
		t.Fatal(err)
	}

	stats := f.graph.GetDelegationStats(2)
	if stats.TotalDelegations != 5 || stats.ActiveDelegations != 4 {
		t.Errorf("total = %d active = %d, want 5 and 4", stats.TotalDelegations, stats.ActiveDelegations)
	}
	if stats.TotalActivePower.Uint64() != 19_000_000 {
		t.Errorf("total active power = %s, want 19000000", stats.TotalActivePower.Dec())
	}
	if len(stats.TopDelegates) != 2 {
		t.Fatalf("top delegates = %d, want 2", len(stats.TopDelegates))
	}
	if stats.TopDelegates[0].Commitment != dave {
		t.Errorf("first = %x, want dave", stats.TopDelegates[0].Commitment[:4])
	}
	// Carol and bob tie at 5M; carol received first.
	if stats.TopDelegates[1].Commitment != carol || stats.TopDelegates[1].ReceivedPower.Uint64() != 5_000_000 {
		t.Errorf("second = %x with %s, want carol with 5000000",
			stats.TopDelegates[1].Commitment[:4], stats.TopDelegates[1].ReceivedPower.Dec())
	}
	all := f.graph.GetDelegationStats(0)
	if len(all.TopDelegates) != 3 || all.TopDelegates[2].Commitment != bob || all.TopDelegates[2].DelegationCount != 2 {
		t.Errorf("full ranking = %+v", all.TopDelegates)
	}
}

func TestDelegationEventsOmitCommitments(t *testing.T) {
	config := DefaultDelegationConfig()
	config.LockPeriod = 0
	f := newGraphFixture(config)
	d := f.mustDelegate(t, bob, alice, 2_000_000)
	if _, err := f.graph.Revoke(f.revokeInput(d)); err != nil {
		t.Fatal(err)
	}

	created := f.publisher.ofType(EventDelegationCreated)
	if len(created) != 1 {
		t.Fatalf("created events = %d", len(created))
	}
	evt := created[0].(DelegationCreatedEvent)
	if evt.DelegationID != d.ID || evt.Amount.Uint64() != 2_000_000 || evt.DelegatedPower.Uint64() != 2_000_000 {
		t.Errorf("unexpected created event %+v", evt)
	}
	revoked := f.publisher.ofType(EventDelegationRevoked)
	if len(revoked) != 1 || revoked[0].(DelegationRevokedEvent).Reason != "changed mind" {
		t.Errorf("unexpected revoked events %+v", revoked)
	}
}

func TestDelegationSnapshotRestore(t *testing.T) {
	f := newGraphFixture(DefaultDelegationConfig())
	f.mustDelegate(t, bob, alice, 2_000_000)
	f.mustDelegate(t, carol, alice, 2_000_000)

	restored := NewDelegationGraph(DefaultDelegationConfig(), f.verifier, NewNullifierRegistry(), f.clock, nil)
	restored.restore(f.graph.snapshot())

	want := f.graph.GetReceivedDelegations(alice)
	got := restored.GetReceivedDelegations(alice)
	if len(got) != len(want) {
		t.Fatalf("restored %d delegations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("delegation %d: id %x, want %x", i, got[i].ID, want[i].ID)
		}
	}
	if p := restored.PowerOf(alice, uint256.NewInt(0), nil); p.Uint64() != 4_000_000 {
		t.Errorf("restored power = %s", p.Dec())
	}
}
