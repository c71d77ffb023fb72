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
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// DelegationInput is a request to delegate power
type DelegationInput struct {
	DelegatorCommitment Commitment
	DelegateCommitment  Commitment
	Amount              uint256.Int
	Type                DelegationType
	ExpiresAt           time.Time // zero means no expiry
	Constraints         *DelegationConstraints
	Proof               Proof
}

// RevokeInput is a request by the delegator to revoke a delegation
type RevokeInput struct {
	DelegationID common.Hash
	Reason       string
	Proof        Proof
}

// DelegationGraph holds delegation edges between commitments together with
// the delegate and delegator indices used by power queries. Records are
// addressed by id; indices never hold pointers.
type DelegationGraph struct {
	config     DelegationConfig
	verifier   ProofVerifier
	nullifiers *NullifierRegistry
	clock      clock.Clock
	publisher  Publisher
	metrics    *coreMetrics
	logger     log.Logger

	locks keyedLock // per commitment

	mu          sync.RWMutex
	delegations map[common.Hash]*Delegation
	received    map[Commitment]mapset.Set[common.Hash] // delegate -> ids
	given       map[Commitment]mapset.Set[common.Hash] // delegator -> ids
	seq         uint64
}

// NewDelegationGraph creates an empty delegation graph
func NewDelegationGraph(config DelegationConfig, verifier ProofVerifier, registry *NullifierRegistry, clk clock.Clock, publisher Publisher) *DelegationGraph {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &DelegationGraph{
		config:      config,
		verifier:    verifier,
		nullifiers:  registry,
		clock:       clk,
		publisher:   publisher,
		logger:      log.New("module", "delegation"),
		delegations: make(map[common.Hash]*Delegation),
		received:    make(map[Commitment]mapset.Set[common.Hash]),
		given:       make(map[Commitment]mapset.Set[common.Hash]),
	}
}

// DelegationID derives the deterministic id of a delegation
func DelegationID(delegator, delegate Commitment, amount *uint256.Int, createdAt time.Time) common.Hash {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt.Unix()))
	amt := amount.Bytes32()
	return crypto.Keccak256Hash(delegator[:], delegate[:], amt[:], ts[:])
}

// Delegate verifies the delegator's proof and records a new active delegation.
// The proof must open to the delegator's commitment, carry a nullifier that is
// spent under DelegationScope, and prove a token balance covering the amount.
func (g *DelegationGraph) Delegate(input DelegationInput) (*Delegation, error) {
	d, err := g.delegate(input)
	if err != nil {
		g.metrics.delegationRejected(err)
		return nil, err
	}
	g.metrics.delegationCreated()
	g.publisher.Publish(EventDelegationCreated, DelegationCreatedEvent{
		DelegationID:   d.ID,
		Type:           d.Type,
		Amount:         d.Amount,
		DelegatedPower: d.Power,
		Timestamp:      d.CreatedAt,
	})
	g.logger.Debug("Delegation created", "id", d.ID, "type", d.Type, "power", d.Power.Dec())
	return d, nil
}

func (g *DelegationGraph) delegate(input DelegationInput) (*Delegation, error) {
	if err := verifyProof(g.verifier, input.Proof); err != nil {
		return nil, err
	}
	owner, err := extractHash(g.verifier, input.Proof, FieldCommitment)
	if err != nil {
		return nil, err
	}
	if owner != input.DelegatorCommitment {
		return nil, ErrNotDelegator
	}
	nullifier, err := extractHash(g.verifier, input.Proof, FieldNullifier)
	if err != nil {
		return nil, err
	}
	balance, err := extractAmount(g.verifier, input.Proof, FieldTokenAmount)
	if err != nil {
		return nil, err
	}
	if input.DelegatorCommitment == input.DelegateCommitment {
		return nil, ErrSelfDelegation
	}
	now := g.clock.Now()
	if err := validateConstraints(input, now); err != nil {
		return nil, err
	}
	if input.Amount.Lt(&g.config.MinAmount) {
		return nil, ErrAmountTooLow
	}
	if !g.config.MaxAmount.IsZero() && input.Amount.Gt(&g.config.MaxAmount) {
		return nil, ErrAmountTooHigh
	}
	if input.Amount.Gt(balance) {
		return nil, fmt.Errorf("%w: %s > %s", ErrExceedsProvenBalance, input.Amount.Dec(), balance.Dec())
	}
	id := DelegationID(input.DelegatorCommitment, input.DelegateCommitment, &input.Amount, now)

	unlock := g.locks.lockPair(input.DelegatorCommitment, input.DelegateCommitment)
	defer unlock()

	g.mu.RLock()
	_, exists := g.delegations[id]
	g.mu.RUnlock()
	if exists {
		return nil, ErrAlreadyExists
	}
	if g.nullifiers.TryConsume(DelegationScope, nullifier) == AlreadyUsed {
		return nil, ErrDelegationAlreadyUsed
	}
	power := input.Amount
	if g.config.UseQuadratic {
		power = *Weight(&input.Amount, WeightQuadratic)
	}
	d := &Delegation{
		ID:                  id,
		DelegatorCommitment: input.DelegatorCommitment,
		DelegateCommitment:  input.DelegateCommitment,
		Amount:              input.Amount,
		Power:               power,
		Type:                input.Type,
		CreatedAt:           now,
		ExpiresAt:           input.ExpiresAt,
		IsActive:            true,
	}
	if input.Constraints != nil {
		d.Constraints = &DelegationConstraints{
			ProposalIDs: append([]common.Hash(nil), input.Constraints.ProposalIDs...),
		}
	}
	g.mu.Lock()
	g.insert(d)
	g.mu.Unlock()

	return d.copy(), nil
}

func validateConstraints(input DelegationInput, now time.Time) error {
	switch input.Type {
	case DelegationFull, DelegationPartial:
	case DelegationScoped:
		if input.Constraints == nil || len(input.Constraints.ProposalIDs) == 0 {
			return ErrInvalidConstraints
		}
	default:
		return ErrInvalidConstraints
	}
	if !input.ExpiresAt.IsZero() && !input.ExpiresAt.After(now) {
		return ErrInvalidConstraints
	}
	return nil
}

// insert adds a record and indexes it. g.mu must be held.
func (g *DelegationGraph) insert(d *Delegation) {
	g.seq++
	d.seq = g.seq
	g.delegations[d.ID] = d

	if _, ok := g.received[d.DelegateCommitment]; !ok {
		g.received[d.DelegateCommitment] = mapset.NewThreadUnsafeSet[common.Hash]()
	}
	g.received[d.DelegateCommitment].Add(d.ID)

	if _, ok := g.given[d.DelegatorCommitment]; !ok {
		g.given[d.DelegatorCommitment] = mapset.NewThreadUnsafeSet[common.Hash]()
	}
	g.given[d.DelegatorCommitment].Add(d.ID)
}

// Revoke deactivates a delegation once its lock period has passed. The proof
// must open to the delegator's commitment.
func (g *DelegationGraph) Revoke(input RevokeInput) (*Delegation, error) {
	d, err := g.revoke(input)
	if err != nil {
		g.metrics.delegationRejected(err)
		return nil, err
	}
	g.metrics.delegationRevoked()
	g.publisher.Publish(EventDelegationRevoked, DelegationRevokedEvent{
		DelegationID: d.ID,
		Reason:       input.Reason,
		Timestamp:    d.RevokedAt,
	})
	g.logger.Debug("Delegation revoked", "id", d.ID, "reason", input.Reason)
	return d, nil
}

func (g *DelegationGraph) revoke(input RevokeInput) (*Delegation, error) {
	if err := verifyProof(g.verifier, input.Proof); err != nil {
		return nil, err
	}
	owner, err := extractHash(g.verifier, input.Proof, FieldCommitment)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	d, ok := g.delegations[input.DelegationID]
	var delegator, delegate Commitment
	if ok {
		delegator, delegate = d.DelegatorCommitment, d.DelegateCommitment
	}
	g.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if owner != delegator {
		return nil, ErrNotDelegator
	}
	unlock := g.locks.lockPair(delegator, delegate)
	defer unlock()

	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if !d.IsActive {
		return nil, ErrAlreadyRevoked
	}
	if unlockAt := d.CreatedAt.Add(g.config.LockPeriod); now.Before(unlockAt) {
		return nil, &LockedError{SecondsRemaining: ceilSeconds(unlockAt.Sub(now))}
	}
	d.IsActive = false
	d.RevokedAt = now
	return d.copy(), nil
}

// ceilSeconds rounds a positive duration up to whole seconds.
func ceilSeconds(d time.Duration) uint64 {
	return uint64((d + time.Second - 1) / time.Second)
}

// PowerOf returns the net power of a commitment: its own tokens plus the
// power delegated to it minus the power it delegated away, counting only
// active, unexpired delegations valid for proposalID (nil for any proposal).
// A negative net is reported as zero.
func (g *DelegationGraph) PowerOf(commitment Commitment, ownTokens *uint256.Int, proposalID *common.Hash) *uint256.Int {
	now := g.clock.Now()
	plus := new(uint256.Int).Set(ownTokens)
	minus := new(uint256.Int)

	g.mu.RLock()
	if ids, ok := g.received[commitment]; ok {
		ids.Each(func(id common.Hash) bool {
			if d := g.delegations[id]; d.counts(now, proposalID) {
				plus.Add(plus, &d.Power)
			}
			return false
		})
	}
	if ids, ok := g.given[commitment]; ok {
		ids.Each(func(id common.Hash) bool {
			if d := g.delegations[id]; d.counts(now, proposalID) {
				minus.Add(minus, &d.Power)
			}
			return false
		})
	}
	g.mu.RUnlock()

	if plus.Lt(minus) {
		g.logger.Warn("Negative net delegation power clamped", "given", minus.Dec(), "available", plus.Dec())
		return new(uint256.Int)
	}
	net := new(uint256.Int).Sub(plus, minus)
	return Weight(net, g.config.Method)
}

// GetDelegation returns a delegation by id.
func (g *DelegationGraph) GetDelegation(id common.Hash) (*Delegation, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	d, ok := g.delegations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.copy(), nil
}

// GetReceivedDelegations returns every delegation made to a commitment,
// including revoked ones, in creation order.
func (g *DelegationGraph) GetReceivedDelegations(delegate Commitment) []*Delegation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(g.received[delegate])
}

// GetGivenDelegations returns every delegation made by a commitment,
// including revoked ones, in creation order.
func (g *DelegationGraph) GetGivenDelegations(delegator Commitment) []*Delegation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collect(g.given[delegator])
}

func (g *DelegationGraph) collect(ids mapset.Set[common.Hash]) []*Delegation {
	if ids == nil {
		return nil
	}
	out := make([]*Delegation, 0, ids.Cardinality())
	ids.Each(func(id common.Hash) bool {
		out = append(out, g.delegations[id].copy())
		return false
	})
	slices.SortFunc(out, func(a, b *Delegation) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// GetDelegationStats summarises the graph and ranks delegates by received
// active power. Equal power keeps the order in which delegates first
// received a delegation. topN <= 0 returns every delegate.
func (g *DelegationGraph) GetDelegationStats(topN int) DelegationStats {
	now := g.clock.Now()

	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := DelegationStats{TotalDelegations: len(g.delegations)}
	type entry struct {
		rank  DelegateRank
		first uint64
	}
	var ranks []entry
	for delegate, ids := range g.received {
		e := entry{rank: DelegateRank{Commitment: delegate}, first: ^uint64(0)}
		ids.Each(func(id common.Hash) bool {
			d := g.delegations[id]
			e.first = min(e.first, d.seq)
			if d.counts(now, nil) {
				e.rank.ReceivedPower.Add(&e.rank.ReceivedPower, &d.Power)
				e.rank.DelegationCount++
			}
			return false
		})
		if e.rank.DelegationCount == 0 {
			continue
		}
		stats.ActiveDelegations += e.rank.DelegationCount
		stats.TotalActivePower.Add(&stats.TotalActivePower, &e.rank.ReceivedPower)
		ranks = append(ranks, e)
	}
	slices.SortFunc(ranks, func(a, b entry) int {
		if c := b.rank.ReceivedPower.Cmp(&a.rank.ReceivedPower); c != 0 {
			return c
		}
		return cmp.Compare(a.first, b.first)
	})
	if topN > 0 && len(ranks) > topN {
		ranks = ranks[:topN]
	}
	for _, e := range ranks {
		stats.TopDelegates = append(stats.TopDelegates, e.rank)
	}
	return stats
}

// restore loads delegations in creation order.
func (g *DelegationGraph) restore(delegations []Delegation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range delegations {
		d := delegations[i].copy()
		g.insert(d)
	}
}

// snapshot exports every delegation in creation order.
func (g *DelegationGraph) snapshot() []Delegation {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Delegation, 0, len(g.delegations))
	for _, d := range g.delegations {
		out = append(out, *d.copy())
	}
	slices.SortFunc(out, func(a, b Delegation) int { return cmp.Compare(a.seq, b.seq) })
	return out
}
