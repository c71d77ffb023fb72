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
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// ProposalWindow is the voting deadline registered for a proposal
type ProposalWindow struct {
	ProposalID   common.Hash
	VotingEndsAt time.Time
}

// BallotRequest is one entry of a batch submission
type BallotRequest struct {
	ProposalID common.Hash
	Choice     VoteChoice
	Proof      Proof
}

// BallotResult is the outcome of one BallotRequest
type BallotResult struct {
	Record *VoteRecord
	Err    error
}

// ballot is the verified content of a vote proof.
type ballot struct {
	nullifier Nullifier
	amount    uint256.Int
}

type proposalState struct {
	mu      sync.Mutex
	tally   VoteTally
	records []*VoteRecord
	live    map[Nullifier]int // nullifier -> index of its current record
	endsAt  time.Time
}

func newProposalState(id common.Hash) *proposalState {
	return &proposalState{
		tally: VoteTally{ProposalID: id},
		live:  make(map[Nullifier]int),
	}
}

func (p *proposalState) bucket(choice VoteChoice) *uint256.Int {
	switch choice {
	case ChoiceFor:
		return &p.tally.ForVotes
	case ChoiceAgainst:
		return &p.tally.AgainstVotes
	default:
		return &p.tally.AbstainVotes
	}
}

// VoteTallyEngine aggregates anonymous weighted ballots per proposal.
// Ballots on one proposal are applied one at a time; different proposals
// proceed in parallel.
type VoteTallyEngine struct {
	config     VotingConfig
	verifier   ProofVerifier
	nullifiers *NullifierRegistry
	clock      clock.Clock
	publisher  Publisher
	metrics    *coreMetrics
	logger     log.Logger

	mu        sync.RWMutex
	proposals map[common.Hash]*proposalState
}

// NewVoteTallyEngine creates a tally engine spending nullifiers in registry
func NewVoteTallyEngine(config VotingConfig, verifier ProofVerifier, registry *NullifierRegistry, clk clock.Clock, publisher Publisher) *VoteTallyEngine {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &VoteTallyEngine{
		config:     config,
		verifier:   verifier,
		nullifiers: registry,
		clock:      clk,
		publisher:  publisher,
		logger:     log.New("module", "tally"),
		proposals:  make(map[common.Hash]*proposalState),
	}
}

func (e *VoteTallyEngine) proposal(id common.Hash, create bool) *proposalState {
	e.mu.RLock()
	p, ok := e.proposals[id]
	e.mu.RUnlock()
	if ok || !create {
		return p
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok = e.proposals[id]; !ok {
		p = newProposalState(id)
		e.proposals[id] = p
	}
	return p
}

// OpenProposal registers the voting deadline of a proposal. Ballots arriving
// at or after the deadline are rejected without spending their nullifier.
func (e *VoteTallyEngine) OpenProposal(proposalID common.Hash, votingEndsAt time.Time) {
	p := e.proposal(proposalID, true)
	p.mu.Lock()
	p.endsAt = votingEndsAt
	p.mu.Unlock()
}

// CastVote verifies a ballot proof and adds its weight to the tally.
func (e *VoteTallyEngine) CastVote(proposalID common.Hash, choice VoteChoice, proof Proof) (*VoteRecord, error) {
	if !choice.Valid() {
		e.metrics.voteRejected(ErrInvalidChoice)
		return nil, ErrInvalidChoice
	}
	b, err := e.verifyBallot(proof)
	if err != nil {
		e.metrics.voteRejected(err)
		return nil, err
	}
	return e.apply(proposalID, choice, b)
}

// CastVotes verifies the proofs of a batch in parallel and then applies the
// ballots sequentially in input order.
func (e *VoteTallyEngine) CastVotes(requests []BallotRequest) []BallotResult {
	results := make([]BallotResult, len(requests))
	ballots := make([]*ballot, len(requests))

	var g errgroup.Group
	g.SetLimit(max(e.config.VerifyParallelism, 1))
	for i, req := range requests {
		if !req.Choice.Valid() {
			results[i].Err = ErrInvalidChoice
			continue
		}
		g.Go(func() error {
			b, err := e.verifyBallot(req.Proof)
			ballots[i], results[i].Err = b, err
			return nil
		})
	}
	g.Wait()

	for i, req := range requests {
		if results[i].Err != nil {
			e.metrics.voteRejected(results[i].Err)
			continue
		}
		results[i].Record, results[i].Err = e.apply(req.ProposalID, req.Choice, ballots[i])
	}
	return results
}

// verifyBallot checks the proof and extracts the nullifier and token amount.
func (e *VoteTallyEngine) verifyBallot(proof Proof) (*ballot, error) {
	if err := verifyProof(e.verifier, proof); err != nil {
		return nil, err
	}
	nullifier, err := extractHash(e.verifier, proof, FieldNullifier)
	if err != nil {
		return nil, err
	}
	amount, err := extractAmount(e.verifier, proof, FieldTokenAmount)
	if err != nil {
		return nil, err
	}
	return &ballot{nullifier: nullifier, amount: *amount}, nil
}

// apply spends the nullifier and updates the tally under the proposal lock.
func (e *VoteTallyEngine) apply(proposalID common.Hash, choice VoteChoice, b *ballot) (*VoteRecord, error) {
	p := e.proposal(proposalID, true)
	now := e.clock.Now()

	p.mu.Lock()
	record, err := e.applyLocked(p, proposalID, choice, b, now)
	p.mu.Unlock()

	if err != nil {
		e.metrics.voteRejected(err)
		e.logger.Debug("Ballot rejected", "proposal", proposalID, "err", err)
		return nil, err
	}
	e.metrics.voteAccepted(choice)
	e.publisher.Publish(EventVoteCast, VoteCastEvent{
		ProposalID: proposalID,
		Choice:     choice,
		Weight:     record.Weight,
		Timestamp:  now,
	})
	e.logger.Debug("Ballot accepted", "proposal", proposalID, "choice", choice, "weight", record.Weight.Dec())
	return record, nil
}

func (e *VoteTallyEngine) applyLocked(p *proposalState, proposalID common.Hash, choice VoteChoice, b *ballot, now time.Time) (*VoteRecord, error) {
	if !p.endsAt.IsZero() && !now.Before(p.endsAt) {
		return nil, ErrVotingPeriodEnded
	}
	previous := -1
	if e.nullifiers.TryConsume(ProposalScope(proposalID), b.nullifier) == AlreadyUsed {
		idx, ok := p.live[b.nullifier]
		if !e.config.AllowVoteChange || !ok {
			return nil, ErrAlreadyVoted
		}
		previous = idx
	}
	if b.amount.Lt(&e.config.VoteThreshold) {
		return nil, ErrBelowThreshold
	}
	weight := capWeight(Weight(&b.amount, e.config.Method), &e.config.MaxVotingPower)

	if previous >= 0 {
		old := p.records[previous]
		bucket := p.bucket(old.Choice)
		bucket.Sub(bucket, &old.Weight)
		p.tally.TotalPower.Sub(&p.tally.TotalPower, &old.Weight)
	} else {
		p.tally.VoterCount++
	}
	bucket := p.bucket(choice)
	bucket.Add(bucket, weight)
	p.tally.TotalPower.Add(&p.tally.TotalPower, weight)

	record := &VoteRecord{
		Nullifier:  b.nullifier,
		ProposalID: proposalID,
		Choice:     choice,
		Weight:     *weight,
		RawAmount:  b.amount,
		CastAt:     now,
	}
	p.records = append(p.records, record)
	p.live[b.nullifier] = len(p.records) - 1

	cpy := *record
	return &cpy, nil
}

// GetVoteTally returns the tally of a proposal.
func (e *VoteTallyEngine) GetVoteTally(proposalID common.Hash) (VoteTally, error) {
	p := e.proposal(proposalID, false)
	if p == nil {
		return VoteTally{}, ErrNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tally, nil
}

// GetVotingStats returns the tally with participation, deadline and leader.
func (e *VoteTallyEngine) GetVotingStats(proposalID common.Hash) (VotingStats, error) {
	p := e.proposal(proposalID, false)
	if p == nil {
		return VotingStats{}, ErrNotFound
	}
	now := e.clock.Now()

	p.mu.Lock()
	tally, endsAt := p.tally, p.endsAt
	p.mu.Unlock()

	stats := VotingStats{
		Tally:         tally,
		QuorumReached: !tally.TotalPower.Lt(&e.config.QuorumRequired),
		CurrentLeader: LeaderTie,
	}
	if !e.config.QuorumRequired.IsZero() {
		rate := new(big.Float).Quo(
			new(big.Float).SetInt(tally.TotalPower.ToBig()),
			new(big.Float).SetInt(e.config.QuorumRequired.ToBig()),
		)
		stats.ParticipationRate, _ = rate.Float64()
	}
	if !endsAt.IsZero() && now.Before(endsAt) {
		stats.TimeRemaining = endsAt.Sub(now)
	}
	switch {
	case tally.ForVotes.Gt(&tally.AgainstVotes):
		stats.CurrentLeader = LeaderFor
	case tally.ForVotes.Lt(&tally.AgainstVotes):
		stats.CurrentLeader = LeaderAgainst
	}
	return stats, nil
}

// GetVotes returns the vote records of a proposal in acceptance order.
// Records replaced through vote changing are marked superseded.
func (e *VoteTallyEngine) GetVotes(proposalID common.Hash) ([]*VoteRecord, error) {
	p := e.proposal(proposalID, false)
	if p == nil {
		return nil, ErrNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	votes := make([]*VoteRecord, len(p.records))
	for i, r := range p.records {
		cpy := *r
		cpy.Superseded = p.live[r.Nullifier] != i
		votes[i] = &cpy
	}
	return votes, nil
}

// restore loads tallies, records and deadlines from a prior state.
// Nullifiers are restored separately through the registry.
func (e *VoteTallyEngine) restore(tallies []VoteTally, votes []VoteRecord, windows []ProposalWindow) {
	for _, t := range tallies {
		p := e.proposal(t.ProposalID, true)
		p.mu.Lock()
		p.tally = t
		p.mu.Unlock()
	}
	for i := range votes {
		v := votes[i]
		p := e.proposal(v.ProposalID, true)
		p.mu.Lock()
		v.Superseded = false
		p.records = append(p.records, &v)
		p.live[v.Nullifier] = len(p.records) - 1
		p.mu.Unlock()
	}
	for _, w := range windows {
		e.OpenProposal(w.ProposalID, w.VotingEndsAt)
	}
}

// snapshot exports tallies, records and deadlines.
func (e *VoteTallyEngine) snapshot() ([]VoteTally, []VoteRecord, []ProposalWindow) {
	e.mu.RLock()
	ids := make([]common.Hash, 0, len(e.proposals))
	for id := range e.proposals {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	slices.SortFunc(ids, func(a, b common.Hash) int { return a.Cmp(b) })

	var (
		tallies []VoteTally
		votes   []VoteRecord
		windows []ProposalWindow
	)
	for _, id := range ids {
		p := e.proposal(id, false)
		p.mu.Lock()
		tallies = append(tallies, p.tally)
		for _, r := range p.records {
			votes = append(votes, *r)
		}
		if !p.endsAt.IsZero() {
			windows = append(windows, ProposalWindow{ProposalID: id, VotingEndsAt: p.endsAt})
		}
		p.mu.Unlock()
	}
	return tallies, votes, windows
}
