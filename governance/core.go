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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shadowvote/govcore/security"
)

const tracerName = "github.com/shadowvote/govcore/governance"

// Core is the facade over the governance components. It owns the nullifier
// registry, vote tally engine, delegation graph and timelock scheduler, and
// refuses every operation until Initialize has restored prior state.
type Core struct {
	config   Config
	verifier ProofVerifier
	loader   StateLoader

	clock     clock.Clock
	publisher Publisher
	registry  prometheus.Registerer
	executor  ActionExecutor
	tracer    trace.Tracer
	logger    log.Logger

	nullifiers *NullifierRegistry
	tally      *VoteTallyEngine
	delegation *DelegationGraph
	timelock   *TimelockScheduler

	// Operations hold the read side; Initialize and Snapshot the write side.
	state       sync.RWMutex
	initialized bool
}

// Option configures optional Core collaborators
type Option func(*Core)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(core *Core) { core.clock = c }
}

// WithPublisher sets the receiver of domain events, usually an *event.Bus.
func WithPublisher(p Publisher) Option {
	return func(core *Core) { core.publisher = p }
}

// WithRegisterer registers core metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(core *Core) { core.registry = reg }
}

// WithExecutor sets the executor invoked for timelocked actions.
func WithExecutor(e ActionExecutor) Option {
	return func(core *Core) { core.executor = e }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(core *Core) { core.tracer = tp.Tracer(tracerName) }
}

// New creates an uninitialized governance core. A nil loader resumes from
// empty state.
func New(cfg Config, verifier ProofVerifier, loader StateLoader, opts ...Option) (*Core, error) {
	if verifier == nil {
		return nil, errors.New("governance core requires a proof verifier")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Core{
		config:    cfg,
		verifier:  verifier,
		loader:    loader,
		clock:     clock.New(),
		publisher: nopPublisher{},
		logger:    log.New("module", "governance"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.nullifiers = NewNullifierRegistry()
	var metrics *coreMetrics
	if c.registry != nil {
		metrics = newCoreMetrics(c.registry, c.nullifiers)
	}
	c.tally = NewVoteTallyEngine(cfg.Voting, verifier, c.nullifiers, c.clock, c.publisher)
	c.tally.metrics = metrics
	c.delegation = NewDelegationGraph(cfg.Delegation, verifier, c.nullifiers, c.clock, c.publisher)
	c.delegation.metrics = metrics
	c.timelock = NewTimelockScheduler(cfg.Timelock, c.nullifiers, c.executor, c.clock, c.publisher)
	c.timelock.metrics = metrics
	return c, nil
}

// Config returns the configuration the core was created with.
func (c *Core) Config() Config {
	return c.config
}

// Initialize loads prior state exactly once.
func (c *Core) Initialize(ctx context.Context) error {
	_, span := c.tracer.Start(ctx, "governance.Initialize")
	defer span.End()

	c.state.Lock()
	defer c.state.Unlock()

	if c.initialized {
		return ErrAlreadyInitialized
	}
	prior := new(PriorState)
	if c.loader != nil {
		loaded, err := c.loader.LoadPriorState()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to load prior governance state: %w", err)
		}
		if loaded != nil {
			prior = loaded
		}
	}
	c.nullifiers.restore(prior.Nullifiers)
	c.tally.restore(prior.Tallies, prior.Votes, prior.Proposals)
	c.delegation.restore(prior.Delegations)
	c.timelock.restore(prior.Actions)
	c.initialized = true

	span.SetAttributes(
		attribute.Int("nullifiers", len(prior.Nullifiers)),
		attribute.Int("delegations", len(prior.Delegations)),
		attribute.Int("actions", len(prior.Actions)),
	)
	c.logger.Info("Governance core initialized",
		"nullifiers", len(prior.Nullifiers), "proposals", len(prior.Tallies),
		"delegations", len(prior.Delegations), "actions", len(prior.Actions))
	return nil
}

// enter takes the read side of the state lock, failing before Initialize.
func (c *Core) enter() (func(), error) {
	c.state.RLock()
	if !c.initialized {
		c.state.RUnlock()
		return nil, ErrNotInitialized
	}
	return c.state.RUnlock, nil
}

// span starts a span for a mutating operation and returns a finisher that
// records its error.
func (c *Core) span(ctx context.Context, name string, attrs ...attribute.KeyValue) func(error) {
	_, span := c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// OpenProposal registers the voting deadline of a proposal.
func (c *Core) OpenProposal(proposalID common.Hash, votingEndsAt time.Time) error {
	leave, err := c.enter()
	if err != nil {
		return err
	}
	defer leave()

	if !votingEndsAt.After(c.clock.Now()) {
		return ErrVotingPeriodEnded
	}
	c.tally.OpenProposal(proposalID, votingEndsAt)
	return nil
}

// CastVote casts one anonymous ballot.
func (c *Core) CastVote(ctx context.Context, proposalID common.Hash, choice VoteChoice, proof Proof) (record *VoteRecord, err error) {
	finish := c.span(ctx, "governance.CastVote",
		attribute.String("proposal", proposalID.Hex()), attribute.String("choice", choice.String()))
	defer func() { finish(err) }()

	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.tally.CastVote(proposalID, choice, proof)
}

// CastVotes casts a batch of ballots, returning one result per request.
func (c *Core) CastVotes(ctx context.Context, requests []BallotRequest) (results []BallotResult, err error) {
	finish := c.span(ctx, "governance.CastVotes", attribute.Int("ballots", len(requests)))
	defer func() { finish(err) }()

	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.tally.CastVotes(requests), nil
}

// GetVoteTally returns the tally of a proposal.
func (c *Core) GetVoteTally(proposalID common.Hash) (VoteTally, error) {
	leave, err := c.enter()
	if err != nil {
		return VoteTally{}, err
	}
	defer leave()
	return c.tally.GetVoteTally(proposalID)
}

// GetVotingStats returns derived statistics of a proposal.
func (c *Core) GetVotingStats(proposalID common.Hash) (VotingStats, error) {
	leave, err := c.enter()
	if err != nil {
		return VotingStats{}, err
	}
	defer leave()
	return c.tally.GetVotingStats(proposalID)
}

// GetVotes returns the vote records of a proposal.
func (c *Core) GetVotes(proposalID common.Hash) ([]*VoteRecord, error) {
	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return c.tally.GetVotes(proposalID)
}

// NullifierStatus reports whether a nullifier was spent in scope. The result
// is advisory.
func (c *Core) NullifierStatus(scope Scope, nullifier Nullifier) (NullifierStatus, error) {
	leave, err := c.enter()
	if err != nil {
		return NullifierUnused, err
	}
	defer leave()
	return c.nullifiers.Status(scope, nullifier), nil
}

// Delegate creates a delegation.
func (c *Core) Delegate(ctx context.Context, input DelegationInput) (d *Delegation, err error) {
	finish := c.span(ctx, "governance.Delegate", attribute.String("type", input.Type.String()))
	defer func() { finish(err) }()

	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.delegation.Delegate(input)
}

// Revoke revokes a delegation.
func (c *Core) Revoke(ctx context.Context, input RevokeInput) (d *Delegation, err error) {
	finish := c.span(ctx, "governance.Revoke", attribute.String("delegation", input.DelegationID.Hex()))
	defer func() { finish(err) }()

	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.delegation.Revoke(input)
}

// PowerOf returns the net power of a commitment for proposalID (nil for any).
func (c *Core) PowerOf(commitment Commitment, ownTokens *uint256.Int, proposalID *common.Hash) (*uint256.Int, error) {
	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return c.delegation.PowerOf(commitment, ownTokens, proposalID), nil
}

// GetDelegation returns a delegation by id.
func (c *Core) GetDelegation(id common.Hash) (*Delegation, error) {
	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return c.delegation.GetDelegation(id)
}

// GetReceivedDelegations returns the delegations made to a commitment.
func (c *Core) GetReceivedDelegations(delegate Commitment) ([]*Delegation, error) {
	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return c.delegation.GetReceivedDelegations(delegate), nil
}

// GetGivenDelegations returns the delegations made by a commitment.
func (c *Core) GetGivenDelegations(delegator Commitment) ([]*Delegation, error) {
	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return c.delegation.GetGivenDelegations(delegator), nil
}

// GetDelegationStats returns graph totals and the topN delegates.
func (c *Core) GetDelegationStats(topN int) (DelegationStats, error) {
	leave, err := c.enter()
	if err != nil {
		return DelegationStats{}, err
	}
	defer leave()
	return c.delegation.GetDelegationStats(topN), nil
}

// Queue schedules an action.
func (c *Core) Queue(ctx context.Context, payloadRef common.Hash, delay time.Duration) (a *TimelockAction, err error) {
	finish := c.span(ctx, "governance.Queue", attribute.String("payload", payloadRef.Hex()))
	defer func() { finish(err) }()

	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.timelock.Queue(payloadRef, delay)
}

// QueueEmergency schedules an action with the emergency delay.
func (c *Core) QueueEmergency(ctx context.Context, req *security.GuardianRequest) (a *TimelockAction, err error) {
	finish := c.span(ctx, "governance.QueueEmergency")
	defer func() { finish(err) }()

	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.timelock.QueueEmergency(req)
}

// Execute executes a timelocked action.
func (c *Core) Execute(ctx context.Context, id common.Hash) (a *TimelockAction, err error) {
	finish := c.span(ctx, "governance.Execute", attribute.String("action", id.Hex()))
	defer func() { finish(err) }()

	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.timelock.Execute(id)
}

// Cancel cancels a timelocked action.
func (c *Core) Cancel(ctx context.Context, req *security.GuardianRequest) (a *TimelockAction, err error) {
	finish := c.span(ctx, "governance.Cancel")
	defer func() { finish(err) }()

	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	return c.timelock.Cancel(req)
}

// GetAction returns a timelocked action with its derived state.
func (c *Core) GetAction(id common.Hash) (*TimelockAction, error) {
	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return c.timelock.GetAction(id)
}

// ListActions returns timelocked actions, optionally filtered by state.
func (c *Core) ListActions(states ...ActionState) ([]*TimelockAction, error) {
	leave, err := c.enter()
	if err != nil {
		return nil, err
	}
	defer leave()
	return c.timelock.ListActions(states...), nil
}

// Snapshot returns a consistent copy of the whole state in the shape
// accepted by StateLoader.
func (c *Core) Snapshot() (*PriorState, error) {
	c.state.Lock()
	defer c.state.Unlock()

	if !c.initialized {
		return nil, ErrNotInitialized
	}
	tallies, votes, windows := c.tally.snapshot()
	return &PriorState{
		Nullifiers:  c.nullifiers.Entries(),
		Tallies:     tallies,
		Votes:       votes,
		Proposals:   windows,
		Delegations: c.delegation.snapshot(),
		Actions:     c.timelock.snapshot(),
	}, nil
}
