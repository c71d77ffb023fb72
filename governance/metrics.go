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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type coreMetrics struct {
	votesAccepted       *prometheus.CounterVec
	votesRejected       *prometheus.CounterVec
	delegationsCreated  prometheus.Counter
	delegationsRevoked  prometheus.Counter
	delegationsRejected *prometheus.CounterVec
	timelockTransitions *prometheus.CounterVec
	nullifiersSpent     prometheus.GaugeFunc
}

func newCoreMetrics(reg prometheus.Registerer, nullifiers *NullifierRegistry) *coreMetrics {
	factory := promauto.With(reg)
	return &coreMetrics{
		votesAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_votes_accepted_total",
			Help: "accepted ballots by choice",
		}, []string{"choice"}),
		votesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_votes_rejected_total",
			Help: "rejected ballots by reason",
		}, []string{"reason"}),
		delegationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "govcore_delegations_created_total",
			Help: "delegations created",
		}),
		delegationsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "govcore_delegations_revoked_total",
			Help: "delegations revoked",
		}),
		delegationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_delegations_rejected_total",
			Help: "rejected delegation and revocation requests by reason",
		}, []string{"reason"}),
		timelockTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govcore_timelock_transitions_total",
			Help: "timelock action transitions by resulting state",
		}, []string{"state"}),
		nullifiersSpent: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "govcore_nullifiers_spent",
			Help: "spent (scope, nullifier) pairs",
		}, func() float64 { return float64(nullifiers.Len()) }),
	}
}

func (m *coreMetrics) voteAccepted(choice VoteChoice) {
	if m != nil {
		m.votesAccepted.WithLabelValues(choice.String()).Inc()
	}
}

func (m *coreMetrics) voteRejected(err error) {
	if m != nil {
		m.votesRejected.WithLabelValues(errorReason(err)).Inc()
	}
}

func (m *coreMetrics) delegationCreated() {
	if m != nil {
		m.delegationsCreated.Inc()
	}
}

func (m *coreMetrics) delegationRevoked() {
	if m != nil {
		m.delegationsRevoked.Inc()
	}
}

func (m *coreMetrics) delegationRejected(err error) {
	if m != nil {
		m.delegationsRejected.WithLabelValues(errorReason(err)).Inc()
	}
}

func (m *coreMetrics) timelockTransition(state ActionState) {
	if m != nil {
		m.timelockTransitions.WithLabelValues(state.String()).Inc()
	}
}

// errorReason maps an error to a bounded metric label.
func errorReason(err error) string {
	reasons := []struct {
		err    error
		reason string
	}{
		{ErrInvalidProof, "invalid_proof"},
		{ErrAlreadyVoted, "already_voted"},
		{ErrBelowThreshold, "below_threshold"},
		{ErrInvalidChoice, "invalid_choice"},
		{ErrVotingPeriodEnded, "voting_ended"},
		{ErrAmountTooLow, "amount_too_low"},
		{ErrAmountTooHigh, "amount_too_high"},
		{ErrAlreadyExists, "already_exists"},
		{ErrNotFound, "not_found"},
		{ErrAlreadyRevoked, "already_revoked"},
		{ErrLocked, "locked"},
		{ErrSelfDelegation, "self_delegation"},
		{ErrInvalidConstraints, "invalid_constraints"},
		{ErrNotDelegator, "not_delegator"},
		{ErrDelegationAlreadyUsed, "nullifier_used"},
		{ErrExceedsProvenBalance, "exceeds_balance"},
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
