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
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/shadowvote/govcore/security"
)

// TimelockScheduler queues actions behind a mandatory delay and executes them
// inside the grace window that follows. Guardians and the admin may cancel
// actions or queue them with the shorter emergency delay.
type TimelockScheduler struct {
	config    TimelockConfig
	guardians *security.GuardianSet
	requests  *NullifierRegistry
	executor  ActionExecutor
	clock     clock.Clock
	publisher Publisher
	metrics   *coreMetrics
	logger    log.Logger

	mu      sync.Mutex
	actions map[common.Hash]*TimelockAction
	order   []common.Hash
	nonce   uint64
}

// NewTimelockScheduler creates a scheduler. A nil executor makes Execute a
// pure state transition.
func NewTimelockScheduler(config TimelockConfig, registry *NullifierRegistry, executor ActionExecutor, clk clock.Clock, publisher Publisher) *TimelockScheduler {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &TimelockScheduler{
		config:    config,
		guardians: security.NewGuardianSet(config.Admin, config.Guardians),
		requests:  registry,
		executor:  executor,
		clock:     clk,
		publisher: publisher,
		logger:    log.New("module", "timelock"),
		actions:   make(map[common.Hash]*TimelockAction),
	}
}

// state derives the observable state of a at now.
func (s *TimelockScheduler) state(a *TimelockAction, now time.Time) ActionState {
	if a.State != ActionQueued {
		return a.State
	}
	eta := a.ETA()
	switch {
	case now.Before(eta):
		return ActionQueued
	case now.Before(eta.Add(s.config.GracePeriod)):
		return ActionExecutable
	default:
		return ActionExpired
	}
}

// view copies a with its derived state and reports whether this is the first
// time the action is seen expired. s.mu must be held.
func (s *TimelockScheduler) view(a *TimelockAction, now time.Time) (*TimelockAction, bool) {
	cpy := *a
	cpy.State = s.state(a, now)
	first := cpy.State == ActionExpired && !a.expiryReported
	if first {
		a.expiryReported = true
	}
	cpy.expiryReported = a.expiryReported
	return &cpy, first
}

func (s *TimelockScheduler) reportExpired(a *TimelockAction, now time.Time) {
	s.metrics.timelockTransition(ActionExpired)
	s.publisher.Publish(EventTimelockExpired, TimelockEvent{
		ActionID:   a.ID,
		PayloadRef: a.PayloadRef,
		State:      ActionExpired,
		Emergency:  a.Emergency,
		ETA:        a.ETA(),
		Timestamp:  now,
	})
	s.logger.Info("Timelock action expired", "id", a.ID, "eta", a.ETA())
}

// Queue schedules payloadRef to become executable after delay.
func (s *TimelockScheduler) Queue(payloadRef common.Hash, delay time.Duration) (*TimelockAction, error) {
	if delay < s.config.MinDelay || delay > s.config.MaxDelay {
		return nil, fmt.Errorf("%w: %v not in [%v, %v]", ErrInvalidDelay, delay, s.config.MinDelay, s.config.MaxDelay)
	}
	a := s.enqueue(payloadRef, delay, false)
	s.metrics.timelockTransition(ActionQueued)
	s.publisher.Publish(EventTimelockQueued, TimelockEvent{
		ActionID:   a.ID,
		PayloadRef: a.PayloadRef,
		State:      ActionQueued,
		ETA:        a.ETA(),
		Timestamp:  a.QueuedAt,
	})
	s.logger.Info("Timelock action queued", "id", a.ID, "payload", payloadRef, "eta", a.ETA())
	return a, nil
}

// QueueEmergency schedules the payload named by a signed guardian request
// with the emergency delay. Each request is accepted once.
func (s *TimelockScheduler) QueueEmergency(req *security.GuardianRequest) (*TimelockAction, error) {
	signer, role, err := s.guardians.Authorize(req, security.RequestEmergency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if s.requests.TryConsume(GuardianScope, req.Digest()) == AlreadyUsed {
		return nil, fmt.Errorf("%w: emergency request already used", ErrUnauthorized)
	}
	a := s.enqueue(req.Target, s.config.emergencyDelay(), true)
	s.metrics.timelockTransition(ActionQueued)
	s.publisher.Publish(EventTimelockEmergencyQueued, TimelockEvent{
		ActionID:   a.ID,
		PayloadRef: a.PayloadRef,
		State:      ActionQueued,
		Emergency:  true,
		ETA:        a.ETA(),
		Authority:  signer,
		Timestamp:  a.QueuedAt,
	})
	s.logger.Warn("Emergency timelock action queued", "id", a.ID, "payload", a.PayloadRef, "by", signer, "role", role, "eta", a.ETA())
	return a, nil
}

func (s *TimelockScheduler) enqueue(payloadRef common.Hash, delay time.Duration, emergency bool) *TimelockAction {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonce++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(now.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], s.nonce)

	a := &TimelockAction{
		ID:         crypto.Keccak256Hash(payloadRef[:], buf[:]),
		PayloadRef: payloadRef,
		QueuedAt:   now,
		Delay:      delay,
		Emergency:  emergency,
		State:      ActionQueued,
	}
	s.actions[a.ID] = a
	s.order = append(s.order, a.ID)

	cpy := *a
	return &cpy
}

// Execute runs an executable action. Before its ETA the action is not ready;
// once the grace period has passed it has expired and never runs. The executor
// runs without scheduler locks held; while it runs the action can be neither
// executed again nor cancelled. If the executor fails the action stays
// executable.
func (s *TimelockScheduler) Execute(id common.Hash) (*TimelockAction, error) {
	now := s.clock.Now()

	s.mu.Lock()
	a, ok := s.actions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	view, expiredNow := s.view(a, now)
	busy := a.executing
	if view.State == ActionExecutable && !busy {
		a.executing = true
	}
	s.mu.Unlock()

	if expiredNow {
		s.reportExpired(view, now)
	}
	if busy {
		return nil, ErrExecutionInProgress
	}
	switch view.State {
	case ActionExecuted:
		return nil, ErrAlreadyExecuted
	case ActionCancelled:
		return nil, ErrAlreadyCancelled
	case ActionQueued:
		return nil, fmt.Errorf("%w: eta %v", ErrNotReady, view.ETA())
	case ActionExpired:
		return nil, ErrExpired
	}
	if s.executor != nil {
		if err := s.executor.ExecuteAction(id, view.PayloadRef); err != nil {
			s.mu.Lock()
			a.executing = false
			s.mu.Unlock()

			s.logger.Error("Timelock action execution failed", "id", id, "err", err)
			return nil, fmt.Errorf("timelock action %s execution failed: %w", id.Hex(), err)
		}
	}
	s.mu.Lock()
	a.executing = false
	a.State = ActionExecuted
	a.ExecutedAt = now
	view, _ = s.view(a, now)
	s.mu.Unlock()

	s.metrics.timelockTransition(ActionExecuted)
	s.publisher.Publish(EventTimelockExecuted, TimelockEvent{
		ActionID:   id,
		PayloadRef: view.PayloadRef,
		State:      ActionExecuted,
		Emergency:  view.Emergency,
		ETA:        view.ETA(),
		Timestamp:  now,
	})
	s.logger.Info("Timelock action executed", "id", id)
	return view, nil
}

// Cancel cancels a pending action on the signed request of a guardian or
// the admin.
func (s *TimelockScheduler) Cancel(req *security.GuardianRequest) (*TimelockAction, error) {
	signer, role, err := s.guardians.Authorize(req, security.RequestCancel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	id := req.Target
	now := s.clock.Now()

	s.mu.Lock()
	a, ok := s.actions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if a.executing {
		s.mu.Unlock()
		return nil, ErrExecutionInProgress
	}
	view, expiredNow := s.view(a, now)
	prior := view.State
	if prior == ActionQueued || prior == ActionExecutable {
		a.State = ActionCancelled
		a.CancelledAt = now
		view, _ = s.view(a, now)
	}
	s.mu.Unlock()

	if expiredNow {
		s.reportExpired(view, now)
	}
	switch prior {
	case ActionExecuted:
		return nil, ErrAlreadyExecuted
	case ActionCancelled:
		return nil, ErrAlreadyCancelled
	case ActionExpired:
		return nil, ErrExpired
	}
	s.metrics.timelockTransition(ActionCancelled)
	s.publisher.Publish(EventTimelockCancelled, TimelockEvent{
		ActionID:   id,
		PayloadRef: view.PayloadRef,
		State:      ActionCancelled,
		Emergency:  view.Emergency,
		ETA:        view.ETA(),
		Authority:  signer,
		Timestamp:  now,
	})
	s.logger.Warn("Timelock action cancelled", "id", id, "by", signer, "role", role)
	return view, nil
}

// GetAction returns an action with its current derived state.
func (s *TimelockScheduler) GetAction(id common.Hash) (*TimelockAction, error) {
	now := s.clock.Now()

	s.mu.Lock()
	a, ok := s.actions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	view, expiredNow := s.view(a, now)
	s.mu.Unlock()

	if expiredNow {
		s.reportExpired(view, now)
	}
	return view, nil
}

// ListActions returns the actions in queue order, restricted to the given
// derived states when any are passed.
func (s *TimelockScheduler) ListActions(states ...ActionState) []*TimelockAction {
	now := s.clock.Now()

	var (
		out     []*TimelockAction
		expired []*TimelockAction
	)
	s.mu.Lock()
	for _, id := range s.order {
		view, expiredNow := s.view(s.actions[id], now)
		if expiredNow {
			expired = append(expired, view)
		}
		if len(states) == 0 || containsState(states, view.State) {
			out = append(out, view)
		}
	}
	s.mu.Unlock()

	for _, a := range expired {
		s.reportExpired(a, now)
	}
	return out
}

func containsState(states []ActionState, state ActionState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// restore loads actions in queue order.
func (s *TimelockScheduler) restore(actions []TimelockAction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range actions {
		a := actions[i]
		if a.State == ActionExpired || a.State == ActionExecutable {
			a.State = ActionQueued
		}
		a.executing = false
		s.actions[a.ID] = &a
		s.order = append(s.order, a.ID)
	}
	s.nonce += uint64(len(actions))
}

// snapshot exports the stored state of every action in queue order.
func (s *TimelockScheduler) snapshot() []TimelockAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TimelockAction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.actions[id])
	}
	return out
}
