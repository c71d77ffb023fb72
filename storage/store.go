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
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gofrs/flock"

	"github.com/shadowvote/govcore/governance"
)

const lockFileName = "LOCK.govcore"

// Store keeps governance snapshots in a key-value database. It implements
// governance.StateLoader.
type Store struct {
	config Config
	db     ethdb.KeyValueStore
	flock  *flock.Flock
	logger log.Logger
}

var _ governance.StateLoader = (*Store)(nil)

// Open opens the database selected by cfg. Disk engines take an exclusive
// lock on the data directory for the lifetime of the store.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		config: cfg,
		logger: log.New("module", "storage", "engine", cfg.Engine),
	}
	if cfg.Engine == EngineMemory {
		s.db = memorydb.New()
		return s, nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s.flock = flock.New(filepath.Join(cfg.DataDir, lockFileName))
	locked, err := s.flock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDataDirLocked, cfg.DataDir)
	}
	dir := filepath.Join(cfg.DataDir, string(cfg.Engine))
	switch cfg.Engine {
	case EngineLevelDB:
		s.db, err = leveldb.New(dir, cfg.Cache, cfg.Handles, cfg.Namespace, cfg.ReadOnly)
	case EnginePebble:
		s.db, err = pebble.New(dir, cfg.Cache, cfg.Handles, cfg.Namespace, cfg.ReadOnly, false)
	}
	if err != nil {
		s.flock.Unlock()
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Engine, err)
	}
	s.logger.Info("Opened governance database", "dir", dir, "cache", cfg.Cache, "handles", cfg.Handles, "readonly", cfg.ReadOnly)
	return s, nil
}

// Close closes the database and releases the directory lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.flock != nil {
		if uerr := s.flock.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}

func indexKey(prefix []byte, i int) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(i))
	return key
}

func concatKey(prefix []byte, parts ...[]byte) []byte {
	key := append([]byte(nil), prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// SaveSnapshot replaces the stored state with state in a single batch.
func (s *Store) SaveSnapshot(state *governance.PriorState) error {
	batch := s.db.NewBatch()

	for _, prefix := range [][]byte{nullifierPrefix, tallyPrefix, windowPrefix, votePrefix, delegationPrefix, actionPrefix} {
		it := s.db.NewIterator(prefix, nil)
		for it.Next() {
			if err := batch.Delete(it.Key()); err != nil {
				it.Release()
				return err
			}
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return fmt.Errorf("failed to iterate stored state: %w", err)
		}
	}
	put := func(key []byte, val interface{}) error {
		enc, err := rlp.EncodeToBytes(val)
		if err != nil {
			return fmt.Errorf("failed to encode %x: %w", key[:1], err)
		}
		return batch.Put(key, enc)
	}
	if err := put(schemaKey, uint64(schemaVersion)); err != nil {
		return err
	}
	for _, n := range state.Nullifiers {
		if err := batch.Put(concatKey(nullifierPrefix, []byte{byte(n.Scope.Kind)}, n.Scope.ID[:], n.Nullifier[:]), []byte{}); err != nil {
			return err
		}
	}
	for i := range state.Tallies {
		t := &state.Tallies[i]
		if err := put(concatKey(tallyPrefix, t.ProposalID[:]), newTallyRecord(t)); err != nil {
			return err
		}
	}
	for _, w := range state.Proposals {
		rec := &windowRecord{ProposalID: w.ProposalID, EndsAt: encodeTime(w.VotingEndsAt)}
		if err := put(concatKey(windowPrefix, w.ProposalID[:]), rec); err != nil {
			return err
		}
	}
	for i := range state.Votes {
		if err := put(indexKey(votePrefix, i), newVoteRecord(&state.Votes[i])); err != nil {
			return err
		}
	}
	for i := range state.Delegations {
		if err := put(indexKey(delegationPrefix, i), newDelegationRecord(&state.Delegations[i])); err != nil {
			return err
		}
	}
	for i := range state.Actions {
		if err := put(indexKey(actionPrefix, i), newActionRecord(&state.Actions[i])); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	s.logger.Info("Saved governance snapshot",
		"nullifiers", len(state.Nullifiers), "proposals", len(state.Tallies),
		"votes", len(state.Votes), "delegations", len(state.Delegations), "actions", len(state.Actions))
	return nil
}

// LoadPriorState reads the stored snapshot. An empty database yields an
// empty state.
func (s *Store) LoadPriorState() (*governance.PriorState, error) {
	state := new(governance.PriorState)

	enc, err := s.db.Get(schemaKey)
	if err != nil {
		if has, _ := s.db.Has(schemaKey); !has {
			return state, nil
		}
		return nil, err
	}
	var version uint64
	if err := rlp.DecodeBytes(enc, &version); err != nil {
		return nil, fmt.Errorf("corrupt schema version: %w", err)
	}
	if version != schemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrSchemaMismatch, version)
	}

	err = s.iterate(nullifierPrefix, func(key, _ []byte) error {
		if len(key) != 2+2*common.HashLength {
			return fmt.Errorf("malformed nullifier key %x", key)
		}
		var e governance.NullifierEntry
		e.Scope.Kind = governance.ScopeKind(key[1])
		copy(e.Scope.ID[:], key[2:34])
		copy(e.Nullifier[:], key[34:])
		state.Nullifiers = append(state.Nullifiers, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.iterate(tallyPrefix, func(_, val []byte) error {
		var rec tallyRecord
		if err := rlp.DecodeBytes(val, &rec); err != nil {
			return err
		}
		state.Tallies = append(state.Tallies, rec.tally())
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.iterate(windowPrefix, func(_, val []byte) error {
		var rec windowRecord
		if err := rlp.DecodeBytes(val, &rec); err != nil {
			return err
		}
		state.Proposals = append(state.Proposals, governance.ProposalWindow{
			ProposalID:   rec.ProposalID,
			VotingEndsAt: decodeTime(rec.EndsAt),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.iterate(votePrefix, func(_, val []byte) error {
		var rec voteRecord
		if err := rlp.DecodeBytes(val, &rec); err != nil {
			return err
		}
		state.Votes = append(state.Votes, rec.vote())
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.iterate(delegationPrefix, func(_, val []byte) error {
		var rec delegationRecord
		if err := rlp.DecodeBytes(val, &rec); err != nil {
			return err
		}
		state.Delegations = append(state.Delegations, rec.delegation())
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.iterate(actionPrefix, func(_, val []byte) error {
		var rec actionRecord
		if err := rlp.DecodeBytes(val, &rec); err != nil {
			return err
		}
		state.Actions = append(state.Actions, rec.action())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Loaded governance state", "nullifiers", len(state.Nullifiers), "delegations", len(state.Delegations))
	return state, nil
}

func (s *Store) iterate(prefix []byte, fn func(key, val []byte) error) error {
	it := s.db.NewIterator(prefix, nil)
	defer it.Release()

	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return fmt.Errorf("failed to decode %q record: %w", prefix, err)
		}
	}
	return it.Error()
}
