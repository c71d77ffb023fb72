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

// Package storage persists governance state in a key-value database and
// serves it back to the core at startup.
package storage

import (
	"errors"
	"fmt"
)

// Engine selects the key-value backend
type Engine string

const (
	EngineMemory  Engine = "memory"  // volatile, for tests and dry runs
	EngineLevelDB Engine = "leveldb" // goleveldb
	EnginePebble  Engine = "pebble"  // cockroachdb pebble
)

var (
	ErrUnknownEngine  = errors.New("unknown storage engine")
	ErrDataDirLocked  = errors.New("data directory is used by another process")
	ErrSchemaMismatch = errors.New("unsupported storage schema version")
)

// Config defines configuration for the storage module
type Config struct {
	Engine    Engine
	DataDir   string // unused by the memory engine
	Cache     int    // megabytes
	Handles   int    // open file handles
	Namespace string // metrics namespace of the underlying database
	ReadOnly  bool
}

// DefaultConfig returns the default storage configuration
func DefaultConfig() Config {
	return Config{
		Engine:    EnginePebble,
		DataDir:   "govcore-data",
		Cache:     64,
		Handles:   256,
		Namespace: "govcore/db/",
	}
}

// Validate checks the storage configuration for consistency.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineMemory:
		return nil
	case EngineLevelDB, EnginePebble:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.Engine)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%s engine requires a data directory", c.Engine)
	}
	if c.Cache < 0 || c.Handles < 0 {
		return fmt.Errorf("negative cache (%d) or handle (%d) allowance", c.Cache, c.Handles)
	}
	return nil
}
