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

// Package config defines the TOML configuration file of the govcore host and
// converts it into the configuration structs of each package.
//
// Values are layered with increasing priority: built-in defaults, the
// configuration file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/shadowvote/govcore/event"
	"github.com/shadowvote/govcore/governance"
	"github.com/shadowvote/govcore/storage"
)

// Environment variables overriding file values
const (
	EnvDataDir  = "GOVCORE_DATADIR"
	EnvEngine   = "GOVCORE_DB_ENGINE"
	EnvLogLevel = "GOVCORE_LOG_LEVEL"
	EnvLogFile  = "GOVCORE_LOG_FILE"
)

// Amount is a token amount written as a decimal string
type Amount uint256.Int

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	v := uint256.Int(a)
	return []byte(v.Dec()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := uint256.FromDecimal(string(text))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", text, err)
	}
	*a = Amount(*v)
	return nil
}

// Duration is a time.Duration written as a string such as "24h"
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// VotingSection configures the vote tally engine
type VotingSection struct {
	Method            string `toml:"method"`
	VoteThreshold     Amount `toml:"vote_threshold"`
	MaxVotingPower    Amount `toml:"max_voting_power"`
	QuorumRequired    Amount `toml:"quorum_required"`
	AllowVoteChange   bool   `toml:"allow_vote_change"`
	VerifyParallelism int    `toml:"verify_parallelism"`
}

// DelegationSection configures the delegation graph
type DelegationSection struct {
	MinAmount          Amount   `toml:"min_amount"`
	MaxAmount          Amount   `toml:"max_amount"`
	UseQuadratic       bool     `toml:"use_quadratic"`
	Method             string   `toml:"method"`
	LockPeriod         Duration `toml:"lock_period"`
	MaxDelegationDepth int      `toml:"max_delegation_depth"`
}

// TimelockSection configures the timelock scheduler
type TimelockSection struct {
	MinDelay       Duration         `toml:"min_delay"`
	MaxDelay       Duration         `toml:"max_delay"`
	GracePeriod    Duration         `toml:"grace_period"`
	EmergencyDelay Duration         `toml:"emergency_delay"`
	Admin          common.Address   `toml:"admin"`
	Guardians      []common.Address `toml:"guardians"`
}

// EventsSection configures the event bus
type EventsSection struct {
	QueueSize      int      `toml:"queue_size"`
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// StorageSection configures the state database
type StorageSection struct {
	Engine   string `toml:"engine"`
	DataDir  string `toml:"datadir"`
	Cache    int    `toml:"cache"`
	Handles  int    `toml:"handles"`
	ReadOnly bool   `toml:"readonly"`
}

// LogSection configures logging
type LogSection struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // terminal or json
	File       string `toml:"file"`   // empty logs to stderr
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// File is the configuration file of the govcore host
type File struct {
	Voting     VotingSection     `toml:"voting"`
	Delegation DelegationSection `toml:"delegation"`
	Timelock   TimelockSection   `toml:"timelock"`
	Events     EventsSection     `toml:"events"`
	Storage    StorageSection    `toml:"storage"`
	Log        LogSection        `toml:"log"`
}

// Default returns the configuration file holding every default value.
func Default() *File {
	gov := governance.DefaultConfig()
	bus := event.DefaultConfig()
	db := storage.DefaultConfig()
	return &File{
		Voting: VotingSection{
			Method:            gov.Voting.Method.String(),
			VoteThreshold:     Amount(gov.Voting.VoteThreshold),
			MaxVotingPower:    Amount(gov.Voting.MaxVotingPower),
			QuorumRequired:    Amount(gov.Voting.QuorumRequired),
			AllowVoteChange:   gov.Voting.AllowVoteChange,
			VerifyParallelism: gov.Voting.VerifyParallelism,
		},
		Delegation: DelegationSection{
			MinAmount:          Amount(gov.Delegation.MinAmount),
			MaxAmount:          Amount(gov.Delegation.MaxAmount),
			UseQuadratic:       gov.Delegation.UseQuadratic,
			Method:             gov.Delegation.Method.String(),
			LockPeriod:         Duration(gov.Delegation.LockPeriod),
			MaxDelegationDepth: gov.Delegation.MaxDelegationDepth,
		},
		Timelock: TimelockSection{
			MinDelay:       Duration(gov.Timelock.MinDelay),
			MaxDelay:       Duration(gov.Timelock.MaxDelay),
			GracePeriod:    Duration(gov.Timelock.GracePeriod),
			EmergencyDelay: Duration(gov.Timelock.EmergencyDelay),
			Admin:          gov.Timelock.Admin,
			Guardians:      gov.Timelock.Guardians,
		},
		Events: EventsSection{
			QueueSize:      bus.QueueSize,
			MaxAttempts:    bus.MaxAttempts,
			InitialBackoff: Duration(bus.InitialBackoff),
			MaxBackoff:     Duration(bus.MaxBackoff),
		},
		Storage: StorageSection{
			Engine:  string(db.Engine),
			DataDir: db.DataDir,
			Cache:   db.Cache,
			Handles: db.Handles,
		},
		Log: LogSection{
			Level:      "info",
			Format:     "terminal",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
	}
}

// Load reads a configuration file on top of the defaults and applies the
// environment overrides. Unknown keys are rejected.
func Load(path string) (*File, error) {
	f := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	f.ApplyEnv()
	return f, nil
}

// ApplyEnv overrides file values with the GOVCORE_* environment variables.
func (f *File) ApplyEnv() {
	f.Storage.DataDir = getEnvOrDefault(EnvDataDir, f.Storage.DataDir)
	f.Storage.Engine = getEnvOrDefault(EnvEngine, f.Storage.Engine)
	f.Log.Level = getEnvOrDefault(EnvLogLevel, f.Log.Level)
	f.Log.File = getEnvOrDefault(EnvLogFile, f.Log.File)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Write encodes the configuration as TOML.
func (f *File) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(f)
}

// Governance converts the file into the core configuration.
func (f *File) Governance() (governance.Config, error) {
	var cfg governance.Config
	if err := cfg.Voting.Method.UnmarshalText([]byte(f.Voting.Method)); err != nil {
		return cfg, fmt.Errorf("voting: %w", err)
	}
	if err := cfg.Delegation.Method.UnmarshalText([]byte(f.Delegation.Method)); err != nil {
		return cfg, fmt.Errorf("delegation: %w", err)
	}
	cfg.Voting.VoteThreshold = uint256.Int(f.Voting.VoteThreshold)
	cfg.Voting.MaxVotingPower = uint256.Int(f.Voting.MaxVotingPower)
	cfg.Voting.QuorumRequired = uint256.Int(f.Voting.QuorumRequired)
	cfg.Voting.AllowVoteChange = f.Voting.AllowVoteChange
	cfg.Voting.VerifyParallelism = f.Voting.VerifyParallelism

	cfg.Delegation.MinAmount = uint256.Int(f.Delegation.MinAmount)
	cfg.Delegation.MaxAmount = uint256.Int(f.Delegation.MaxAmount)
	cfg.Delegation.UseQuadratic = f.Delegation.UseQuadratic
	cfg.Delegation.LockPeriod = time.Duration(f.Delegation.LockPeriod)
	cfg.Delegation.MaxDelegationDepth = f.Delegation.MaxDelegationDepth

	cfg.Timelock = governance.TimelockConfig{
		MinDelay:       time.Duration(f.Timelock.MinDelay),
		MaxDelay:       time.Duration(f.Timelock.MaxDelay),
		GracePeriod:    time.Duration(f.Timelock.GracePeriod),
		EmergencyDelay: time.Duration(f.Timelock.EmergencyDelay),
		Admin:          f.Timelock.Admin,
		Guardians:      append([]common.Address(nil), f.Timelock.Guardians...),
	}
	return cfg, cfg.Validate()
}

// EventBus converts the events section.
func (f *File) EventBus() event.Config {
	return event.Config{
		QueueSize:      f.Events.QueueSize,
		MaxAttempts:    f.Events.MaxAttempts,
		InitialBackoff: time.Duration(f.Events.InitialBackoff),
		MaxBackoff:     time.Duration(f.Events.MaxBackoff),
	}
}

// StorageConfig converts the storage section.
func (f *File) StorageConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.Engine = storage.Engine(f.Storage.Engine)
	cfg.DataDir = f.Storage.DataDir
	cfg.Cache = f.Storage.Cache
	cfg.Handles = f.Storage.Handles
	cfg.ReadOnly = f.Storage.ReadOnly
	return cfg
}

// LogLevel parses the configured log level.
func (f *File) LogLevel() (slog.Level, error) {
	switch strings.ToLower(f.Log.Level) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info", "":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	if n, err := strconv.Atoi(f.Log.Level); err == nil {
		return log.FromLegacyLevel(n), nil
	}
	return 0, fmt.Errorf("unknown log level %q", f.Log.Level)
}

// Validate checks every section and the relations between them.
func (f *File) Validate() error {
	var errs []error
	if _, err := f.Governance(); err != nil {
		errs = append(errs, err)
	}
	if err := f.EventBus().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("events: %w", err))
	}
	if err := f.StorageConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if _, err := f.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if f.Log.Format != "terminal" && f.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log: unknown format %q", f.Log.Format))
	}
	if f.Storage.ReadOnly && f.Storage.Engine == string(storage.EngineMemory) {
		errs = append(errs, errors.New("storage: a read-only memory database is always empty"))
	}
	return errors.Join(errs...)
}
