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

package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var commandDumpConfig = &cli.Command{
	Name:  "dumpconfig",
	Usage: "print the effective configuration as TOML",
	Description: `
Prints the configuration that results from the defaults, the --config file
and the GOVCORE_* environment variables. The output is a valid configuration
file.`,
	Action: func(ctx *cli.Context) error {
		f, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		return f.Write(os.Stdout)
	},
}

var commandCheckConfig = &cli.Command{
	Name:  "checkconfig",
	Usage: "validate a configuration file",
	Action: func(ctx *cli.Context) error {
		f, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if err := f.Validate(); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}
		gov, _ := f.Governance()
		log.Info("Configuration is valid",
			"voting", gov.Voting.Method, "delegation", gov.Delegation.Method,
			"guardians", len(gov.Timelock.Guardians), "engine", f.Storage.Engine)
		return nil
	},
}
