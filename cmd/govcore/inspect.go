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
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/shadowvote/govcore/governance"
	"github.com/shadowvote/govcore/storage"
)

var topFlag = &cli.IntFlag{
	Name:  "top",
	Usage: "number of delegates to list",
	Value: 10,
}

var commandInspect = &cli.Command{
	Name:  "inspect",
	Usage: "print the persisted governance state",
	Description: `
Opens the configured database read-only and prints proposal tallies, the
delegate leaderboard and timelocked actions with their current state.`,
	Flags: []cli.Flag{topFlag},
	Action: func(ctx *cli.Context) error {
		f, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		gov, err := f.Governance()
		if err != nil {
			return err
		}
		dbcfg := f.StorageConfig()
		if dbcfg.Engine != storage.EngineMemory {
			dbcfg.ReadOnly = true
		}
		store, err := storage.Open(dbcfg)
		if err != nil {
			return err
		}
		defer store.Close()

		core, err := governance.New(gov, noProofs{}, store)
		if err != nil {
			return err
		}
		if err := core.Initialize(context.Background()); err != nil {
			return err
		}
		return printState(os.Stdout, core, ctx.Int(topFlag.Name))
	},
}

// noProofs rejects every proof; inspection never mutates state.
type noProofs struct{}

func (noProofs) VerifyProof(governance.Proof) bool { return false }

func (noProofs) ExtractPublicValue(governance.Proof, string) ([]byte, error) { return nil, nil }

func short(h common.Hash) string {
	return h.TerminalString()
}

func printState(w io.Writer, core *governance.Core, top int) error {
	snapshot, err := core.Snapshot()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Proposals (%d)\n", len(snapshot.Tallies))
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Proposal", "For", "Against", "Abstain", "Voters", "Quorum", "Leader"})
	for _, t := range snapshot.Tallies {
		stats, err := core.GetVotingStats(t.ProposalID)
		if err != nil {
			return err
		}
		table.Append([]string{
			short(t.ProposalID),
			t.ForVotes.Dec(),
			t.AgainstVotes.Dec(),
			t.AbstainVotes.Dec(),
			strconv.FormatUint(t.VoterCount, 10),
			strconv.FormatBool(stats.QuorumReached),
			string(stats.CurrentLeader),
		})
	}
	table.Render()

	stats, err := core.GetDelegationStats(top)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nDelegations: %d total, %d active, %s active power\n",
		stats.TotalDelegations, stats.ActiveDelegations, stats.TotalActivePower.Dec())
	table = tablewriter.NewWriter(w)
	table.SetHeader([]string{"Rank", "Delegate", "Power", "Delegations"})
	for i, r := range stats.TopDelegates {
		table.Append([]string{
			strconv.Itoa(i + 1),
			short(r.Commitment),
			r.ReceivedPower.Dec(),
			strconv.Itoa(r.DelegationCount),
		})
	}
	table.Render()

	actions, err := core.ListActions()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nTimelocked actions (%d)\n", len(actions))
	table = tablewriter.NewWriter(w)
	table.SetHeader([]string{"Action", "Payload", "State", "Emergency", "ETA"})
	for _, a := range actions {
		table.Append([]string{
			short(a.ID),
			short(a.PayloadRef),
			a.State.String(),
			strconv.FormatBool(a.Emergency),
			a.ETA().UTC().Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}
