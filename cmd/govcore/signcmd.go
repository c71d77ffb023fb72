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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"

	"github.com/shadowvote/govcore/security"
)

var (
	keyFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "file holding the hex-encoded secp256k1 key of a guardian or the admin",
		Required: true,
	}
	kindFlag = &cli.StringFlag{
		Name:  "kind",
		Usage: "request kind (cancel, emergency)",
		Value: "cancel",
	}
	targetFlag = &cli.StringFlag{
		Name:     "target",
		Usage:    "action id to cancel, or payload reference to fast-track",
		Required: true,
	}
	nonceFlag = &cli.Uint64Flag{
		Name:  "nonce",
		Usage: "distinguishes otherwise identical requests",
	}
)

var commandSignRequest = &cli.Command{
	Name:  "sign-request",
	Usage: "sign a guardian request",
	Flags: []cli.Flag{keyFlag, kindFlag, targetFlag, nonceFlag},
	Action: func(ctx *cli.Context) error {
		key, err := crypto.LoadECDSA(ctx.String(keyFlag.Name))
		if err != nil {
			return fmt.Errorf("failed to load key: %w", err)
		}
		var kind security.RequestKind
		switch ctx.String(kindFlag.Name) {
		case "cancel":
			kind = security.RequestCancel
		case "emergency":
			kind = security.RequestEmergency
		default:
			return fmt.Errorf("unknown request kind %q", ctx.String(kindFlag.Name))
		}
		target, err := hexutil.Decode(ctx.String(targetFlag.Name))
		if err != nil || len(target) != common.HashLength {
			return fmt.Errorf("target must be a 32-byte hex string")
		}
		req := &security.GuardianRequest{
			Kind:   kind,
			Target: common.BytesToHash(target),
			Nonce:  ctx.Uint64(nonceFlag.Name),
		}
		if err := req.Sign(key); err != nil {
			return err
		}
		fmt.Printf("signer:    %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		fmt.Printf("digest:    %s\n", req.Digest().Hex())
		fmt.Printf("signature: %s\n", hexutil.Encode(req.Signature))
		return nil
	},
}
