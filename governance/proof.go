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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// verifyProof runs the external verifier. It must complete before any shared
// state is touched.
func verifyProof(v ProofVerifier, proof Proof) error {
	if len(proof) == 0 || !v.VerifyProof(proof) {
		return ErrInvalidProof
	}
	return nil
}

// extractHash reads a 32-byte public output.
func extractHash(v ProofVerifier, proof Proof, field string) (common.Hash, error) {
	raw, err := v.ExtractPublicValue(proof, field)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s: %v", ErrInvalidProof, field, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s has %d bytes", ErrInvalidProof, field, len(raw))
	}
	return common.BytesToHash(raw), nil
}

// extractAmount reads a big-endian unsigned amount of at most 32 bytes.
func extractAmount(v ProofVerifier, proof Proof, field string) (*uint256.Int, error) {
	raw, err := v.ExtractPublicValue(proof, field)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProof, field, err)
	}
	if len(raw) == 0 || len(raw) > 32 {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrInvalidProof, field, len(raw))
	}
	return new(uint256.Int).SetBytes(raw), nil
}
