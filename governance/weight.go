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

import "github.com/holiman/uint256"

// Weight maps a token amount to power under method. Quadratic weighting uses
// the integer square root so results are identical on every platform.
// Unknown methods fall back to linear.
func Weight(amount *uint256.Int, method WeightMethod) *uint256.Int {
	if amount.IsZero() {
		return new(uint256.Int)
	}
	switch method {
	case WeightQuadratic:
		return new(uint256.Int).Sqrt(amount)
	default:
		return new(uint256.Int).Set(amount)
	}
}

// capWeight applies a power cap; a zero cap means unlimited.
func capWeight(weight *uint256.Int, max *uint256.Int) *uint256.Int {
	if !max.IsZero() && weight.Gt(max) {
		return new(uint256.Int).Set(max)
	}
	return weight
}
