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
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const lockStripes = 256

// keyedLock serialises work per key while unrelated keys proceed in parallel.
// Keys are spread over a fixed set of stripes by their first byte, which is
// uniform for Keccak-derived ids.
type keyedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyedLock) lock(key common.Hash) func() {
	m := &l.stripes[key[0]]
	m.Lock()
	return m.Unlock
}

// lockPair locks the stripes of two keys in a fixed order.
func (l *keyedLock) lockPair(a, b common.Hash) func() {
	i, j := a[0], b[0]
	if i == j {
		return l.lock(a)
	}
	if i > j {
		i, j = j, i
	}
	l.stripes[i].Lock()
	l.stripes[j].Lock()
	return func() {
		l.stripes[j].Unlock()
		l.stripes[i].Unlock()
	}
}
