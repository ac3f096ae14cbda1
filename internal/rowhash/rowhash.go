// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package rowhash computes keyed 64-bit hashes of row keys; the
// join package uses them to key its per-pair result counts. Siphash
// gives good bucket distribution for arbitrary-length keys without
// the DoS-prone worst cases of a simple multiplicative hash.
//
// A process-lifetime random key means the hash is not stable
// across runs, which is fine: it is only ever used as an
// in-memory bucket index, never persisted or compared across
// processes.
package rowhash

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/dchest/siphash"
)

var k0, k1 uint64

func init() {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand failing is unrecoverable; fall back to
		// a fixed key rather than panicking at import time.
		k0, k1 = 0x0102030405060708, 0x1112131415161718
		return
	}
	k0 = binary.LittleEndian.Uint64(seed[0:8])
	k1 = binary.LittleEndian.Uint64(seed[8:16])
}

// Hash64 returns a keyed 64-bit hash of s.
func Hash64(s string) uint64 {
	return siphash.Hash(k0, k1, []byte(s))
}

// Pair combines two hashes into one without string concatenation.
// Composite join keys only need total equality and hashing, not a
// specific representation, so Pair(h(pkL), h(pkR)) can stand in as
// the bucket key for a join's materialized pair-result map.
func Pair(a, b uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], a)
	binary.LittleEndian.PutUint64(buf[8:16], b)
	return siphash.Hash(k0, k1, buf[:])
}
