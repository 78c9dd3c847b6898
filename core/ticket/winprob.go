// winprob.go - Encoded ticket winning probability.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package ticket

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// WinProbLength is the length of an encoded winning probability.
const WinProbLength = 7

const maxWinProb = uint64(1)<<(8*WinProbLength) - 1

// WinProb is a winning probability p encoded as the big endian integer
// v = p * (2^56 - 1).  The mapping is monotonic.
type WinProb [WinProbLength]byte

var (
	// WinProbAlways is the probability of a ticket that always wins.
	WinProbAlways = WinProb{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	// WinProbNever is the probability of a ticket that never wins.
	WinProbNever = WinProb{}
)

// WinProbFromFloat encodes p, clamped to [0, 1].
func WinProbFromFloat(p float64) WinProb {
	switch {
	case math.IsNaN(p) || p <= 0:
		return WinProbNever
	case p >= 1:
		return WinProbAlways
	}
	v := uint64(p * float64(maxWinProb))
	if v > maxWinProb {
		v = maxWinProb
	}
	return winProbFromUint64(v)
}

func winProbFromUint64(v uint64) WinProb {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)

	var w WinProb
	copy(w[:], tmp[1:])
	return w
}

func (w WinProb) uint64() uint64 {
	var tmp [8]byte
	copy(tmp[1:], w[:])
	return binary.BigEndian.Uint64(tmp[:])
}

// Float returns the probability as a value in [0, 1].
func (w WinProb) Float() float64 {
	return float64(w.uint64()) / float64(maxWinProb)
}

// IsAlways returns true iff the ticket always wins.
func (w WinProb) IsAlways() bool {
	return w == WinProbAlways
}

// Compare returns -1, 0 or 1 as w is less than, equal to or greater than
// other.
func (w WinProb) Compare(other WinProb) int {
	return bytes.Compare(w[:], other[:])
}

func (w WinProb) String() string {
	return hex.EncodeToString(w[:])
}
