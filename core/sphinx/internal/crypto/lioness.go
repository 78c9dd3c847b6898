// lioness.go - LIONESS wide-block cipher.
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

package crypto

import (
	"crypto/subtle"

	"github.com/katzenpost/hpqc/util"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
)

const (
	lionessRoundKeyLength = chacha20.KeySize

	// LionessKeyLength is the length of the LIONESS round keys plus IV.
	LionessKeyLength = 4*lionessRoundKeyLength + chacha20.NonceSize

	// LionessMinBlockLength is the shortest block LIONESS accepts.
	LionessMinBlockLength = lionessRoundKeyLength + 1
)

// lioness is the four round unbalanced Feistel network of Anderson and
// Biham.  The left half is one stream cipher key wide, the right half is
// the rest of the block.
type lioness struct {
	k1, k2, k3, k4 [lionessRoundKeyLength]byte
	iv             [chacha20.NonceSize]byte
}

func newLioness(key []byte) *lioness {
	l := new(lioness)
	copy(l.k1[:], key[0:])
	copy(l.k2[:], key[lionessRoundKeyLength:])
	copy(l.k3[:], key[2*lionessRoundKeyLength:])
	copy(l.k4[:], key[3*lionessRoundKeyLength:])
	copy(l.iv[:], key[4*lionessRoundKeyLength:])
	return l
}

// Reset clears the round keys.
func (l *lioness) Reset() {
	util.ExplicitBzero(l.k1[:])
	util.ExplicitBzero(l.k2[:])
	util.ExplicitBzero(l.k3[:])
	util.ExplicitBzero(l.k4[:])
	util.ExplicitBzero(l.iv[:])
}

// streamRound sets right ^= ChaCha20(left ^ k, iv).
func (l *lioness) streamRound(left, right []byte, k *[lionessRoundKeyLength]byte) {
	var key [lionessRoundKeyLength]byte
	defer util.ExplicitBzero(key[:])
	subtle.XORBytes(key[:], left, k[:])

	c, err := chacha20.NewUnauthenticatedCipher(key[:], l.iv[:])
	if err != nil {
		panic("crypto/lioness: BUG: " + err.Error())
	}
	c.XORKeyStream(right, right)
}

// hashRound sets left ^= BLAKE2b-256(k, right).
func (l *lioness) hashRound(left, right []byte, k *[lionessRoundKeyLength]byte) {
	h, err := blake2b.New256(k[:])
	if err != nil {
		panic("crypto/lioness: BUG: " + err.Error())
	}
	h.Write(right)
	digest := h.Sum(nil)
	defer util.ExplicitBzero(digest)
	subtle.XORBytes(left, left, digest)
}

// Encrypt encrypts b in place.
func (l *lioness) Encrypt(b []byte) {
	left, right := b[:lionessRoundKeyLength], b[lionessRoundKeyLength:]
	l.streamRound(left, right, &l.k1)
	l.hashRound(left, right, &l.k2)
	l.streamRound(left, right, &l.k3)
	l.hashRound(left, right, &l.k4)
}

// Decrypt decrypts b in place.
func (l *lioness) Decrypt(b []byte) {
	left, right := b[:lionessRoundKeyLength], b[lionessRoundKeyLength:]
	l.hashRound(left, right, &l.k4)
	l.streamRound(left, right, &l.k3)
	l.hashRound(left, right, &l.k2)
	l.streamRound(left, right, &l.k1)
}
