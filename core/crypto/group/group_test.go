// group_test.go - Group abstraction tests.
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

package group

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestByName(t *testing.T) {
	require := require.New(t)

	for _, g := range All() {
		require.NotNil(g)
		require.Equal(g, ByName(g.Name()))
		require.Equal(g, ByName(string(bytes.ToUpper([]byte(g.Name())))))
		require.Equal(g, ByID(g.ID()))
	}
	require.Nil(ByName("p256"))
	require.Nil(ByID(0))
}

func TestDiffieHellman(t *testing.T) {
	for _, g := range All() {
		g := g
		t.Run(g.Name(), func(t *testing.T) {
			require := require.New(t)

			alice, err := NewKeypair(g, rand.Reader)
			require.NoError(err)
			bob, err := NewKeypair(g, rand.Reader)
			require.NoError(err)
			require.Len(alice.Public.Bytes(), g.ElementSize())
			require.Len(alice.Secret.Bytes(), g.ScalarSize())

			// Round trip the public keys through the decoder first.
			alicePub, err := g.DecodeElement(alice.Public.Bytes())
			require.NoError(err)
			bobPub, err := g.DecodeElement(bob.Public.Bytes())
			require.NoError(err)

			ab, err := g.ScalarMult(alice.Secret, bobPub)
			require.NoError(err)
			ba, err := g.ScalarMult(bob.Secret, alicePub)
			require.NoError(err)
			require.Equal(ab.Bytes(), ba.Bytes())

			s, err := g.DecodeScalar(alice.Secret.Bytes())
			require.NoError(err)
			require.Equal(alice.Secret.Bytes(), s.Bytes())

			alice.Reset()
			require.Equal(make([]byte, g.ScalarSize()), alice.Secret.Bytes())
		})
	}
}

func TestRejectInvalidElements(t *testing.T) {
	for _, g := range All() {
		g := g
		t.Run(g.Name(), func(t *testing.T) {
			require := require.New(t)

			_, err := g.DecodeElement(nil)
			require.ErrorIs(err, ErrInvalidElement)
			_, err = g.DecodeElement(make([]byte, g.ElementSize()+1))
			require.ErrorIs(err, ErrInvalidElement)

			// The all zero encoding is either the identity, or not a
			// point at all.
			_, err = g.DecodeElement(make([]byte, g.ElementSize()))
			require.ErrorIs(err, ErrInvalidElement)

			allOnes := bytes.Repeat([]byte{0xff}, g.ElementSize())
			_, err = g.DecodeElement(allOnes)
			require.ErrorIs(err, ErrInvalidElement)

			_, err = g.DecodeScalar(make([]byte, g.ScalarSize()))
			require.ErrorIs(err, ErrInvalidScalar)
			_, err = g.HashToScalar(make([]byte, 32))
			require.ErrorIs(err, ErrInvalidScalar)
		})
	}
}

func TestX25519SmallOrder(t *testing.T) {
	require := require.New(t)
	g := ByName("x25519")

	// u = 1 is a point of order 4, u = p-1 has no Edwards image.
	one := make([]byte, 32)
	one[0] = 1
	_, err := g.DecodeElement(one)
	require.ErrorIs(err, ErrInvalidElement)

	minusOne := bytes.Repeat([]byte{0xff}, 32)
	minusOne[0] = 0xec
	minusOne[31] = 0x7f
	_, err = g.DecodeElement(minusOne)
	require.ErrorIs(err, ErrInvalidElement)

	// The canonical base point is accepted.
	base := make([]byte, 32)
	base[0] = 9
	_, err = g.DecodeElement(base)
	require.NoError(err)
}

func TestDeterministicScalars(t *testing.T) {
	for _, g := range All() {
		require := require.New(t)

		seed := bytes.Repeat([]byte{0x42}, 32)
		r1, err := rand.NewDeterministicRandReader(seed)
		require.NoError(err)
		r2, err := rand.NewDeterministicRandReader(seed)
		require.NoError(err)

		a, err := g.RandomScalar(r1)
		require.NoError(err)
		b, err := g.RandomScalar(r2)
		require.NoError(err)
		require.Equal(a.Bytes(), b.Bytes(), g.Name())
	}
}

// TestBlindingCommutes checks (a*b)*G == b*(a*G), which is what lets a
// relay blind the alpha it received instead of knowing the sender's scalar.
func TestBlindingCommutes(t *testing.T) {
	for _, g := range All() {
		g := g
		t.Run(g.Name(), func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				ab := rapid.SliceOfN(rapid.Byte(), UniformBytesLength, UniformBytesLength).Draw(rt, "a")
				bb := rapid.SliceOfN(rapid.Byte(), UniformBytesLength, UniformBytesLength).Draw(rt, "b")
				a, err := g.HashToScalar(ab)
				if err != nil {
					rt.Skip("zero scalar")
				}
				b, err := g.HashToScalar(bb)
				if err != nil {
					rt.Skip("zero scalar")
				}

				prod, err := g.ScalarMul(a, b)
				if err != nil {
					rt.Fatalf("ScalarMul: %v", err)
				}
				lhs, err := g.ScalarBaseMult(prod)
				if err != nil {
					rt.Fatalf("ScalarBaseMult: %v", err)
				}
				aG, err := g.ScalarBaseMult(a)
				if err != nil {
					rt.Fatalf("ScalarBaseMult: %v", err)
				}
				rhs, err := g.ScalarMult(b, aG)
				if err != nil {
					rt.Fatalf("ScalarMult: %v", err)
				}
				if !bytes.Equal(lhs.Bytes(), rhs.Bytes()) {
					rt.Fatalf("blinding does not commute")
				}
			})
		})
	}
}

func TestMismatchedGroups(t *testing.T) {
	require := require.New(t)

	ed := ByName("ed25519")
	secp := ByName("secp256k1")
	k, err := NewKeypair(ed, rand.Reader)
	require.NoError(err)
	_, err = secp.ScalarBaseMult(k.Secret)
	require.Error(err)
	_, err = secp.ScalarMult(k.Secret, k.Public)
	require.Error(err)
}

func TestSecp256k1HashToScalar(t *testing.T) {
	g := ByName("secp256k1")
	n := new(big.Int).SetBytes([]byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe,
		0xba, 0xae, 0xdc, 0xe6, 0xaf, 0x48, 0xa0, 0x3b,
		0xbf, 0xd2, 0x5e, 0x8c, 0xd0, 0x36, 0x41, 0x41,
	})

	check := func(t require.TestingT, b []byte) {
		want := new(big.Int).Mod(new(big.Int).SetBytes(b), n)
		s, err := g.HashToScalar(b)
		if want.Sign() == 0 {
			require.ErrorIs(t, err, ErrInvalidScalar)
			return
		}
		require.NoError(t, err)
		require.Equal(t, want.FillBytes(make([]byte, 32)), s.Bytes())
	}

	check(t, bytes.Repeat([]byte{0xff}, UniformBytesLength))
	check(t, append(make([]byte, 32), n.Bytes()...))
	check(t, append(n.Bytes(), make([]byte, 32)...))
	rapid.Check(t, func(t *rapid.T) {
		check(t, rapid.SliceOfN(rapid.Byte(), UniformBytesLength, UniformBytesLength).Draw(t, "b"))
	})
}
