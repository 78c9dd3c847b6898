// keys_test.go - Shared secret derivation tests.
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

package keys

import (
	"bytes"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixpor/core/crypto/group"
)

const testMaxHops = 5

func newPath(require *require.Assertions, g group.Group, n int) ([]*group.Keypair, []group.Element) {
	kps := make([]*group.Keypair, n)
	path := make([]group.Element, n)
	for i := range kps {
		kp, err := group.NewKeypair(g, rand.Reader)
		require.NoError(err)
		kps[i] = kp
		path[i] = kp.Public
	}
	return kps, path
}

func TestDeriveSharedKeys(t *testing.T) {
	for _, g := range group.All() {
		g := g
		t.Run(g.Name(), func(t *testing.T) {
			require := require.New(t)

			for nrHops := 1; nrHops <= testMaxHops; nrHops++ {
				kps, path := newPath(require, g, nrHops)
				sk, err := DeriveSharedKeys(g, rand.Reader, path, testMaxHops)
				require.NoError(err)
				require.Len(sk.Secrets, nrHops)
				require.Equal(sk.Alpha, sk.Alphas[0])

				// Each relay recovers exactly its own secret from the alpha
				// handed to it by the previous relay.
				alpha := sk.Alpha
				for i, kp := range kps {
					require.Equal(sk.Alphas[i], alpha, "hop %d alpha", i)
					s, next, err := DeriveHopKeys(g, kp.Secret, alpha)
					require.NoError(err)
					require.Equal(*sk.Secrets[i], *s, "hop %d secret", i)
					alpha = next
				}

				// The wrong key yields an unrelated secret.
				if nrHops > 1 {
					s, _, err := DeriveHopKeys(g, kps[1].Secret, sk.Alpha)
					require.NoError(err)
					require.NotEqual(*sk.Secrets[0], *s)
				}
				sk.Reset()
				require.Equal(SharedSecret{}, *sk.Secrets[0])
			}
		})
	}
}

func TestDeriveSharedKeysDeterministic(t *testing.T) {
	require := require.New(t)

	seed := bytes.Repeat([]byte{0x17}, 32)
	for _, g := range group.All() {
		_, path := newPath(require, g, 3)

		r1, err := rand.NewDeterministicRandReader(seed)
		require.NoError(err)
		r2, err := rand.NewDeterministicRandReader(seed)
		require.NoError(err)

		a, err := DeriveSharedKeys(g, r1, path, testMaxHops)
		require.NoError(err)
		b, err := DeriveSharedKeys(g, r2, path, testMaxHops)
		require.NoError(err)
		require.Equal(a.Alpha, b.Alpha)
		require.Equal(a.Alphas, b.Alphas)
		require.Equal(a.Secrets, b.Secrets)
	}
}

func TestDeriveSharedKeysErrors(t *testing.T) {
	require := require.New(t)

	g := group.ByName("x25519")
	_, err := DeriveSharedKeys(g, rand.Reader, nil, testMaxHops)
	require.ErrorIs(err, ErrInvalidPathLength)

	_, path := newPath(require, g, testMaxHops+1)
	_, err = DeriveSharedKeys(g, rand.Reader, path, testMaxHops)
	require.ErrorIs(err, ErrInvalidPathLength)

	_, err = DeriveSharedKeys(g, rand.Reader, []group.Element{nil}, testMaxHops)
	require.ErrorIs(err, ErrInvalidPublicKey)

	_, err = DecodePath(g, [][]byte{make([]byte, 32)})
	require.ErrorIs(err, ErrInvalidPublicKey)

	kp, err := group.NewKeypair(g, rand.Reader)
	require.NoError(err)
	_, _, err = DeriveHopKeys(g, kp.Secret, []byte{1, 2, 3})
	require.ErrorIs(err, ErrInvalidPublicKey)
}

func TestKeystream(t *testing.T) {
	require := require.New(t)

	var s SharedSecret
	_, err := rand.Reader.Read(s[:])
	require.NoError(err)
	require.Equal(s.Keystream(64), s.Keystream(128)[:64])
	require.Len(s.Expand("label", 17), 17)
	require.NotEqual(s.Expand("a", 32), s.Expand("b", 32))
}
