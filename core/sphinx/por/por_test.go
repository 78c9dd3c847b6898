// por_test.go - Proof-of-Relay tests.
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

package por

import (
	"bytes"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/katzenpost/mixpor/core/sphinx/keys"
)

func newSecret(t *testing.T) *keys.SharedSecret {
	s := new(keys.SharedSecret)
	_, err := rand.Reader.Read(s[:])
	require.NoError(t, err)
	return s
}

func TestNewResponse(t *testing.T) {
	require := require.New(t)

	s := newSecret(t)
	r := NewResponse(s)

	expected := make([]byte, ResponseLength)
	_, err := io.ReadFull(hkdf.Expand(sha256.New, s[:], []byte("por-response")), expected)
	require.NoError(err)
	require.Equal(expected, r[:])

	c := r.Challenge()
	h := hash.Sum256(r[:])
	require.Equal(h[:], c[:])

	k := sha3.NewLegacyKeccak256()
	k.Write(c[:])
	digest := k.Sum(nil)
	e := c.ToEthereumChallenge()
	require.Equal(digest[12:], e[:])
	require.False(e.IsZero())

	r.Reset()
	require.Equal(make([]byte, ResponseLength), r[:])
}

func TestGenerateProofOfRelay(t *testing.T) {
	require := require.New(t)

	secrets := make([]*keys.SharedSecret, 5)
	for i := range secrets {
		secrets[i] = newSecret(t)
	}
	responses, challenges := GenerateProofOfRelay(secrets)
	require.Len(responses, len(secrets))
	require.Len(challenges, len(secrets))

	for i, s := range secrets {
		require.Equal(NewResponse(s), responses[i])
		require.Equal(responses[i].Challenge(), challenges[i])
		require.True(PreVerify(s, responses[i], challenges[i]))
		require.True(PreVerifyEthereum(s, responses[i], challenges[i].ToEthereumChallenge()))
		if i > 0 {
			require.False(bytes.Equal(challenges[i][:], challenges[i-1][:]))
		}
	}
}

func TestPreVerify(t *testing.T) {
	require := require.New(t)

	s := newSecret(t)
	other := newSecret(t)
	r := NewResponse(s)
	c := r.Challenge()
	e := c.ToEthereumChallenge()

	require.True(PreVerify(s, r, c))
	require.True(PreVerifyEthereum(s, r, e))

	// Another hop's secret.
	require.False(PreVerify(other, r, c))
	require.False(PreVerifyEthereum(other, r, e))

	// A challenge for another response.
	otherResponse := NewResponse(other)
	require.False(PreVerify(s, r, otherResponse.Challenge()))
	require.False(PreVerifyEthereum(s, r, otherResponse.Challenge().ToEthereumChallenge()))

	// A response that does not come from the secret, even with a matching
	// challenge.
	require.False(PreVerify(s, otherResponse, otherResponse.Challenge()))

	bad := *e
	bad[0] ^= 1
	require.False(PreVerifyEthereum(s, r, &bad))

	require.False(PreVerify(nil, r, c))
	require.False(PreVerifyEthereum(s, r, nil))
}
