// keys.go - Sphinx per-hop shared secret derivation.
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

// Package keys derives the per-hop Sphinx shared secrets with the
// blind-and-multiply construction, generic over the supported groups.
package keys

import (
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/util"

	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/sphinx/internal/crypto"
)

// SharedSecretLength is the length of a SharedSecret in bytes.
const SharedSecretLength = crypto.SecretLength

var (
	// ErrInvalidPathLength is returned for an empty path, or a path longer
	// than the maximum number of hops.
	ErrInvalidPathLength = errors.New("keys: invalid path length")

	// ErrInvalidPublicKey is returned when a hop's public key or a received
	// alpha value is not a valid group element.
	ErrInvalidPublicKey = errors.New("keys: invalid public key")
)

// SharedSecret is the secret shared between the sender and one hop.
type SharedSecret [SharedSecretLength]byte

// Reset clears the secret.
func (s *SharedSecret) Reset() {
	util.ExplicitBzero(s[:])
}

func (s *SharedSecret) raw() *[crypto.SecretLength]byte {
	return (*[crypto.SecretLength]byte)(s)
}

// Keystream returns length bytes of the header PRG keyed by s.
func (s *SharedSecret) Keystream(length int) []byte {
	return crypto.PRG(s.raw(), length)
}

// Expand returns length bytes of key material bound to label.
func (s *SharedSecret) Expand(label string, length int) []byte {
	return crypto.Expand(s.raw(), label, length)
}

// SharedKeys is the output of the sender side derivation.
type SharedKeys struct {
	// Alpha is the encoded group element sent to the first hop.
	Alpha []byte

	// Alphas holds the group element each hop receives, Alphas[0] == Alpha.
	Alphas [][]byte

	// Secrets holds one SharedSecret per hop, in path order.
	Secrets []*SharedSecret
}

// Reset clears every secret.
func (k *SharedKeys) Reset() {
	for _, s := range k.Secrets {
		s.Reset()
	}
}

// hopSecret computes the shared secret and blinding factor for a hop from
// the raw Diffie-Hellman element and the alpha that hop received.
func hopSecret(g group.Group, dh group.Element, alpha []byte) (*SharedSecret, group.Scalar, error) {
	dhBytes := dh.Bytes()
	defer util.ExplicitBzero(dhBytes)

	s := (*SharedSecret)(crypto.Extract(dhBytes, alpha))

	material := crypto.BlindingMaterial(s.raw(), group.UniformBytesLength)
	defer util.ExplicitBzero(material)
	b, err := g.HashToScalar(material)
	if err != nil {
		s.Reset()
		return nil, nil, fmt.Errorf("keys: failed to derive blinding factor: %w", err)
	}
	return s, b, nil
}

// DeriveSharedKeys derives the shared secrets for path, using entropy from
// r for the ephemeral scalar.  The output is a deterministic function of
// the path and the bytes read from r.
func DeriveSharedKeys(g group.Group, r io.Reader, path []group.Element, maxHops int) (*SharedKeys, error) {
	if len(path) == 0 || len(path) > maxHops {
		return nil, ErrInvalidPathLength
	}

	x, err := g.RandomScalar(r)
	if err != nil {
		return nil, err
	}
	defer func() { x.Reset() }()

	alpha, err := g.ScalarBaseMult(x)
	if err != nil {
		return nil, err
	}

	k := &SharedKeys{
		Alpha:   alpha.Bytes(),
		Alphas:  make([][]byte, 0, len(path)),
		Secrets: make([]*SharedSecret, 0, len(path)),
	}
	for i, pub := range path {
		if pub == nil {
			k.Reset()
			return nil, fmt.Errorf("%w: hop %d", ErrInvalidPublicKey, i)
		}
		alphaBytes := alpha.Bytes()
		k.Alphas = append(k.Alphas, alphaBytes)

		dh, err := g.ScalarMult(x, pub)
		if err != nil {
			k.Reset()
			return nil, fmt.Errorf("%w: hop %d: %v", ErrInvalidPublicKey, i, err)
		}
		s, b, err := hopSecret(g, dh, alphaBytes)
		if err != nil {
			k.Reset()
			return nil, err
		}
		k.Secrets = append(k.Secrets, s)

		// x <- x * b, alpha <- x * G.
		nx, err := g.ScalarMul(x, b)
		b.Reset()
		if err != nil {
			k.Reset()
			return nil, err
		}
		x.Reset()
		x = nx
		if alpha, err = g.ScalarBaseMult(x); err != nil {
			k.Reset()
			return nil, err
		}
	}
	return k, nil
}

// DecodePath decodes raw public keys into group elements.
func DecodePath(g group.Group, raw [][]byte) ([]group.Element, error) {
	path := make([]group.Element, 0, len(raw))
	for i, b := range raw {
		e, err := g.DecodeElement(b)
		if err != nil {
			return nil, fmt.Errorf("%w: hop %d: %v", ErrInvalidPublicKey, i, err)
		}
		path = append(path, e)
	}
	return path, nil
}

// DeriveHopKeys is the relay side of the derivation: from the node's
// private scalar and the received alpha it recovers the hop's shared secret
// and the alpha to forward to the next hop.
func DeriveHopKeys(g group.Group, privKey group.Scalar, alpha []byte) (*SharedSecret, []byte, error) {
	a, err := g.DecodeElement(alpha)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	dh, err := g.ScalarMult(privKey, a)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	s, b, err := hopSecret(g, dh, alpha)
	if err != nil {
		return nil, nil, err
	}
	defer b.Reset()

	next, err := g.ScalarMult(b, a)
	if err != nil {
		s.Reset()
		return nil, nil, err
	}
	return s, next.Bytes(), nil
}
