// group.go - Prime order group abstraction.
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

// Package group provides the closed set of CDH-hard groups usable for
// Sphinx key derivation.
//
// Every group exposes the same Scalar and Element abstraction.  Elements
// returned by DecodeElement are guaranteed to be canonical, non-identity
// members of the prime order subgroup, so callers never have to perform
// their own subgroup checks.
package group

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/katzenpost/hpqc/util"
)

// UniformBytesLength is the number of bytes consumed by HashToScalar.  The
// wide input makes the reduction modulo the group order statistically
// indistinguishable from uniform for every supported group.
const UniformBytesLength = 64

// ID is the wire identifier of a group.
type ID uint8

const (
	// X25519 is Curve25519 with Montgomery u-coordinate encoding.
	X25519 ID = iota + 1

	// Ed25519 is the edwards25519 prime order subgroup.
	Ed25519

	// Ristretto255 is the ristretto255 prime order group.
	Ristretto255

	// Secp256k1 is the legacy secp256k1 curve with compressed points.
	Secp256k1
)

var (
	// ErrInvalidElement is returned when a group element fails to decode,
	// is not canonical, is the identity or lies outside of the prime order
	// subgroup.
	ErrInvalidElement = errors.New("group: invalid group element")

	// ErrInvalidScalar is returned when a scalar fails to decode or is zero.
	ErrInvalidScalar = errors.New("group: invalid scalar")

	// ErrIdentity is returned when a scalar multiplication yields the
	// identity element.
	ErrIdentity = errors.New("group: operation resulted in the identity element")

	errMismatchedGroup = errors.New("group: operand from a different group")
)

// Scalar is an integer modulo the group order.
type Scalar interface {
	// Bytes returns the canonical encoding of the scalar.
	Bytes() []byte

	// Reset clears the scalar such that no sensitive data is left in memory.
	Reset()
}

// Element is a member of the prime order group.
type Element interface {
	// Bytes returns the canonical encoding of the element.
	Bytes() []byte
}

// Group is a prime order group in which the computational Diffie-Hellman
// problem is hard.  The set of implementations is closed; the unexported
// method prevents foreign implementations.
type Group interface {
	// ID returns the wire identifier of the group.
	ID() ID

	// Name returns the canonical name of the group.
	Name() string

	// ScalarSize returns the length of an encoded scalar in bytes.
	ScalarSize() int

	// ElementSize returns the length of an encoded element in bytes.
	ElementSize() int

	// RandomScalar samples a uniformly random non-zero scalar from r.
	RandomScalar(r io.Reader) (Scalar, error)

	// HashToScalar reduces exactly UniformBytesLength bytes to a scalar.
	HashToScalar(b []byte) (Scalar, error)

	// DecodeScalar decodes a canonical non-zero scalar.
	DecodeScalar(b []byte) (Scalar, error)

	// DecodeElement decodes and validates a group element.
	DecodeElement(b []byte) (Element, error)

	// ScalarMul returns a*b.
	ScalarMul(a, b Scalar) (Scalar, error)

	// ScalarBaseMult returns s*G.
	ScalarBaseMult(s Scalar) (Element, error)

	// ScalarMult returns s*e.
	ScalarMult(s Scalar, e Element) (Element, error)

	sealed()
}

var groups = map[string]Group{
	"x25519":       &x25519Group{},
	"ed25519":      &ed25519Group{},
	"ristretto255": &ristrettoGroup{},
	"secp256k1":    &secp256k1Group{},
}

// ByName returns the group with the provided name, or nil.
func ByName(name string) Group {
	return groups[strings.ToLower(name)]
}

// ByID returns the group with the provided identifier, or nil.
func ByID(id ID) Group {
	for _, g := range groups {
		if g.ID() == id {
			return g
		}
	}
	return nil
}

// All returns every supported group.
func All() []Group {
	return []Group{ByID(X25519), ByID(Ed25519), ByID(Ristretto255), ByID(Secp256k1)}
}

// Keypair is a private scalar and the matching public element.
type Keypair struct {
	Group  Group
	Secret Scalar
	Public Element
}

// NewKeypair generates a new Keypair in g using entropy from r.
func NewKeypair(g Group, r io.Reader) (*Keypair, error) {
	s, err := g.RandomScalar(r)
	if err != nil {
		return nil, err
	}
	return KeypairFromScalar(g, s)
}

// KeypairFromScalar returns the Keypair whose secret is s.
func KeypairFromScalar(g Group, s Scalar) (*Keypair, error) {
	pub, err := g.ScalarBaseMult(s)
	if err != nil {
		return nil, err
	}
	return &Keypair{
		Group:  g,
		Secret: s,
		Public: pub,
	}, nil
}

// Reset clears the secret scalar.
func (k *Keypair) Reset() {
	if k.Secret != nil {
		k.Secret.Reset()
	}
}

func readUniform(r io.Reader) ([]byte, error) {
	b := make([]byte, UniformBytesLength)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("group: failed to read entropy: %w", err)
	}
	return b, nil
}

func randomScalar(g Group, r io.Reader) (Scalar, error) {
	for {
		b, err := readUniform(r)
		if err != nil {
			return nil, err
		}
		s, err := g.HashToScalar(b)
		util.ExplicitBzero(b)
		if errors.Is(err, ErrInvalidScalar) {
			// Zero, with negligible probability.
			continue
		}
		return s, err
	}
}
