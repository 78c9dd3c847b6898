// ed25519.go - edwards25519 and Curve25519 groups.
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
	"crypto/subtle"
	"io"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
)

const curve25519Size = 32

var (
	scalarEightInv = func() *edwards25519.Scalar {
		var b [32]byte
		b[0] = 8
		s, err := edwards25519.NewScalar().SetCanonicalBytes(b[:])
		if err != nil {
			panic("group: BUG: failed to encode 8: " + err.Error())
		}
		return s.Invert(s)
	}()
)

type edScalar struct {
	s edwards25519.Scalar
}

func (s *edScalar) Bytes() []byte {
	return s.s.Bytes()
}

func (s *edScalar) Reset() {
	s.s = *edwards25519.NewScalar()
}

func (s *edScalar) isZero() bool {
	return s.s.Equal(edwards25519.NewScalar()) == 1
}

// edElement is an edwards25519 point encoded in Edwards form.
type edElement struct {
	p edwards25519.Point
}

func (e *edElement) Bytes() []byte {
	return e.p.Bytes()
}

// x25519Element is an edwards25519 point encoded as a Montgomery
// u-coordinate.
type x25519Element struct {
	p edwards25519.Point
}

func (e *x25519Element) Bytes() []byte {
	return e.p.BytesMontgomery()
}

// inPrimeOrderSubgroup returns true iff p is not the identity and
// (8^-1 mod l) * (8 * p) == p, which only holds for points without a
// torsion component.
func inPrimeOrderSubgroup(p *edwards25519.Point) bool {
	if p.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return false
	}
	q := new(edwards25519.Point).MultByCofactor(p)
	q.ScalarMult(scalarEightInv, q)
	return q.Equal(p) == 1
}

func edHashToScalar(b []byte) (*edScalar, error) {
	if len(b) != UniformBytesLength {
		return nil, ErrInvalidScalar
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(b)
	if err != nil {
		return nil, ErrInvalidScalar
	}
	r := &edScalar{s: *s}
	if r.isZero() {
		return nil, ErrInvalidScalar
	}
	return r, nil
}

func edDecodeScalar(b []byte) (*edScalar, error) {
	if len(b) != curve25519Size {
		return nil, ErrInvalidScalar
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return nil, ErrInvalidScalar
	}
	r := &edScalar{s: *s}
	if r.isZero() {
		return nil, ErrInvalidScalar
	}
	return r, nil
}

func edScalarMul(a, b Scalar) (*edScalar, error) {
	x, ok := a.(*edScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	y, ok := b.(*edScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	r := new(edScalar)
	r.s.Multiply(&x.s, &y.s)
	return r, nil
}

func edScalarMult(s Scalar, p *edwards25519.Point) (*edwards25519.Point, error) {
	x, ok := s.(*edScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	r := new(edwards25519.Point).ScalarMult(&x.s, p)
	if r.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return nil, ErrIdentity
	}
	return r, nil
}

func edScalarBaseMult(s Scalar) (*edwards25519.Point, error) {
	x, ok := s.(*edScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	if x.isZero() {
		return nil, ErrIdentity
	}
	return new(edwards25519.Point).ScalarBaseMult(&x.s), nil
}

type ed25519Group struct{}

func (g *ed25519Group) ID() ID           { return Ed25519 }
func (g *ed25519Group) Name() string     { return "ed25519" }
func (g *ed25519Group) ScalarSize() int  { return curve25519Size }
func (g *ed25519Group) ElementSize() int { return curve25519Size }
func (g *ed25519Group) sealed()          {}

func (g *ed25519Group) RandomScalar(r io.Reader) (Scalar, error) {
	return randomScalar(g, r)
}

func (g *ed25519Group) HashToScalar(b []byte) (Scalar, error) {
	return edHashToScalar(b)
}

func (g *ed25519Group) DecodeScalar(b []byte) (Scalar, error) {
	return edDecodeScalar(b)
}

func (g *ed25519Group) DecodeElement(b []byte) (Element, error) {
	if len(b) != curve25519Size {
		return nil, ErrInvalidElement
	}
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, ErrInvalidElement
	}
	// SetBytes accepts non-canonical encodings.
	if subtle.ConstantTimeCompare(p.Bytes(), b) != 1 {
		return nil, ErrInvalidElement
	}
	if !inPrimeOrderSubgroup(p) {
		return nil, ErrInvalidElement
	}
	return &edElement{p: *p}, nil
}

func (g *ed25519Group) ScalarMul(a, b Scalar) (Scalar, error) {
	return edScalarMul(a, b)
}

func (g *ed25519Group) ScalarBaseMult(s Scalar) (Element, error) {
	p, err := edScalarBaseMult(s)
	if err != nil {
		return nil, err
	}
	return &edElement{p: *p}, nil
}

func (g *ed25519Group) ScalarMult(s Scalar, e Element) (Element, error) {
	x, ok := e.(*edElement)
	if !ok {
		return nil, errMismatchedGroup
	}
	p, err := edScalarMult(s, &x.p)
	if err != nil {
		return nil, err
	}
	return &edElement{p: *p}, nil
}

type x25519Group struct{}

func (g *x25519Group) ID() ID           { return X25519 }
func (g *x25519Group) Name() string     { return "x25519" }
func (g *x25519Group) ScalarSize() int  { return curve25519Size }
func (g *x25519Group) ElementSize() int { return curve25519Size }
func (g *x25519Group) sealed()          {}

func (g *x25519Group) RandomScalar(r io.Reader) (Scalar, error) {
	return randomScalar(g, r)
}

func (g *x25519Group) HashToScalar(b []byte) (Scalar, error) {
	return edHashToScalar(b)
}

func (g *x25519Group) DecodeScalar(b []byte) (Scalar, error) {
	return edDecodeScalar(b)
}

// DecodeElement maps the u-coordinate to the Edwards point with y =
// (u-1)/(u+1) and an even x.  Both Edwards points sharing a u-coordinate
// yield the same u-coordinate after any scalar multiplication.
func (g *x25519Group) DecodeElement(b []byte) (Element, error) {
	if len(b) != curve25519Size {
		return nil, ErrInvalidElement
	}
	u, err := new(field.Element).SetBytes(b)
	if err != nil {
		return nil, ErrInvalidElement
	}
	// SetBytes ignores the top bit and accepts values >= p.
	if subtle.ConstantTimeCompare(u.Bytes(), b) != 1 {
		return nil, ErrInvalidElement
	}

	one := new(field.Element).One()
	den := new(field.Element).Add(u, one)
	if den.Equal(new(field.Element).Zero()) == 1 {
		return nil, ErrInvalidElement
	}
	y := new(field.Element).Subtract(u, one)
	y.Multiply(y, new(field.Element).Invert(den))

	p, err := new(edwards25519.Point).SetBytes(y.Bytes())
	if err != nil {
		// u is on the quadratic twist.
		return nil, ErrInvalidElement
	}
	if !inPrimeOrderSubgroup(p) {
		return nil, ErrInvalidElement
	}
	return &x25519Element{p: *p}, nil
}

func (g *x25519Group) ScalarMul(a, b Scalar) (Scalar, error) {
	return edScalarMul(a, b)
}

func (g *x25519Group) ScalarBaseMult(s Scalar) (Element, error) {
	p, err := edScalarBaseMult(s)
	if err != nil {
		return nil, err
	}
	return &x25519Element{p: *p}, nil
}

func (g *x25519Group) ScalarMult(s Scalar, e Element) (Element, error) {
	x, ok := e.(*x25519Element)
	if !ok {
		return nil, errMismatchedGroup
	}
	p, err := edScalarMult(s, &x.p)
	if err != nil {
		return nil, err
	}
	return &x25519Element{p: *p}, nil
}
