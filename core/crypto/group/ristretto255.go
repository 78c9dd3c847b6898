// ristretto255.go - ristretto255 group.
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
	"io"

	"github.com/gtank/ristretto255"
)

const ristrettoSize = 32

type ristrettoScalar struct {
	s ristretto255.Scalar
}

func (s *ristrettoScalar) Bytes() []byte {
	return s.s.Encode(nil)
}

func (s *ristrettoScalar) Reset() {
	s.s = *ristretto255.NewScalar()
}

func (s *ristrettoScalar) isZero() bool {
	return s.s.Equal(ristretto255.NewScalar()) == 1
}

type ristrettoElement struct {
	e ristretto255.Element
}

func (e *ristrettoElement) Bytes() []byte {
	return e.e.Encode(nil)
}

func (e *ristrettoElement) isIdentity() bool {
	return e.e.Equal(ristretto255.NewElement().Zero()) == 1
}

type ristrettoGroup struct{}

func (g *ristrettoGroup) ID() ID           { return Ristretto255 }
func (g *ristrettoGroup) Name() string     { return "ristretto255" }
func (g *ristrettoGroup) ScalarSize() int  { return ristrettoSize }
func (g *ristrettoGroup) ElementSize() int { return ristrettoSize }
func (g *ristrettoGroup) sealed()          {}

func (g *ristrettoGroup) RandomScalar(r io.Reader) (Scalar, error) {
	return randomScalar(g, r)
}

func (g *ristrettoGroup) HashToScalar(b []byte) (Scalar, error) {
	if len(b) != UniformBytesLength {
		return nil, ErrInvalidScalar
	}
	s := new(ristrettoScalar)
	s.s.FromUniformBytes(b)
	if s.isZero() {
		return nil, ErrInvalidScalar
	}
	return s, nil
}

func (g *ristrettoGroup) DecodeScalar(b []byte) (Scalar, error) {
	if len(b) != ristrettoSize {
		return nil, ErrInvalidScalar
	}
	s := new(ristrettoScalar)
	if err := s.s.Decode(b); err != nil {
		return nil, ErrInvalidScalar
	}
	if s.isZero() {
		return nil, ErrInvalidScalar
	}
	return s, nil
}

func (g *ristrettoGroup) DecodeElement(b []byte) (Element, error) {
	if len(b) != ristrettoSize {
		return nil, ErrInvalidElement
	}
	e := new(ristrettoElement)
	if err := e.e.Decode(b); err != nil {
		return nil, ErrInvalidElement
	}
	if e.isIdentity() {
		return nil, ErrInvalidElement
	}
	return e, nil
}

func (g *ristrettoGroup) ScalarMul(a, b Scalar) (Scalar, error) {
	x, ok := a.(*ristrettoScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	y, ok := b.(*ristrettoScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	r := new(ristrettoScalar)
	r.s.Multiply(&x.s, &y.s)
	return r, nil
}

func (g *ristrettoGroup) ScalarBaseMult(s Scalar) (Element, error) {
	x, ok := s.(*ristrettoScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	if x.isZero() {
		return nil, ErrIdentity
	}
	e := new(ristrettoElement)
	e.e.ScalarBaseMult(&x.s)
	return e, nil
}

func (g *ristrettoGroup) ScalarMult(s Scalar, p Element) (Element, error) {
	x, ok := s.(*ristrettoScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	q, ok := p.(*ristrettoElement)
	if !ok {
		return nil, errMismatchedGroup
	}
	e := new(ristrettoElement)
	e.e.ScalarMult(&x.s, &q.e)
	if e.isIdentity() {
		return nil, ErrIdentity
	}
	return e, nil
}
