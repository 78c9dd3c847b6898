// secp256k1.go - Legacy secp256k1 group.
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

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	secp256k1ScalarSize  = 32
	secp256k1ElementSize = btcec.PubKeyBytesLenCompressed
)

// secpWideReduction is 2^256 mod N.
var secpWideReduction = func() btcec.ModNScalar {
	var s btcec.ModNScalar
	s.SetByteSlice([]byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x45, 0x51, 0x23, 0x19, 0x50, 0xb7, 0x5f, 0xc4,
		0x40, 0x2d, 0xa1, 0x73, 0x2f, 0xc9, 0xbe, 0xbf,
	})
	return s
}()

type secpScalar struct {
	s btcec.ModNScalar
}

func (s *secpScalar) Bytes() []byte {
	b := s.s.Bytes()
	return b[:]
}

func (s *secpScalar) Reset() {
	s.s.Zero()
}

type secpElement struct {
	p btcec.JacobianPoint
}

func (e *secpElement) Bytes() []byte {
	// Points are always kept in affine form.
	pub := btcec.NewPublicKey(&e.p.X, &e.p.Y)
	return pub.SerializeCompressed()
}

func isInfinity(p *btcec.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

// secp256k1Group uses the btcec arithmetic.  Scalar operations are constant
// time, point decoding and scalar multiplication are not.  It exists for
// interoperability with legacy identities.
type secp256k1Group struct{}

func (g *secp256k1Group) ID() ID           { return Secp256k1 }
func (g *secp256k1Group) Name() string     { return "secp256k1" }
func (g *secp256k1Group) ScalarSize() int  { return secp256k1ScalarSize }
func (g *secp256k1Group) ElementSize() int { return secp256k1ElementSize }
func (g *secp256k1Group) sealed()          {}

func (g *secp256k1Group) RandomScalar(r io.Reader) (Scalar, error) {
	return randomScalar(g, r)
}

func (g *secp256k1Group) HashToScalar(b []byte) (Scalar, error) {
	if len(b) != UniformBytesLength {
		return nil, ErrInvalidScalar
	}
	// b is hi * 2^256 + lo, both halves are reduced mod N on load.
	var lo btcec.ModNScalar
	s := new(secpScalar)
	s.s.SetByteSlice(b[:secp256k1ScalarSize])
	lo.SetByteSlice(b[secp256k1ScalarSize:])
	s.s.Mul(&secpWideReduction).Add(&lo)
	if s.s.IsZero() {
		return nil, ErrInvalidScalar
	}
	return s, nil
}

func (g *secp256k1Group) DecodeScalar(b []byte) (Scalar, error) {
	if len(b) != secp256k1ScalarSize {
		return nil, ErrInvalidScalar
	}
	s := new(secpScalar)
	if overflow := s.s.SetByteSlice(b); overflow || s.s.IsZero() {
		return nil, ErrInvalidScalar
	}
	return s, nil
}

func (g *secp256k1Group) DecodeElement(b []byte) (Element, error) {
	if len(b) != secp256k1ElementSize {
		return nil, ErrInvalidElement
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, ErrInvalidElement
	}
	e := new(secpElement)
	pub.AsJacobian(&e.p)
	return e, nil
}

func (g *secp256k1Group) ScalarMul(a, b Scalar) (Scalar, error) {
	x, ok := a.(*secpScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	y, ok := b.(*secpScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	r := new(secpScalar)
	r.s.Mul2(&x.s, &y.s)
	return r, nil
}

func (g *secp256k1Group) ScalarBaseMult(s Scalar) (Element, error) {
	x, ok := s.(*secpScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	e := new(secpElement)
	btcec.ScalarBaseMultNonConst(&x.s, &e.p)
	if isInfinity(&e.p) {
		return nil, ErrIdentity
	}
	e.p.ToAffine()
	return e, nil
}

func (g *secp256k1Group) ScalarMult(s Scalar, p Element) (Element, error) {
	x, ok := s.(*secpScalar)
	if !ok {
		return nil, errMismatchedGroup
	}
	q, ok := p.(*secpElement)
	if !ok {
		return nil, errMismatchedGroup
	}
	e := new(secpElement)
	btcec.ScalarMultNonConst(&x.s, &q.p, &e.p)
	if isInfinity(&e.p) {
		return nil, ErrIdentity
	}
	e.p.ToAffine()
	return e, nil
}
