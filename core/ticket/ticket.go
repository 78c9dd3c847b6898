// ticket.go - Probabilistic payment tickets.
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

// Package ticket implements the probabilistic payment tickets a relay is
// paid with, and their structural validation.
//
// A ticket commits to the Proof-of-Relay challenge of the relay it pays,
// derived from that relay's shared secret.  The relay recovers the
// response when it unwraps the packet, so nothing cryptographic forces it
// to forward before acknowledging the ticket.  Relays acknowledge their
// tickets only once the packet has been forwarded or delivered.
package ticket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/katzenpost/mixpor/core/sphinx/por"
)

const (
	// AmountLength is the length of an encoded amount.
	AmountLength = 12

	// IndexLength is the length of an encoded ticket index.
	IndexLength = 6

	// IndexOffsetLength is the length of an encoded index offset.
	IndexOffsetLength = 4

	// EpochLength is the length of an encoded channel epoch.
	EpochLength = 3

	// SignatureLength is the length of a compact recoverable signature.
	SignatureLength = 65

	// DomainSeparatorLength is the length of the signing domain separator.
	DomainSeparatorLength = 32

	// BodyLength is the length of the signed portion of a ticket.
	BodyLength = ChannelIDLength + AmountLength + IndexLength + IndexOffsetLength + WinProbLength + EpochLength + por.EthereumChallengeLength

	// EncodedLength is the length of an encoded ticket.
	EncodedLength = BodyLength + SignatureLength

	// MaxIndex is the largest ticket index.
	MaxIndex = uint64(1)<<(8*IndexLength) - 1

	// MaxEpoch is the largest channel epoch.
	MaxEpoch = uint32(1)<<(8*EpochLength) - 1
)

var (
	// MaxAmount is the largest encodable amount.
	MaxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 8*AmountLength), big.NewInt(1))

	// ErrInvalidTicket is returned when a ticket can not be encoded or
	// decoded.
	ErrInvalidTicket = errors.New("ticket: invalid ticket")
)

// DomainSeparator binds signatures to one deployment of the ledger.
type DomainSeparator [DomainSeparatorLength]byte

// Ticket is a signed probabilistic payment.
type Ticket struct {
	ChannelID   ChannelID
	Amount      *big.Int
	Index       uint64
	IndexOffset uint32
	WinProb     WinProb
	Epoch       uint32
	Challenge   por.EthereumChallenge
	Signature   [SignatureLength]byte
}

func (t *Ticket) validateRanges() error {
	switch {
	case t.Amount == nil || t.Amount.Sign() < 0 || t.Amount.Cmp(MaxAmount) > 0:
		return fmt.Errorf("%w: amount out of range", ErrInvalidTicket)
	case t.Index > MaxIndex:
		return fmt.Errorf("%w: index out of range", ErrInvalidTicket)
	case t.Epoch > MaxEpoch:
		return fmt.Errorf("%w: epoch out of range", ErrInvalidTicket)
	}
	return nil
}

func (t *Ticket) body() ([]byte, error) {
	if err := t.validateRanges(); err != nil {
		return nil, err
	}
	var tmp [8]byte
	b := make([]byte, 0, EncodedLength)
	b = append(b, t.ChannelID[:]...)

	var amount [AmountLength]byte
	t.Amount.FillBytes(amount[:])
	b = append(b, amount[:]...)

	binary.BigEndian.PutUint64(tmp[:], t.Index)
	b = append(b, tmp[8-IndexLength:]...)
	binary.BigEndian.PutUint32(tmp[:4], t.IndexOffset)
	b = append(b, tmp[:IndexOffsetLength]...)
	b = append(b, t.WinProb[:]...)
	binary.BigEndian.PutUint32(tmp[:4], t.Epoch)
	b = append(b, tmp[4-EpochLength:4]...)
	b = append(b, t.Challenge[:]...)
	return b, nil
}

// MarshalBinary returns the fixed size encoding of the ticket.
func (t *Ticket) MarshalBinary() ([]byte, error) {
	b, err := t.body()
	if err != nil {
		return nil, err
	}
	return append(b, t.Signature[:]...), nil
}

// UnmarshalBinary decodes an encoded ticket.
func (t *Ticket) UnmarshalBinary(b []byte) error {
	if len(b) != EncodedLength {
		return fmt.Errorf("%w: invalid length %d", ErrInvalidTicket, len(b))
	}
	var tmp [8]byte
	off := copy(t.ChannelID[:], b)
	t.Amount = new(big.Int).SetBytes(b[off : off+AmountLength])
	off += AmountLength

	copy(tmp[8-IndexLength:], b[off:off+IndexLength])
	t.Index = binary.BigEndian.Uint64(tmp[:])
	off += IndexLength
	t.IndexOffset = binary.BigEndian.Uint32(b[off : off+IndexOffsetLength])
	off += IndexOffsetLength
	off += copy(t.WinProb[:], b[off:])

	tmp = [8]byte{}
	copy(tmp[4-EpochLength:4], b[off:off+EpochLength])
	t.Epoch = binary.BigEndian.Uint32(tmp[:4])
	off += EpochLength
	off += copy(t.Challenge[:], b[off:])
	copy(t.Signature[:], b[off:])
	return nil
}

// FromBytes decodes an encoded ticket.
func FromBytes(b []byte) (*Ticket, error) {
	t := new(Ticket)
	if err := t.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return t, nil
}

// Hash returns the Keccak-256 digest of the signed portion of the ticket.
func (t *Ticket) Hash() ([]byte, error) {
	b, err := t.body()
	if err != nil {
		return nil, err
	}
	return keccak256(b), nil
}

// SigningHash returns the digest covered by the signature, bound to the
// domain separator.
func (t *Ticket) SigningHash(domainSeparator *DomainSeparator) ([]byte, error) {
	h, err := t.Hash()
	if err != nil {
		return nil, err
	}
	return keccak256([]byte{0x19, 0x01}, domainSeparator[:], h), nil
}

// Sign signs the ticket with the channel source's key.
func (t *Ticket) Sign(key *secp256k1.PrivateKey, domainSeparator *DomainSeparator) error {
	h, err := t.SigningHash(domainSeparator)
	if err != nil {
		return err
	}
	copy(t.Signature[:], ecdsa.SignCompact(key, h, false))
	return nil
}

// Signer recovers the address of the key that signed the ticket.
func (t *Ticket) Signer(domainSeparator *DomainSeparator) (Address, error) {
	h, err := t.SigningHash(domainSeparator)
	if err != nil {
		return Address{}, err
	}
	pub, _, err := ecdsa.RecoverCompact(t.Signature[:], h)
	if err != nil {
		return Address{}, err
	}
	return AddressFromPublicKey(pub), nil
}

func (t *Ticket) String() string {
	return fmt.Sprintf("ticket(channel=%v, amount=%v, index=%d+%d, epoch=%d, winprob=%v, challenge=%v)",
		t.ChannelID, t.Amount, t.Index, t.IndexOffset, t.Epoch, t.WinProb, &t.Challenge)
}
