// channel.go - Payment channels and addresses.
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

package ticket

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

const (
	// AddressLength is the length of an account address.
	AddressLength = 20

	// ChannelIDLength is the length of a channel identifier.
	ChannelIDLength = 32
)

var errInvalidAddress = errors.New("ticket: invalid address")

// Address is an Ethereum style account address.
type Address [AddressLength]byte

// AddressFromPublicKey returns the address of a secp256k1 public key, the
// last 20 bytes of the Keccak-256 digest of the uncompressed point.
func AddressFromPublicKey(pub *secp256k1.PublicKey) Address {
	digest := keccak256(pub.SerializeUncompressed()[1:])

	var a Address
	copy(a[:], digest[len(digest)-AddressLength:])
	return a
}

// AddressFromHex parses a hex encoded address, with or without the 0x
// prefix.
func AddressFromHex(s string) (Address, error) {
	var a Address
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != AddressLength {
		return a, fmt.Errorf("%w: '%v'", errInvalidAddress, s)
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ChannelID identifies a unidirectional payment channel.
type ChannelID [ChannelIDLength]byte

// NewChannelID returns the identifier of the channel from source to
// destination.
func NewChannelID(source, destination Address) ChannelID {
	var id ChannelID
	copy(id[:], keccak256(source[:], destination[:]))
	return id
}

func (id ChannelID) String() string {
	return hex.EncodeToString(id[:])
}

// Channel is a snapshot of the ledger state of a payment channel.
type Channel struct {
	// Source is the paying party.
	Source Address

	// Destination is the paid party.
	Destination Address

	// Balance is the amount still available in the channel.
	Balance *big.Int

	// Epoch is the current channel epoch.
	Epoch uint32

	// TicketIndex is the redeemed index high-water mark, tickets with a
	// smaller index have already been claimed.
	TicketIndex uint64
}

// ID returns the channel identifier.
func (c *Channel) ID() ChannelID {
	return NewChannelID(c.Source, c.Destination)
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}
