// commands.go - Sphinx Packet Format per-hop routing instructions.
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

// Package commands implements the fixed size Sphinx per-hop routing
// instruction.
package commands

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"github.com/katzenpost/hpqc/util"

	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/internal/crypto"
)

const (
	// NextNodeHop instructs the node to forward the packet.
	NextNodeHop Kind = 0x01

	// Recipient marks the node as the final recipient.
	Recipient Kind = 0x02

	kindLength = 1
	idOffset   = kindLength
	macOffset  = idOffset + constants.NodeIDLength
	chalOffset = macOffset + crypto.MACLength
	delayOff   = chalOffset + constants.EthereumChallengeLength

	// RoutingInfoLength is the length of a serialized RoutingInfo.
	RoutingInfoLength = delayOff + constants.DelayLength
)

// ErrInvalidCommand is returned when a routing instruction is malformed.
var ErrInvalidCommand = errors.New("commands: invalid per-hop routing instruction")

// Kind is the type of a routing instruction.
type Kind byte

func (k Kind) String() string {
	switch k {
	case NextNodeHop:
		return "next_node_hop"
	case Recipient:
		return "recipient"
	default:
		return "invalid"
	}
}

// RoutingInfo is a de-serialized per-hop routing instruction.
//
// A NextNodeHop carries the next node's identifier, the MAC of the header
// that node will see, the Ethereum form of the next node's PoR challenge and
// the delay in milliseconds.  A Recipient carries the recipient's own
// identifier only and every trailing field is zero.
type RoutingInfo struct {
	Kind      Kind
	ID        [constants.NodeIDLength]byte
	MAC       [crypto.MACLength]byte
	Challenge [constants.EthereumChallengeLength]byte
	Delay     uint32
}

// IsFinal returns true iff the instruction marks the final recipient.
func (ri *RoutingInfo) IsFinal() bool {
	return ri.Kind == Recipient
}

// ToBytes appends the serialized RoutingInfo to slice b, and returns the
// resulting slice.
func (ri *RoutingInfo) ToBytes(b []byte) []byte {
	var tmp [constants.DelayLength]byte
	b = append(b, byte(ri.Kind))
	b = append(b, ri.ID[:]...)
	b = append(b, ri.MAC[:]...)
	b = append(b, ri.Challenge[:]...)
	binary.BigEndian.PutUint32(tmp[:], ri.Delay)
	b = append(b, tmp[:]...)
	return b
}

// FromBytes deserializes the routing instruction at the start of b.  The
// validity checks do not branch on the content of b.
func FromBytes(b []byte) (*RoutingInfo, error) {
	if len(b) < RoutingInfoLength {
		return nil, ErrInvalidCommand
	}
	b = b[:RoutingInfoLength]

	isNext := subtle.ConstantTimeByteEq(b[0], byte(NextNodeHop))
	isFinal := subtle.ConstantTimeByteEq(b[0], byte(Recipient))
	tailZero := ctIsZero(b[macOffset:])

	// Valid iff next hop, or final with a zero tail.
	ok := isNext | (isFinal & tailZero)

	ri := &RoutingInfo{Kind: Kind(b[0])}
	copy(ri.ID[:], b[idOffset:macOffset])
	copy(ri.MAC[:], b[macOffset:chalOffset])
	copy(ri.Challenge[:], b[chalOffset:delayOff])
	ri.Delay = binary.BigEndian.Uint32(b[delayOff:])

	if ok != 1 {
		return nil, ErrInvalidCommand
	}
	return ri, nil
}

func ctIsZero(b []byte) int {
	if util.CtIsZero(b) {
		return 1
	}
	return 0
}
