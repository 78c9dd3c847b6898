// packet.go - Relay side packet structure.
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

// Package packet implements the relay side packet structure.
package packet

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/katzenpost/hpqc/util"

	mixpacket "github.com/katzenpost/mixpor/core/packet"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/ticket"
)

var (
	pktPool = sync.Pool{
		New: func() interface{} {
			return new(Packet)
		},
	}
	pktID uint64
)

// Packet is an inbound packet as it moves through the relay.
type Packet struct {
	// Raw is the packet as received, a Sphinx packet and its ticket.
	Raw []byte

	// Outcome is the result of peeling Raw, set by the crypto workers.
	Outcome *mixpacket.PeelOutcome

	// Acknowledged is the ticket that paid for Raw, once acknowledged.
	Acknowledged *ticket.AcknowledgedTicket

	// Forward is the packet for the next hop, set on dispatch.
	Forward *mixpacket.Packet

	ID         uint64
	Delay      time.Duration
	RecvAt     time.Time
	DispatchAt time.Time
}

// Set sets the packet's peel outcome.
func (pkt *Packet) Set(o *mixpacket.PeelOutcome) {
	pkt.Outcome = o
}

// IsForward returns true iff the packet is destined for another hop.
func (pkt *Packet) IsForward() bool {
	return pkt.Outcome != nil && pkt.Outcome.Kind == mixpacket.ForwardTo
}

// IsToRecipient returns true iff the packet is destined for the local
// recipient.
func (pkt *Packet) IsToRecipient() bool {
	return pkt.Outcome != nil && pkt.Outcome.Kind == mixpacket.Deliver
}

// NextHop returns the identifier of the next hop, or nil.
func (pkt *Packet) NextHop() *[constants.NodeIDLength]byte {
	if !pkt.IsForward() {
		return nil
	}
	return &pkt.Outcome.NextHop
}

// Payload returns the delivered payload, or nil.
func (pkt *Packet) Payload() []byte {
	if !pkt.IsToRecipient() {
		return nil
	}
	return pkt.Outcome.Payload
}

func (pkt *Packet) String() string {
	switch {
	case pkt.IsForward():
		return fmt.Sprintf("%d (forward to %x, delay %v)", pkt.ID, pkt.Outcome.NextHop[:8], pkt.Delay)
	case pkt.IsToRecipient():
		return fmt.Sprintf("%d (deliver %d bytes)", pkt.ID, len(pkt.Outcome.Payload))
	default:
		return fmt.Sprintf("%d", pkt.ID)
	}
}

// Dispose clears the packet structure and returns it to the allocation pool.
func (pkt *Packet) Dispose() {
	// Note: Calling Dispose() should happen for the common code paths, but
	// we rely on the GC just deallocating packets that happen to get leaked.
	if pkt.Outcome != nil {
		pkt.Outcome.Reset()
		pkt.Outcome = nil
	}
	if pkt.Raw != nil {
		util.ExplicitBzero(pkt.Raw)
		pkt.Raw = nil
	}
	pkt.Acknowledged = nil
	pkt.Forward = nil
	pkt.ID = 0
	pkt.Delay = 0
	pkt.RecvAt = time.Time{}
	pkt.DispatchAt = time.Time{}

	// Return the packet struct to the pool.
	pktPool.Put(pkt)
}

// New allocates a new Packet, with a copy of the specified raw packet.
func New(raw []byte, g *geo.Geometry) (*Packet, error) {
	id := atomic.AddUint64(&pktID, 1)
	return NewWithID(raw, id, g)
}

// NewWithID allocates a new Packet, with a copy of the specified raw packet
// and ID.  Most callers should use New.
func NewWithID(raw []byte, id uint64, g *geo.Geometry) (*Packet, error) {
	if len(raw) != g.PacketLength+ticket.EncodedLength {
		errInfo := fmt.Sprintf("My Sphinx Geometry: %s\n%s\n", g.String(), g.Display())
		return nil, fmt.Errorf("invalid packet size: %v\n%s", len(raw), errInfo)
	}

	pkt := pktPool.Get().(*Packet)
	pkt.ID = id
	pkt.Raw = make([]byte, len(raw))
	copy(pkt.Raw, raw)
	return pkt, nil
}
