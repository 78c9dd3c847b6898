// connector.go - Next hop connector.
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

package server

import (
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/server/internal/instrument"
	"github.com/katzenpost/mixpor/server/internal/packet"
)

type connector struct {
	glue *serverGlue
	log  *logging.Logger
}

func (c *connector) Halt() {}

func (c *connector) IsValidForwardDest(id *[constants.NodeIDLength]byte) bool {
	network := c.glue.s.network
	if network == nil {
		return false
	}
	if _, ok := c.glue.Tickets().Issuer(id); !ok {
		return false
	}
	_, ok := network.Relay(id)
	return ok
}

// DispatchPacket pays for and sends pkt to its next hop, then acknowledges
// the ticket that paid for it.
func (c *connector) DispatchPacket(pkt *packet.Packet) {
	defer pkt.Dispose()

	if !pkt.IsForward() {
		c.log.Debugf("Dropping packet: %v (Not a forward packet)", pkt.ID)
		instrument.PacketsDropped(instrument.DropDispatch)
		return
	}
	id := pkt.NextHop()
	builder, ok := c.glue.Tickets().Issuer(id)
	if !ok || c.glue.s.network == nil {
		c.log.Debugf("Dropping packet: %v (No route to %x)", pkt.ID, id[:8])
		instrument.PacketsDropped(instrument.DropNextHop)
		return
	}

	fwd, err := pkt.Outcome.Forward(builder)
	if err != nil {
		c.log.Warningf("Dropping packet: %v (Failed to issue ticket: %v)", pkt.ID, err)
		instrument.PacketsDropped(instrument.DropDispatch)
		return
	}
	raw, err := fwd.MarshalBinary()
	if err != nil {
		c.log.Warningf("Dropping packet: %v (Failed to encode: %v)", pkt.ID, err)
		instrument.PacketsDropped(instrument.DropDispatch)
		return
	}
	if err = c.glue.s.network.Send(id, raw); err != nil {
		c.log.Debugf("Dropping packet: %v (%v)", pkt.ID, err)
		instrument.PacketsDropped(instrument.DropDispatch)
		return
	}
	pkt.Forward = fwd
	instrument.PacketsForwarded()
	c.log.Debugf("Forwarded packet: %v", pkt)

	// The ticket is only acknowledged once the packet has been handed
	// to the next hop.
	ack, err := c.glue.Tickets().Acknowledge(pkt.Outcome.Ticket, pkt.Outcome.Response)
	if err != nil {
		c.log.Warningf("Packet: %v (Failed to acknowledge ticket: %v)", pkt.ID, err)
		return
	}
	pkt.Acknowledged = ack
}

func newConnector(g *serverGlue) *connector {
	return &connector{
		glue: g,
		log:  g.LogBackend().GetLogger("connector"),
	}
}
