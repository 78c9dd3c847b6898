// recipient.go - Local packet recipient.
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
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/server/internal/instrument"
	"github.com/katzenpost/mixpor/server/internal/packet"
)

// Delivery is a payload addressed to the relay.
type Delivery struct {
	// Payload is the unpadded user payload.
	Payload []byte

	// Ticket is the acknowledged ticket that paid for the last hop, nil if
	// it could not be acknowledged.
	Ticket *ticket.AcknowledgedTicket

	// ReceivedAt is when the packet was received.
	ReceivedAt time.Time
}

type recipient struct {
	log *logging.Logger
	ch  chan<- *Delivery
}

func (r *recipient) OnPacket(pkt *packet.Packet) {
	defer pkt.Dispose()

	payload := pkt.Payload()
	d := &Delivery{
		Payload:    make([]byte, len(payload)),
		Ticket:     pkt.Acknowledged,
		ReceivedAt: pkt.RecvAt,
	}
	copy(d.Payload, payload)

	select {
	case r.ch <- d:
		r.log.Debugf("Delivered packet: %v", pkt)
	default:
		r.log.Debugf("Dropping packet: %v (Deliveries not being read)", pkt.ID)
		instrument.PacketsDropped(instrument.DropNoRecipient)
	}
}

func newRecipient(g *serverGlue, ch chan<- *Delivery) *recipient {
	return &recipient{
		log: g.LogBackend().GetLogger("recipient"),
		ch:  ch,
	}
}
