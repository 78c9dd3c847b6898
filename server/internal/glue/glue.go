// glue.go - Relay internal component glue.
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

// Package glue implements the glue structure that ties all the internal
// subpackages together.
package glue

import (
	"github.com/katzenpost/mixpor/core/log"
	mixpacket "github.com/katzenpost/mixpor/core/packet"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/por"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/server/config"
	"github.com/katzenpost/mixpor/server/internal/mixkey"
	"github.com/katzenpost/mixpor/server/internal/packet"
)

// Glue is the structure that binds the internal components together.
type Glue interface {
	Config() *config.Config
	LogBackend() *log.Backend

	MixKey() *mixkey.MixKey
	Node() *mixpacket.Node

	Tickets() Tickets
	Scheduler() Scheduler
	Connector() Connector
	Recipient() Recipient
}

// Tickets accepts inbound tickets and issues outbound ones.
type Tickets interface {
	Halt()
	Validate(*ticket.Ticket) error
	Acknowledge(*ticket.Ticket, *por.Response) (*ticket.AcknowledgedTicket, error)
	Issuer(*[constants.NodeIDLength]byte) (mixpacket.TicketBuilder, bool)
}

// Scheduler holds forwarded packets until their delay has elapsed.
type Scheduler interface {
	Halt()
	OnPacket(*packet.Packet)
}

// Connector sends packets to the next hop.
type Connector interface {
	Halt()
	DispatchPacket(*packet.Packet)
	IsValidForwardDest(*[constants.NodeIDLength]byte) bool
}

// Recipient receives the packets addressed to the local node.
type Recipient interface {
	OnPacket(*packet.Packet)
}
