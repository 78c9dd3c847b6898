// packet.go - Mix packets carrying a payment ticket.
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

// Package packet assembles and disassembles the packets exchanged between
// relays, a Sphinx packet followed by the ticket that pays the receiving
// relay.
package packet

import (
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/sphinx"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/keys"
	"github.com/katzenpost/mixpor/core/sphinx/path"
	"github.com/katzenpost/mixpor/core/sphinx/por"
	"github.com/katzenpost/mixpor/core/ticket"
)

var errNoTicket = errors.New("packet: no ticket")

// Kind is the kind of a PeelOutcome.
type Kind int

const (
	// ForwardTo outcomes must be relayed to the next hop.
	ForwardTo Kind = iota

	// Deliver outcomes carry the payload for the local recipient.
	Deliver
)

func (k Kind) String() string {
	switch k {
	case ForwardTo:
		return "forward"
	case Deliver:
		return "deliver"
	default:
		return fmt.Sprintf("[unknown kind: %d]", int(k))
	}
}

// TicketBuilder issues the ticket paying a hop, committing to that hop's
// own challenge.
type TicketBuilder interface {
	Issue(challenge *por.EthereumChallenge) (*ticket.Ticket, error)
}

// Packet is a Sphinx packet and the ticket paying the node it is sent to.
type Packet struct {
	Sphinx []byte
	Ticket *ticket.Ticket
}

// Length returns the length of an encoded Packet for s.
func Length(s *sphinx.Sphinx) int {
	return s.Geometry().PacketLength + ticket.EncodedLength
}

// MarshalBinary returns the encoded packet.
func (p *Packet) MarshalBinary() ([]byte, error) {
	if p.Ticket == nil {
		return nil, errNoTicket
	}
	t, err := p.Ticket.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(p.Sphinx)+len(t))
	b = append(b, p.Sphinx...)
	return append(b, t...), nil
}

// Node is the local relay's view of the packet format.
type Node struct {
	sphinx  *sphinx.Sphinx
	keypair *group.Keypair
	id      [constants.NodeIDLength]byte
}

// NewNode returns a Node for keypair, which must be in the group of s.
func NewNode(s *sphinx.Sphinx, keypair *group.Keypair) (*Node, error) {
	if keypair.Group != s.Group() {
		return nil, fmt.Errorf("packet: keypair group %v, expected %v", keypair.Group.Name(), s.Group().Name())
	}
	return &Node{
		sphinx:  s,
		keypair: keypair,
		id:      path.NodeID(keypair.Public),
	}, nil
}

// ID returns the node identifier.
func (n *Node) ID() [constants.NodeIDLength]byte {
	return n.id
}

// Sphinx returns the packet format instance.
func (n *Node) Sphinx() *sphinx.Sphinx {
	return n.sphinx
}

// PeelOutcome is the result of Disassemble.
type PeelOutcome struct {
	Kind Kind

	// Ticket is the ticket that paid this node.
	Ticket *ticket.Ticket

	// Response opens the challenge of Ticket.  It must be kept secret
	// until the packet has been forwarded.
	Response *por.Response

	// ReplayTag identifies the packet for replay detection.
	ReplayTag [sphinx.ReplayTagLength]byte

	// NextHop is the identifier of the next hop, for ForwardTo.
	NextHop [constants.NodeIDLength]byte

	// Packet is the Sphinx packet for the next hop, for ForwardTo.
	Packet []byte

	// NextChallenge is the next hop's own challenge, which the ticket
	// paying it must commit to, for ForwardTo.
	NextChallenge por.EthereumChallenge

	// Delay is the forwarding delay in milliseconds, for ForwardTo.
	Delay uint32

	// Payload is the user payload, for Deliver.
	Payload []byte
}

// Forward returns the packet for the next hop, with a ticket issued by
// builder.
func (o *PeelOutcome) Forward(builder TicketBuilder) (*Packet, error) {
	if o.Kind != ForwardTo {
		return nil, fmt.Errorf("packet: can not forward a %v outcome", o.Kind)
	}
	t, err := builder.Issue(&o.NextChallenge)
	if err != nil {
		return nil, err
	}
	return &Packet{
		Sphinx: o.Packet,
		Ticket: t,
	}, nil
}

// Reset clears the Proof-of-Relay response.
func (o *PeelOutcome) Reset() {
	if o.Response != nil {
		o.Response.Reset()
	}
}

// Assemble creates a packet carrying msg along path, padded to the payload
// length of s, with the first hop's ticket issued by builder.  All of the
// entropy is read from r.
func Assemble(s *sphinx.Sphinx, r io.Reader, path []*sphinx.PathHop, msg []byte, builder TicketBuilder) (*Packet, error) {
	payload, err := sphinx.PadPayload(s.Geometry(), msg)
	if err != nil {
		return nil, err
	}
	pkt, secrets, err := s.NewPacket(r, path, payload)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, v := range secrets {
			v.Reset()
		}
	}()

	response := por.NewResponse(secrets[0])
	challenge := response.Challenge().ToEthereumChallenge()
	response.Reset()

	t, err := builder.Issue(challenge)
	if err != nil {
		return nil, err
	}
	return &Packet{
		Sphinx: pkt,
		Ticket: t,
	}, nil
}

// Disassemble peels the local node's layer off of raw.  The ticket is
// checked against the node's Proof-of-Relay response before anything is
// returned, a ticket for another challenge fails with
// por.ErrChallengeMismatch.  raw is not modified.
func Disassemble(node *Node, raw []byte) (*PeelOutcome, error) {
	g := node.sphinx.Geometry()
	if len(raw) != g.PacketLength+ticket.EncodedLength {
		return nil, fmt.Errorf("%w: invalid length %d", sphinx.ErrInvalidPacket, len(raw))
	}
	t, err := ticket.FromBytes(raw[g.PacketLength:])
	if err != nil {
		return nil, err
	}

	pkt := make([]byte, g.PacketLength)
	copy(pkt, raw)
	res, err := node.sphinx.Unwrap(node.keypair.Secret, pkt)
	if err != nil {
		return nil, err
	}
	defer res.Reset()

	response, err := preVerify(res.Secret, &t.Challenge)
	if err != nil {
		return nil, err
	}

	o := &PeelOutcome{
		Ticket:    t,
		Response:  response,
		ReplayTag: res.ReplayTag,
	}
	ri := res.RoutingInfo
	if ri.IsFinal() {
		if ri.ID != node.id {
			o.Reset()
			return nil, fmt.Errorf("%w: recipient %x", sphinx.ErrInvalidRouting, ri.ID)
		}
		payload, err := sphinx.UnpadPayload(res.Payload)
		if err != nil {
			o.Reset()
			return nil, fmt.Errorf("%w: %w", sphinx.ErrCrypto, err)
		}
		o.Kind = Deliver
		o.Payload = payload
		return o, nil
	}

	o.Kind = ForwardTo
	o.NextHop = ri.ID
	o.Packet = pkt
	o.NextChallenge = ri.Challenge
	o.Delay = ri.Delay
	return o, nil
}

func preVerify(secret *keys.SharedSecret, challenge *por.EthereumChallenge) (*por.Response, error) {
	response := por.NewResponse(secret)
	if !por.PreVerifyEthereum(secret, response, challenge) {
		response.Reset()
		return nil, por.ErrChallengeMismatch
	}
	return response, nil
}
