// geo.go - Sphinx packet geometry.
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

// Package geo describes the fixed binary layout of a Sphinx packet.  Every
// size is a function of the group, the PRP, the maximum number of hops and
// the payload length only.
package geo

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/internal/crypto"
)

const (
	// VersionLength is the length of the header version field.
	VersionLength = 2

	// PayloadTagLength is the length of the zero payload tag.
	PayloadTagLength = 16

	// DefaultPRP is the payload cipher used unless configured otherwise.
	DefaultPRP = "lioness"

	// DefaultGroup is the group used unless configured otherwise.
	DefaultGroup = "x25519"

	// DefaultUserForwardPayloadLength is the default usable payload size.
	DefaultUserForwardPayloadLength = 2000

	kindLength = 1
)

var errNilGeometry = errors.New("geo: nil Geometry")

// Geometry describes the geometry of a Sphinx packet.
type Geometry struct {

	// PacketLength is the length of a packet.
	PacketLength int

	// NrHops is the maximum number of hops, this indicates the size
	// of the Sphinx packet header.
	NrHops int

	// HeaderLength is the length of the Sphinx packet header in bytes.
	HeaderLength int

	// AlphaLength is the length of the encoded group element.
	AlphaLength int

	// RoutingInfoLength is the length of the routing info portion of the header.
	RoutingInfoLength int

	// PerHopRoutingInfoLength is the length of the per hop routing info.
	PerHopRoutingInfoLength int

	// MACLength is the length of the header authentication tag.
	MACLength int

	// PayloadTagLength is the length of the payload tag.
	PayloadTagLength int

	// ForwardPayloadLength is the size of the payload.
	ForwardPayloadLength int

	// UserForwardPayloadLength is the size of the usable payload.
	UserForwardPayloadLength int

	// NodeIDLength is the node identifier length in bytes.
	NodeIDLength int

	// GroupName is the name of the group used for key derivation.
	GroupName string

	// PRPName is the name of the wide-block payload cipher.
	PRPName string
}

// Group returns the group named by the geometry, or nil.
func (g *Geometry) Group() group.Group {
	return group.ByName(g.GroupName)
}

func (g *Geometry) String() string {
	var b strings.Builder
	b.WriteString("sphinx_packet_geometry:\n")
	b.WriteString(fmt.Sprintf("group: %s\n", g.GroupName))
	b.WriteString(fmt.Sprintf("prp: %s\n", g.PRPName))
	b.WriteString(fmt.Sprintf("packet size: %d\n", g.PacketLength))
	b.WriteString(fmt.Sprintf("number of hops: %d\n", g.NrHops))
	b.WriteString(fmt.Sprintf("header size: %d\n", g.HeaderLength))
	b.WriteString(fmt.Sprintf("forward payload size: %d\n", g.ForwardPayloadLength))
	b.WriteString(fmt.Sprintf("user forward payload size: %d\n", g.UserForwardPayloadLength))
	b.WriteString(fmt.Sprintf("payload tag size: %d\n", g.PayloadTagLength))
	b.WriteString(fmt.Sprintf("routing info size: %d\n", g.RoutingInfoLength))
	return b.String()
}

// Display returns the TOML encoding of the geometry.
func (g *Geometry) Display() string {
	buf := new(bytes.Buffer)
	encoder := toml.NewEncoder(buf)
	err := encoder.Encode(g)
	if err != nil {
		panic(err)
	}
	return buf.String()
}

// FromTOML parses a TOML encoded geometry and validates it.
func FromTOML(b []byte) (*Geometry, error) {
	g := new(Geometry)
	if err := toml.Unmarshal(b, g); err != nil {
		return nil, fmt.Errorf("geo: failed to parse geometry: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that the geometry names a supported group and PRP, and
// that every derived length is consistent.  Names are matched case
// insensitively and rewritten in their canonical form.
func (g *Geometry) Validate() error {
	if g == nil {
		return errNilGeometry
	}
	grp := g.Group()
	if grp == nil {
		return fmt.Errorf("geo: unknown group '%v'", g.GroupName)
	}
	prp, err := crypto.PRPByName(g.PRPName)
	if err != nil {
		return fmt.Errorf("geo: %w", err)
	}
	g.GroupName = grp.Name()
	g.PRPName = strings.ToLower(g.PRPName)
	if g.NrHops <= 0 {
		return fmt.Errorf("geo: invalid NrHops: %d", g.NrHops)
	}
	if g.UserForwardPayloadLength <= 0 {
		return fmt.Errorf("geo: invalid UserForwardPayloadLength: %d", g.UserForwardPayloadLength)
	}
	if g.PayloadTagLength+g.ForwardPayloadLength < prp.MinBlockLength() {
		return fmt.Errorf("geo: payload too short for %v", prp)
	}
	expected := GeometryFromUserForwardPayloadLength(grp, g.PRPName, g.UserForwardPayloadLength, g.NrHops)
	if *expected != *g {
		return fmt.Errorf("geo: inconsistent geometry, expected:\n%v", expected)
	}
	return nil
}

type geometryFactory struct {
	group                group.Group
	nrHops               int
	forwardPayloadLength int
}

// perHopRoutingInfoLength is the length of the largest per-hop routing
// instruction, a next hop with its MAC, challenge and delay.
func (f *geometryFactory) perHopRoutingInfoLength() int {
	return kindLength + constants.NodeIDLength + crypto.MACLength + constants.EthereumChallengeLength + constants.DelayLength
}

func (f *geometryFactory) routingInfoLength() int {
	return f.perHopRoutingInfoLength() * f.nrHops
}

func (f *geometryFactory) headerLength() int {
	return VersionLength + f.group.ElementSize() + f.routingInfoLength() + crypto.MACLength
}

func (f *geometryFactory) packetLength() int {
	return f.headerLength() + PayloadTagLength + f.forwardPayloadLength
}

// GeometryFromUserForwardPayloadLength returns the geometry able to carry
// userForwardPayloadLength bytes of padded user data over up to nrHops.
func GeometryFromUserForwardPayloadLength(g group.Group, prp string, userForwardPayloadLength, nrHops int) *Geometry {
	// One byte is reserved for the padding marker.
	f := &geometryFactory{
		group:                g,
		nrHops:               nrHops,
		forwardPayloadLength: userForwardPayloadLength + 1,
	}
	return &Geometry{
		NrHops:                   nrHops,
		HeaderLength:             f.headerLength(),
		PacketLength:             f.packetLength(),
		AlphaLength:              g.ElementSize(),
		RoutingInfoLength:        f.routingInfoLength(),
		PerHopRoutingInfoLength:  f.perHopRoutingInfoLength(),
		MACLength:                crypto.MACLength,
		PayloadTagLength:         PayloadTagLength,
		ForwardPayloadLength:     f.forwardPayloadLength,
		UserForwardPayloadLength: userForwardPayloadLength,
		NodeIDLength:             constants.NodeIDLength,
		GroupName:                g.Name(),
		PRPName:                  strings.ToLower(prp),
	}
}

// DefaultGeometry returns the default geometry.
func DefaultGeometry() *Geometry {
	return GeometryFromUserForwardPayloadLength(group.ByName(DefaultGroup), DefaultPRP, DefaultUserForwardPayloadLength, constants.NrHops)
}
