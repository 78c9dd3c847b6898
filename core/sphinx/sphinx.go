// sphinx.go - Sphinx Packet Format.
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

// Package sphinx implements a parameterized Sphinx Packet Format with
// Proof-of-Relay challenges embedded in the per-hop routing information.
package sphinx

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/util"

	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/sphinx/commands"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/sphinx/internal/crypto"
	"github.com/katzenpost/mixpor/core/sphinx/keys"
	"github.com/katzenpost/mixpor/core/sphinx/por"
)

// ReplayTagLength is the length of a replay tag in bytes.
const ReplayTagLength = crypto.ReplayTagLength

var (
	v0AD = [geo.VersionLength]byte{0x00, 0x00}

	// ErrInvalidPacket is returned for a truncated packet, or one with an
	// unknown version or an invalid group element.
	ErrInvalidPacket = errors.New("sphinx: invalid packet")

	// ErrTagVerificationFailed is returned when the header MAC does not
	// verify.  The packet must be dropped.
	ErrTagVerificationFailed = errors.New("sphinx: invalid packet, MAC mismatch")

	// ErrInvalidRouting is returned when the decrypted routing instruction
	// is malformed.
	ErrInvalidRouting = errors.New("sphinx: invalid routing information")

	// ErrCrypto is returned when a primitive fails, or the final payload
	// tag does not verify.
	ErrCrypto = errors.New("sphinx: cryptographic failure")

	defaultSphinx *Sphinx
)

// DefaultSphinx returns an instance of the default sphinx packet factory.
func DefaultSphinx() *Sphinx {
	return defaultSphinx
}

// Sphinx is an implementation of the Sphinx cryptographic packet format
// over one of the supported groups and wide-block ciphers.
type Sphinx struct {
	group    group.Group
	prp      crypto.PRP
	geometry *geo.Geometry
}

// FromGeometry creates a new instance of Sphinx for the validated geometry.
func FromGeometry(geometry *geo.Geometry) (*Sphinx, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	prp, err := crypto.PRPByName(geometry.PRPName)
	if err != nil {
		return nil, err
	}
	return &Sphinx{
		group:    geometry.Group(),
		prp:      prp,
		geometry: geometry,
	}, nil
}

// Geometry returns the Sphinx packet geometry.
func (s *Sphinx) Geometry() *geo.Geometry {
	return s.geometry
}

// Group returns the group used for key derivation.
func (s *Sphinx) Group() group.Group {
	return s.group
}

// PathHop describes a hop that a Sphinx Packet will traverse.  Delay is the
// time in milliseconds the hop holds the packet before forwarding it, and is
// ignored for the final hop.
type PathHop struct {
	ID        [constants.NodeIDLength]byte
	PublicKey group.Element
	Delay     uint32
}

// UnwrapResult is the outcome of peeling one layer of a packet.
type UnwrapResult struct {
	// Secret is the hop's shared secret.
	Secret *keys.SharedSecret

	// ReplayTag identifies the packet for replay detection.
	ReplayTag [ReplayTagLength]byte

	// RoutingInfo is this hop's routing instruction.
	RoutingInfo *commands.RoutingInfo

	// Payload is the padded user payload, iff this hop is the final
	// recipient.
	Payload []byte
}

// IsFinal returns true iff the packet terminated at this hop.
func (r *UnwrapResult) IsFinal() bool {
	return r.RoutingInfo.IsFinal()
}

// Reset clears the shared secret.
func (r *UnwrapResult) Reset() {
	if r.Secret != nil {
		r.Secret.Reset()
	}
}

func (s *Sphinx) createHeader(r io.Reader, path []*PathHop) ([]byte, *keys.SharedKeys, error) {
	nrHops := len(path)
	if nrHops == 0 || nrHops > s.geometry.NrHops {
		return nil, nil, keys.ErrInvalidPathLength
	}

	// Derive the key material for each hop.
	pubKeys := make([]group.Element, 0, nrHops)
	for _, hop := range path {
		if hop == nil {
			return nil, nil, keys.ErrInvalidPublicKey
		}
		pubKeys = append(pubKeys, hop.PublicKey)
	}
	sharedKeys, err := keys.DeriveSharedKeys(s.group, r, pubKeys, s.geometry.NrHops)
	if err != nil {
		return nil, nil, err
	}

	perHop := s.geometry.PerHopRoutingInfoLength
	packetKeys := make([]*crypto.PacketKeys, nrHops)
	for i, secret := range sharedKeys.Secrets {
		packetKeys[i] = crypto.KDF((*[crypto.SecretLength]byte)(secret), s.prp)
		defer packetKeys[i].Reset()
	}

	// The challenge each hop forwards to the next.
	_, challenges := por.GenerateProofOfRelay(sharedKeys.Secrets)

	// Derive the routing_information keystream and encrypted padding for each
	// hop.
	riKeyStream := make([][]byte, nrHops)
	riPadding := make([][]byte, nrHops)

	for i := 0; i < nrHops; i++ {
		keyStream := sharedKeys.Secrets[i].Keystream(s.geometry.RoutingInfoLength + perHop)
		defer util.ExplicitBzero(keyStream)

		ksLen := len(keyStream) - (i+1)*perHop
		riKeyStream[i] = keyStream[:ksLen]
		riPadding[i] = keyStream[ksLen:]
		if i > 0 {
			prevPadLen := len(riPadding[i-1])
			subtle.XORBytes(riPadding[i][:prevPadLen], riPadding[i][:prevPadLen], riPadding[i-1])
		}
	}

	// Create the routing_information block.
	var mac []byte
	var routingInfo []byte
	if skippedHops := s.geometry.NrHops - nrHops; skippedHops > 0 {
		routingInfo = make([]byte, skippedHops*perHop)
		if _, err := io.ReadFull(r, routingInfo); err != nil {
			sharedKeys.Reset()
			return nil, nil, err
		}
	}
	for i := nrHops - 1; i >= 0; i-- {
		ri := &commands.RoutingInfo{Kind: commands.Recipient}
		if i == nrHops-1 {
			copy(ri.ID[:], path[i].ID[:])
		} else {
			ri.Kind = commands.NextNodeHop
			copy(ri.ID[:], path[i+1].ID[:])
			copy(ri.MAC[:], mac)
			copy(ri.Challenge[:], challenges[i+1].ToEthereumChallenge()[:])
			ri.Delay = path[i].Delay
		}
		riFragment := ri.ToBytes(make([]byte, 0, perHop))
		if padLen := perHop - len(riFragment); padLen > 0 {
			riFragment = append(riFragment, make([]byte, padLen)...)
		}

		routingInfo = append(riFragment, routingInfo...) // Prepend
		subtle.XORBytes(routingInfo, routingInfo, riKeyStream[i])

		m := crypto.NewMAC(&packetKeys[i].HeaderMAC)
		m.Write(v0AD[:])
		m.Write(sharedKeys.Alphas[i])
		m.Write(routingInfo)
		if i > 0 {
			m.Write(riPadding[i-1])
		}
		mac = m.Sum(nil)
	}

	// Assemble the completed Sphinx Packet Header.
	hdr := make([]byte, 0, s.geometry.HeaderLength)
	hdr = append(hdr, v0AD[:]...)
	hdr = append(hdr, sharedKeys.Alpha...)
	hdr = append(hdr, routingInfo...)
	hdr = append(hdr, mac...)

	return hdr, sharedKeys, nil
}

// NewPacket creates a forward Sphinx packet with the provided path and
// padded payload, using the provided entropy source.  It returns the packet
// and the shared secret of every hop, in path order.  The caller is
// responsible for calling Reset on the secrets.
func (s *Sphinx) NewPacket(r io.Reader, path []*PathHop, payload []byte) ([]byte, []*keys.SharedSecret, error) {
	if len(payload) != s.geometry.ForwardPayloadLength {
		return nil, nil, fmt.Errorf("sphinx: invalid payload length: %d, expected %d", len(payload), s.geometry.ForwardPayloadLength)
	}

	hdr, sharedKeys, err := s.createHeader(r, path)
	if err != nil {
		return nil, nil, err
	}

	// Assemble the packet.
	pkt := make([]byte, 0, s.geometry.PacketLength)
	pkt = append(pkt, hdr...)
	pkt = append(pkt, make([]byte, s.geometry.PayloadTagLength)...)
	pkt = append(pkt, payload...)

	// Encrypt the payload.
	b := pkt[len(hdr):]
	for i := len(path) - 1; i >= 0; i-- {
		k := crypto.KDF((*[crypto.SecretLength]byte)(sharedKeys.Secrets[i]), s.prp)
		err = s.prp.EncryptBlock(k.PayloadEncryption, b)
		k.Reset()
		if err != nil {
			sharedKeys.Reset()
			return nil, nil, fmt.Errorf("%w: %w", ErrCrypto, err)
		}
	}

	return pkt, sharedKeys.Secrets, nil
}

// Unwrap unwraps the provided Sphinx packet pkt in-place, using the provided
// private scalar.  On success pkt holds the packet for the next hop, unless
// the routing information marks this node as the final recipient.
func (s *Sphinx) Unwrap(privKey group.Scalar, pkt []byte) (*UnwrapResult, error) {
	var (
		geOff      = geo.VersionLength
		riOff      = geOff + s.geometry.AlphaLength
		macOff     = riOff + s.geometry.RoutingInfoLength
		payloadOff = macOff + crypto.MACLength
		perHop     = s.geometry.PerHopRoutingInfoLength
	)

	// Do some basic sanity checking, and validate the AD.
	if len(pkt) != s.geometry.PacketLength {
		return nil, fmt.Errorf("%w: truncated", ErrInvalidPacket)
	}
	if subtle.ConstantTimeCompare(v0AD[:], pkt[:geOff]) != 1 {
		return nil, fmt.Errorf("%w: unknown version", ErrInvalidPacket)
	}

	// Calculate the hop's shared secret and the blinded group element.
	secret, nextAlpha, err := keys.DeriveHopKeys(s.group, privKey, pkt[geOff:riOff])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}

	// Derive the various keys required for packet processing.
	packetKeys := crypto.KDF((*[crypto.SecretLength]byte)(secret), s.prp)
	defer packetKeys.Reset()

	// Validate the Sphinx Packet Header.
	m := crypto.NewMAC(&packetKeys.HeaderMAC)
	m.Write(pkt[0:macOff])
	mac := m.Sum(nil)
	if subtle.ConstantTimeCompare(pkt[macOff:payloadOff], mac) != 1 {
		secret.Reset()
		return nil, ErrTagVerificationFailed
	}

	// Append padding to preserve length invariance, decrypt the (padded)
	// routing_info block, and extract the section for the current hop.
	b := make([]byte, s.geometry.RoutingInfoLength+perHop)
	copy(b, pkt[riOff:macOff])
	keyStream := secret.Keystream(len(b))
	subtle.XORBytes(b, b, keyStream)
	util.ExplicitBzero(keyStream)

	newRoutingInfo := b[perHop:]
	ri, riErr := commands.FromBytes(b[:perHop])

	// Decrypt the Sphinx Packet Payload regardless of the routing
	// information, so that both failure cases take the same time.
	payload := pkt[payloadOff:]
	if err = s.prp.DecryptBlock(packetKeys.PayloadEncryption, payload); err != nil {
		secret.Reset()
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}
	if riErr != nil {
		secret.Reset()
		return nil, fmt.Errorf("%w: %w", ErrInvalidRouting, riErr)
	}

	res := &UnwrapResult{
		Secret:      secret,
		RoutingInfo: ri,
	}
	copy(res.ReplayTag[:], packetKeys.ReplayTag[:])

	if ri.IsFinal() {
		// Validate the payload tag.
		if !util.CtIsZero(payload[:s.geometry.PayloadTagLength]) {
			secret.Reset()
			return nil, fmt.Errorf("%w: payload tag mismatch", ErrCrypto)
		}
		res.Payload = payload[s.geometry.PayloadTagLength:]
		return res, nil
	}

	// Transform the packet for forwarding to the next mix.
	copy(pkt[geOff:riOff], nextAlpha)
	copy(pkt[riOff:macOff], newRoutingInfo)
	copy(pkt[macOff:payloadOff], ri.MAC[:])
	return res, nil
}

func init() {
	var err error
	defaultSphinx, err = FromGeometry(geo.DefaultGeometry())
	if err != nil {
		panic(err)
	}
}
