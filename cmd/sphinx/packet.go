// packet.go - Packet creation and unwrapping.
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
package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	mixpacket "github.com/katzenpost/mixpor/core/packet"
	"github.com/katzenpost/mixpor/core/sphinx"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/path"
)

var errNoHops = errors.New("invalid argument: at least one --hop is required")

// NewPacket holds the newpacket parameters.
type NewPacket struct {
	issuerParams

	GeometryFile string
	OutputFile   string
	PayloadFile  string
	Hops         []string
}

// Unwrap holds the unwrap parameters.
type Unwrap struct {
	issuerParams

	GeometryFile     string
	PrivateKeyFile   string
	PacketFile       string
	OutputFile       string
	OutputPacketFile string
}

// parseHop parses node_id_hex,public_key_pem_file[,delay_ms].
func parseHop(spec string) (*sphinx.PathHop, error) {
	parts := strings.Split(spec, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid argument: hop '%v' is not node_id_hex,public_key_pem_file[,delay_ms]", spec)
	}
	b, err := hex.DecodeString(parts[0])
	if err != nil || len(b) != constants.NodeIDLength {
		return nil, fmt.Errorf("invalid argument: hop node ID '%v'", parts[0])
	}
	pub, err := loadPublicKey(parts[1])
	if err != nil {
		return nil, err
	}
	hop := &sphinx.PathHop{PublicKey: pub}
	copy(hop.ID[:], b)
	if hop.ID != path.NodeID(pub) {
		return nil, fmt.Errorf("invalid argument: hop node ID '%v' does not match %v", parts[0], parts[1])
	}
	if len(parts) == 3 {
		d, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid argument: hop delay '%v'", parts[2])
		}
		hop.Delay = uint32(d)
	}
	return hop, nil
}

func buildPathFromHops(hops []string) ([]*sphinx.PathHop, error) {
	if len(hops) == 0 {
		return nil, errNoHops
	}
	p := make([]*sphinx.PathHop, 0, len(hops))
	for _, spec := range hops {
		hop, err := parseHop(spec)
		if err != nil {
			return nil, err
		}
		p = append(p, hop)
	}
	return p, nil
}

func readInput(f string, stdin io.Reader) ([]byte, error) {
	if f == "" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(f)
}

func writeOutput(f string, stdout io.Writer, b []byte) error {
	if f == "" {
		_, err := stdout.Write(b)
		return err
	}
	return os.WriteFile(f, b, 0600)
}

func generatePacket(p *NewPacket, stdin io.Reader) ([]byte, error) {
	s, err := loadSphinx(p.GeometryFile)
	if err != nil {
		return nil, err
	}
	hops, err := buildPathFromHops(p.Hops)
	if err != nil {
		return nil, err
	}
	builder, err := p.issuer()
	if err != nil {
		return nil, err
	}
	payload, err := readInput(p.PayloadFile, stdin)
	if err != nil {
		return nil, err
	}
	pkt, err := mixpacket.Assemble(s, rand.Reader, hops, payload, builder)
	if err != nil {
		return nil, err
	}
	return pkt.MarshalBinary()
}

func newNewPacketCommand() *cobra.Command {
	var p NewPacket

	cmd := &cobra.Command{
		Use:   "newpacket",
		Short: "Create a new Sphinx packet",
		Long: `Create a new Sphinx packet carrying the payload along the specified path,
paid for by a ticket issued to the first hop.

Specify path hops using --hop flags in order, the final hop is the
recipient.  Each hop should be in the format:
  node_id_hex,public_key_pem_file[,delay_ms]`,
		Example: `  sphinx newpacket --payment-key client.payment.pem --destination 0xabcd... \
    --hop "abc123...,node1.public.pem,100" \
    --hop "789abc...,node2.public.pem" \
    --payload message.txt --output packet.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := generatePacket(&p, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return writeOutput(p.OutputFile, cmd.OutOrStdout(), raw)
		},
	}

	p.issuerParams.register(cmd.Flags(), "first")
	cmd.Flags().StringVar(&p.GeometryFile, "geometry", "", flagGeometryDescription)
	cmd.Flags().StringVar(&p.OutputFile, "output", "", "file to write the packet to (default: stdout)")
	cmd.Flags().StringVar(&p.PayloadFile, "payload", "", "file to read payload from (default: stdin)")
	cmd.Flags().StringArrayVar(&p.Hops, "hop", nil, "hop specification: node_id_hex,public_key_pem_file[,delay_ms] (can be specified multiple times)")
	_ = cmd.MarkFlagRequired("hop")
	_ = cmd.MarkFlagRequired("payment-key")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

// unwrapPacket peels one layer off of the packet, describing it to info.
// The payload is returned for the final hop, the packet for the next hop
// otherwise if it was requested, along with whether it is a packet.
func unwrapPacket(u *Unwrap, info io.Writer) ([]byte, bool, error) {
	s, err := loadSphinx(u.GeometryFile)
	if err != nil {
		return nil, false, err
	}
	k, err := loadPrivateKey(u.PrivateKeyFile)
	if err != nil {
		return nil, false, err
	}
	defer k.Reset()
	node, err := mixpacket.NewNode(s, k)
	if err != nil {
		return nil, false, err
	}
	raw, err := os.ReadFile(u.PacketFile)
	if err != nil {
		return nil, false, err
	}

	o, err := mixpacket.Disassemble(node, raw)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unwrap packet: %w", err)
	}
	defer o.Reset()

	var b bytes.Buffer
	fmt.Fprintf(&b, "Packet unwrapped successfully!\n")
	fmt.Fprintf(&b, "Kind: %v\n", o.Kind)
	fmt.Fprintf(&b, "Replay tag: %x\n", o.ReplayTag)
	fmt.Fprintf(&b, "Ticket: %v\n", o.Ticket)
	fmt.Fprintf(&b, "Proof-of-Relay response: %x\n", o.Response[:])
	if o.Kind == mixpacket.Deliver {
		fmt.Fprintf(&b, "Payload size: %d bytes\n", len(o.Payload))
		_, _ = info.Write(b.Bytes())
		return o.Payload, false, nil
	}
	fmt.Fprintf(&b, "Next hop node ID: %x\n", o.NextHop)
	fmt.Fprintf(&b, "Delay: %d ms\n", o.Delay)
	fmt.Fprintf(&b, "Next challenge: %v\n", &o.NextChallenge)
	_, _ = info.Write(b.Bytes())

	if u.OutputPacketFile == "" {
		return nil, true, nil
	}
	builder, err := u.issuer()
	if err != nil {
		return nil, true, err
	}
	fwd, err := o.Forward(builder)
	if err != nil {
		return nil, true, err
	}
	out, err := fwd.MarshalBinary()
	return out, true, err
}

func newUnwrapCommand() *cobra.Command {
	var u Unwrap

	cmd := &cobra.Command{
		Use:   "unwrap",
		Short: "Unwrap/decrypt a Sphinx packet",
		Long: `Unwrap a packet using a relay private key, checking that its ticket
commits to the relay's Proof-of-Relay response and revealing the routing
instruction.  This simulates what a relay does when processing a packet.

The payload of a packet for the local relay is written to --output.  The
packet for the next hop is written to --output-packet, paid for by a ticket
issued with --payment-key.`,
		Example: `  sphinx unwrap --private-key node1.private.pem --packet packet.bin
  sphinx unwrap --private-key node1.private.pem --packet packet.bin \
    --payment-key node1.payment.pem --destination 0xabcd... --output-packet next.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, isPacket, err := unwrapPacket(&u, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			switch {
			case !isPacket:
				return writeOutput(u.OutputFile, cmd.OutOrStdout(), b)
			case b != nil:
				return os.WriteFile(u.OutputPacketFile, b, 0600)
			default:
				return nil
			}
		},
	}

	u.issuerParams.register(cmd.Flags(), "next")
	cmd.Flags().StringVar(&u.GeometryFile, "geometry", "", flagGeometryDescription)
	cmd.Flags().StringVar(&u.PrivateKeyFile, "private-key", "", "path to relay private key PEM file (required)")
	cmd.Flags().StringVar(&u.PacketFile, "packet", "", "path to packet file (required)")
	cmd.Flags().StringVar(&u.OutputFile, "output", "", "file to write the delivered payload to (default: stdout)")
	cmd.Flags().StringVar(&u.OutputPacketFile, "output-packet", "", "file to write the packet for the next hop to")
	_ = cmd.MarkFlagRequired("private-key")
	_ = cmd.MarkFlagRequired("packet")
	return cmd
}
