// main_test.go - Sphinx packet tool tests.
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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixpor/common"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/ticket"
)

func execute(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

type testNode struct {
	prefix  string
	nodeID  string
	address string
}

func (n *testNode) hop(delay string) string {
	s := n.nodeID + "," + n.prefix + ".public.pem"
	if delay != "" {
		s += "," + delay
	}
	return s
}

func genNode(t *testing.T, dir, name, groupName string) *testNode {
	require := require.New(t)
	n := &testNode{prefix: filepath.Join(dir, name)}

	out, _, err := execute(t, nil, "genkey", "--group", groupName, "--prefix", n.prefix)
	require.NoError(err)
	require.True(strings.HasPrefix(out, "Node ID: "))
	n.nodeID = strings.TrimSpace(strings.TrimPrefix(out, "Node ID: "))

	out, _, err = execute(t, nil, "genNodeID", "--key", n.prefix+".public.pem")
	require.NoError(err)
	require.Equal(n.nodeID, strings.TrimSpace(out))

	out, _, err = execute(t, nil, "genkey", "--payment", "--prefix", n.prefix)
	require.NoError(err)
	n.address = strings.TrimSpace(strings.TrimPrefix(out, "Payment address: "))
	_, err = ticket.AddressFromHex(n.address)
	require.NoError(err)
	return n
}

func TestCreateGeometry(t *testing.T) {
	require := require.New(t)
	f := filepath.Join(t.TempDir(), "geometry.toml")

	_, _, err := execute(t, nil, "createGeometry", "--group", "ristretto255", "--prp", "aez", "--nrHops", "3", "--file", f)
	require.NoError(err)
	g, err := loadGeometry(f)
	require.NoError(err)
	require.Equal("ristretto255", g.GroupName)
	require.Equal("aez", g.PRPName)
	require.Equal(3, g.NrHops)

	out, _, err := execute(t, nil, "createGeometry")
	require.NoError(err)
	g, err = geo.FromTOML([]byte(out))
	require.NoError(err)
	require.Equal(*geo.DefaultGeometry(), *g)

	_, _, err = execute(t, nil, "createGeometry", "--group", "p256")
	require.ErrorContains(err, "unknown group")
	_, _, err = execute(t, nil, "createGeometry", "--prp", "rot13")
	require.Error(err)
}

func TestHopSpecParsing(t *testing.T) {
	dir := t.TempDir()
	n := genNode(t, dir, "node", "x25519")
	other := genNode(t, dir, "other", "x25519")

	tests := []struct {
		name        string
		hops        []string
		expectError bool
	}{
		{"valid hop spec", []string{n.hop("")}, false},
		{"valid hop spec with delay", []string{n.hop("100"), other.hop("")}, false},
		{"missing comma", []string{n.nodeID + n.prefix + ".public.pem"}, true},
		{"too many parts", []string{n.hop("100") + ",extra"}, true},
		{"invalid delay", []string{n.hop("soon")}, true},
		{"invalid node ID", []string{"invalid_hex," + n.prefix + ".public.pem"}, true},
		{"mismatched node ID", []string{other.nodeID + "," + n.prefix + ".public.pem"}, true},
		{"empty hop spec", []string{""}, true},
		{"no hops", nil, true},
		{"nonexistent key file", []string{n.nodeID + ",/nonexistent/key.pem"}, true},
		{"private key file", []string{n.nodeID + "," + n.prefix + ".private.pem"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := buildPathFromHops(tt.hops)
			if tt.expectError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Len(t, p, len(tt.hops))
			}
		})
	}
}

func TestPacketRoundTrip(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	client := genNode(t, dir, "client", "x25519")
	first := genNode(t, dir, "first", "x25519")
	last := genNode(t, dir, "last", "x25519")

	msg := []byte("This is a test message.")
	pkt := filepath.Join(dir, "packet.bin")
	_, _, err := execute(t, msg, "newpacket",
		"--payment-key", client.prefix+".payment.pem",
		"--destination", first.address,
		"--amount", "10",
		"--hop", first.hop("10"),
		"--hop", last.hop(""),
		"--output", pkt)
	require.NoError(err)

	// The first hop accepts the ticket from the client.
	out, _, err := execute(t, nil, "validateTicket",
		"--packet", pkt,
		"--source", client.address,
		"--destination", first.address,
		"--balance", "100",
		"--min-amount", "10")
	require.NoError(err)
	require.Contains(out, "Ticket is valid.")

	_, _, err = execute(t, nil, "validateTicket",
		"--packet", pkt,
		"--source", client.address,
		"--destination", first.address,
		"--balance", "5")
	require.ErrorIs(err, ticket.ErrInsufficientBalance)

	// Peeling at the wrong relay fails the Proof-of-Relay check.
	_, _, err = execute(t, nil, "unwrap", "--private-key", last.prefix+".private.pem", "--packet", pkt)
	require.Error(err)

	next := filepath.Join(dir, "next.bin")
	_, info, err := execute(t, nil, "unwrap",
		"--private-key", first.prefix+".private.pem",
		"--packet", pkt,
		"--payment-key", first.prefix+".payment.pem",
		"--destination", last.address,
		"--output-packet", next)
	require.NoError(err)
	require.Contains(info, "Kind: forward")
	require.Contains(info, "Next hop node ID: "+last.nodeID)
	require.Contains(info, "Delay: 10 ms")

	// The response revealed to the first hop acknowledges its ticket.
	response := responseFrom(t, info)
	_, _, err = execute(t, nil, "validateTicket",
		"--packet", pkt,
		"--source", client.address,
		"--destination", first.address,
		"--balance", "100",
		"--response", response)
	require.NoError(err)

	payload, info, err := execute(t, nil, "unwrap", "--private-key", last.prefix+".private.pem", "--packet", next)
	require.NoError(err)
	require.Contains(info, "Kind: deliver")
	require.Equal(msg, []byte(payload))

	_, _, err = execute(t, nil, "validateTicket",
		"--packet", next,
		"--source", first.address,
		"--destination", last.address,
		"--balance", "1",
		"--response", responseFrom(t, info))
	require.NoError(err)

	// Forwarding requires a payment key.
	_, _, err = execute(t, nil, "unwrap",
		"--private-key", first.prefix+".private.pem",
		"--packet", pkt,
		"--output-packet", next)
	require.ErrorIs(err, errNoPaymentKey)
}

func responseFrom(t *testing.T, info string) string {
	const prefix = "Proof-of-Relay response: "
	for _, l := range strings.Split(info, "\n") {
		if strings.HasPrefix(l, prefix) {
			s := strings.TrimPrefix(l, prefix)
			_, err := hex.DecodeString(s)
			require.NoError(t, err)
			return s
		}
	}
	t.Fatal("no response in output")
	return ""
}

func TestKeyFiles(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	n := genNode(t, dir, "node", "secp256k1")

	k, err := loadPrivateKey(n.prefix + ".private.pem")
	require.NoError(err)
	pub, err := loadPublicKey(n.prefix + ".public.pem")
	require.NoError(err)
	require.Equal(k.Public.Bytes(), pub.Bytes())

	_, err = loadPaymentKey(n.prefix + ".private.pem")
	require.Error(err)

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(os.WriteFile(garbage, []byte("not a key"), 0600))
	_, err = loadPublicKey(garbage)
	require.ErrorIs(err, common.ErrNoPEMBlock)

	// Existing keys are never overwritten.
	_, _, err = execute(t, nil, "genkey", "--group", "secp256k1", "--prefix", n.prefix)
	require.ErrorContains(err, "already exists")
	_, _, err = execute(t, nil, "genkey", "--payment", "--prefix", n.prefix)
	require.ErrorContains(err, "already exists")

	_, _, err = execute(t, nil, "genkey", "--group", "p256", "--prefix", filepath.Join(dir, "bad"))
	require.ErrorContains(err, "unknown group")
}

func TestSimulate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulation in short mode")
	}
	require := require.New(t)

	out, _, err := execute(t, nil, "simulate",
		"--relays", "4",
		"--hops", "3",
		"--messages", "5",
		"--mu", "0.1",
		"--mu-max-delay", "40",
		"--show-paths",
		"--data-dir", t.TempDir())
	require.NoError(err)
	require.Contains(out, "Delivered 5 of 5 messages.")
	require.Contains(out, "WINNING TICKETS")
	require.Contains(out, "Hop[2]")

	_, _, err = execute(t, nil, "simulate", "--relays", "0")
	require.ErrorContains(err, "invalid argument")

	_, _, err = execute(t, nil, "simulate", "--relays", "2", "--hops", "3")
	require.ErrorContains(err, "invalid argument")
}
