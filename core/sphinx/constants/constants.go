// constants.go - Sphinx Packet Format constants.
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

// Package constants contains the Sphinx Packet Format constants shared by
// the header codec and the proof-of-relay layer.
package constants

const (
	// NodeIDLength is the node identifier length in bytes.
	NodeIDLength = 32

	// EthereumChallengeLength is the length of a proof-of-relay challenge
	// as embedded in a ticket.
	EthereumChallengeLength = 20

	// DelayLength is the length of the per-hop delay field in bytes.
	DelayLength = 4

	// NrHops is the default maximum number of hops a packet can traverse.
	NrHops = 5
)
