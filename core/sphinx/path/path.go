// path.go - Path selection routines.
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

// Package path provides routines for path selection.
package path

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"time"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/sphinx"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
)

var (
	errNoRecipient = errors.New("path: no recipient")
	errNrHops      = errors.New("path: invalid number of hops")
)

// Node is a relay that may be selected as a hop.
type Node struct {
	Name      string
	ID        [constants.NodeIDLength]byte
	PublicKey group.Element
}

// NewNode returns the Node for a public key, with the identifier derived
// from the key.
func NewNode(name string, pub group.Element) *Node {
	return &Node{
		Name:      name,
		ID:        NodeID(pub),
		PublicKey: pub,
	}
}

// NodeID returns the node identifier of a public key.
func NodeID(pub group.Element) [constants.NodeIDLength]byte {
	return hash.Sum256(pub.Bytes())
}

// Params are the path selection parameters.
type Params struct {
	// NrHops is the total number of hops, including the recipient.
	NrHops int

	// Mu is the inverse of the mean of the exponentially distributed
	// per-hop delay in milliseconds.
	Mu float64

	// MuMaxDelay is the maximum per-hop delay in milliseconds, or 0.
	MuMaxDelay uint64
}

// New creates a new path ending at recipient, with the intermediate hops
// selected uniformly at random and without repetition from mixes.  It
// returns the path and the time at which the packet is expected to arrive.
func New(rng *mRand.Rand, params *Params, mixes []*Node, recipient *Node, baseTime time.Time) ([]*sphinx.PathHop, time.Time, error) {
	if recipient == nil {
		return nil, time.Time{}, errNoRecipient
	}
	if params.NrHops <= 0 {
		return nil, time.Time{}, errNrHops
	}
	candidates := make([]*Node, 0, len(mixes))
	for _, n := range mixes {
		if n.ID != recipient.ID {
			candidates = append(candidates, n)
		}
	}
	nrMixes := params.NrHops - 1
	if len(candidates) < nrMixes {
		return nil, time.Time{}, fmt.Errorf("path: %d hops requested, %d mixes available", nrMixes, len(candidates))
	}
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	then := baseTime
	path := make([]*sphinx.PathHop, 0, params.NrHops)
	for _, n := range append(candidates[:nrMixes:nrMixes], recipient) {
		h := &sphinx.PathHop{
			ID:        n.ID,
			PublicKey: n.PublicKey,
		}

		// All non-terminal hops have a delay.
		if len(path) != params.NrHops-1 && params.Mu > 0 {
			delay := uint64(rand.Exp(rng, params.Mu)) + 1
			if params.MuMaxDelay > 0 && delay > params.MuMaxDelay {
				delay = params.MuMaxDelay
			}
			then = then.Add(time.Duration(delay) * time.Millisecond)
			h.Delay = uint32(delay)
		}
		path = append(path, h)
	}
	return path, then, nil
}

// ToString returns a slice of strings representing the "useful" component of
// each PathHop, suitable for debugging.
func ToString(nodes []*Node, p []*sphinx.PathHop) []string {
	names := make(map[[constants.NodeIDLength]byte]string, len(nodes))
	for _, n := range nodes {
		names[n.ID] = n.Name
	}
	s := make([]string, 0, len(p))
	for idx, v := range p {
		name, ok := names[v.ID]
		if !ok {
			name = fmt.Sprintf("%x", v.ID[:8])
		}
		s = append(s, fmt.Sprintf("Hop[%v] '%v' - %d ms", idx, name, v.Delay))
	}
	return s
}
