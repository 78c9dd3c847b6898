// network.go - In-process relay network.
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
	"errors"
	"fmt"
	"sync"

	"github.com/katzenpost/mixpor/core/sphinx/constants"
)

var (
	// ErrUnknownRelay is the error returned when sending to a relay that is
	// not part of the network.
	ErrUnknownRelay = errors.New("server: unknown relay")

	errDuplicateRelay = errors.New("server: relay already in network")
)

// Network connects relays running in the same process.
type Network struct {
	sync.RWMutex

	relays map[[constants.NodeIDLength]byte]*Server
}

func (n *Network) add(s *Server) error {
	id := s.node.ID()

	n.Lock()
	defer n.Unlock()

	if _, ok := n.relays[id]; ok {
		return fmt.Errorf("%w: %x", errDuplicateRelay, id)
	}
	n.relays[id] = s
	return nil
}

func (n *Network) remove(s *Server) {
	id := s.node.ID()

	n.Lock()
	defer n.Unlock()

	if n.relays[id] == s {
		delete(n.relays, id)
	}
}

// Relay returns the relay with the node identifier id.
func (n *Network) Relay(id *[constants.NodeIDLength]byte) (*Server, bool) {
	n.RLock()
	defer n.RUnlock()

	s, ok := n.relays[*id]
	return s, ok
}

// Len returns the number of relays in the network.
func (n *Network) Len() int {
	n.RLock()
	defer n.RUnlock()

	return len(n.relays)
}

// Send hands raw to the relay with the node identifier id.
func (n *Network) Send(id *[constants.NodeIDLength]byte, raw []byte) error {
	s, ok := n.Relay(id)
	if !ok {
		return fmt.Errorf("%w: %x", ErrUnknownRelay, id[:])
	}
	return s.Inbound(raw)
}

// NewNetwork returns an empty Network.
func NewNetwork() *Network {
	return &Network{
		relays: make(map[[constants.NodeIDLength]byte]*Server),
	}
}
