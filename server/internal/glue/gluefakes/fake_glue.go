// fake_glue.go - Fake glue implementations for tests.
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

// Package gluefakes provides fake implementations of the glue interfaces.
package gluefakes

import (
	"sync"

	"github.com/katzenpost/mixpor/core/log"
	mixpacket "github.com/katzenpost/mixpor/core/packet"
	"github.com/katzenpost/mixpor/server/config"
	"github.com/katzenpost/mixpor/server/internal/glue"
	"github.com/katzenpost/mixpor/server/internal/mixkey"
	"github.com/katzenpost/mixpor/server/internal/packet"
)

// FakeGlue is a glue.Glue with settable return values.
type FakeGlue struct {
	sync.Mutex

	config     *config.Config
	logBackend *log.Backend
	mixKey     *mixkey.MixKey
	node       *mixpacket.Node
	tickets    glue.Tickets
	scheduler  glue.Scheduler
	connector  glue.Connector
	recipient  glue.Recipient
}

func (f *FakeGlue) Config() *config.Config {
	f.Lock()
	defer f.Unlock()
	return f.config
}

func (f *FakeGlue) ConfigReturns(cfg *config.Config) {
	f.Lock()
	defer f.Unlock()
	f.config = cfg
}

func (f *FakeGlue) LogBackend() *log.Backend {
	f.Lock()
	defer f.Unlock()
	return f.logBackend
}

func (f *FakeGlue) LogBackendReturns(b *log.Backend) {
	f.Lock()
	defer f.Unlock()
	f.logBackend = b
}

func (f *FakeGlue) MixKey() *mixkey.MixKey {
	f.Lock()
	defer f.Unlock()
	return f.mixKey
}

func (f *FakeGlue) MixKeyReturns(k *mixkey.MixKey) {
	f.Lock()
	defer f.Unlock()
	f.mixKey = k
}

func (f *FakeGlue) Node() *mixpacket.Node {
	f.Lock()
	defer f.Unlock()
	return f.node
}

func (f *FakeGlue) NodeReturns(n *mixpacket.Node) {
	f.Lock()
	defer f.Unlock()
	f.node = n
}

func (f *FakeGlue) Tickets() glue.Tickets {
	f.Lock()
	defer f.Unlock()
	return f.tickets
}

func (f *FakeGlue) TicketsReturns(t glue.Tickets) {
	f.Lock()
	defer f.Unlock()
	f.tickets = t
}

func (f *FakeGlue) Scheduler() glue.Scheduler {
	f.Lock()
	defer f.Unlock()
	return f.scheduler
}

func (f *FakeGlue) SchedulerReturns(s glue.Scheduler) {
	f.Lock()
	defer f.Unlock()
	f.scheduler = s
}

func (f *FakeGlue) Connector() glue.Connector {
	f.Lock()
	defer f.Unlock()
	return f.connector
}

func (f *FakeGlue) ConnectorReturns(c glue.Connector) {
	f.Lock()
	defer f.Unlock()
	f.connector = c
}

func (f *FakeGlue) Recipient() glue.Recipient {
	f.Lock()
	defer f.Unlock()
	return f.recipient
}

func (f *FakeGlue) RecipientReturns(r glue.Recipient) {
	f.Lock()
	defer f.Unlock()
	f.recipient = r
}

// packetRecorder records the packets handed to a fake.
type packetRecorder struct {
	sync.Mutex

	packets []*packet.Packet
	ch      chan *packet.Packet
}

func (r *packetRecorder) record(pkt *packet.Packet) {
	r.Lock()
	r.packets = append(r.packets, pkt)
	ch := r.ch
	r.Unlock()
	if ch != nil {
		ch <- pkt
	}
}

// OnPacketCallCount returns the number of packets received.
func (r *packetRecorder) OnPacketCallCount() int {
	r.Lock()
	defer r.Unlock()
	return len(r.packets)
}

// OnPacketArgsForCall returns the i-th packet received.
func (r *packetRecorder) OnPacketArgsForCall(i int) *packet.Packet {
	r.Lock()
	defer r.Unlock()
	return r.packets[i]
}

// Notify makes every received packet also get sent to ch.
func (r *packetRecorder) Notify(ch chan *packet.Packet) {
	r.Lock()
	defer r.Unlock()
	r.ch = ch
}

// FakeScheduler is a glue.Scheduler that records packets.
type FakeScheduler struct {
	packetRecorder
}

func (s *FakeScheduler) Halt() {}

func (s *FakeScheduler) OnPacket(pkt *packet.Packet) {
	s.record(pkt)
}

// FakeRecipient is a glue.Recipient that records packets.
type FakeRecipient struct {
	packetRecorder
}

func (r *FakeRecipient) OnPacket(pkt *packet.Packet) {
	r.record(pkt)
}

// FakeConnector is a glue.Connector that records dispatched packets.
type FakeConnector struct {
	packetRecorder

	validDests map[[32]byte]bool
}

func (c *FakeConnector) Halt() {}

func (c *FakeConnector) DispatchPacket(pkt *packet.Packet) {
	c.record(pkt)
}

func (c *FakeConnector) IsValidForwardDest(id *[32]byte) bool {
	c.Lock()
	defer c.Unlock()
	return c.validDests[*id]
}

// IsValidForwardDestReturns sets the forward destinations considered
// valid.
func (c *FakeConnector) IsValidForwardDestReturns(ids ...[32]byte) {
	c.Lock()
	defer c.Unlock()
	c.validDests = make(map[[32]byte]bool)
	for _, id := range ids {
		c.validDests[id] = true
	}
}

// DispatchPacketCallCount returns the number of dispatched packets.
func (c *FakeConnector) DispatchPacketCallCount() int {
	return c.OnPacketCallCount()
}

var (
	_ glue.Glue      = (*FakeGlue)(nil)
	_ glue.Scheduler = (*FakeScheduler)(nil)
	_ glue.Recipient = (*FakeRecipient)(nil)
	_ glue.Connector = (*FakeConnector)(nil)
)
