// scheduler_test.go - Forwarded packet scheduler tests.
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

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixpor/core/log"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/server/config"
	"github.com/katzenpost/mixpor/server/internal/glue/gluefakes"
	"github.com/katzenpost/mixpor/server/internal/packet"
)

func newTestGlue(t *testing.T, queueSize int) (*gluefakes.FakeGlue, *gluefakes.FakeConnector) {
	require := require.New(t)

	cfg := &config.Config{
		Server: &config.Server{
			Identifier: "relay.example.org",
			DataDir:    t.TempDir(),
		},
		SphinxGeometry: geo.DefaultGeometry(),
		Debug: &config.Debug{
			SchedulerQueueSize: queueSize,
		},
	}
	require.NoError(cfg.FixupAndValidate())

	logBackend, err := log.New("", "DEBUG", false)
	require.NoError(err)

	g := new(gluefakes.FakeGlue)
	c := new(gluefakes.FakeConnector)
	g.ConfigReturns(cfg)
	g.LogBackendReturns(logBackend)
	g.ConnectorReturns(c)
	return g, c
}

func newTestPacket(t *testing.T, delay time.Duration) *packet.Packet {
	g := geo.DefaultGeometry()
	pkt, err := packet.New(make([]byte, g.PacketLength+ticket.EncodedLength), g)
	require.NoError(t, err)
	pkt.Delay = delay
	return pkt
}

func TestMemoryQueueOrdering(t *testing.T) {
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", false)
	require.NoError(err)
	q := newMemoryQueue(logBackend.GetLogger("mq"), 0)

	now := time.Now()
	for i := 0; i < 100; i++ {
		// Out of order delays.
		q.Enqueue(now, newTestPacket(t, time.Millisecond*time.Duration((i%2)*400+i*5+40)))
	}
	require.Equal(100, q.Len())

	var last time.Duration
	for i := 0; i < 100; i++ {
		dispatchAt, pkt := q.Peek()
		require.NotNil(pkt)
		require.GreaterOrEqual(pkt.Delay, last)
		require.Equal(now.Add(pkt.Delay).UnixNano(), dispatchAt.UnixNano())
		last = pkt.Delay
		q.Pop()
	}

	_, pkt := q.Peek()
	require.Nil(pkt)
	q.Pop() // don't panic
}

func TestMemoryQueueCapacity(t *testing.T) {
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", false)
	require.NoError(err)
	q := newMemoryQueue(logBackend.GetLogger("mq"), 10)

	now := time.Now()
	for i := 0; i < 25; i++ {
		q.Enqueue(now, newTestPacket(t, time.Duration(i)*time.Millisecond))
		require.LessOrEqual(q.Len(), 10)
	}
	require.Equal(10, q.Len())

	q.Halt()
	require.Equal(0, q.Len())
}

func TestScheduler(t *testing.T) {
	require := require.New(t)
	g, c := newTestGlue(t, 0)
	dispatchCh := make(chan *packet.Packet, 3)
	c.Notify(dispatchCh)

	sch := New(g)
	defer sch.Halt()

	delays := []time.Duration{60 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	ids := make(map[time.Duration]uint64)
	for _, d := range delays {
		pkt := newTestPacket(t, d)
		ids[d] = pkt.ID
		sch.OnPacket(pkt)
	}

	for _, d := range []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond} {
		select {
		case pkt := <-dispatchCh:
			require.Equal(ids[d], pkt.ID)
			require.False(pkt.DispatchAt.IsZero())
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}
}

func TestSchedulerDeadline(t *testing.T) {
	require := require.New(t)
	g, c := newTestGlue(t, 0)
	dispatchCh := make(chan *packet.Packet, 2)
	c.Notify(dispatchCh)

	sch := New(g)
	defer sch.Halt()

	// A dispatch time far enough in the past to blow past the slack.
	late := newTestPacket(t, -time.Hour)
	sch.OnPacket(late)

	onTime := newTestPacket(t, 10*time.Millisecond)
	id := onTime.ID
	sch.OnPacket(onTime)

	select {
	case pkt := <-dispatchCh:
		require.Equal(id, pkt.ID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	require.Equal(1, c.DispatchPacketCallCount())
}

func TestSchedulerHalt(t *testing.T) {
	require := require.New(t)
	g, c := newTestGlue(t, 0)

	sch := New(g)
	sch.OnPacket(newTestPacket(t, time.Hour))
	sch.Halt()

	// Does not block once halted.
	sch.OnPacket(newTestPacket(t, 0))
	require.Equal(0, c.DispatchPacketCallCount())
}
