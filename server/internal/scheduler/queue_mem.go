// queue_mem.go - In-memory scheduler queue.
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
	mRand "math/rand"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixpor/core/queue"
	"github.com/katzenpost/mixpor/server/internal/instrument"
	"github.com/katzenpost/mixpor/server/internal/packet"
)

type memoryQueue struct {
	log *logging.Logger

	q           *queue.PriorityQueue[*packet.Packet]
	mRand       *mRand.Rand
	maxCapacity int
}

func (q *memoryQueue) Halt() {
	for e := q.q.Pop(); e != nil; e = q.q.Pop() {
		instrument.PacketsDropped(instrument.DropShuttingDown)
		e.Value.Dispose()
	}
}

func (q *memoryQueue) Peek() (time.Time, *packet.Packet) {
	e := q.q.Peek()
	if e == nil {
		return time.Time{}, nil
	}

	return time.Unix(0, int64(e.Priority)), e.Value
}

func (q *memoryQueue) Pop() {
	q.q.Pop()
}

func (q *memoryQueue) Len() int {
	return q.q.Len()
}

func (q *memoryQueue) Enqueue(now time.Time, pkt *packet.Packet) {
	// Enqueue the packet unconditionally so that it is a
	// candidate to be dropped.
	q.q.Enqueue(uint64(now.Add(pkt.Delay).UnixNano()), pkt)

	// If queue limitations are enabled, check to see if the
	// queue is over capacity after the new packet was
	// inserted.
	if q.maxCapacity > 0 && q.q.Len() > q.maxCapacity {
		drop := q.q.DequeueRandom(q.mRand).Value
		q.log.Debugf("Queue size limit reached, discarding: %v", drop.ID)
		instrument.PacketsDropped(instrument.DropQueueFull)
		drop.Dispose()
	}
}

func newMemoryQueue(log *logging.Logger, maxCapacity int) *memoryQueue {
	return &memoryQueue{
		log:         log,
		q:           queue.New[*packet.Packet](),
		mRand:       rand.NewMath(),
		maxCapacity: maxCapacity,
	}
}
