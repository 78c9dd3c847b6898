// scheduler.go - Forwarded packet scheduler.
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

// Package scheduler implements the forwarded packet scheduler.
package scheduler

import (
	"math"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixpor/core/worker"
	"github.com/katzenpost/mixpor/server/internal/glue"
	"github.com/katzenpost/mixpor/server/internal/instrument"
	"github.com/katzenpost/mixpor/server/internal/packet"
)

// InboundPacketsChannelSize is the number of packets the scheduler buffers
// before OnPacket blocks.
const InboundPacketsChannelSize = 1000

type scheduler struct {
	worker.Worker

	glue glue.Glue
	log  *logging.Logger

	q    *memoryQueue
	inCh chan *packet.Packet
}

func (sch *scheduler) Halt() {
	sch.Worker.Halt()
	for {
		select {
		case pkt := <-sch.inCh:
			instrument.PacketsDropped(instrument.DropShuttingDown)
			pkt.Dispose()
		default:
			sch.q.Halt()
			return
		}
	}
}

func (sch *scheduler) OnPacket(pkt *packet.Packet) {
	select {
	case <-sch.HaltCh():
		instrument.PacketsDropped(instrument.DropShuttingDown)
		pkt.Dispose()
	case sch.inCh <- pkt:
	}
}

func (sch *scheduler) enqueue(pkt *packet.Packet) {
	// Note: This assumes that pkt.Delay has already been adjusted to
	// account for the packet processing time up to the point where the
	// packet was enqueued.
	sch.log.Debugf("Enqueueing packet: %v delta-t: %v", pkt.ID, pkt.Delay)
	sch.q.Enqueue(time.Now(), pkt)
}

func (sch *scheduler) worker() {
	timerSlack := time.Duration(sch.glue.Config().Debug.SchedulerSlack) * time.Millisecond
	maxBurst := sch.glue.Config().Debug.SchedulerMaxBurst
	timer := time.NewTimer(math.MaxInt64)
	defer timer.Stop()

	for {
		var timerFired bool
		// The vast majority of the time the scheduler will be idle waiting on
		// new packets or for a packet in the priority queue to be eligible
		// for dispatch.
		//
		// There's only a single go routine responsible for packet scheduling
		// since this isn't CPU intensive in the slightest, the crypto is
		// what gets parallelized.
		select {
		case <-sch.HaltCh():
			sch.log.Debugf("Terminating gracefully.")
			return
		case pkt := <-sch.inCh:
			sch.enqueue(pkt)
		drain:
			for {
				select {
				case pkt = <-sch.inCh:
					sch.enqueue(pkt)
				default:
					break drain
				}
			}
		case <-timer.C:
			// Packet delay probably passed, packet dispatch handled as
			// part of rescheduling the timer.
			timerFired = true
		}

		// Dispatch packets if possible and reschedule the next wakeup.
		if !timerFired {
			timer.Stop()
		}

		nrBurst := 0
		for {
			// Peek at the next packet in the queue.
			dispatchAt, pkt := sch.q.Peek()
			if pkt == nil {
				// The queue is empty, just reschedule for the max duration,
				// when there are packets to schedule, we'll get woken up.
				timer.Reset(math.MaxInt64)
				break
			}

			// Figure out if the packet needs to be handled now.
			now := time.Now()
			if dispatchAt.After(now) {
				timer.Reset(dispatchAt.Sub(now))
				break
			}
			if nrBurst = nrBurst + 1; nrBurst > maxBurst {
				// Packet dispatch is supposed to happen "now", but we've
				// already sent up to the max burst size.
				timer.Reset(1 * time.Microsecond)
				break
			}

			sch.q.Pop()

			if now.Sub(dispatchAt) > timerSlack {
				// The deadline has been blown by more than the configured
				// slack time.
				sch.log.Debugf("Dropping packet: %v (Deadline blown by %v)", pkt.ID, now.Sub(dispatchAt))
				instrument.PacketsDropped(instrument.DropDeadline)
				pkt.Dispose()
			} else {
				// Note: Callee takes ownership.
				pkt.DispatchAt = now
				sch.glue.Connector().DispatchPacket(pkt)
			}
		}
	}

	// NOTREACHED
}

func (sch *scheduler) monitorChannelLen() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sch.HaltCh():
			return
		case <-ticker.C:
			instrument.GaugeChannelLength("server.scheduler.inCh", len(sch.inCh))
		}
	}
}

// New constructs a new scheduler instance.
func New(glue glue.Glue) glue.Scheduler {
	sch := &scheduler{
		glue: glue,
		log:  glue.LogBackend().GetLogger("scheduler"),
		inCh: make(chan *packet.Packet, InboundPacketsChannelSize),
	}
	sch.q = newMemoryQueue(sch.log, glue.Config().Debug.SchedulerQueueSize)

	sch.Go(sch.monitorChannelLen)
	sch.Go(sch.worker)
	return sch
}
