// crypto_worker.go - Sphinx crypto worker.
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

// Package cryptoworker implements the Sphinx crypto worker.
package cryptoworker

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	mixpacket "github.com/katzenpost/mixpor/core/packet"
	"github.com/katzenpost/mixpor/core/sphinx/por"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/core/worker"
	"github.com/katzenpost/mixpor/server/internal/glue"
	"github.com/katzenpost/mixpor/server/internal/instrument"
	"github.com/katzenpost/mixpor/server/internal/packet"
)

var (
	errReplay = errors.New("crypto: Packet is a replay")
	errTicket = errors.New("crypto: Ticket rejected")
)

// Worker is a Sphinx crypto worker instance.
type Worker struct {
	worker.Worker

	glue glue.Glue
	log  *logging.Logger

	incomingCh <-chan interface{}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, errReplay):
		return instrument.DropReplay
	case errors.Is(err, errTicket), errors.Is(err, por.ErrChallengeMismatch), errors.Is(err, ticket.ErrInvalidTicket):
		return instrument.DropTicket
	default:
		return instrument.DropInvalid
	}
}

func (w *Worker) doUnwrap(pkt *packet.Packet) error {
	startAt := time.Now()
	o, err := mixpacket.Disassemble(w.glue.Node(), pkt.Raw)
	unwrapAt := time.Now()
	instrument.UnwrapDuration(unwrapAt.Sub(startAt))

	w.log.Debugf("Packet: %v (Unwrap took: %v)", pkt.ID, unwrapAt.Sub(startAt))
	if err != nil {
		return err
	}

	// Stash the outcome so that pkt.Dispose() gets to clear the response,
	// even if the packet ends up being rejected.
	pkt.Set(o)

	if w.glue.MixKey().IsReplay(o.ReplayTag[:]) {
		// The packet decrypted successfully, the MAC was valid, and the
		// tag was seen before, therefore drop the packet as a replay.
		instrument.PacketsReplayed()
		return errReplay
	}
	w.log.Debugf("Packet: %v (IsReplay took: %v)", pkt.ID, time.Since(unwrapAt))

	if err = w.glue.Tickets().Validate(o.Ticket); err != nil {
		return fmt.Errorf("%w: %w", errTicket, err)
	}
	return nil
}

func (w *Worker) routePacket(pkt *packet.Packet, now time.Time) {
	maxDelay := time.Duration(w.glue.Config().Debug.MaxDelay) * time.Millisecond

	if pkt.IsForward() {
		if !w.glue.Connector().IsValidForwardDest(pkt.NextHop()) {
			w.log.Debugf("Dropping packet: %v (Unknown next hop %x)", pkt.ID, pkt.NextHop()[:8])
			instrument.PacketsDropped(instrument.DropNextHop)
			pkt.Dispose()
			return
		}

		// Check and adjust the delay for queue dwell time.
		pkt.Delay = time.Duration(pkt.Outcome.Delay) * time.Millisecond
		if pkt.Delay > maxDelay {
			w.log.Debugf("Dropping packet: %v (Delay %v is past what is allowed)", pkt.ID, pkt.Delay)
			instrument.PacketsDropped(instrument.DropMaxDelay)
			pkt.Dispose()
			return
		}
		dwellTime := now.Sub(pkt.RecvAt)
		if pkt.Delay > dwellTime {
			pkt.Delay -= dwellTime
		} else {
			// The dwell time has exceeded the requested delay, send it
			// out as soon as possible.
			pkt.Delay = 0
		}

		w.log.Debugf("Scheduling packet: %v", pkt.ID)
		w.glue.Scheduler().OnPacket(pkt)
		return
	}

	// There is no next hop, so the ticket is acknowledged on delivery.
	ack, err := w.glue.Tickets().Acknowledge(pkt.Outcome.Ticket, pkt.Outcome.Response)
	if err != nil {
		w.log.Debugf("Packet: %v (Failed to acknowledge ticket: %v)", pkt.ID, err)
	}
	pkt.Acknowledged = ack

	// Note: Callee takes ownership of pkt.
	w.log.Debugf("Handing off delivered packet: %v", pkt.ID)
	pkt.DispatchAt = now
	instrument.PacketsDelivered()
	w.glue.Recipient().OnPacket(pkt)
}

func (w *Worker) worker() {
	unwrapSlack := time.Duration(w.glue.Config().Debug.UnwrapDelay) * time.Millisecond

	for {
		// This is where the bulk of the inbound packet processing happens,
		// and the only significant source of parallelism.
		var pkt *packet.Packet

		select {
		case <-w.HaltCh():
			w.log.Debugf("Terminating gracefully.")
			return
		case e := <-w.incomingCh:
			pkt = e.(*packet.Packet)
		}

		// This deliberately ignores the cryptographic processing time, since
		// it should be constant across packets.
		now := time.Now()

		// Drop the packet if it has been sitting in the queue waiting to
		// be unwrapped for way too long.
		if unwrapDelay := now.Sub(pkt.RecvAt); unwrapDelay > unwrapSlack {
			w.log.Debugf("Dropping packet: %v (Spent %v waiting for Unwrap())", pkt.ID, unwrapDelay)
			instrument.PacketsDropped(instrument.DropUnwrapDelay)
			pkt.Dispose()
			continue
		} else {
			w.log.Debugf("Packet: %v (Unwrap queue delay: %v)", pkt.ID, unwrapDelay)
		}

		w.log.Debugf("Attempting to unwrap packet: %v", pkt.ID)
		if err := w.doUnwrap(pkt); err != nil {
			w.log.Debugf("Dropping packet: %v (%v)", pkt.ID, err)
			instrument.PacketsDropped(dropReason(err))
			pkt.Dispose()
			continue
		}
		instrument.PacketsPeeled()
		w.log.Debugf("Packet: %v (doUnwrap took: %v)", pkt.ID, time.Since(now))

		w.routePacket(pkt, now)
	}

	// NOTREACHED
}

// New constructs a new Worker instance.
func New(glue glue.Glue, incomingCh <-chan interface{}, id int) *Worker {
	w := &Worker{
		glue:       glue,
		log:        glue.LogBackend().GetLogger(fmt.Sprintf("crypto:%d", id)),
		incomingCh: incomingCh,
	}

	w.Go(w.worker)
	return w
}
