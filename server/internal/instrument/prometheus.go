// prometheus.go - Relay metrics.
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

// Package instrument provides the relay's prometheus metrics.
package instrument

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

// Reasons a packet is dropped.
const (
	DropInvalid      = "invalid"
	DropReplay       = "replay"
	DropTicket       = "ticket"
	DropUnwrapDelay  = "unwrap_delay"
	DropMaxDelay     = "max_delay"
	DropNextHop      = "next_hop"
	DropDeadline     = "deadline"
	DropQueueFull    = "queue_full"
	DropDispatch     = "dispatch"
	DropNoRecipient  = "no_recipient"
	DropShuttingDown = "shutting_down"
)

var (
	packetsPeeled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mixpor_peeled_packets_total",
			Help: "Number of packets successfully peeled",
		},
	)
	packetsForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mixpor_forwarded_packets_total",
			Help: "Number of packets forwarded to the next hop",
		},
	)
	packetsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mixpor_delivered_packets_total",
			Help: "Number of packets delivered to the local recipient",
		},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixpor_dropped_packets_total",
			Help: "Number of dropped packets",
		},
		[]string{"reason"},
	)
	packetsReplayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mixpor_replayed_packets_total",
			Help: "Number of replayed packets",
		},
	)
	ticketsAcknowledged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixpor_acknowledged_tickets_total",
			Help: "Number of acknowledged tickets",
		},
		[]string{"winning"},
	)
	unwrapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mixpor_unwrap_duration_seconds",
			Help:    "Time spent peeling a packet",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
		},
	)
	channelLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mixpor_channel_length",
			Help: "Number of entries queued in an internal channel",
		},
		[]string{"channel"},
	)

	registerOnce sync.Once
)

// Init registers the metrics with the default registry.  It is safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(packetsPeeled)
		prometheus.MustRegister(packetsForwarded)
		prometheus.MustRegister(packetsDelivered)
		prometheus.MustRegister(packetsDropped)
		prometheus.MustRegister(packetsReplayed)
		prometheus.MustRegister(ticketsAcknowledged)
		prometheus.MustRegister(unwrapDuration)
		prometheus.MustRegister(channelLength)
	})
}

// StartPrometheusListener exposes the registered metrics via HTTP on
// address.  The returned server's Addr is the bound address, and it must be
// closed by the caller.
func StartPrometheusListener(address string, log *logging.Logger) (*http.Server, error) {
	Init()

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics listener terminated: %v", err)
		}
	}()
	log.Noticef("Metrics available at http://%v/metrics", srv.Addr)
	return srv, nil
}

// PacketsPeeled increments the peeled packet counter.
func PacketsPeeled() {
	packetsPeeled.Inc()
}

// PacketsForwarded increments the forwarded packet counter.
func PacketsForwarded() {
	packetsForwarded.Inc()
}

// PacketsDelivered increments the delivered packet counter.
func PacketsDelivered() {
	packetsDelivered.Inc()
}

// PacketsDropped increments the dropped packet counter for reason.
func PacketsDropped(reason string) {
	packetsDropped.With(prometheus.Labels{"reason": reason}).Inc()
}

// PacketsReplayed increments the replayed packet counter.
func PacketsReplayed() {
	packetsReplayed.Inc()
}

// TicketAcknowledged increments the acknowledged ticket counter.
func TicketAcknowledged(winning bool) {
	label := "false"
	if winning {
		label = "true"
	}
	ticketsAcknowledged.With(prometheus.Labels{"winning": label}).Inc()
}

// UnwrapDuration records the time spent peeling a packet.
func UnwrapDuration(d time.Duration) {
	unwrapDuration.Observe(d.Seconds())
}

// GaugeChannelLength records the number of entries queued in channel c.
func GaugeChannelLength(c string, length int) {
	channelLength.With(prometheus.Labels{"channel": c}).Set(float64(length))
}
