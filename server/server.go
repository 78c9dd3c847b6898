// server.go - mixpor relay.
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

// Package server provides the mixpor relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grafana/pyroscope-go"
	"gitlab.com/yawning/aez.git"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixpor/core/crypto/group"
	"github.com/katzenpost/mixpor/core/log"
	mixpacket "github.com/katzenpost/mixpor/core/packet"
	"github.com/katzenpost/mixpor/core/sphinx"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/server/config"
	"github.com/katzenpost/mixpor/server/internal/cryptoworker"
	"github.com/katzenpost/mixpor/server/internal/glue"
	"github.com/katzenpost/mixpor/server/internal/instrument"
	"github.com/katzenpost/mixpor/server/internal/mixkey"
	"github.com/katzenpost/mixpor/server/internal/packet"
	"github.com/katzenpost/mixpor/server/internal/profiling"
	"github.com/katzenpost/mixpor/server/internal/scheduler"
	"github.com/katzenpost/mixpor/server/internal/tickets"
)

const (
	inboundQueueSize = 1024
	deliveriesSize   = 64
)

var (
	// ErrHalted is the error returned when the relay has been shut down.
	ErrHalted = errors.New("server: halted")

	// ErrInboundQueueFull is the error returned when a packet is dropped
	// because the relay is overloaded.
	ErrInboundQueueFull = errors.New("server: inbound queue full")
)

// Identity is the public identity of a relay.
type Identity struct {
	// NodeID is the identifier packets are routed to the relay with.
	NodeID [constants.NodeIDLength]byte

	// PublicKey is the group element packets are encrypted to.
	PublicKey group.Element

	// PaymentAddress is the address tickets paying the relay are issued to.
	PaymentAddress ticket.Address
}

func identityFromKey(k *mixkey.MixKey, node *mixpacket.Node) *Identity {
	return &Identity{
		NodeID:         node.ID(),
		PublicKey:      k.PublicKey(),
		PaymentAddress: k.PaymentAddress(),
	}
}

// Server is a mixpor relay instance.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	mixKey *mixkey.MixKey
	node   *mixpacket.Node

	inboundPackets chan interface{}
	deliveries     chan *Delivery

	tickets       *tickets.Store
	scheduler     glue.Scheduler
	cryptoWorkers []*cryptoworker.Worker
	connector     *connector
	recipient     *recipient
	network       *Network

	metrics  *http.Server
	profiler *pyroscope.Profiler

	haltCh   chan interface{}
	haltedCh chan interface{}
	haltOnce sync.Once
}

type serverGlue struct {
	s *Server
}

func (g *serverGlue) Config() *config.Config {
	return g.s.cfg
}

func (g *serverGlue) LogBackend() *log.Backend {
	return g.s.logBackend
}

func (g *serverGlue) MixKey() *mixkey.MixKey {
	return g.s.mixKey
}

func (g *serverGlue) Node() *mixpacket.Node {
	return g.s.node
}

func (g *serverGlue) Tickets() glue.Tickets {
	return g.s.tickets
}

func (g *serverGlue) Scheduler() glue.Scheduler {
	return g.s.scheduler
}

func (g *serverGlue) Connector() glue.Connector {
	return g.s.connector
}

func (g *serverGlue) Recipient() glue.Recipient {
	return g.s.recipient
}

func initDataDir(d string) error {
	const dirMode = os.ModeDir | 0700

	// Initialize the data directory, by ensuring that it exists (or can be
	// created), and that it has the appropriate permissions.
	if fi, err := os.Lstat(d); err != nil {
		// Directory doesn't exist, create one.
		if !os.IsNotExist(err) {
			return fmt.Errorf("server: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("server: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("server: DataDir '%v' is not a directory", d)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("server: DataDir '%v' has invalid permissions '%v'", d, fi.Mode())
		}
	}

	return nil
}

func openKeys(cfg *config.Config, l *logging.Logger) (*mixkey.MixKey, *mixpacket.Node, error) {
	s, err := sphinx.FromGeometry(cfg.SphinxGeometry)
	if err != nil {
		return nil, nil, err
	}
	k, err := mixkey.New(cfg.Server.KeyDB(), cfg.SphinxGeometry, cfg.Debug.BloomFilterSize, l)
	if err != nil {
		return nil, nil, err
	}
	node, err := mixpacket.NewNode(s, k.Keypair())
	if err != nil {
		k.Deref()
		return nil, nil, err
	}
	return k, node, nil
}

// LoadIdentity creates or loads the keys of the relay configured by cfg,
// and returns its public identity.  It must not be called while a Server
// for cfg is running.
func LoadIdentity(cfg *config.Config) (*Identity, error) {
	if err := initDataDir(cfg.Server.DataDir); err != nil {
		return nil, err
	}
	logBackend, err := log.New("", cfg.Logging.Level, true)
	if err != nil {
		return nil, err
	}
	defer logBackend.Close()
	k, node, err := openKeys(cfg, logBackend.GetLogger("mixkey"))
	if err != nil {
		return nil, err
	}
	defer k.Deref()
	return identityFromKey(k, node), nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.Server.DataDir, p)
		}
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

// Identity returns the public identity of the relay.
func (s *Server) Identity() *Identity {
	return identityFromKey(s.mixKey, s.node)
}

// Deliveries returns the channel the payloads of the packets addressed to
// the relay are sent to.
func (s *Server) Deliveries() <-chan *Delivery {
	return s.deliveries
}

// AcknowledgedTickets returns the winning tickets the relay holds.
func (s *Server) AcknowledgedTickets() ([]*ticket.AcknowledgedTicket, error) {
	return s.tickets.Acknowledged()
}

// Channel returns a snapshot of the inbound payment channel id.
func (s *Server) Channel(id ticket.ChannelID) (*ticket.Channel, bool) {
	return s.tickets.Channel(id)
}

// MetricsAddress returns the address metrics are exposed on, or the empty
// string.
func (s *Server) MetricsAddress() string {
	if s.metrics == nil {
		return ""
	}
	return s.metrics.Addr
}

// Inbound hands a packet received from a peer to the relay.  The packet is
// copied.
func (s *Server) Inbound(raw []byte) error {
	select {
	case <-s.haltCh:
		return ErrHalted
	default:
	}

	pkt, err := packet.New(raw, s.cfg.SphinxGeometry)
	if err != nil {
		instrument.PacketsDropped(instrument.DropInvalid)
		return err
	}
	pkt.RecvAt = time.Now()

	select {
	case s.inboundPackets <- pkt:
		return nil
	default:
		s.log.Debugf("Dropping packet: %v (Inbound queue full)", pkt.ID)
		instrument.PacketsDropped(instrument.DropQueueFull)
		pkt.Dispose()
		return ErrInboundQueueFull
	}
}

// RotateLog rotates the log file if logging to a file is enabled.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.log.Errorf("Failed to rotate log file, shutting down server: %v", err)
		s.Shutdown()
		return
	}
	s.log.Notice("Log rotated.")
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

func (s *Server) halt() {
	// WARNING: The ordering of operations here is deliberate, and should not
	// be altered without a deep understanding of how all the components fit
	// together.

	s.log.Noticef("Starting graceful shutdown.")
	close(s.haltCh)

	// Stop accepting packets from peers.
	if s.network != nil {
		s.network.remove(s)
	}

	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := s.metrics.Shutdown(ctx); err != nil {
			s.log.Warningf("Failed to shut down metrics listener: %v", err)
		}
		cancel()
		s.metrics = nil
	}

	// Stop the Sphinx workers.
	for i, w := range s.cryptoWorkers {
		if w != nil {
			w.Halt()
			s.cryptoWorkers[i] = nil
		}
	}

	// Stop the scheduler, disposing of the queued packets.
	if s.scheduler != nil {
		s.scheduler.Halt()
		s.scheduler = nil
	}

	if s.connector != nil {
		s.connector.Halt()
		s.connector = nil
	}

	// Flush and close the ticket store.
	if s.tickets != nil {
		s.tickets.Halt()
		s.tickets = nil
	}

	if s.mixKey != nil {
		s.mixKey.Deref()
		s.mixKey = nil
	}

	if s.profiler != nil {
		if err := s.profiler.Stop(); err != nil {
			s.log.Warningf("Failed to stop profiler: %v", err)
		}
		s.profiler = nil
	}

	s.log.Noticef("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.  The relay forwards packets to, and accepts packets from,
// the other relays of network, which may be nil.
func New(cfg *config.Config, network *Network) (*Server, error) {
	s := &Server{
		cfg:            cfg,
		network:        network,
		inboundPackets: make(chan interface{}, inboundQueueSize),
		deliveries:     make(chan *Delivery, deliveriesSize),
		haltCh:         make(chan interface{}),
		haltedCh:       make(chan interface{}),
	}

	// Do the early initialization and bring up logging.
	if err := initDataDir(s.cfg.Server.DataDir); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}

	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Unsafe Debug logging is enabled.")
	}
	if aez.IsHardwareAccelerated() {
		s.log.Noticef("AEZv5 implementation is hardware accelerated.")
	} else {
		s.log.Warningf("AEZv5 implementation IS NOT hardware accelerated.")
	}
	s.log.Noticef("Server identifier is: '%v'", s.cfg.Server.Identifier)
	s.log.Noticef("Sphinx geometry: %v", s.cfg.SphinxGeometry)

	// Load and or generate the relay keys.
	var err error
	if s.mixKey, s.node, err = openKeys(s.cfg, s.logBackend.GetLogger("mixkey")); err != nil {
		s.log.Errorf("Failed to initialize relay keys: %v", err)
		return nil, err
	}
	id := s.Identity()
	s.log.Noticef("Node ID is: %x", id.NodeID)
	s.log.Noticef("Payment address is: %v", id.PaymentAddress)

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	instrument.Init()
	if s.cfg.Metrics.Address != "" {
		if s.metrics, err = instrument.StartPrometheusListener(s.cfg.Metrics.Address, s.logBackend.GetLogger("metrics")); err != nil {
			s.log.Errorf("Failed to start metrics listener: %v", err)
			return nil, err
		}
	}
	if s.cfg.Debug.EnableProfiling {
		if s.profiler, err = profiling.Start(s.logBackend.GetLogger("pyroscope"), s.cfg.Server.Identifier); err != nil {
			s.log.Errorf("Failed to start profiler: %v", err)
			return nil, err
		}
	}

	g := &serverGlue{s}
	if s.tickets, err = tickets.New(g); err != nil {
		s.log.Errorf("Failed to initialize ticket store: %v", err)
		return nil, err
	}
	s.connector = newConnector(g)
	s.recipient = newRecipient(g, s.deliveries)

	// Initialize and start the the scheduler.
	s.scheduler = scheduler.New(g)

	// Initialize and start the Sphinx workers.
	s.cryptoWorkers = make([]*cryptoworker.Worker, 0, s.cfg.Debug.NumSphinxWorkers)
	for i := 0; i < s.cfg.Debug.NumSphinxWorkers; i++ {
		w := cryptoworker.New(g, s.inboundPackets, i)
		s.cryptoWorkers = append(s.cryptoWorkers, w)
	}

	// Accept packets from peers.
	if s.network != nil {
		if err = s.network.add(s); err != nil {
			s.log.Errorf("Failed to join network: %v", err)
			return nil, err
		}
	}

	isOk = true
	return s, nil
}
