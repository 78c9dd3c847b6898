// simulate.go - In-process relay network simulation.
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
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	mRand "math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	mixpacket "github.com/katzenpost/mixpor/core/packet"
	"github.com/katzenpost/mixpor/core/sphinx"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/sphinx/path"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/server"
	"github.com/katzenpost/mixpor/server/config"
)

const channelBalance = 1000000

// Simulate holds the simulate parameters.
type Simulate struct {
	GeometryFile string
	DataDir      string
	LogLevel     string
	NrRelays     int
	NrHops       int
	NrMessages   int
	Mu           float64
	MuMaxDelay   uint64
	Amount       int64
	WinProb      float64
	Timeout      time.Duration
	ShowPaths    bool
}

// simulation is a fully connected network of relays, where every relay
// has a payment channel open to every other one.  The client has a
// channel open to every relay.
type simulation struct {
	network  *server.Network
	relays   []*server.Server
	ids      []*server.Identity
	nodes    []*path.Node
	channels [][]ticket.ChannelID
	issuers  map[[constants.NodeIDLength]byte]*ticket.Issuer

	client   *secp256k1.PrivateKey
	sphinx   *sphinx.Sphinx
	geometry *geo.Geometry
	paths    *path.PathFactory
	rng      *mRand.Rand
	params   *Simulate
}

func relayName(i int) string {
	return "relay" + strconv.Itoa(i)
}

func (sim *simulation) relayConfig(i int) *config.Config {
	cfg := &config.Config{
		Server: &config.Server{
			Identifier: relayName(i) + ".mixpor.invalid",
			DataDir:    filepath.Join(sim.params.DataDir, relayName(i)),
		},
		Logging:        &config.Logging{Level: sim.params.LogLevel},
		SphinxGeometry: sim.geometry,
		Ticket: &config.Ticket{
			MinimumAmount:      strconv.FormatInt(sim.params.Amount, 10),
			Amount:             strconv.FormatInt(sim.params.Amount, 10),
			WinningProbability: sim.params.WinProb,
		},
		Debug: &config.Debug{},
	}
	if sim.params.MuMaxDelay > 0 {
		cfg.Debug.MaxDelay = int(sim.params.MuMaxDelay) * 2
	}
	return cfg
}

func (sim *simulation) start() error {
	var err error
	if sim.client, err = secp256k1.GeneratePrivateKey(); err != nil {
		return err
	}
	clientAddr := ticket.AddressFromPublicKey(sim.client.PubKey())

	n := sim.params.NrRelays
	cfgs := make([]*config.Config, 0, n)
	for i := 0; i < n; i++ {
		cfg := sim.relayConfig(i)
		if err = cfg.FixupAndValidate(); err != nil {
			return err
		}
		id, err := server.LoadIdentity(cfg)
		if err != nil {
			return err
		}
		cfgs = append(cfgs, cfg)
		sim.ids = append(sim.ids, id)
		sim.nodes = append(sim.nodes, path.NewNode(relayName(i), id.PublicKey))
	}

	sim.issuers = make(map[[constants.NodeIDLength]byte]*ticket.Issuer)
	for i, cfg := range cfgs {
		dst := sim.ids[i].PaymentAddress
		sources := []ticket.Address{clientAddr}
		for j, peer := range sim.ids {
			if j == i {
				continue
			}
			sources = append(sources, peer.PaymentAddress)
			cfg.Peers = append(cfg.Peers, &config.Peer{
				Name:           relayName(j),
				NodeID:         hex.EncodeToString(peer.NodeID[:]),
				PaymentAddress: peer.PaymentAddress.String(),
				Epoch:          1,
			})
		}

		var ids []ticket.ChannelID
		for _, src := range sources {
			cfg.Channels = append(cfg.Channels, &config.Channel{
				Source:  src.String(),
				Balance: strconv.Itoa(channelBalance),
				Epoch:   1,
			})
			ids = append(ids, ticket.NewChannelID(src, dst))
		}
		sim.channels = append(sim.channels, ids)
		if err = cfg.FixupAndValidate(); err != nil {
			return err
		}

		sim.issuers[sim.ids[i].NodeID] = ticket.NewIssuer(&ticket.IssuerConfig{
			Key:         sim.client,
			Destination: dst,
			Amount:      big.NewInt(sim.params.Amount),
			WinProb:     ticket.WinProbFromFloat(sim.params.WinProb),
			Epoch:       1,
		})
	}

	sim.network = server.NewNetwork()
	for _, cfg := range cfgs {
		svr, err := server.New(cfg, sim.network)
		if err != nil {
			sim.stop()
			return err
		}
		sim.relays = append(sim.relays, svr)
	}
	return nil
}

func (sim *simulation) stop() {
	for _, svr := range sim.relays {
		svr.Shutdown()
	}
}

func (sim *simulation) send(w io.Writer, msg []byte) error {
	recipient := sim.nodes[sim.rng.Intn(len(sim.nodes))]
	hops, _, err := sim.paths.ComposePath(recipient, time.Now())
	if err != nil {
		return err
	}
	if sim.params.ShowPaths {
		fmt.Fprintf(w, "%s\n", strings.Join(path.ToString(sim.nodes, hops), ", "))
	}
	pkt, err := mixpacket.Assemble(sim.sphinx, rand.Reader, hops, msg, sim.issuers[hops[0].ID])
	if err != nil {
		return err
	}
	raw, err := pkt.MarshalBinary()
	if err != nil {
		return err
	}
	return sim.network.Send(&hops[0].ID, raw)
}

// collect counts the deliveries of every relay until want is reached or
// the timeout expires.
func (sim *simulation) collect(want int) <-chan int {
	deliveryCh := make(chan struct{}, len(sim.relays))
	quitCh := make(chan struct{})
	var wg sync.WaitGroup
	for _, svr := range sim.relays {
		wg.Add(1)
		go func(ch <-chan *server.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-quitCh:
					return
				case <-ch:
					select {
					case deliveryCh <- struct{}{}:
					case <-quitCh:
						return
					}
				}
			}
		}(svr.Deliveries())
	}

	doneCh := make(chan int, 1)
	go func() {
		delivered := 0
		timeout := time.After(sim.params.Timeout)
		defer func() {
			close(quitCh)
			wg.Wait()
			doneCh <- delivered
		}()
		for delivered < want {
			select {
			case <-deliveryCh:
				delivered++
			case <-timeout:
				return
			}
		}
	}()
	return doneCh
}

func (sim *simulation) run(w io.Writer) (int, error) {
	doneCh := sim.collect(sim.params.NrMessages)

	var err error
	for i := 0; i < sim.params.NrMessages && err == nil; i++ {
		err = sim.send(w, []byte("message "+strconv.Itoa(i)))
	}
	delivered := <-doneCh
	if err != nil {
		return delivered, err
	}
	if delivered < sim.params.NrMessages {
		return delivered, fmt.Errorf("timed out after %d of %d deliveries", delivered, sim.params.NrMessages)
	}
	return delivered, nil
}

func (sim *simulation) report(w io.Writer, delivered int) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RELAY", "NODE ID", "WINNING TICKETS", "AMOUNT RECEIVED")
	for i, svr := range sim.relays {
		acks, err := svr.AcknowledgedTickets()
		if err != nil {
			return err
		}
		received := new(big.Int)
		for _, id := range sim.channels[i] {
			if ch, ok := svr.Channel(id); ok {
				received.Add(received, new(big.Int).Sub(big.NewInt(channelBalance), ch.Balance))
			}
		}
		t.Row(relayName(i), hex.EncodeToString(sim.ids[i].NodeID[:8]), strconv.Itoa(len(acks)), received.String())
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "Delivered %d of %d messages.\n", delivered, sim.params.NrMessages)
	return nil
}

func runSimulation(p *Simulate, w io.Writer) error {
	geometry, err := loadGeometry(p.GeometryFile)
	if err != nil {
		return err
	}
	if p.NrRelays < 1 {
		return fmt.Errorf("invalid argument: at least one relay is required")
	}
	if p.NrHops < 1 || p.NrHops > geometry.NrHops || p.NrHops > p.NrRelays {
		return fmt.Errorf("invalid argument: hops must be between 1 and %d", min(geometry.NrHops, p.NrRelays))
	}
	if p.Mu < 0 {
		return fmt.Errorf("invalid argument: mu must not be negative")
	}
	if p.DataDir == "" {
		if p.DataDir, err = os.MkdirTemp("", "mixpor-simulate"); err != nil {
			return err
		}
		defer os.RemoveAll(p.DataDir)
	} else {
		if p.DataDir, err = filepath.Abs(p.DataDir); err != nil {
			return err
		}
		if err = os.MkdirAll(p.DataDir, 0700); err != nil {
			return err
		}
	}
	s, err := sphinx.FromGeometry(geometry)
	if err != nil {
		return err
	}

	sim := &simulation{
		sphinx:   s,
		geometry: geometry,
		rng:      rand.NewMath(),
		params:   p,
	}
	if err = sim.start(); err != nil {
		return err
	}
	defer sim.stop()
	sim.paths = path.NewPathFactory(&path.Params{
		NrHops:     p.NrHops,
		Mu:         p.Mu,
		MuMaxDelay: p.MuMaxDelay,
	}, sim.nodes)

	delivered, runErr := sim.run(w)

	// The relays acknowledge their tickets after forwarding, give the last
	// acknowledgements time to land.
	time.Sleep(time.Duration(p.MuMaxDelay+50) * time.Millisecond)
	if err = sim.report(w, delivered); err != nil {
		return err
	}
	return runErr
}

func newSimulateCommand() *cobra.Command {
	var p Simulate

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Relay packets through an in-process relay network",
		Long: `Start a fully connected network of relays in-process, where every relay
pays the others with tickets, and send packets along random paths through
it.  Each relay verifies the ticket paying it against its Proof-of-Relay
response, and acknowledges it once it has forwarded the packet.  A summary
of the winning tickets held and the amounts received by each relay is
printed at the end.`,
		Example: `  sphinx simulate --relays 4 --hops 3 --messages 10
  sphinx simulate --relays 5 --win-prob 0.5 --show-paths --log-level DEBUG`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(&p, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&p.GeometryFile, "geometry", "", flagGeometryDescription)
	cmd.Flags().StringVar(&p.DataDir, "data-dir", "", "path of the relay state directory (default: temporary)")
	cmd.Flags().StringVar(&p.LogLevel, "log-level", "ERROR", "relay log level: ERROR, WARNING, NOTICE, INFO or DEBUG")
	cmd.Flags().IntVar(&p.NrRelays, "relays", 4, "number of relays")
	cmd.Flags().IntVar(&p.NrHops, "hops", 3, "number of hops per path, including the recipient")
	cmd.Flags().IntVar(&p.NrMessages, "messages", 10, "number of messages to send")
	cmd.Flags().Float64Var(&p.Mu, "mu", 0.05, "inverse of the mean per hop delay in milliseconds, 0 for no delay")
	cmd.Flags().Uint64Var(&p.MuMaxDelay, "mu-max-delay", 200, "maximum per hop delay in milliseconds")
	cmd.Flags().Int64Var(&p.Amount, "amount", 10, "ticket amount")
	cmd.Flags().Float64Var(&p.WinProb, "win-prob", 1.0, "ticket winning probability")
	cmd.Flags().DurationVar(&p.Timeout, "timeout", 30*time.Second, "how long to wait for the deliveries")
	cmd.Flags().BoolVar(&p.ShowPaths, "show-paths", false, "print the path of every message")
	return cmd
}
