// config_test.go - Relay configuration tests.
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

package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/ticket"
)

const (
	testSource  = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
	testNodeID  = "0101010101010101010101010101010101010101010101010101010101010101"
	testPayee   = "0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF"
	testDomSep  = "0x0202020202020202020202020202020202020202020202020202020202020202"
	basicConfig = `# A basic configuration example.
[Server]
Identifier = "Relay.Example.org"
DataDir = "%s"

[Logging]
Level = "debug"

[Ticket]
MinimumAmount = "5"
MaximumAmount = "1000"
WinningProbability = 0.5
DomainSeparator = "%s"

[[Channel]]
Source = "%s"
Balance = "10000"
Epoch = 1

[[Peer]]
Name = "Bob"
NodeID = "%s"
PaymentAddress = "%s"
Epoch = 2

[Debug]
NumSphinxWorkers = 2

[SphinxGeometry]
%s`
)

func basic(dataDir string) string {
	return fmt.Sprintf(basicConfig, dataDir, testDomSep, testSource, testNodeID, testPayee, geo.DefaultGeometry().Display())
}

func TestConfig(t *testing.T) {
	require := require.New(t)

	_, err := Load(nil)
	require.Error(err, "no Load() with nil config")
	require.EqualError(err, "No nil buffer as config file")

	cfg, err := Load([]byte(basic(os.TempDir())))
	require.NoError(err, "Load() with basic config")

	require.Equal("relay.example.org", strings.ToLower(cfg.Server.Identifier))
	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal(2, cfg.Debug.NumSphinxWorkers)
	require.Equal(defaultUnwrapDelay, cfg.Debug.UnwrapDelay)
	require.Equal(defaultBloomFilterSize, cfg.Debug.BloomFilterSize)
	require.Equal(filepath.Join(os.TempDir(), defaultKeyDB), cfg.Server.KeyDB())
	require.Equal(geo.DefaultGeometry(), cfg.SphinxGeometry)

	require.Equal(big.NewInt(5), cfg.Ticket.MinimumAmountValue())
	require.Equal(big.NewInt(1000), cfg.Ticket.MaximumAmountValue())
	require.Equal(big.NewInt(5), cfg.Ticket.AmountValue())
	require.Equal(ticket.WinProbFromFloat(0.5), cfg.Ticket.WinProb())
	require.Equal(byte(0x02), cfg.Ticket.DomainSeparatorValue()[31])

	require.Len(cfg.Channels, 1)
	dst, err := ticket.AddressFromHex(testPayee)
	require.NoError(err)
	ch, err := cfg.Channels[0].ToChannel(dst)
	require.NoError(err)
	require.Equal(uint32(1), ch.Epoch)
	require.Equal(big.NewInt(10000), ch.Balance)
	src, err := ticket.AddressFromHex(testSource)
	require.NoError(err)
	require.Equal(src, ch.Source)

	require.Len(cfg.Peers, 1)
	require.Equal("bob", cfg.Peers[0].Name)
	id, err := cfg.Peers[0].ID()
	require.NoError(err)
	require.Equal(byte(0x01), id[0])
	require.Equal(dst, cfg.Peers[0].Address())

	s, err := cfg.Display()
	require.NoError(err)
	require.Contains(s, "[SphinxGeometry]")
}

func TestDefaults(t *testing.T) {
	require := require.New(t)

	const minimal = `[Server]
Identifier = "relay"
DataDir = "/var/lib/mixpor"

[SphinxGeometry]
%s`
	cfg, err := Load([]byte(fmt.Sprintf(minimal, geo.DefaultGeometry().Display())))
	require.NoError(err)
	require.Equal(defaultLogLevel, cfg.Logging.Level)
	require.Nil(cfg.Ticket.MaximumAmountValue())
	require.Equal(big.NewInt(1), cfg.Ticket.MinimumAmountValue())
	require.True(cfg.Ticket.WinProb().IsAlways())
	require.Equal(ticket.DomainSeparator{}, *cfg.Ticket.DomainSeparatorValue())
	require.True(cfg.Debug.NumSphinxWorkers > 0)
	require.Equal(defaultSchedulerMaxBurst, cfg.Debug.SchedulerMaxBurst)
	require.Empty(cfg.Metrics.Address)

	// The shared default logging block is not mutated.
	cfg.Logging.Level = "ERROR"
	require.Equal(defaultLogLevel, defaultLogging.Level)
}

func TestIncompleteConfig(t *testing.T) {
	require := require.New(t)

	const noGeometry = `[Server]
Identifier = "relay"
DataDir = "/var/lib/mixpor"
`
	_, err := Load([]byte(noGeometry))
	require.EqualError(err, "config: No SphinxGeometry block was present")

	noServer := "[SphinxGeometry]\n" + geo.DefaultGeometry().Display()
	_, err = Load([]byte(noServer))
	require.EqualError(err, "config: No Server block was present")

	badGeometry := strings.Replace(basic("/tmp"), "NrHops = 5", "NrHops = 4", 1)
	_, err = Load([]byte(badGeometry))
	require.Error(err)
}

func TestInvalidConfig(t *testing.T) {
	replacements := map[string][2]string{
		"relative DataDir":  {"DataDir = \"/tmp\"", "DataDir = \"tmp\""},
		"bad level":         {"Level = \"debug\"", "Level = \"chatty\""},
		"bad amount":        {"MinimumAmount = \"5\"", "MinimumAmount = \"five\""},
		"negative amount":   {"MinimumAmount = \"5\"", "MinimumAmount = \"-5\""},
		"max below min":     {"MaximumAmount = \"1000\"", "MaximumAmount = \"4\""},
		"bad probability":   {"WinningProbability = 0.5", "WinningProbability = 1.5"},
		"bad separator":     {"DomainSeparator = \"" + testDomSep + "\"", "DomainSeparator = \"0x02\""},
		"bad source":        {"Source = \"" + testSource + "\"", "Source = \"0x7E\""},
		"bad balance":       {"Balance = \"10000\"", "Balance = \"lots\""},
		"bad node id":       {"NodeID = \"" + testNodeID + "\"", "NodeID = \"01\""},
		"bad payee":         {"PaymentAddress = \"" + testPayee + "\"", "PaymentAddress = \"\""},
		"bad bloom size":    {"NumSphinxWorkers = 2", "BloomFilterSize = 64"},
		"unknown key":       {"NumSphinxWorkers = 2", "NumSphinxWorker = 2"},
		"bad metrics addr":  {"[Debug]", "[Metrics]\nAddress = \"localhost\"\n\n[Debug]"},
		"duplicate channel": {"[[Peer]]", "[[Channel]]\nSource = \"" + testSource + "\"\nBalance = \"1\"\n\n[[Peer]]"},
	}

	for name, r := range replacements {
		r := r
		t.Run(name, func(t *testing.T) {
			b := basic("/tmp")
			require.Contains(t, b, r[0])
			_, err := Load([]byte(strings.Replace(b, r[0], r[1], 1)))
			require.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	f := filepath.Join(dir, "relay.toml")
	require.NoError(os.WriteFile(f, []byte(basic(dir)), 0600))

	cfg, err := LoadFile(f)
	require.NoError(err)
	require.Equal(dir, cfg.Server.DataDir)

	_, err = LoadFile(filepath.Join(dir, "missing.toml"))
	require.Error(err)
}
