// config.go - Relay configuration.
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

// Package config provides the relay configuration.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/ticket"
)

const (
	defaultLogLevel          = "NOTICE"
	defaultUnwrapDelay       = 250 // 250 ms.
	defaultSchedulerSlack    = 150 // 150 ms.
	defaultSchedulerMaxBurst = 16
	defaultMaxDelay          = 60 * 1000 // 60 sec.
	defaultBloomFilterSize   = 23        // 1 MiB.
	defaultMinimumAmount     = "1"
	defaultWinningProb       = 1.0
	defaultKeyDB             = "mixkey.db"
	defaultTicketDB          = "tickets.db"

	minBloomFilterSize = 10
	maxBloomFilterSize = 32
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the relay server configuration.
type Server struct {
	// Identifier is the human readable identifier for the node (eg: FQDN).
	Identifier string

	// DataDir is the absolute path to the server's state files.
	DataDir string
}

func (sCfg *Server) validate() error {
	if sCfg.Identifier == "" {
		return errors.New("config: Server: Identifier is not set")
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	return nil
}

// KeyDB returns the path of the relay key database.
func (sCfg *Server) KeyDB() string {
	return filepath.Join(sCfg.DataDir, defaultKeyDB)
}

// TicketDB returns the path of the acknowledged ticket database.
func (sCfg *Server) TicketDB() string {
	return filepath.Join(sCfg.DataDir, defaultTicketDB)
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Ticket is the ticket acceptance and issuance policy.
type Ticket struct {
	// MinimumAmount is the smallest ticket amount that will be accepted,
	// as a decimal string.
	MinimumAmount string

	// MaximumAmount is the largest ticket amount that will be accepted,
	// as a decimal string.  If omitted only the channel balance bounds
	// the amount.
	MaximumAmount string

	// WinningProbability is the winning probability inbound tickets must
	// carry, and the one outbound tickets are issued with.
	WinningProbability float64

	// Amount is the amount of the tickets issued to the next hop, as a
	// decimal string.  It defaults to MinimumAmount.
	Amount string

	// DomainSeparator is the hex encoded ticket signature domain
	// separator.
	DomainSeparator string

	minimumAmount   *big.Int
	maximumAmount   *big.Int
	amount          *big.Int
	domainSeparator ticket.DomainSeparator
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("config: Ticket: %v '%v' is not a decimal integer", field, s)
	}
	if v.Sign() < 0 || v.Cmp(ticket.MaxAmount) > 0 {
		return nil, fmt.Errorf("config: Ticket: %v '%v' is out of range", field, s)
	}
	return v, nil
}

func (tCfg *Ticket) applyDefaults() {
	if tCfg.MinimumAmount == "" {
		tCfg.MinimumAmount = defaultMinimumAmount
	}
	if tCfg.Amount == "" {
		tCfg.Amount = tCfg.MinimumAmount
	}
	if tCfg.WinningProbability == 0 {
		tCfg.WinningProbability = defaultWinningProb
	}
}

func (tCfg *Ticket) validate() error {
	var err error
	if tCfg.minimumAmount, err = parseAmount("MinimumAmount", tCfg.MinimumAmount); err != nil {
		return err
	}
	if tCfg.amount, err = parseAmount("Amount", tCfg.Amount); err != nil {
		return err
	}
	if tCfg.MaximumAmount != "" {
		if tCfg.maximumAmount, err = parseAmount("MaximumAmount", tCfg.MaximumAmount); err != nil {
			return err
		}
		if tCfg.maximumAmount.Cmp(tCfg.minimumAmount) < 0 {
			return errors.New("config: Ticket: MaximumAmount is below MinimumAmount")
		}
	}
	if tCfg.WinningProbability <= 0 || tCfg.WinningProbability > 1 {
		return fmt.Errorf("config: Ticket: WinningProbability '%v' is out of range", tCfg.WinningProbability)
	}
	if tCfg.DomainSeparator != "" {
		b, err := hex.DecodeString(strings.TrimPrefix(tCfg.DomainSeparator, "0x"))
		if err != nil || len(b) != ticket.DomainSeparatorLength {
			return fmt.Errorf("config: Ticket: DomainSeparator '%v' is invalid", tCfg.DomainSeparator)
		}
		copy(tCfg.domainSeparator[:], b)
	}
	return nil
}

// MinimumAmountValue returns the parsed MinimumAmount.
func (tCfg *Ticket) MinimumAmountValue() *big.Int {
	return new(big.Int).Set(tCfg.minimumAmount)
}

// MaximumAmountValue returns the parsed MaximumAmount, or nil if unset.
func (tCfg *Ticket) MaximumAmountValue() *big.Int {
	if tCfg.maximumAmount == nil {
		return nil
	}
	return new(big.Int).Set(tCfg.maximumAmount)
}

// AmountValue returns the parsed Amount.
func (tCfg *Ticket) AmountValue() *big.Int {
	return new(big.Int).Set(tCfg.amount)
}

// WinProb returns the encoded winning probability.
func (tCfg *Ticket) WinProb() ticket.WinProb {
	return ticket.WinProbFromFloat(tCfg.WinningProbability)
}

// DomainSeparatorValue returns the parsed DomainSeparator.
func (tCfg *Ticket) DomainSeparatorValue() *ticket.DomainSeparator {
	ds := tCfg.domainSeparator
	return &ds
}

// Channel is an inbound payment channel whose tickets the relay accepts.
type Channel struct {
	// Source is the hex encoded payment address of the channel source.
	Source string

	// Balance is the channel balance, as a decimal string.
	Balance string

	// Epoch is the channel epoch.
	Epoch uint32

	// TicketIndex is the lowest ticket index that has not been redeemed.
	TicketIndex uint64
}

func (cCfg *Channel) validate() error {
	if _, err := ticket.AddressFromHex(cCfg.Source); err != nil {
		return fmt.Errorf("config: Channel: Source '%v' is invalid: %w", cCfg.Source, err)
	}
	if _, ok := new(big.Int).SetString(cCfg.Balance, 10); !ok {
		return fmt.Errorf("config: Channel: Balance '%v' is not a decimal integer", cCfg.Balance)
	}
	if cCfg.Epoch > ticket.MaxEpoch {
		return fmt.Errorf("config: Channel: Epoch %v is out of range", cCfg.Epoch)
	}
	if cCfg.TicketIndex > ticket.MaxIndex {
		return fmt.Errorf("config: Channel: TicketIndex %v is out of range", cCfg.TicketIndex)
	}
	return nil
}

// ToChannel returns the channel with destination as the local relay's
// payment address.
func (cCfg *Channel) ToChannel(destination ticket.Address) (*ticket.Channel, error) {
	src, err := ticket.AddressFromHex(cCfg.Source)
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(cCfg.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("config: Channel: Balance '%v' is not a decimal integer", cCfg.Balance)
	}
	return &ticket.Channel{
		Source:      src,
		Destination: destination,
		Balance:     balance,
		Epoch:       cCfg.Epoch,
		TicketIndex: cCfg.TicketIndex,
	}, nil
}

// Peer is a relay this relay forwards packets to.
type Peer struct {
	// Name is the human readable name of the peer.
	Name string

	// NodeID is the hex encoded node identifier of the peer.
	NodeID string

	// PaymentAddress is the hex encoded payment address tickets for the
	// peer are issued to.
	PaymentAddress string

	// Epoch is the epoch of the outbound channel to the peer.
	Epoch uint32
}

func (pCfg *Peer) validate() error {
	var err error
	if pCfg.Name, err = precis.UsernameCaseMapped.String(pCfg.Name); err != nil {
		return fmt.Errorf("config: Peer: Name '%v' is invalid: %w", pCfg.Name, err)
	}
	if _, err = pCfg.ID(); err != nil {
		return err
	}
	if _, err = ticket.AddressFromHex(pCfg.PaymentAddress); err != nil {
		return fmt.Errorf("config: Peer: PaymentAddress '%v' is invalid: %w", pCfg.PaymentAddress, err)
	}
	if pCfg.Epoch > ticket.MaxEpoch {
		return fmt.Errorf("config: Peer: Epoch %v is out of range", pCfg.Epoch)
	}
	return nil
}

// ID returns the parsed node identifier.
func (pCfg *Peer) ID() ([constants.NodeIDLength]byte, error) {
	var id [constants.NodeIDLength]byte
	b, err := hex.DecodeString(pCfg.NodeID)
	if err != nil || len(b) != constants.NodeIDLength {
		return id, fmt.Errorf("config: Peer: NodeID '%v' is invalid", pCfg.NodeID)
	}
	copy(id[:], b)
	return id, nil
}

// Address returns the parsed payment address.
func (pCfg *Peer) Address() ticket.Address {
	// Validated by FixupAndValidate.
	a, _ := ticket.AddressFromHex(pCfg.PaymentAddress)
	return a
}

// Metrics is the metrics exposition configuration.
type Metrics struct {
	// Address is the address/port to bind the prometheus metrics endpoint
	// to.  If omitted the endpoint is disabled.
	Address string
}

func (mCfg *Metrics) validate() error {
	if mCfg.Address == "" {
		return nil
	}
	if _, err := netip.ParseAddrPort(mCfg.Address); err != nil {
		return fmt.Errorf("config: Metrics: Address '%v' is invalid: %v", mCfg.Address, err)
	}
	return nil
}

// Debug is the relay debug configuration.
type Debug struct {
	// NumSphinxWorkers specifies the number of worker instances to use for
	// inbound Sphinx packet processing.
	NumSphinxWorkers int

	// UnwrapDelay is the maximum allowed unwrap delay due to queueing in
	// milliseconds.
	UnwrapDelay int

	// SchedulerSlack is the maximum allowed scheduler slack due to queueing
	// and or processing in milliseconds.
	SchedulerSlack int

	// SchedulerMaxBurst is the maximum number of packets that will be
	// dispatched per scheduler wakeup event.
	SchedulerMaxBurst int

	// SchedulerQueueSize is the maximum allowed scheduler queue size before
	// random entries will start getting dropped.  A value <= 0 is treated
	// as unlimited.
	SchedulerQueueSize int

	// MaxDelay is the largest forwarding delay in milliseconds that will
	// be honored, packets asking for more are dropped.
	MaxDelay int

	// BloomFilterSize is the base 2 logarithm of the size in bits of each
	// of the two replay filter generations.
	BloomFilterSize int

	// EnableProfiling starts the continuous profiler, configured through
	// the PYROSCOPE_* environment variables.
	EnableProfiling bool
}

func (dCfg *Debug) validate() error {
	if dCfg.BloomFilterSize < minBloomFilterSize || dCfg.BloomFilterSize > maxBloomFilterSize {
		return fmt.Errorf("config: Debug: BloomFilterSize %v is out of range", dCfg.BloomFilterSize)
	}
	return nil
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.NumSphinxWorkers <= 0 {
		// Pick a single sensible default.
		dCfg.NumSphinxWorkers = runtime.NumCPU()
	}
	if dCfg.UnwrapDelay <= 0 {
		dCfg.UnwrapDelay = defaultUnwrapDelay
	}
	if dCfg.SchedulerSlack < defaultSchedulerSlack {
		// TODO/perf: Tune this.
		dCfg.SchedulerSlack = defaultSchedulerSlack
	}
	if dCfg.SchedulerMaxBurst <= 0 {
		dCfg.SchedulerMaxBurst = defaultSchedulerMaxBurst
	}
	if dCfg.MaxDelay <= 0 {
		dCfg.MaxDelay = defaultMaxDelay
	}
	if dCfg.BloomFilterSize == 0 {
		dCfg.BloomFilterSize = defaultBloomFilterSize
	}
}

// Config is the top level relay configuration.
type Config struct {
	Server         *Server
	Logging        *Logging
	SphinxGeometry *geo.Geometry
	Ticket         *Ticket
	Channels       []*Channel `toml:"Channel"`
	Peers          []*Peer    `toml:"Peer"`
	Metrics        *Metrics
	Debug          *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.SphinxGeometry == nil {
		return errors.New("config: No SphinxGeometry block was present")
	}
	if err := cfg.SphinxGeometry.Validate(); err != nil {
		return err
	}

	// The Server block is mandatory, everything else is optional.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Ticket == nil {
		cfg.Ticket = &Ticket{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	cfg.Ticket.applyDefaults()
	if err := cfg.Ticket.validate(); err != nil {
		return err
	}
	if err := cfg.Metrics.validate(); err != nil {
		return err
	}
	cfg.Debug.applyDefaults()
	if err := cfg.Debug.validate(); err != nil {
		return err
	}

	sources := make(map[string]bool)
	for _, v := range cfg.Channels {
		if err := v.validate(); err != nil {
			return err
		}
		k := strings.ToLower(strings.TrimPrefix(v.Source, "0x"))
		if sources[k] {
			return fmt.Errorf("config: Channel: '%v' configured multiple times", v.Source)
		}
		sources[k] = true
	}

	peers := make(map[[constants.NodeIDLength]byte]bool)
	for _, v := range cfg.Peers {
		if err := v.validate(); err != nil {
			return err
		}
		id, _ := v.ID()
		if peers[id] {
			return fmt.Errorf("config: Peer: '%v' configured multiple times", v.NodeID)
		}
		peers[id] = true
	}

	var err error
	cfg.Server.Identifier, err = idna.Lookup.ToASCII(cfg.Server.Identifier)
	if err != nil {
		return fmt.Errorf("config: Failed to normalize Identifier: %v", err)
	}

	return nil
}

// Display returns the TOML encoding of the configuration.
func (cfg *Config) Display() (string, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
