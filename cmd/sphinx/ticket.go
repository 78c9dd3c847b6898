// ticket.go - Ticket issuance and validation.
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
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/katzenpost/mixpor/core/sphinx/por"
	"github.com/katzenpost/mixpor/core/ticket"
)

var errNoPaymentKey = errors.New("a payment key is required to issue tickets")

// ticketParams are the parameters shared by every command that issues or
// checks tickets.
type ticketParams struct {
	WinProb         float64
	Epoch           uint32
	DomainSeparator string
}

func (p *ticketParams) register(fs *pflag.FlagSet) {
	fs.Float64Var(&p.WinProb, "win-prob", 1.0, "ticket winning probability")
	fs.Uint32Var(&p.Epoch, "epoch", 1, "channel epoch")
	fs.StringVar(&p.DomainSeparator, "domain-separator", "", "hex encoded signature domain separator (default: all zero)")
}

func (p *ticketParams) domainSeparator() (ticket.DomainSeparator, error) {
	var ds ticket.DomainSeparator
	if p.DomainSeparator == "" {
		return ds, nil
	}
	b, err := hex.DecodeString(p.DomainSeparator)
	if err != nil || len(b) > ticket.DomainSeparatorLength {
		return ds, fmt.Errorf("invalid argument: domain separator '%v'", p.DomainSeparator)
	}
	copy(ds[:], b)
	return ds, nil
}

// issuerParams are the parameters of the ticket paying a hop.
type issuerParams struct {
	ticketParams

	Amount         string
	PaymentKeyFile string
	Destination    string
	Index          uint64
}

func (p *issuerParams) register(fs *pflag.FlagSet, prefix string) {
	p.ticketParams.register(fs)
	fs.StringVar(&p.Amount, "amount", "1", "amount of the "+prefix+" ticket, as a decimal string")
	fs.StringVar(&p.PaymentKeyFile, "payment-key", "", "path to the payment key PEM file the "+prefix+" ticket is signed with")
	fs.StringVar(&p.Destination, "destination", "", "payment address of the "+prefix+" hop")
	fs.Uint64Var(&p.Index, "index", 0, "index of the "+prefix+" ticket")
}

func (p *issuerParams) amount() (*big.Int, error) {
	v, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || v.Sign() < 0 || v.Cmp(ticket.MaxAmount) > 0 {
		return nil, fmt.Errorf("invalid argument: amount '%v'", p.Amount)
	}
	return v, nil
}

func (p *issuerParams) issuer() (*ticket.Issuer, error) {
	if p.PaymentKeyFile == "" {
		return nil, errNoPaymentKey
	}
	key, err := loadPaymentKey(p.PaymentKeyFile)
	if err != nil {
		return nil, err
	}
	dst, err := ticket.AddressFromHex(p.Destination)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: destination '%v': %v", p.Destination, err)
	}
	amount, err := p.amount()
	if err != nil {
		return nil, err
	}
	ds, err := p.domainSeparator()
	if err != nil {
		return nil, err
	}
	return ticket.NewIssuer(&ticket.IssuerConfig{
		Key:             key,
		Destination:     dst,
		Amount:          amount,
		WinProb:         ticket.WinProbFromFloat(p.WinProb),
		Epoch:           p.Epoch,
		Index:           p.Index,
		DomainSeparator: ds,
	}), nil
}

// ValidateTicket holds the validateTicket parameters.
type ValidateTicket struct {
	ticketParams

	GeometryFile  string
	PacketFile    string
	Source        string
	Destination   string
	Balance       string
	TicketIndex   uint64
	MinimumAmount string
	MaximumAmount string
	Response      string
}

func (v *ValidateTicket) channel() (*ticket.Channel, error) {
	src, err := ticket.AddressFromHex(v.Source)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: source '%v': %v", v.Source, err)
	}
	dst, err := ticket.AddressFromHex(v.Destination)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: destination '%v': %v", v.Destination, err)
	}
	balance, ok := new(big.Int).SetString(v.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("invalid argument: balance '%v'", v.Balance)
	}
	return &ticket.Channel{
		Source:      src,
		Destination: dst,
		Balance:     balance,
		Epoch:       v.Epoch,
		TicketIndex: v.TicketIndex,
	}, nil
}

func parseOptionalAmount(name, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid argument: %v '%v'", name, s)
	}
	return v, nil
}

// readTicket returns the ticket carried by the packet in f.
func readTicket(geometryFile, f string) (*ticket.Ticket, error) {
	geometry, err := loadGeometry(geometryFile)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	if len(raw) != geometry.PacketLength+ticket.EncodedLength {
		return nil, fmt.Errorf("%v: invalid packet length %d", f, len(raw))
	}
	return ticket.FromBytes(raw[geometry.PacketLength:])
}

func validateTicket(v *ValidateTicket) (*ticket.Ticket, error) {
	t, err := readTicket(v.GeometryFile, v.PacketFile)
	if err != nil {
		return nil, err
	}
	ch, err := v.channel()
	if err != nil {
		return nil, err
	}
	minimum, err := parseOptionalAmount("minimum amount", v.MinimumAmount)
	if err != nil {
		return nil, err
	}
	if minimum == nil {
		minimum = big.NewInt(0)
	}
	maximum, err := parseOptionalAmount("maximum amount", v.MaximumAmount)
	if err != nil {
		return nil, err
	}
	ds, err := v.domainSeparator()
	if err != nil {
		return nil, err
	}
	if err = ticket.ValidateUnacknowledged(t, ch, minimum, ticket.WinProbFromFloat(v.WinProb), maximum, &ds); err != nil {
		return t, err
	}
	if v.Response == "" {
		return t, nil
	}

	var response por.Response
	b, err := hex.DecodeString(v.Response)
	if err != nil || len(b) != por.ResponseLength {
		return t, fmt.Errorf("invalid argument: response '%v'", v.Response)
	}
	copy(response[:], b)
	defer response.Reset()
	ack, err := ticket.Acknowledge(t, &response)
	if err != nil {
		return t, err
	}
	return t, ack.Redeemable()
}

func newValidateTicketCommand() *cobra.Command {
	var v ValidateTicket

	cmd := &cobra.Command{
		Use:   "validateTicket",
		Short: "Validate the ticket carried by a packet",
		Long: `Check the ticket carried by a packet against a snapshot of its payment
channel, the way a relay does before peeling the packet.  With --response
the ticket is also acknowledged and checked for redeemability.`,
		Example: `  sphinx validateTicket --packet packet.bin \
    --source 0x1234... --destination 0xabcd... --balance 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := validateTicket(&v)
			if t != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Ticket: %v\n", t)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Ticket is valid.")
			return nil
		},
	}

	v.ticketParams.register(cmd.Flags())
	cmd.Flags().StringVar(&v.GeometryFile, "geometry", "", flagGeometryDescription)
	cmd.Flags().StringVar(&v.PacketFile, "packet", "", "path to packet file (required)")
	cmd.Flags().StringVar(&v.Source, "source", "", "payment address of the channel source (required)")
	cmd.Flags().StringVar(&v.Destination, "destination", "", "payment address of the channel destination (required)")
	cmd.Flags().StringVar(&v.Balance, "balance", "0", "channel balance, as a decimal string")
	cmd.Flags().Uint64Var(&v.TicketIndex, "ticket-index", 0, "redeemed ticket index high-water mark")
	cmd.Flags().StringVar(&v.MinimumAmount, "min-amount", "", "smallest acceptable amount")
	cmd.Flags().StringVar(&v.MaximumAmount, "max-amount", "", "largest acceptable amount")
	cmd.Flags().StringVar(&v.Response, "response", "", "hex encoded Proof-of-Relay response opening the ticket challenge")
	_ = cmd.MarkFlagRequired("packet")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}
