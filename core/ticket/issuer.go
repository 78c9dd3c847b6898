// issuer.go - Ticket issuance.
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

package ticket

import (
	"math/big"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/katzenpost/mixpor/core/sphinx/por"
)

// IssuerConfig is the configuration of an Issuer.
type IssuerConfig struct {
	// Key is the channel source's private key.
	Key *secp256k1.PrivateKey

	// Destination is the address of the paid node.
	Destination Address

	// Amount is the value of each ticket.
	Amount *big.Int

	// WinProb is the winning probability of each ticket.
	WinProb WinProb

	// Epoch is the channel epoch.
	Epoch uint32

	// Index is the index of the first ticket.
	Index uint64

	// DomainSeparator binds the signatures to the ledger.
	DomainSeparator DomainSeparator
}

// Issuer signs consecutive tickets on one channel.
type Issuer struct {
	sync.Mutex

	cfg     IssuerConfig
	source  Address
	channel ChannelID
	index   uint64
}

// NewIssuer returns a new Issuer.
func NewIssuer(cfg *IssuerConfig) *Issuer {
	source := AddressFromPublicKey(cfg.Key.PubKey())
	return &Issuer{
		cfg:     *cfg,
		source:  source,
		channel: NewChannelID(source, cfg.Destination),
		index:   cfg.Index,
	}
}

// Source returns the address tickets are signed by.
func (i *Issuer) Source() Address {
	return i.source
}

// ChannelID returns the identifier of the channel.
func (i *Issuer) ChannelID() ChannelID {
	return i.channel
}

// Issue returns the next ticket, committing to challenge.
func (i *Issuer) Issue(challenge *por.EthereumChallenge) (*Ticket, error) {
	i.Lock()
	defer i.Unlock()

	if i.index > MaxIndex {
		return nil, ErrIndexOverflow
	}
	t := &Ticket{
		ChannelID:   i.channel,
		Amount:      new(big.Int).Set(i.cfg.Amount),
		Index:       i.index,
		IndexOffset: 1,
		WinProb:     i.cfg.WinProb,
		Epoch:       i.cfg.Epoch,
		Challenge:   *challenge,
	}
	if err := t.Sign(i.cfg.Key, &i.cfg.DomainSeparator); err != nil {
		return nil, err
	}
	i.index++
	return t, nil
}
