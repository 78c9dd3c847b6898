// tickets.go - Relay ticket store.
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

// Package tickets implements the relay ticket store with a simple boltdb
// based backend.
package tickets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	mixpacket "github.com/katzenpost/mixpor/core/packet"
	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/por"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/server/internal/glue"
	"github.com/katzenpost/mixpor/server/internal/instrument"
)

const (
	acknowledgedBucket = "acknowledged"
	issuedBucket       = "issued"

	// indexWindow is how far ahead of a channel's ticket index tickets
	// are accepted out of order.
	indexWindow = 1024
)

// ErrUnknownChannel is the error returned when a ticket is for a channel
// the relay does not know about.
var ErrUnknownChannel = errors.New("tickets: unknown channel")

type issuer struct {
	*ticket.Issuer

	s *Store
}

// Issue returns the next ticket for the peer and records its index.
func (i *issuer) Issue(challenge *por.EthereumChallenge) (*ticket.Ticket, error) {
	t, err := i.Issuer.Issue(challenge)
	if err != nil {
		return nil, err
	}
	id := i.ChannelID()
	var next [8]byte
	binary.BigEndian.PutUint64(next[:], t.Index+uint64(t.IndexOffset))
	if err = i.s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(issuedBucket)).Put(id[:], next[:])
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Store validates the tickets paying the relay, keeps the winning ones once
// acknowledged, and issues the tickets paying the next hops.
type Store struct {
	sync.Mutex

	glue glue.Glue
	log  *logging.Logger

	db *bolt.DB

	channels map[ticket.ChannelID]*ticket.Channel
	pending  map[ticket.ChannelID]map[uint64]uint64
	issuers  map[[constants.NodeIDLength]byte]*issuer

	minimumAmount   *big.Int
	maximumAmount   *big.Int
	winProb         ticket.WinProb
	domainSeparator *ticket.DomainSeparator
}

// Validate checks an inbound ticket against its channel, and on success
// records its index and deducts the amount from the channel balance.
// Tickets may arrive out of order, as packets are unwrapped in parallel.
func (s *Store) Validate(t *ticket.Ticket) error {
	s.Lock()
	defer s.Unlock()

	ch, ok := s.channels[t.ChannelID]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownChannel, t.ChannelID)
	}
	if err := ticket.ValidateUnacknowledged(t, ch, s.minimumAmount, s.winProb, s.maximumAmount, s.domainSeparator); err != nil {
		return err
	}
	if err := s.markIndex(ch, t); err != nil {
		return err
	}
	ch.Balance.Sub(ch.Balance, t.Amount)
	return nil
}

// markIndex records the index range claimed by t, [Index, Index+IndexOffset),
// and advances the channel's ticket index past every contiguous claimed
// range.  A range overlapping one already claimed is a replay.  Ranges that
// fall behind the window are given up on.
func (s *Store) markIndex(ch *ticket.Channel, t *ticket.Ticket) error {
	id := ch.ID()
	claimed, ok := s.pending[id]
	if !ok {
		claimed = make(map[uint64]uint64)
		s.pending[id] = claimed
	}
	start, end := t.Index, t.Index+uint64(max(t.IndexOffset, 1))
	for otherStart, otherEnd := range claimed {
		if start < otherEnd && otherStart < end {
			return fmt.Errorf("%w: [%d, %d) overlaps [%d, %d)", ticket.ErrIndexReplay, start, end, otherStart, otherEnd)
		}
	}
	claimed[start] = end

	if start-ch.TicketIndex >= indexWindow {
		low := start - indexWindow + 1
		for pruned := true; pruned; {
			pruned = false
			for otherStart, otherEnd := range claimed {
				if otherStart < low {
					low = max(low, otherEnd)
					delete(claimed, otherStart)
					pruned = true
				}
			}
		}
		s.log.Debugf("Channel %v: skipping ticket indexes %d to %d", id, ch.TicketIndex, low)
		ch.TicketIndex = low
	}
	for {
		next, ok := claimed[ch.TicketIndex]
		if !ok {
			break
		}
		delete(claimed, ch.TicketIndex)
		ch.TicketIndex = next
	}
	return nil
}

// Acknowledge pairs an inbound ticket with the relay's response, and
// persists it if it won.
func (s *Store) Acknowledge(t *ticket.Ticket, response *por.Response) (*ticket.AcknowledgedTicket, error) {
	ack, err := ticket.Acknowledge(t, response)
	if err != nil {
		return nil, err
	}
	winning, err := ack.IsWinning()
	if err != nil {
		return nil, err
	}
	instrument.TicketAcknowledged(winning)
	if !winning {
		s.log.Debugf("Ticket %v/%d did not win", t.ChannelID, t.Index)
		return ack, nil
	}

	h, err := t.Hash()
	if err != nil {
		return nil, err
	}
	b, err := ack.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	if err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(acknowledgedBucket)).Put(h, b)
	}); err != nil {
		return nil, err
	}
	s.log.Debugf("Stored winning ticket %v/%d", t.ChannelID, t.Index)
	return ack, nil
}

// Acknowledged returns every stored winning ticket.
func (s *Store) Acknowledged() ([]*ticket.AcknowledgedTicket, error) {
	var acks []*ticket.AcknowledgedTicket
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(acknowledgedBucket)).ForEach(func(_, v []byte) error {
			ack := new(ticket.AcknowledgedTicket)
			if err := ack.UnmarshalCBOR(v); err != nil {
				return err
			}
			acks = append(acks, ack)
			return nil
		})
	})
	return acks, err
}

// Channel returns a copy of the inbound channel with the given identifier.
func (s *Store) Channel(id ticket.ChannelID) (*ticket.Channel, bool) {
	s.Lock()
	defer s.Unlock()

	ch, ok := s.channels[id]
	if !ok {
		return nil, false
	}
	c := *ch
	c.Balance = new(big.Int).Set(ch.Balance)
	return &c, true
}

// Issuer returns the ticket issuer for the next hop id.
func (s *Store) Issuer(id *[constants.NodeIDLength]byte) (mixpacket.TicketBuilder, bool) {
	i, ok := s.issuers[*id]
	if !ok {
		return nil, false
	}
	return i, true
}

// Halt closes the store.
func (s *Store) Halt() {
	if s.db != nil {
		s.db.Sync()
		s.db.Close()
		s.db = nil
	}
}

func (s *Store) loadIssuers() error {
	cfg := s.glue.Config()
	key := s.glue.MixKey().PaymentKey()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(issuedBucket))
		for _, p := range cfg.Peers {
			id, err := p.ID()
			if err != nil {
				return err
			}
			icfg := &ticket.IssuerConfig{
				Key:             key,
				Destination:     p.Address(),
				Amount:          cfg.Ticket.AmountValue(),
				WinProb:         cfg.Ticket.WinProb(),
				Epoch:           p.Epoch,
				DomainSeparator: *s.domainSeparator,
			}
			chID := ticket.NewChannelID(ticket.AddressFromPublicKey(key.PubKey()), icfg.Destination)
			if b := bkt.Get(chID[:]); len(b) == 8 {
				icfg.Index = binary.BigEndian.Uint64(b)
			}
			s.issuers[id] = &issuer{
				Issuer: ticket.NewIssuer(icfg),
				s:      s,
			}
			s.log.Debugf("Issuing tickets to %v on channel %v from index %d", p.Name, chID, icfg.Index)
		}
		return nil
	})
}

// New creates (or loads) the ticket store of the relay.
func New(g glue.Glue) (*Store, error) {
	cfg := g.Config()
	s := &Store{
		glue:            g,
		log:             g.LogBackend().GetLogger("tickets"),
		channels:        make(map[ticket.ChannelID]*ticket.Channel),
		pending:         make(map[ticket.ChannelID]map[uint64]uint64),
		issuers:         make(map[[constants.NodeIDLength]byte]*issuer),
		minimumAmount:   cfg.Ticket.MinimumAmountValue(),
		maximumAmount:   cfg.Ticket.MaximumAmountValue(),
		winProb:         cfg.Ticket.WinProb(),
		domainSeparator: cfg.Ticket.DomainSeparatorValue(),
	}

	self := g.MixKey().PaymentAddress()
	for _, v := range cfg.Channels {
		ch, err := v.ToChannel(self)
		if err != nil {
			return nil, err
		}
		s.channels[ch.ID()] = ch
	}

	var err error
	s.db, err = bolt.Open(cfg.Server.TicketDB(), 0600, nil)
	if err != nil {
		return nil, err
	}
	if err = s.db.Update(func(tx *bolt.Tx) error {
		for _, v := range []string{acknowledgedBucket, issuedBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(v)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		s.Halt()
		return nil, err
	}
	if err = s.loadIssuers(); err != nil {
		s.Halt()
		return nil, err
	}
	return s, nil
}
