// tickets_test.go - Relay ticket store tests.
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

package tickets

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixpor/core/log"
	"github.com/katzenpost/mixpor/core/sphinx/geo"
	"github.com/katzenpost/mixpor/core/sphinx/keys"
	"github.com/katzenpost/mixpor/core/sphinx/por"
	"github.com/katzenpost/mixpor/core/ticket"
	"github.com/katzenpost/mixpor/server/config"
	"github.com/katzenpost/mixpor/server/internal/glue/gluefakes"
	"github.com/katzenpost/mixpor/server/internal/mixkey"
)

var (
	testDomainSeparator = ticket.DomainSeparator{0x07}
	testPeerID          = [32]byte{0x01, 0x02, 0x03}
)

type fixture struct {
	glue      *gluefakes.FakeGlue
	source    *secp256k1.PrivateKey
	peer      ticket.Address
	secret    *keys.SharedSecret
	challenge *por.EthereumChallenge
}

func newFixture(t *testing.T, winProb float64) *fixture {
	require := require.New(t)

	source, err := secp256k1.GeneratePrivateKey()
	require.NoError(err)
	peerKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(err)
	peer := ticket.AddressFromPublicKey(peerKey.PubKey())

	cfg := &config.Config{
		Server: &config.Server{
			Identifier: "relay.example.org",
			DataDir:    t.TempDir(),
		},
		Logging:        &config.Logging{Level: "DEBUG"},
		SphinxGeometry: geo.DefaultGeometry(),
		Ticket: &config.Ticket{
			MinimumAmount:      "5",
			MaximumAmount:      "50",
			Amount:             "10",
			WinningProbability: winProb,
			DomainSeparator:    hex.EncodeToString(testDomainSeparator[:]),
		},
		Channels: []*config.Channel{
			{
				Source:  ticket.AddressFromPublicKey(source.PubKey()).String(),
				Balance: "100",
				Epoch:   1,
			},
		},
		Peers: []*config.Peer{
			{
				Name:           "bob",
				NodeID:         hex.EncodeToString(testPeerID[:]),
				PaymentAddress: peer.String(),
				Epoch:          3,
			},
		},
		Debug: &config.Debug{BloomFilterSize: 16},
	}
	require.NoError(cfg.FixupAndValidate())

	logBackend, err := log.New("", "DEBUG", false)
	require.NoError(err)
	mk, err := mixkey.New(cfg.Server.KeyDB(), cfg.SphinxGeometry, cfg.Debug.BloomFilterSize, logBackend.GetLogger("mixkey"))
	require.NoError(err)
	t.Cleanup(mk.Deref)

	g := new(gluefakes.FakeGlue)
	g.ConfigReturns(cfg)
	g.LogBackendReturns(logBackend)
	g.MixKeyReturns(mk)

	secret := new(keys.SharedSecret)
	secret[0] = 0x2a
	return &fixture{
		glue:      g,
		source:    source,
		peer:      peer,
		secret:    secret,
		challenge: por.NewResponse(secret).Challenge().ToEthereumChallenge(),
	}
}

func (f *fixture) issuer(key *secp256k1.PrivateKey, amount int64) *ticket.Issuer {
	return ticket.NewIssuer(&ticket.IssuerConfig{
		Key:             key,
		Destination:     f.glue.MixKey().PaymentAddress(),
		Amount:          big.NewInt(amount),
		WinProb:         f.glue.Config().Ticket.WinProb(),
		Epoch:           1,
		DomainSeparator: testDomainSeparator,
	})
}

func TestValidate(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1.0)

	s, err := New(f.glue)
	require.NoError(err)
	defer s.Halt()

	iss := f.issuer(f.source, 40)
	first, err := iss.Issue(f.challenge)
	require.NoError(err)
	require.NoError(s.Validate(first))

	ch, ok := s.Channel(iss.ChannelID())
	require.True(ok)
	require.Equal(big.NewInt(60), ch.Balance)
	require.Equal(uint64(1), ch.TicketIndex)

	// The returned channel is a copy.
	ch.Balance.SetInt64(1 << 20)
	ch, _ = s.Channel(iss.ChannelID())
	require.Equal(big.NewInt(60), ch.Balance)

	// Same index again.
	require.ErrorIs(s.Validate(first), ticket.ErrIndexReplay)

	second, err := iss.Issue(f.challenge)
	require.NoError(err)
	require.NoError(s.Validate(second))

	third, err := iss.Issue(f.challenge)
	require.NoError(err)
	require.ErrorIs(s.Validate(third), ticket.ErrInsufficientBalance)

	// Policy bounds.
	tooHigh, err := f.issuer(f.source, 60).Issue(f.challenge)
	require.NoError(err)
	require.ErrorIs(s.Validate(tooHigh), ticket.ErrAmountTooHigh)
	tooLow, err := f.issuer(f.source, 1).Issue(f.challenge)
	require.NoError(err)
	require.ErrorIs(s.Validate(tooLow), ticket.ErrAmountTooLow)

	// Unknown channel.
	stranger, err := secp256k1.GeneratePrivateKey()
	require.NoError(err)
	tk, err := f.issuer(stranger, 10).Issue(f.challenge)
	require.NoError(err)
	require.ErrorIs(s.Validate(tk), ErrUnknownChannel)

	_, ok = s.Channel(tk.ChannelID)
	require.False(ok)
}

func TestValidateOutOfOrder(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1.0)

	s, err := New(f.glue)
	require.NoError(err)
	defer s.Halt()

	iss := f.issuer(f.source, 10)
	var tks []*ticket.Ticket
	for i := 0; i < 3; i++ {
		tk, err := iss.Issue(f.challenge)
		require.NoError(err)
		tks = append(tks, tk)
	}

	index := func() uint64 {
		ch, ok := s.Channel(iss.ChannelID())
		require.True(ok)
		return ch.TicketIndex
	}
	require.NoError(s.Validate(tks[2]))
	require.Equal(uint64(0), index())
	require.ErrorIs(s.Validate(tks[2]), ticket.ErrIndexReplay)
	require.NoError(s.Validate(tks[0]))
	require.Equal(uint64(1), index())
	require.NoError(s.Validate(tks[1]))
	require.Equal(uint64(3), index())

	// Far ahead, the indexes left behind are given up on.
	ahead := ticket.NewIssuer(&ticket.IssuerConfig{
		Key:             f.source,
		Destination:     f.glue.MixKey().PaymentAddress(),
		Amount:          big.NewInt(10),
		WinProb:         f.glue.Config().Ticket.WinProb(),
		Epoch:           1,
		DomainSeparator: testDomainSeparator,
		Index:           5000,
	})
	tk, err := ahead.Issue(f.challenge)
	require.NoError(err)
	require.NoError(s.Validate(tk))
	require.Equal(uint64(5000-indexWindow+1), index())

	late, err := iss.Issue(f.challenge)
	require.NoError(err)
	require.ErrorIs(s.Validate(late), ticket.ErrIndexReplay)

	ch, _ := s.Channel(iss.ChannelID())
	require.Equal(big.NewInt(60), ch.Balance)
}

func TestValidateIndexRanges(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1.0)

	s, err := New(f.glue)
	require.NoError(err)
	defer s.Halt()

	iss := f.issuer(f.source, 10)
	claim := func(index uint64, offset uint32) *ticket.Ticket {
		tk, err := iss.Issue(f.challenge)
		require.NoError(err)
		tk.Index = index
		tk.IndexOffset = offset
		require.NoError(tk.Sign(f.source, &testDomainSeparator))
		return tk
	}
	index := func() uint64 {
		ch, ok := s.Channel(iss.ChannelID())
		require.True(ok)
		return ch.TicketIndex
	}

	require.NoError(s.Validate(claim(1, 1)))
	require.Equal(uint64(0), index())

	// [0, 3) covers the index already claimed.
	require.ErrorIs(s.Validate(claim(0, 3)), ticket.ErrIndexReplay)
	require.ErrorIs(s.Validate(claim(1, 2)), ticket.ErrIndexReplay)

	require.NoError(s.Validate(claim(0, 1)))
	require.Equal(uint64(2), index())
	require.NoError(s.Validate(claim(2, 3)))
	require.Equal(uint64(5), index())
	require.ErrorIs(s.Validate(claim(4, 1)), ticket.ErrIndexReplay)

	ch, _ := s.Channel(iss.ChannelID())
	require.Equal(big.NewInt(70), ch.Balance)
}

func TestAcknowledge(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1.0)

	s, err := New(f.glue)
	require.NoError(err)

	tk, err := f.issuer(f.source, 10).Issue(f.challenge)
	require.NoError(err)
	require.NoError(s.Validate(tk))

	other := new(keys.SharedSecret)
	other[0] = 0x2b
	_, err = s.Acknowledge(tk, por.NewResponse(other))
	require.ErrorIs(err, por.ErrChallengeMismatch)

	ack, err := s.Acknowledge(tk, por.NewResponse(f.secret))
	require.NoError(err)
	require.NoError(ack.Redeemable())

	acks, err := s.Acknowledged()
	require.NoError(err)
	require.Len(acks, 1)
	require.Equal(tk.Index, acks[0].Ticket.Index)
	require.Equal(ack.Response, acks[0].Response)

	// Winning tickets survive a restart.
	s.Halt()
	s, err = New(f.glue)
	require.NoError(err)
	defer s.Halt()
	acks, err = s.Acknowledged()
	require.NoError(err)
	require.Len(acks, 1)
}

func TestAcknowledgeLosing(t *testing.T) {
	require := require.New(t)
	// Rounds down to a ticket that never wins.
	f := newFixture(t, 1e-18)

	s, err := New(f.glue)
	require.NoError(err)
	defer s.Halt()

	tk, err := f.issuer(f.source, 10).Issue(f.challenge)
	require.NoError(err)
	require.NoError(s.Validate(tk))

	ack, err := s.Acknowledge(tk, por.NewResponse(f.secret))
	require.NoError(err)
	winning, err := ack.IsWinning()
	require.NoError(err)
	require.False(winning)

	acks, err := s.Acknowledged()
	require.NoError(err)
	require.Empty(acks)
}

func TestIssuer(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 1.0)

	s, err := New(f.glue)
	require.NoError(err)

	_, ok := s.Issuer(&[32]byte{0xff})
	require.False(ok, "Issuer() unknown peer")

	b, ok := s.Issuer(&testPeerID)
	require.True(ok)

	payer := f.glue.MixKey().PaymentAddress()
	for i := 0; i < 2; i++ {
		tk, err := b.Issue(f.challenge)
		require.NoError(err)
		require.Equal(uint64(i), tk.Index)
		require.Equal(uint32(3), tk.Epoch)
		require.Equal(big.NewInt(10), tk.Amount)
		require.Equal(ticket.NewChannelID(payer, f.peer), tk.ChannelID)

		signer, err := tk.Signer(&testDomainSeparator)
		require.NoError(err)
		require.Equal(payer, signer)
	}

	// The next index is persisted.
	s.Halt()
	s, err = New(f.glue)
	require.NoError(err)
	defer s.Halt()

	b, ok = s.Issuer(&testPeerID)
	require.True(ok)
	tk, err := b.Issue(f.challenge)
	require.NoError(err)
	require.Equal(uint64(2), tk.Index)
}
