// acknowledged.go - Acknowledged tickets.
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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/mixpor/core/sphinx/por"
)

// ErrNotAWinningTicket is returned when redeeming a ticket that did not win.
var ErrNotAWinningTicket = errors.New("ticket: not a winning ticket")

// Status is the redemption state of an acknowledged ticket.
type Status uint8

const (
	// Untouched tickets have not been processed yet.
	Untouched Status = iota

	// BeingRedeemed tickets are being redeemed on the ledger.
	BeingRedeemed

	// BeingAggregated tickets are being aggregated with others.
	BeingAggregated

	// Redeemed tickets were paid out.
	Redeemed

	// Rejected tickets were refused by the ledger.
	Rejected
)

func (s Status) String() string {
	switch s {
	case Untouched:
		return "untouched"
	case BeingRedeemed:
		return "being_redeemed"
	case BeingAggregated:
		return "being_aggregated"
	case Redeemed:
		return "redeemed"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("[unknown status: %d]", uint8(s))
	}
}

// AcknowledgedTicket is a ticket together with the Proof-of-Relay response
// that opens its challenge.
type AcknowledgedTicket struct {
	Ticket   *Ticket
	Response por.Response
	Status   Status
}

// Acknowledge pairs t with the response of the relay it pays.  The
// response is recovered by that relay when unwrapping the packet.
func Acknowledge(t *Ticket, response *por.Response) (*AcknowledgedTicket, error) {
	if t == nil || response == nil {
		return nil, ErrInvalidTicket
	}
	if !response.Challenge().ToEthereumChallenge().Equal(&t.Challenge) {
		return nil, por.ErrChallengeMismatch
	}
	return &AcknowledgedTicket{
		Ticket:   t,
		Response: *response,
		Status:   Untouched,
	}, nil
}

// IsWinning returns true iff the ticket won.  The luck of a ticket is the
// first WinProbLength bytes of Keccak-256(hash || response), a ticket wins
// when its luck is below its winning probability or it always wins.
func (a *AcknowledgedTicket) IsWinning() (bool, error) {
	h, err := a.Ticket.Hash()
	if err != nil {
		return false, err
	}
	if a.Ticket.WinProb.IsAlways() {
		return true, nil
	}
	digest := keccak256(h, a.Response[:])

	var tmp [8]byte
	copy(tmp[1:], digest[:WinProbLength])
	luck := binary.BigEndian.Uint64(tmp[:])
	return luck < a.Ticket.WinProb.uint64(), nil
}

// Redeemable returns nil iff the ticket can be redeemed.
func (a *AcknowledgedTicket) Redeemable() error {
	ok, err := a.IsWinning()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAWinningTicket
	}
	return nil
}

type acknowledgedTicketCBOR struct {
	Ticket   []byte
	Response []byte
	Status   Status
}

// MarshalCBOR encodes the acknowledged ticket.
func (a *AcknowledgedTicket) MarshalCBOR() ([]byte, error) {
	b, err := a.Ticket.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(&acknowledgedTicketCBOR{
		Ticket:   b,
		Response: a.Response[:],
		Status:   a.Status,
	})
}

// UnmarshalCBOR decodes an acknowledged ticket.
func (a *AcknowledgedTicket) UnmarshalCBOR(b []byte) error {
	var v acknowledgedTicketCBOR
	if err := cbor.Unmarshal(b, &v); err != nil {
		return err
	}
	t, err := FromBytes(v.Ticket)
	if err != nil {
		return err
	}
	if len(v.Response) != por.ResponseLength {
		return fmt.Errorf("%w: invalid response length %d", ErrInvalidTicket, len(v.Response))
	}
	a.Ticket = t
	copy(a.Response[:], v.Response)
	a.Status = v.Status
	return nil
}
