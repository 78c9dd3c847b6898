// validator.go - Unacknowledged ticket validation.
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
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidSignature is returned when the ticket is not signed by the
	// channel source.
	ErrInvalidSignature = errors.New("ticket: invalid signature")

	// ErrChannelMismatch is returned when the ticket is for another channel.
	ErrChannelMismatch = errors.New("ticket: channel mismatch")

	// ErrEpochMismatch is returned when the ticket is for another channel
	// epoch.
	ErrEpochMismatch = errors.New("ticket: channel epoch mismatch")

	// ErrAmountTooLow is returned when the amount is below the minimum.
	ErrAmountTooLow = errors.New("ticket: amount below minimum")

	// ErrAmountTooHigh is returned when the amount is above the maximum.
	ErrAmountTooHigh = errors.New("ticket: amount above maximum")

	// ErrInsufficientBalance is returned when the channel can not cover the
	// amount.
	ErrInsufficientBalance = errors.New("ticket: insufficient channel balance")

	// ErrWinProbMismatch is returned when the winning probability is not the
	// expected one.
	ErrWinProbMismatch = errors.New("ticket: winning probability mismatch")

	// ErrIndexReplay is returned for an index that was already redeemed.
	ErrIndexReplay = errors.New("ticket: index already redeemed")

	// ErrIndexOverflow is returned when index and offset overflow.
	ErrIndexOverflow = errors.New("ticket: index overflow")
)

// ValidateUnacknowledged checks a ticket received along with a packet
// against a snapshot of its channel.  The checks run in a fixed order and
// the first failure is returned.
func ValidateUnacknowledged(t *Ticket, channel *Channel, minimumAmount *big.Int, expectedWinProb WinProb, maximumAmount *big.Int, domainSeparator *DomainSeparator) error {
	if t == nil || channel == nil {
		return ErrInvalidTicket
	}

	signer, err := t.Signer(domainSeparator)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != channel.Source {
		return fmt.Errorf("%w: signed by %v", ErrInvalidSignature, signer)
	}

	if t.ChannelID != channel.ID() {
		return ErrChannelMismatch
	}

	if t.Epoch != channel.Epoch {
		return fmt.Errorf("%w: %d != %d", ErrEpochMismatch, t.Epoch, channel.Epoch)
	}

	// The signer check already rejected an out of range amount.
	if minimumAmount != nil && t.Amount.Cmp(minimumAmount) < 0 {
		return fmt.Errorf("%w: %v < %v", ErrAmountTooLow, t.Amount, minimumAmount)
	}
	if maximumAmount != nil && t.Amount.Cmp(maximumAmount) > 0 {
		return fmt.Errorf("%w: %v > %v", ErrAmountTooHigh, t.Amount, maximumAmount)
	}
	if channel.Balance == nil || t.Amount.Cmp(channel.Balance) > 0 {
		return fmt.Errorf("%w: %v > %v", ErrInsufficientBalance, t.Amount, channel.Balance)
	}

	if t.WinProb != expectedWinProb {
		return fmt.Errorf("%w: %v != %v", ErrWinProbMismatch, t.WinProb, expectedWinProb)
	}

	if t.Index < channel.TicketIndex {
		return fmt.Errorf("%w: %d < %d", ErrIndexReplay, t.Index, channel.TicketIndex)
	}
	if uint64(t.IndexOffset) > MaxIndex-t.Index {
		return fmt.Errorf("%w: %d + %d", ErrIndexOverflow, t.Index, t.IndexOffset)
	}

	return nil
}
