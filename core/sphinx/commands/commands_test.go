// commands_test.go - Sphinx Packet Format routing instruction tests.
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

package commands

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillRand(require *require.Assertions, b []byte) {
	_, err := rand.Read(b)
	require.NoError(err, "failed to randomize buffer")
}

func TestNextNodeHop(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cmd := &RoutingInfo{Kind: NextNodeHop, Delay: 0xdeadbeef}
	fillRand(require, cmd.ID[:])
	fillRand(require, cmd.MAC[:])
	fillRand(require, cmd.Challenge[:])

	b := cmd.ToBytes(nil)
	require.Len(b, RoutingInfoLength)
	assert.EqualValues(NextNodeHop, b[0])
	assert.Equal(cmd.ID[:], b[idOffset:macOffset])
	assert.Equal(cmd.MAC[:], b[macOffset:chalOffset])
	assert.Equal(cmd.Challenge[:], b[chalOffset:delayOff])
	assert.Equal(cmd.Delay, binary.BigEndian.Uint32(b[delayOff:]))

	// Trailing data is ignored.
	b = append(b, 0xff, 0xff)
	ri, err := FromBytes(b)
	require.NoError(err, "FromBytes() failed")
	assert.Equal(cmd, ri)
	assert.False(ri.IsFinal())
	assert.Equal("next_node_hop", ri.Kind.String())
}

func TestRecipient(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cmd := &RoutingInfo{Kind: Recipient}
	fillRand(require, cmd.ID[:])

	b := cmd.ToBytes(nil)
	ri, err := FromBytes(b)
	require.NoError(err, "FromBytes() failed")
	assert.Equal(cmd, ri)
	assert.True(ri.IsFinal())

	// Every trailing field of a final instruction must be zero.
	for _, off := range []int{macOffset, chalOffset, delayOff, RoutingInfoLength - 1} {
		bad := append([]byte{}, b...)
		bad[off] = 0x01
		ri, err = FromBytes(bad)
		assert.ErrorIs(err, ErrInvalidCommand, "offset %d", off)
		assert.Nil(ri)
	}
}

func TestInvalid(t *testing.T) {
	assert := assert.New(t)

	for _, b := range [][]byte{
		nil,
		{byte(NextNodeHop)},
		make([]byte, RoutingInfoLength-1),
		make([]byte, RoutingInfoLength), // Null kind.
	} {
		ri, err := FromBytes(b)
		assert.ErrorIs(err, ErrInvalidCommand)
		assert.Nil(ri)
	}

	b := make([]byte, RoutingInfoLength)
	b[0] = 0x03
	_, err := FromBytes(b)
	assert.ErrorIs(err, ErrInvalidCommand)
	assert.Equal("invalid", Kind(0x03).String())
}

func FuzzFromBytes(f *testing.F) {
	next := &RoutingInfo{Kind: NextNodeHop, Delay: 42}
	final := &RoutingInfo{Kind: Recipient}
	f.Add(next.ToBytes(nil))
	f.Add(final.ToBytes(nil))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, b []byte) {
		ri, err := FromBytes(b)
		if err != nil {
			if ri != nil {
				t.Fatal("returned an instruction with an error")
			}
			return
		}
		enc := ri.ToBytes(nil)
		if string(enc) != string(b[:RoutingInfoLength]) {
			t.Fatal("re-encoding mismatch")
		}
	})
}
