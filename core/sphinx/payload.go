// payload.go - Sphinx payload padding.
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

package sphinx

import (
	"errors"
	"fmt"

	"github.com/katzenpost/mixpor/core/sphinx/geo"
)

const paddingMarker = 0x80

var errInvalidPadding = errors.New("sphinx: invalid payload padding")

// PadPayload pads msg to the forward payload length of g, with a single
// 0x80 byte followed by zero bytes.
func PadPayload(g *geo.Geometry, msg []byte) ([]byte, error) {
	if len(msg) > g.UserForwardPayloadLength {
		return nil, fmt.Errorf("sphinx: message size %d exceeds %d", len(msg), g.UserForwardPayloadLength)
	}
	b := make([]byte, g.ForwardPayloadLength)
	copy(b, msg)
	b[len(msg)] = paddingMarker
	return b, nil
}

// UnpadPayload strips the padding added by PadPayload.
func UnpadPayload(b []byte) ([]byte, error) {
	for i := len(b) - 1; i >= 0; i-- {
		switch b[i] {
		case 0x00:
		case paddingMarker:
			return b[:i], nil
		default:
			return nil, errInvalidPadding
		}
	}
	return nil, errInvalidPadding
}
