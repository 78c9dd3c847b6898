// path_factory.go - Path selection over a fixed set of relays.
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

package path

import (
	mRand "math/rand"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixpor/core/sphinx"
)

// PathFactory composes paths over a fixed set of relays.
type PathFactory struct {
	sync.Mutex

	rng    *mRand.Rand
	params Params
	mixes  []*Node
}

// NewPathFactory returns a PathFactory over mixes.
func NewPathFactory(params *Params, mixes []*Node) *PathFactory {
	return &PathFactory{
		rng:    rand.NewMath(),
		params: *params,
		mixes:  mixes,
	}
}

// ComposePath is used to compose a Sphinx packet path to recipient.
// Returns the path and the expected arrival time or an error.
func (d *PathFactory) ComposePath(recipient *Node, baseTime time.Time) ([]*sphinx.PathHop, time.Time, error) {
	d.Lock()
	defer d.Unlock()

	return New(d.rng, &d.params, d.mixes, recipient, baseTime)
}
