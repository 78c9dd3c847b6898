// path_test.go - Path selection tests.
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
	"fmt"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixpor/core/crypto/group"
)

func newNodes(require *require.Assertions, n int) []*Node {
	g := group.ByName("x25519")
	nodes := make([]*Node, 0, n)
	for i := 0; i < n; i++ {
		kp, err := group.NewKeypair(g, rand.Reader)
		require.NoError(err)
		nodes = append(nodes, NewNode(fmt.Sprintf("mix%d", i), kp.Public))
	}
	return nodes
}

func TestNew(t *testing.T) {
	require := require.New(t)

	nodes := newNodes(require, 6)
	recipient := nodes[0]
	params := &Params{NrHops: 4, Mu: 0.01, MuMaxDelay: 500}
	now := time.Now()

	p, then, err := New(rand.NewMath(), params, nodes, recipient, now)
	require.NoError(err)
	require.Len(p, 4)
	require.Equal(recipient.ID, p[3].ID)
	require.Zero(p[3].Delay)
	require.True(then.After(now))

	seen := make(map[[32]byte]bool)
	var total time.Duration
	for _, h := range p[:3] {
		require.NotEqual(recipient.ID, h.ID)
		require.False(seen[h.ID], "duplicate hop")
		seen[h.ID] = true
		require.True(h.Delay >= 1 && h.Delay <= 500)
		total += time.Duration(h.Delay) * time.Millisecond
	}
	require.Equal(now.Add(total), then)

	s := ToString(nodes, p)
	require.Len(s, 4)
	require.Contains(s[3], "'mix0'")
}

func TestNewErrors(t *testing.T) {
	require := require.New(t)

	nodes := newNodes(require, 3)
	rng := rand.NewMath()

	_, _, err := New(rng, &Params{NrHops: 4}, nodes, nodes[0], time.Now())
	require.Error(err)
	_, _, err = New(rng, &Params{NrHops: 0}, nodes, nodes[0], time.Now())
	require.Error(err)
	_, _, err = New(rng, &Params{NrHops: 2}, nodes, nil, time.Now())
	require.Error(err)

	// A single hop path is just the recipient.
	p, _, err := New(rng, &Params{NrHops: 1, Mu: 0.1}, nil, nodes[1], time.Now())
	require.NoError(err)
	require.Len(p, 1)
	require.Equal(nodes[1].ID, p[0].ID)
}

func TestPathFactory(t *testing.T) {
	require := require.New(t)

	nodes := newNodes(require, 5)
	f := NewPathFactory(&Params{NrHops: 3, Mu: 0.1}, nodes)
	p, _, err := f.ComposePath(nodes[4], time.Now())
	require.NoError(err)
	require.Len(p, 3)
	require.Equal(NodeID(nodes[4].PublicKey), p[2].ID)
}
