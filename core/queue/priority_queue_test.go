// priority_queue_test.go - Priority queue tests.
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

package queue

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPriorityQueue(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	testEntries := []struct {
		value    string
		priority uint64
	}{
		{"That books do not take the place of experience,", 0},
		{"and that learning is no substitute for genius,", 1},
		{"are two kindred phenomena;", 2},
		{"their common ground is that the abstract can never take the place of the perceptive.", 3},
		{" -- Arthur_Schopenhauer", 4},
	}

	q := New[string]()
	for i := len(testEntries) - 1; i >= 0; i-- {
		q.Enqueue(testEntries[i].priority, testEntries[i].value)
	}
	require.Equal(len(testEntries), q.Len(), "Queue length (full)")

	for i, expected := range testEntries {
		require.Equal(len(testEntries)-i, q.Len(), "Queue length")

		ent := q.Peek()
		require.Equal(expected.priority, ent.Priority, "Peek(): Priority")

		ent = q.Pop()
		require.Equal(expected.value, ent.Value, "Pop(): Value")
		require.Equal(expected.priority, ent.Priority, "Pop(): Priority")
	}

	require.Equal(0, q.Len(), "Queue length (empty)")
	require.Nil(q.Peek(), "Peek() (empty)")
	require.Nil(q.Pop(), "Pop() (empty)")

	// Refill the queue.
	for _, v := range testEntries {
		q.Enqueue(v.priority, v.value)
	}
	r := rand.New(rand.NewSource(23)) // Don't do this in production.
	for i := 0; i < len(testEntries); i++ {
		require.NotNil(q.DequeueRandom(r))
	}
	require.Equal(0, q.Len(), "Queue length (empty), post-rand test")
	require.Nil(q.DequeueRandom(r))
}

func TestPriorityQueueDuplicatePriority(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	q := New[int]()
	q.Enqueue(20, 1)
	q.Enqueue(1, 0)
	q.Enqueue(20, 2)
	q.Enqueue(20, 3)

	for i := 0; i < 4; i++ {
		require.Equal(i, q.Pop().Value)
	}
}

func TestPriorityQueueOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prios := rapid.SliceOf(rapid.Uint64Range(0, 64)).Draw(t, "prios")
		nrRandom := rapid.IntRange(0, len(prios)).Draw(t, "nrRandom")

		q := New[int]()
		for i, p := range prios {
			q.Enqueue(p, i)
		}
		r := rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed")))
		for i := 0; i < nrRandom; i++ {
			q.DequeueRandom(r)
		}
		if q.Len() != len(prios)-nrRandom {
			t.Fatalf("Len() = %d, expected %d", q.Len(), len(prios)-nrRandom)
		}

		var last *Entry[int]
		for q.Len() > 0 {
			ent := q.Pop()
			if last != nil {
				if ent.Priority < last.Priority {
					t.Fatalf("priority %d popped after %d", ent.Priority, last.Priority)
				}
				if ent.Priority == last.Priority && ent.Value < last.Value {
					t.Fatalf("equal priority entries out of insertion order")
				}
			}
			last = ent
		}
	})
}
