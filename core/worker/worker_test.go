// worker_test.go - Background worker tests.
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

package worker

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorker(t *testing.T) {
	require := require.New(t)

	var w Worker
	var n atomic.Int32
	for i := 0; i < 4; i++ {
		w.Go(func() {
			<-w.HaltCh()
			n.Add(1)
		})
	}
	w.Halt()
	require.EqualValues(4, n.Load())

	// Idempotent.
	w.Halt()
	select {
	case <-w.HaltCh():
	default:
		t.Fatal("HaltCh not closed")
	}
}
