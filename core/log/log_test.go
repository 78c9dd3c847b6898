// log_test.go - Logging backend tests.
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

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestBackend(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "mixpor.log")
	b, err := New(f, "info", false)
	require.NoError(err)

	l := b.GetLogger("relay")
	l.Info("forwarded packet")
	l.Debug("not logged")
	b.GetGoLogger("relay/go", "WARNING").Printf("from the go logger")
	_, err = b.GetLogWriter("relay/w", "ERROR").Write([]byte("from a writer\n"))
	require.NoError(err)

	require.True(b.IsEnabledFor(logging.INFO, "relay"))
	require.False(b.IsEnabledFor(logging.DEBUG, "relay"))
	b.SetLevel(logging.DEBUG, "relay")
	require.Equal(logging.DEBUG, b.GetLevel("relay"))

	// Move the file away and reopen.
	rotated := f + ".1"
	require.NoError(os.Rename(f, rotated))
	require.NoError(b.Rotate())
	l.Notice("after rotation")
	require.NoError(b.Close())

	old, err := os.ReadFile(rotated)
	require.NoError(err)
	require.Contains(string(old), "INFO relay: forwarded packet")
	require.Contains(string(old), "WARN relay/go: from the go logger")
	require.Contains(string(old), "ERRO relay/w: from a writer")
	require.NotContains(string(old), "not logged")

	cur, err := os.ReadFile(f)
	require.NoError(err)
	require.Contains(string(cur), "NOTI relay: after rotation")
}

func TestInvalidLevel(t *testing.T) {
	require := require.New(t)

	_, err := New("", "LOUD", false)
	require.Error(err)

	b, err := New("", "DEBUG", true)
	require.NoError(err)
	require.Panics(func() { b.GetGoLogger("x", "LOUD") })
	require.Panics(func() { b.GetLogWriter("x", "LOUD") })
}
