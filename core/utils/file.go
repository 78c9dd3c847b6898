// file.go - File helpers.
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
// Package utils provides file helpers.
package utils

import (
	"errors"
	"os"
)

// BothExists returns true iff both a and b exist.
func BothExists(a, b string) (bool, error) {
	aOk, err := Exists(a)
	if err != nil {
		return false, err
	}
	bOk, err := Exists(b)
	if err != nil {
		return false, err
	}
	return aOk && bOk, nil
}

// BothNotExists returns true iff neither a nor b exist.
func BothNotExists(a, b string) (bool, error) {
	aOk, err := Exists(a)
	if err != nil {
		return false, err
	}
	bOk, err := Exists(b)
	if err != nil {
		return false, err
	}
	return !aOk && !bOk, nil
}

// Exists returns true iff f exists.
func Exists(f string) (bool, error) {
	_, err := os.Stat(f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
