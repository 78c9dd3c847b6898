// pem_utils.go - PEM file helpers.
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
package common

import (
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ErrNoPEMBlock is the error returned when a file holds no PEM block.
var ErrNoPEMBlock = errors.New("no PEM block found")

// WritePEMFile writes b to f as a single PEM block of type blockType.
func WritePEMFile(f, blockType string, b []byte, mode os.FileMode) error {
	out := pem.EncodeToMemory(&pem.Block{
		Type:  blockType,
		Bytes: b,
	})
	return os.WriteFile(f, out, mode)
}

// ReadPEMFile returns the first PEM block of f.
func ReadPEMFile(f string) (*pem.Block, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	blk, _ := pem.Decode(b)
	if blk == nil {
		return nil, fmt.Errorf("%v: %w", f, ErrNoPEMBlock)
	}
	return blk, nil
}
