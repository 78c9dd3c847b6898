// prp.go - Wide-block payload ciphers.
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

package crypto

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/yawning/aez.git"
)

const (
	// AEZKeyLength is the key size of the AEZ SPRP in bytes.
	AEZKeyLength = 48

	// AEZIVLength is the IV size of the AEZ SPRP in bytes.
	AEZIVLength = 16
)

var (
	// ErrBlockLength is returned when a block is too short for the PRP.
	ErrBlockLength = errors.New("crypto: invalid PRP block length")

	// ErrKeyLength is returned when the PRP key material is mis-sized.
	ErrKeyLength = errors.New("crypto: invalid PRP key length")

	// ErrUnknownPRP is returned for an unsupported PRP name or identifier.
	ErrUnknownPRP = errors.New("crypto: unknown PRP")

	errAEZ = errors.New("crypto: AEZ decryption failed")
)

// PRP identifies a wide-block strong pseudorandom permutation.
type PRP uint8

const (
	// Lioness is the LIONESS construction over ChaCha20 and BLAKE2b.
	Lioness PRP = iota + 1

	// AEZ is AEZ with a zero length authenticator.
	AEZ
)

// PRPByName returns the PRP with the given name.
func PRPByName(name string) (PRP, error) {
	switch strings.ToLower(name) {
	case "lioness":
		return Lioness, nil
	case "aez":
		return AEZ, nil
	default:
		return 0, fmt.Errorf("%w: '%v'", ErrUnknownPRP, name)
	}
}

func (p PRP) String() string {
	switch p {
	case Lioness:
		return "lioness"
	case AEZ:
		return "aez"
	default:
		return fmt.Sprintf("[unknown PRP: %d]", uint8(p))
	}
}

// KeyLength returns the length of the key and IV material in bytes.
func (p PRP) KeyLength() int {
	switch p {
	case Lioness:
		return LionessKeyLength
	case AEZ:
		return AEZKeyLength + AEZIVLength
	default:
		return 0
	}
}

// MinBlockLength returns the shortest block the PRP can process.
func (p PRP) MinBlockLength() int {
	switch p {
	case Lioness:
		return LionessMinBlockLength
	case AEZ:
		return 1
	default:
		return 0
	}
}

func (p PRP) check(key, block []byte) error {
	if p.KeyLength() == 0 {
		return ErrUnknownPRP
	}
	if len(key) != p.KeyLength() {
		return ErrKeyLength
	}
	if len(block) < p.MinBlockLength() {
		return ErrBlockLength
	}
	return nil
}

// EncryptBlock encrypts block in place.
func (p PRP) EncryptBlock(key, block []byte) error {
	if err := p.check(key, block); err != nil {
		return err
	}
	switch p {
	case Lioness:
		l := newLioness(key)
		defer l.Reset()
		l.Encrypt(block)
	case AEZ:
		dst := aez.Encrypt(key[:AEZKeyLength], key[AEZKeyLength:], nil, 0, block, nil)
		copy(block, dst)
	}
	return nil
}

// DecryptBlock decrypts block in place.
func (p PRP) DecryptBlock(key, block []byte) error {
	if err := p.check(key, block); err != nil {
		return err
	}
	switch p {
	case Lioness:
		l := newLioness(key)
		defer l.Reset()
		l.Decrypt(block)
	case AEZ:
		dst, ok := aez.Decrypt(key[:AEZKeyLength], key[AEZKeyLength:], nil, 0, block, nil)
		if !ok {
			return errAEZ
		}
		copy(block, dst)
	}
	return nil
}
