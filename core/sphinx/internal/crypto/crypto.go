// crypto.go - Cryptographic primitive wrappers.
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

// Package crypto provides the parameterization of the Sphinx packet format
// cryptographic operations.
package crypto

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"hash"
	"io"

	"github.com/katzenpost/hpqc/util"
	"gitlab.com/yawning/bsaes.git"
	"golang.org/x/crypto/hkdf"

	khash "github.com/katzenpost/hpqc/hash"
)

const (
	// HashLength is the output size of the unkeyed hash in bytes.
	HashLength = khash.HashSize

	// SecretLength is the length of a per-hop shared secret in bytes.
	SecretLength = sha256.Size

	// MACKeyLength is the key size of the MAC in bytes.
	MACKeyLength = 32

	// MACLength is the tag size of the MAC in bytes.
	MACLength = 16

	// StreamKeyLength is the key size of the stream cipher in bytes.
	StreamKeyLength = 16

	// StreamIVLength is the IV size of the stream cipher in bytes.
	StreamIVLength = 16

	// ReplayTagLength is the length of a replay tag in bytes.
	ReplayTagLength = 32

	labelSharedSecret = "mixpor-sphinx-v0-shared-secret"
	labelBlinding     = "mixpor-sphinx-v0-blinding"
	labelHeaderMAC    = "mixpor-sphinx-v0-header-mac"
	labelPRG          = "mixpor-sphinx-v0-prg"
	labelPRP          = "mixpor-sphinx-v0-prp"
	labelReplayTag    = "mixpor-sphinx-v0-replay-tag"
)

type resetable interface {
	Reset()
}

type macWrapper struct {
	hash.Hash
}

func (m *macWrapper) Sum(b []byte) []byte {
	tmp := m.Hash.Sum(nil)
	b = append(b, tmp[0:MACLength]...)
	return b
}

// Stream is the Sphinx stream cipher, used as the header PRG.
type Stream struct {
	cipher.Stream
}

// KeyStream fills the buffer dst with key stream output.
func (s *Stream) KeyStream(dst []byte) {
	util.ExplicitBzero(dst)
	s.XORKeyStream(dst, dst)
}

// Reset clears the Stream instance such that no sensitive data is left in
// memory.
func (s *Stream) Reset() {
	if r, ok := s.Stream.(resetable); ok {
		r.Reset()
	}
}

// Hash calculates the digest of message m.
func Hash(msg []byte) [HashLength]byte {
	return khash.Sum256(msg)
}

// NewMAC returns a new hash.Hash implementing the Sphinx MAC with the provided
// key.
func NewMAC(key *[MACKeyLength]byte) hash.Hash {
	return &macWrapper{hmac.New(sha256.New, key[:])}
}

// NewStream returns a new Stream implementing the Sphinx Stream Cipher with
// the provided key and IV.
func NewStream(key *[StreamKeyLength]byte, iv *[StreamIVLength]byte) *Stream {
	blk, err := bsaes.NewCipher(key[:])
	if err != nil {
		// Not covered by unit tests because this indicates a bug in bsaes.
		panic("crypto/NewStream: failed to create AES instance: " + err.Error())
	}
	return &Stream{cipher.NewCTR(blk, iv[:])}
}

// Extract derives a per-hop shared secret from the raw Diffie-Hellman output
// and the group element it was computed against.
func Extract(dh, groupElement []byte) *[SecretLength]byte {
	ikm := make([]byte, 0, len(dh)+len(groupElement))
	ikm = append(ikm, dh...)
	ikm = append(ikm, groupElement...)
	defer util.ExplicitBzero(ikm)

	prk := hkdf.Extract(sha256.New, ikm, []byte(labelSharedSecret))
	defer util.ExplicitBzero(prk)

	s := new([SecretLength]byte)
	copy(s[:], prk)
	return s
}

// Expand returns length bytes of key material bound to label, derived from
// secret.
func Expand(secret *[SecretLength]byte, label string, length int) []byte {
	okm := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret[:], []byte(label))
	if _, err := io.ReadFull(r, okm); err != nil {
		// HKDF-SHA256 can produce up to 8160 bytes.
		panic("crypto/Expand: " + err.Error())
	}
	return okm
}

// BlindingMaterial returns the uniform bytes a group reduces into the
// per-hop blinding factor.
func BlindingMaterial(secret *[SecretLength]byte, length int) []byte {
	return Expand(secret, labelBlinding, length)
}

// PacketKeys are the per-hop Sphinx Packet Keys, derived from the blinded
// DH key exchange.
type PacketKeys struct {
	HeaderMAC          [MACKeyLength]byte
	HeaderEncryption   [StreamKeyLength]byte
	HeaderEncryptionIV [StreamIVLength]byte
	PayloadEncryption  []byte
	ReplayTag          [ReplayTagLength]byte
}

// Reset clears the PacketKeys structure such that no sensitive data is left
// in memory.
func (k *PacketKeys) Reset() {
	util.ExplicitBzero(k.HeaderMAC[:])
	util.ExplicitBzero(k.HeaderEncryption[:])
	util.ExplicitBzero(k.HeaderEncryptionIV[:])
	util.ExplicitBzero(k.PayloadEncryption)
	util.ExplicitBzero(k.ReplayTag[:])
}

// KDF takes the per-hop shared secret and returns the Sphinx Packet keys,
// with payload key material sized for prp.
func KDF(secret *[SecretLength]byte, prp PRP) *PacketKeys {
	k := new(PacketKeys)

	mac := Expand(secret, labelHeaderMAC, MACKeyLength)
	copy(k.HeaderMAC[:], mac)
	util.ExplicitBzero(mac)

	prg := Expand(secret, labelPRG, StreamKeyLength+StreamIVLength)
	copy(k.HeaderEncryption[:], prg[:StreamKeyLength])
	copy(k.HeaderEncryptionIV[:], prg[StreamKeyLength:])
	util.ExplicitBzero(prg)

	k.PayloadEncryption = Expand(secret, labelPRP, prp.KeyLength())

	tag := Expand(secret, labelReplayTag, ReplayTagLength)
	copy(k.ReplayTag[:], tag)
	util.ExplicitBzero(tag)

	return k
}

// PRG returns length bytes of the header keystream for secret.
func PRG(secret *[SecretLength]byte, length int) []byte {
	prg := Expand(secret, labelPRG, StreamKeyLength+StreamIVLength)
	defer util.ExplicitBzero(prg)

	var key [StreamKeyLength]byte
	var iv [StreamIVLength]byte
	copy(key[:], prg[:StreamKeyLength])
	copy(iv[:], prg[StreamKeyLength:])
	defer util.ExplicitBzero(key[:])

	s := NewStream(&key, &iv)
	defer s.Reset()
	b := make([]byte, length)
	s.KeyStream(b)
	return b
}
