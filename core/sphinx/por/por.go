// por.go - Proof-of-Relay challenges and responses.
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

// Package por derives the Proof-of-Relay challenge and response of each hop
// from the hop's Sphinx shared secret.
//
// A relay learns its response only by peeling its layer of the packet, and
// the ticket it is paid with commits to the matching challenge, so only the
// relay holding that layer's shared secret can redeem it.
package por

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/util"
	"golang.org/x/crypto/sha3"

	"github.com/katzenpost/mixpor/core/sphinx/constants"
	"github.com/katzenpost/mixpor/core/sphinx/keys"
)

const (
	// ResponseLength is the length of a Response in bytes.
	ResponseLength = 32

	// ChallengeLength is the length of a Challenge in bytes.
	ChallengeLength = hash.HashSize

	// EthereumChallengeLength is the length of an EthereumChallenge in bytes.
	EthereumChallengeLength = constants.EthereumChallengeLength

	responseLabel = "por-response"
)

// ErrChallengeMismatch is returned when the challenge a relay was handed
// does not match the response derived from its shared secret.
var ErrChallengeMismatch = errors.New("por: challenge does not match response")

// Response is the secret a relay reveals to prove it relayed a packet.
type Response [ResponseLength]byte

// Challenge is the hash of a Response.
type Challenge [ChallengeLength]byte

// EthereumChallenge is the truncated Keccak-256 form of a Challenge that
// tickets commit to.
type EthereumChallenge [EthereumChallengeLength]byte

// NewResponse derives the Response for a hop from its shared secret.
func NewResponse(secret *keys.SharedSecret) *Response {
	b := secret.Expand(responseLabel, ResponseLength)
	defer util.ExplicitBzero(b)

	r := new(Response)
	copy(r[:], b)
	return r
}

// Challenge returns the Challenge committing to r.
func (r *Response) Challenge() *Challenge {
	c := Challenge(hash.Sum256(r[:]))
	return &c
}

// Reset clears the response.
func (r *Response) Reset() {
	util.ExplicitBzero(r[:])
}

func (r *Response) String() string {
	return hex.EncodeToString(r[:])
}

// ToEthereumChallenge returns the Ethereum form of c.
func (c *Challenge) ToEthereumChallenge() *EthereumChallenge {
	h := sha3.NewLegacyKeccak256()
	h.Write(c[:])
	digest := h.Sum(nil)

	e := new(EthereumChallenge)
	copy(e[:], digest[len(digest)-EthereumChallengeLength:])
	return e
}

func (c *Challenge) String() string {
	return hex.EncodeToString(c[:])
}

// Equal returns true iff e and other are identical, in constant time.
func (e *EthereumChallenge) Equal(other *EthereumChallenge) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(e[:], other[:]) == 1
}

// IsZero returns true iff e is all zero, as in the final hop's routing
// instruction.
func (e *EthereumChallenge) IsZero() bool {
	return util.CtIsZero(e[:])
}

func (e *EthereumChallenge) String() string {
	return hex.EncodeToString(e[:])
}

// GenerateProofOfRelay returns the responses and challenges of every hop of
// a path, in path order.
func GenerateProofOfRelay(secrets []*keys.SharedSecret) ([]*Response, []*Challenge) {
	responses := make([]*Response, 0, len(secrets))
	challenges := make([]*Challenge, 0, len(secrets))
	for _, s := range secrets {
		r := NewResponse(s)
		responses = append(responses, r)
		challenges = append(challenges, r.Challenge())
	}
	return responses, challenges
}

// PreVerify returns true iff response is the response derived from secret
// and challenge commits to it.  The comparisons are constant time.
func PreVerify(secret *keys.SharedSecret, response *Response, challenge *Challenge) bool {
	if secret == nil || response == nil || challenge == nil {
		return false
	}
	expected := NewResponse(secret)
	defer expected.Reset()

	okResponse := subtle.ConstantTimeCompare(expected[:], response[:])
	c := response.Challenge()
	okChallenge := subtle.ConstantTimeCompare(c[:], challenge[:])
	return okResponse&okChallenge == 1
}

// PreVerifyEthereum is PreVerify against the Ethereum form of the
// challenge, as carried in tickets.
func PreVerifyEthereum(secret *keys.SharedSecret, response *Response, challenge *EthereumChallenge) bool {
	if secret == nil || response == nil || challenge == nil {
		return false
	}
	expected := NewResponse(secret)
	defer expected.Reset()

	okResponse := subtle.ConstantTimeCompare(expected[:], response[:])
	e := response.Challenge().ToEthereumChallenge()
	return okResponse&boolToInt(e.Equal(challenge)) == 1
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
