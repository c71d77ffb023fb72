// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package security authenticates the privileged parties of the timelock:
// a single admin and a set of guardians, identified by secp256k1 addresses.
package security

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("invalid guardian request signature")
	ErrUnauthorized     = errors.New("signer is not a guardian or admin")
	ErrWrongRequestKind = errors.New("guardian request kind mismatch")
)

// RequestKind names the privileged operation a request authorises
type RequestKind uint8

const (
	RequestCancel    RequestKind = 0x01 // cancel a queued action
	RequestEmergency RequestKind = 0x02 // queue an action with the emergency delay
)

func (k RequestKind) String() string {
	switch k {
	case RequestCancel:
		return "cancel"
	case RequestEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Role is the authority a signer holds
type Role uint8

const (
	RoleNone     Role = 0x00
	RoleGuardian Role = 0x01
	RoleAdmin    Role = 0x02
)

func (r Role) String() string {
	switch r {
	case RoleGuardian:
		return "guardian"
	case RoleAdmin:
		return "admin"
	default:
		return "none"
	}
}

// GuardianRequest is a signed instruction from a guardian or the admin.
// Target is the action id for cancellation and the payload reference for
// emergency queueing. Nonce distinguishes otherwise identical requests.
type GuardianRequest struct {
	Kind      RequestKind
	Target    common.Hash
	Nonce     uint64
	Signature []byte
}

// Digest returns the hash the request signature commits to.
func (r *GuardianRequest) Digest() common.Hash {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], r.Nonce)
	return crypto.Keccak256Hash([]byte{byte(r.Kind)}, r.Target[:], nonce[:])
}

// Sign signs the request digest with key.
func (r *GuardianRequest) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(r.Digest().Bytes(), key)
	if err != nil {
		return fmt.Errorf("failed to sign guardian request: %w", err)
	}
	r.Signature = sig
	return nil
}

// Signer recovers the address that signed the request.
func (r *GuardianRequest) Signer() (common.Address, error) {
	if len(r.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(r.Signature))
	}
	pub, err := crypto.SigToPub(r.Digest().Bytes(), r.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// GuardianSet is the immutable set of parties allowed to cancel or fast-track
// timelocked actions
type GuardianSet struct {
	admin     common.Address
	guardians mapset.Set[common.Address]
}

// NewGuardianSet creates a guardian set. A zero admin address disables the
// admin role.
func NewGuardianSet(admin common.Address, guardians []common.Address) *GuardianSet {
	return &GuardianSet{
		admin:     admin,
		guardians: mapset.NewSet(guardians...),
	}
}

// Role returns the authority held by addr.
func (s *GuardianSet) Role(addr common.Address) Role {
	switch {
	case addr != (common.Address{}) && addr == s.admin:
		return RoleAdmin
	case s.guardians.Contains(addr):
		return RoleGuardian
	default:
		return RoleNone
	}
}

// Guardians returns the guardian addresses.
func (s *GuardianSet) Guardians() []common.Address {
	return s.guardians.ToSlice()
}

// Authorize checks that req is of the expected kind and signed by a guardian
// or the admin, returning the signer and its role.
func (s *GuardianSet) Authorize(req *GuardianRequest, kind RequestKind) (common.Address, Role, error) {
	if req == nil {
		return common.Address{}, RoleNone, ErrInvalidSignature
	}
	if req.Kind != kind {
		return common.Address{}, RoleNone, fmt.Errorf("%w: want %v, have %v", ErrWrongRequestKind, kind, req.Kind)
	}
	signer, err := req.Signer()
	if err != nil {
		return common.Address{}, RoleNone, err
	}
	role := s.Role(signer)
	if role == RoleNone {
		return signer, RoleNone, fmt.Errorf("%w: %s", ErrUnauthorized, signer.Hex())
	}
	return signer, role, nil
}
