// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later


package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
)

// ed25519KeyPair is the default signing algorithm behind a PeerIdentity
// (§3): Ed25519 needs no curve-family disambiguation at the envelope layer,
// unlike secp256k1KeyPair's fixed-width signature packing.
type ed25519KeyPair struct {
	privateKey  ed25519.PrivateKey
	publicKey   ed25519.PublicKey
	fingerprint string
}

// GenerateEd25519KeyPair mints a fresh Ed25519 PeerIdentity key pair.
func GenerateEd25519KeyPair() (sagecrypto.KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &ed25519KeyPair{
		privateKey:  privateKey,
		publicKey:   publicKey,
		fingerprint: fingerprintOf(publicKey),
	}, nil
}

func (kp *ed25519KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

func (kp *ed25519KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

func (kp *ed25519KeyPair) Type() sagecrypto.KeyType {
	return sagecrypto.KeyTypeEd25519
}

// Sign signs a CallEnvelope body directly — Ed25519 hashes internally, so
// unlike secp256k1KeyPair.Sign there is no separate digest step here.
func (kp *ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

func (kp *ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return sagecrypto.ErrInvalidSignature
	}
	return nil
}

func (kp *ed25519KeyPair) ID() string {
	return kp.fingerprint
}