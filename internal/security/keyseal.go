// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package security seals and unseals the Connector's P2P QUIC server TLS
// private key at rest, so the key file at p2p.key_path (with
// p2p.key_sealed set) need not be stored as plaintext PEM on disk.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/openztna/dataplane/internal/support"
)

// A sealed key file is framed as [len(4)|nonce(24)|ct]; the same framing the teacher
// used for a live encrypted stream, here applied once to a key file at
// load time instead of to every write.
const nonceSize = chacha20poly1305.NonceSizeX

var errShortSealedKey = errors.New("security: sealed key file too short")

// DeriveKey folds a configured passphrase and the Connector's identity
// into a 32-byte AEAD key, mirroring the teacher's secret||id derivation.
func DeriveKey(passphrase, identity string) []byte {
	h := sha256.New()
	h.Write([]byte(passphrase))
	h.Write([]byte(identity))
	return h.Sum(nil)
}

// SealKey encrypts a PEM-encoded private key under the given passphrase,
// producing the [len|nonce|ciphertext] frame written to sealed key files.
func SealKey(plaintext []byte, passphrase, identity string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, identity))
	if err != nil {
		return nil, fmt.Errorf("security: init AEAD: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	ctLen, err := support.ToUint32Size(len(ct))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+nonceSize+len(ct))
	binary.BigEndian.PutUint32(out[:4], ctLen)
	copy(out[4:4+nonceSize], nonce)
	copy(out[4+nonceSize:], ct)
	return out, nil
}

// UnsealKey reverses SealKey, recovering the PEM-encoded private key. It
// is called once at Connector startup when p2p.key_sealed is set for
// p2p.key_path.
func UnsealKey(sealed []byte, passphrase, identity string) ([]byte, error) {
	if len(sealed) < 4+nonceSize {
		return nil, errShortSealedKey
	}
	n := binary.BigEndian.Uint32(sealed[:4])
	body := sealed[4:]
	if len(body) != nonceSize+int(n) {
		return nil, errShortSealedKey
	}
	nonce := body[:nonceSize]
	ct := body[nonceSize:]

	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, identity))
	if err != nil {
		return nil, fmt.Errorf("security: init AEAD: %w", err)
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("security: unseal key: %w", err)
	}
	return pt, nil
}
