// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/accelsmi/lib/codec"
)

// Fingerprint is a BLAKE3 digest of a registry's inventory. Two
// sessions that discovered the same processors in the same order
// share a fingerprint, whatever their handles.
type Fingerprint [32]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// MarshalText encodes the fingerprint as hex.
func (f Fingerprint) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// inventoryDomainKey separates inventory digests from any other BLAKE3
// use of the same bytes. ASCII "accelsmi.inventory" zero-padded to 32
// bytes.
var inventoryDomainKey = [32]byte{
	'a', 'c', 'c', 'e', 'l', 's', 'm', 'i', '.', 'i', 'n', 'v', 'e', 'n', 't', 'o',
	'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint digests the deterministic CBOR encoding of the current
// inventory.
func (r *Registry) Fingerprint() (Fingerprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records, err := r.inventoryLocked()
	if err != nil {
		return Fingerprint{}, err
	}
	encoded, err := codec.Marshal(records)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("encoding inventory: %w", err)
	}

	hasher, err := blake3.NewKeyed(inventoryDomainKey[:])
	if err != nil {
		panic("registry: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encoded)
	var fingerprint Fingerprint
	copy(fingerprint[:], hasher.Sum(nil))
	return fingerprint, nil
}
