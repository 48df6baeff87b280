// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used for inventory
// fingerprints and for the CLI's binary output format.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same inventory always produces the same bytes, which is what makes
// the registry fingerprint stable across runs. Types implementing
// encoding.TextMarshaler (processor.Kind, processor.BusAddress,
// partition.ProfileType, ...) encode as CBOR text strings.
package codec
