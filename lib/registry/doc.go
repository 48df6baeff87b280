// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry owns the processors discovered on a host and hands
// out opaque handles to them.
//
// A [Registry] is built from a list of [Backend] implementations, one
// per device family. [Registry.Init] runs every backend's discovery in
// parallel and files the resulting processors into sockets; handles
// issued afterwards are valid until the next [Registry.Shutdown].
// A [ProcessorHandle] is a generation-checked arena index: it carries
// the registry id, the init epoch, and a slot, so a handle from another
// registry is rejected as foreign and a handle from an earlier session
// resolves to nothing.
//
// Enumeration is two-phase. Pass a nil buffer to learn the total, then
// a buffer of that length to receive the handles:
//
//	count, err := reg.Sockets(nil)
//	sockets := make([]registry.SocketHandle, count)
//	count, err = reg.Sockets(sockets)
//
// The engine methods (PartitionConfig, NearestPeers, ViolationStatus,
// and the rest) resolve a handle, take the processor's lock, and hand
// the processor's backend to the matching engine package.
package registry
