// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package processor defines the device model shared by the registry,
// the engines, and the backends: the closed [Kind] variant, PCI
// [BusAddress] identities, the immutable [Identity] record, and the
// [Processor] and [Socket] ownership hierarchy.
//
// Backends produce Identity values during discovery. The registry
// wraps each in a Processor bound to the backend's [Driver] and files
// it under a Socket keyed by Identity.SocketID. Accelerators, NICs,
// and switches are grouped by the domain:bus:device part of their bus
// address; CPU sockets and cores by physical package id.
package processor
