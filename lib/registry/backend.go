// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"

	"github.com/bureau-foundation/accelsmi/lib/processor"
)

// Backend discovers the processors of one device family and serves
// their raw queries. A backend may additionally implement
// partition.Source, topology.LinkReporter, or violation.Sampler; the engines
// discover those capabilities by type assertion.
type Backend interface {
	processor.Driver

	// Discover opens the backend and returns the identities of every
	// device it manages, in a stable order. A host without any such
	// device yields an empty slice, not an error.
	Discover(ctx context.Context) ([]processor.Identity, error)

	// Close releases whatever Discover opened. It is called once per
	// successful Discover.
	Close() error
}

// Flags selects which processor kinds Init keeps.
type Flags uint32

const (
	InitAccelerators Flags = 1 << iota
	InitNICs
	InitSwitches
	InitCPUs

	InitAll = InitAccelerators | InitNICs | InitSwitches | InitCPUs
)

// Includes reports whether processors of kind are kept under f.
func (f Flags) Includes(kind processor.Kind) bool {
	switch kind {
	case processor.Accelerator:
		return f&InitAccelerators != 0
	case processor.NetworkInterface:
		return f&InitNICs != 0
	case processor.Switch:
		return f&InitSwitches != 0
	case processor.CPUSocket, processor.CPUCore:
		return f&InitCPUs != 0
	}
	return false
}
