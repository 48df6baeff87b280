// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import "fmt"

// ProcessorHandle names one processor within one init session of one
// registry. The zero value is the null handle. Handles are comparable:
// two handles are equal iff they name the same processor in the same
// session.
type ProcessorHandle struct {
	registry uint64
	epoch    uint64
	slot     uint32
}

// IsNull reports whether h is the zero handle.
func (h ProcessorHandle) IsNull() bool { return h.registry == 0 }

func (h ProcessorHandle) String() string {
	if h.IsNull() {
		return "processor(null)"
	}
	return fmt.Sprintf("processor(%d/%d/%d)", h.registry, h.epoch, h.slot)
}

// SocketHandle names one socket within one init session of one
// registry. The zero value is the null handle.
type SocketHandle struct {
	registry uint64
	epoch    uint64
	slot     uint32
}

// IsNull reports whether h is the zero handle.
func (h SocketHandle) IsNull() bool { return h.registry == 0 }

func (h SocketHandle) String() string {
	if h.IsNull() {
		return "socket(null)"
	}
	return fmt.Sprintf("socket(%d/%d/%d)", h.registry, h.epoch, h.slot)
}
