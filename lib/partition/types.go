// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package partition

import (
	"fmt"
	"strings"
)

// ProfileType is a compute partition mode.
type ProfileType uint32

const (
	ProfileInvalid ProfileType = iota
	ProfileSPX                 // single partition
	ProfileDPX                 // dual
	ProfileTPX                 // triple
	ProfileQPX                 // quad
	ProfileCPX                 // one partition per compute die
)

// canonicalProfiles is the order in which capability strings are
// scanned. Profile indices follow this order, not the enum values.
var canonicalProfiles = []ProfileType{ProfileSPX, ProfileDPX, ProfileTPX, ProfileQPX, ProfileCPX}

var profileNames = map[ProfileType]string{
	ProfileSPX: "SPX",
	ProfileDPX: "DPX",
	ProfileTPX: "TPX",
	ProfileQPX: "QPX",
	ProfileCPX: "CPX",
}

// fixedPartitions is the partition count of every mode except CPX,
// whose count comes from the hardware.
var fixedPartitions = map[ProfileType]uint32{
	ProfileSPX: 1,
	ProfileDPX: 2,
	ProfileTPX: 3,
	ProfileQPX: 4,
}

func (p ProfileType) String() string {
	if name, ok := profileNames[p]; ok {
		return name
	}
	return "INVALID"
}

// MarshalText encodes the profile type by name.
func (p ProfileType) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParseProfileType maps "SPX", "dpx", ... to a ProfileType.
func ParseProfileType(name string) (ProfileType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, profile := range canonicalProfiles {
		if profileNames[profile] == upper {
			return profile, nil
		}
	}
	return ProfileInvalid, fmt.Errorf("unknown compute partition mode %q", name)
}

// MemoryMode is a memory partition (NUMA-per-socket) mode.
type MemoryMode uint32

const (
	MemoryInvalid MemoryMode = iota
	MemoryNPS1
	MemoryNPS2
	MemoryNPS4
	MemoryNPS8
)

var canonicalMemoryModes = []MemoryMode{MemoryNPS1, MemoryNPS2, MemoryNPS4, MemoryNPS8}

func (m MemoryMode) String() string {
	switch m {
	case MemoryNPS1:
		return "NPS1"
	case MemoryNPS2:
		return "NPS2"
	case MemoryNPS4:
		return "NPS4"
	case MemoryNPS8:
		return "NPS8"
	}
	return "INVALID"
}

// MarshalText encodes the memory mode by name.
func (m MemoryMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseMemoryMode maps "NPS1", "nps4", ... to a MemoryMode.
func ParseMemoryMode(name string) (MemoryMode, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, mode := range canonicalMemoryModes {
		if mode.String() == upper {
			return mode, nil
		}
	}
	return MemoryInvalid, fmt.Errorf("unknown memory partition mode %q", name)
}

// MemoryCaps is a bitset of supported memory modes.
type MemoryCaps uint32

// Has reports whether mode is in the set.
func (c MemoryCaps) Has(mode MemoryMode) bool {
	if mode == MemoryInvalid {
		return false
	}
	return c&(1<<(mode-1)) != 0
}

// With returns the set plus mode.
func (c MemoryCaps) With(mode MemoryMode) MemoryCaps {
	if mode == MemoryInvalid {
		return c
	}
	return c | 1<<(mode-1)
}

// Modes lists the members in canonical order.
func (c MemoryCaps) Modes() []MemoryMode {
	var modes []MemoryMode
	for _, mode := range canonicalMemoryModes {
		if c.Has(mode) {
			modes = append(modes, mode)
		}
	}
	return modes
}

func (c MemoryCaps) String() string {
	modes := c.Modes()
	if len(modes) == 0 {
		return "N/A"
	}
	names := make([]string, len(modes))
	for i, mode := range modes {
		names[i] = mode.String()
	}
	return strings.Join(names, ", ")
}

// MarshalText encodes the set as its comma-separated mode list.
func (c MemoryCaps) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// parseMemoryCaps substring-matches every known mode token.
func parseMemoryCaps(text string) MemoryCaps {
	var caps MemoryCaps
	for _, mode := range canonicalMemoryModes {
		if strings.Contains(text, mode.String()) {
			caps = caps.With(mode)
		}
	}
	return caps
}

// ResourceType is a hardware resource shared across partitions.
type ResourceType uint32

const (
	ResourceXCC ResourceType = iota
	ResourceEncoder
	ResourceDecoder
	ResourceDMA
	ResourceJPEG

	resourceTypeCount
)

// ResourceTypes returns every resource type in query order.
func ResourceTypes() []ResourceType {
	types := make([]ResourceType, 0, resourceTypeCount)
	for resource := ResourceType(0); resource < resourceTypeCount; resource++ {
		types = append(types, resource)
	}
	return types
}

func (r ResourceType) String() string {
	switch r {
	case ResourceXCC:
		return "XCC"
	case ResourceEncoder:
		return "ENCODER"
	case ResourceDecoder:
		return "DECODER"
	case ResourceDMA:
		return "DMA"
	case ResourceJPEG:
		return "JPEG"
	}
	return fmt.Sprintf("RESOURCE(%d)", uint32(r))
}

// MarshalText encodes the resource type by name.
func (r ResourceType) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// ResourceShare is the raw per-resource answer from the device.
type ResourceShare struct {
	// PartitionResource is the number of resource instances each
	// partition receives.
	PartitionResource uint32

	// PartitionsSharing is how many partitions share one instance.
	PartitionsSharing uint32
}
