// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"fmt"
	"strings"
)

// Kind is the closed set of processor variants. Code that needs
// type-specific behavior switches over every Kind.
type Kind uint8

const (
	Accelerator Kind = iota
	NetworkInterface
	Switch
	CPUSocket
	CPUCore

	kindCount
)

var kindNames = [kindCount]string{
	Accelerator:      "accelerator",
	NetworkInterface: "nic",
	Switch:           "switch",
	CPUSocket:        "cpu",
	CPUCore:          "cpu-core",
}

// Kinds returns every valid Kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, kindCount)
	for kind := Kind(0); kind < kindCount; kind++ {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool { return k < kindCount }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid processor kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText accepts the names produced by String.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind maps a name (case-insensitive) to a Kind. "gpu" is
// accepted as an alias for accelerator.
func ParseKind(name string) (Kind, error) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if lowered == "gpu" {
		return Accelerator, nil
	}
	for kind, candidate := range kindNames {
		if candidate == lowered {
			return Kind(kind), nil
		}
	}
	return 0, fmt.Errorf("unknown processor kind %q", name)
}
