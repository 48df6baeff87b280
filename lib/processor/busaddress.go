// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"fmt"
	"strconv"
	"strings"
)

// BusAddress is a PCI domain/bus/device/function identity. It encodes
// as its slot name in every text format.
type BusAddress struct {
	Domain   uint32
	Bus      uint8
	Device   uint8
	Function uint8
}

// BusAddressFromID decodes the packed 64-bit bdfid used by the kernel
// driver interfaces: function in bits 0-2, device in bits 3-7, bus in
// bits 8-15, domain in bits 32-63.
func BusAddressFromID(id uint64) BusAddress {
	return BusAddress{
		Domain:   uint32(id >> 32),
		Bus:      uint8(id >> 8),
		Device:   uint8(id>>3) & 0x1f,
		Function: uint8(id) & 0x7,
	}
}

// ID packs the address into the bdfid layout read by BusAddressFromID.
func (a BusAddress) ID() uint64 {
	return uint64(a.Domain)<<32 | uint64(a.Bus)<<8 | uint64(a.Device&0x1f)<<3 | uint64(a.Function&0x7)
}

// String formats the address as a sysfs PCI slot name, e.g.
// "0000:c3:00.0".
func (a BusAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Device, a.Function)
}

// SocketID returns the domain:bus:device prefix that groups the
// functions of one physical package into a socket.
func (a BusAddress) SocketID() string {
	return fmt.Sprintf("%04x:%02x:%02x", a.Domain, a.Bus, a.Device)
}

// IsZero reports whether the address is unset.
func (a BusAddress) IsZero() bool { return a == BusAddress{} }

// MarshalText encodes the address as its slot name.
func (a BusAddress) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText parses a slot name.
func (a *BusAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseBusAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseBusAddress parses "dddd:bb:dd.f". The domain may be wider than
// four digits (NVML's legacy "00000000:3B:00.0" form) or omitted
// ("c3:00.0", domain 0). Hex digits are case-insensitive.
func ParseBusAddress(text string) (BusAddress, error) {
	text = strings.TrimSpace(text)
	parts := strings.Split(text, ":")
	var domainText, busText, slotText string
	switch len(parts) {
	case 2:
		domainText, busText, slotText = "0", parts[0], parts[1]
	case 3:
		domainText, busText, slotText = parts[0], parts[1], parts[2]
	default:
		return BusAddress{}, fmt.Errorf("malformed bus address %q", text)
	}

	deviceText, functionText, found := strings.Cut(slotText, ".")
	if !found {
		return BusAddress{}, fmt.Errorf("malformed bus address %q: missing function", text)
	}

	domain, err := strconv.ParseUint(domainText, 16, 32)
	if err != nil {
		return BusAddress{}, fmt.Errorf("bus address %q: domain: %w", text, err)
	}
	bus, err := strconv.ParseUint(busText, 16, 8)
	if err != nil {
		return BusAddress{}, fmt.Errorf("bus address %q: bus: %w", text, err)
	}
	device, err := strconv.ParseUint(deviceText, 16, 8)
	if err != nil || device > 0x1f {
		return BusAddress{}, fmt.Errorf("bus address %q: device out of range", text)
	}
	function, err := strconv.ParseUint(functionText, 16, 8)
	if err != nil || function > 0x7 {
		return BusAddress{}, fmt.Errorf("bus address %q: function out of range", text)
	}

	return BusAddress{
		Domain:   uint32(domain),
		Bus:      uint8(bus),
		Device:   uint8(device),
		Function: uint8(function),
	}, nil
}
