// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// PCI vendor IDs the backends match on.
const (
	VendorAMD      uint16 = 0x1002
	VendorNVIDIA   uint16 = 0x10de
	VendorBroadcom uint16 = 0x1000
	VendorPensando uint16 = 0x1dd8
)

// IsCardDevice returns true for DRM card device names (card0, card1, ...)
// but not connectors (card0-DP-1) or render nodes (renderD128).
func IsCardDevice(name string) bool {
	return numberedEntry(name, "card")
}

// numberedEntry reports whether name is prefix followed by one or more
// decimal digits.
func numberedEntry(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	suffix := name[len(prefix):]
	if len(suffix) == 0 {
		return false
	}
	for _, character := range suffix {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}

// ReadDriverName returns the kernel driver name for a PCI device by
// reading the basename of the "driver" symlink in the device directory.
func ReadDriverName(devicePath string) string {
	link, err := os.Readlink(filepath.Join(devicePath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}

// PCIDevice is the identity a PCI device publishes in its uevent file.
type PCIDevice struct {
	Vendor  uint16
	Device  uint16
	Address processor.BusAddress
}

// ParsePCIUevent extracts the vendor ID, device ID, and PCI slot from
// the device's uevent file. The uevent file contains lines like:
//
//	PCI_ID=1002:74A1
//	PCI_SLOT_NAME=0000:c3:00.0
func ParsePCIUevent(devicePath string) (PCIDevice, error) {
	path := filepath.Join(devicePath, "uevent")
	text, err := ReadAttribute(path)
	if err != nil {
		return PCIDevice{}, err
	}

	var device PCIDevice
	var sawSlot bool
	for _, line := range strings.Split(text, "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case "PCI_ID":
			vendorText, deviceText, found := strings.Cut(value, ":")
			if !found {
				return PCIDevice{}, smierr.UnexpectedData("%s: malformed PCI_ID %q", path, value)
			}
			vendor, err := strconv.ParseUint(vendorText, 16, 16)
			if err != nil {
				return PCIDevice{}, smierr.UnexpectedData("%s: vendor id %q", path, vendorText)
			}
			id, err := strconv.ParseUint(deviceText, 16, 16)
			if err != nil {
				return PCIDevice{}, smierr.UnexpectedData("%s: device id %q", path, deviceText)
			}
			device.Vendor, device.Device = uint16(vendor), uint16(id)
		case "PCI_SLOT_NAME":
			address, err := processor.ParseBusAddress(value)
			if err != nil {
				return PCIDevice{}, smierr.UnexpectedData("%s: %w", path, err)
			}
			device.Address = address
			sawSlot = true
		}
	}
	if !sawSlot {
		return PCIDevice{}, smierr.UnexpectedData("%s: no PCI_SLOT_NAME", path)
	}
	return device, nil
}

// PCIVendorName maps a PCI vendor ID to a human-readable name.
func PCIVendorName(vendor uint16) string {
	switch vendor {
	case VendorAMD:
		return "AMD"
	case VendorNVIDIA:
		return "NVIDIA"
	case VendorBroadcom:
		return "Broadcom"
	case VendorPensando:
		return "AMD Pensando"
	case 0x8086:
		return "Intel"
	case 0:
		return ""
	}
	return fmt.Sprintf("0x%04x", vendor)
}

// PCIAddressOf resolves path (typically a sysfs symlink such as
// class/net/eth0/device) and returns the bus address named by the
// last path element that parses as one.
func PCIAddressOf(path string) (processor.BusAddress, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return processor.BusAddress{}, smierr.FromSyscall(err, "resolving %s", path)
	}
	elements := strings.Split(filepath.ToSlash(resolved), "/")
	for i := len(elements) - 1; i >= 0; i-- {
		if strings.Count(elements[i], ":") != 2 {
			continue
		}
		if address, err := processor.ParseBusAddress(elements[i]); err == nil {
			return address, nil
		}
	}
	return processor.BusAddress{}, smierr.NotFound("%s does not resolve to a PCI device", path)
}

// ReadAttribute reads a sysfs attribute and returns its trimmed
// content. Errors are classified by errno: a missing attribute is
// smierr.KindNotSupported, a refused read smierr.KindPermissionDenied.
func ReadAttribute(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", smierr.FromSyscall(err, "reading %s", path)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteAttribute writes value to a sysfs attribute. The attribute must
// already exist; sysfs does not create files.
func WriteAttribute(path, value string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return smierr.FromSyscall(err, "opening %s", path)
	}
	if _, err := file.WriteString(value); err != nil {
		file.Close()
		return smierr.FromSyscall(err, "writing %q to %s", value, path)
	}
	if err := file.Close(); err != nil {
		return smierr.FromSyscall(err, "writing %q to %s", value, path)
	}
	return nil
}

// ReadUint64 reads a decimal integer attribute.
func ReadUint64(path string) (uint64, error) {
	text, err := ReadAttribute(path)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, smierr.UnexpectedData("%s: %q is not an integer", path, text)
	}
	return value, nil
}

// ReadHexID reads a 16-bit PCI ID attribute such as "0x1dd8".
func ReadHexID(path string) (uint16, error) {
	text, err := ReadAttribute(path)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(text), "0x"), 16, 16)
	if err != nil {
		return 0, smierr.UnexpectedData("%s: %q is not a PCI id", path, text)
	}
	return uint16(value), nil
}

// ReadSysfsString reads a single-line sysfs file and returns its
// trimmed content. Returns "" on any error.
func ReadSysfsString(path string) string {
	text, err := ReadAttribute(path)
	if err != nil {
		return ""
	}
	return text
}
