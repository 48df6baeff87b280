// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pcidev discovers the non-accelerator PCI processors of a
// host: network interfaces from /sys/class/net and PCIe switches from
// the SCSI host entries their management endpoints register under
// /sys/class/scsi_host. It serves no engine queries.
package pcidev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bureau-foundation/accelsmi/lib/hwinfo"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// SwitchDevice is the PCI device ID of the supported switch management
// endpoint (vendor hwinfo.VendorBroadcom).
const SwitchDevice uint16 = 0x00b2

// DefaultNICVendors lists the NIC vendors reported when none are
// configured.
var DefaultNICVendors = []uint16{hwinfo.VendorPensando}

// Backend discovers NICs and PCIe switches.
type Backend struct {
	sysRoot    string
	nicVendors []uint16
	logger     *slog.Logger
}

// NewBackend creates a Backend. An empty sysRoot defaults to /sys; an
// empty nicVendors to DefaultNICVendors.
func NewBackend(sysRoot string, nicVendors []uint16, logger *slog.Logger) *Backend {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	if len(nicVendors) == 0 {
		nicVendors = DefaultNICVendors
	}
	return &Backend{sysRoot: sysRoot, nicVendors: nicVendors, logger: logger}
}

// Name implements processor.Driver.
func (b *Backend) Name() string { return "pci" }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// Discover returns NICs, then switches, each ordered by bus address.
func (b *Backend) Discover(ctx context.Context) ([]processor.Identity, error) {
	nics, err := b.discoverNICs(ctx)
	if err != nil {
		return nil, err
	}
	switches, err := b.discoverSwitches(ctx)
	if err != nil {
		return nil, err
	}

	identities := append(nics, switches...)
	for i := range identities {
		identities[i].DeviceIndex = i
	}
	b.logger.Debug("discovered PCI devices",
		"nics", len(nics),
		"switches", len(switches))
	return identities, nil
}

// discoverNICs reports one processor per PCI function that carries a
// network interface from an allowed vendor. Virtual interfaces (lo,
// bridges, veth) have no PCI device and are skipped. When several
// interfaces share a function the alphabetically first names it.
func (b *Backend) discoverNICs(ctx context.Context) ([]processor.Identity, error) {
	netBase := filepath.Join(b.sysRoot, "class/net")
	entries, err := os.ReadDir(netBase)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, smierr.FromSyscall(err, "listing network interfaces")
	}

	var nics []processor.Identity
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		devicePath := filepath.Join(netBase, entry.Name(), "device")
		if _, err := os.Lstat(devicePath); err != nil {
			continue
		}
		address, err := hwinfo.PCIAddressOf(devicePath)
		if err != nil {
			b.logger.Debug("network interface is not a PCI function",
				"interface", entry.Name(),
				"error", err)
			continue
		}
		vendor, err := hwinfo.ReadHexID(filepath.Join(devicePath, "vendor"))
		if err != nil || !slices.Contains(b.nicVendors, vendor) {
			continue
		}
		if slices.ContainsFunc(nics, func(id processor.Identity) bool { return id.BusAddress == address }) {
			continue
		}
		nics = append(nics, processor.Identity{
			Kind:       processor.NetworkInterface,
			BusAddress: address,
			SocketID:   address.SocketID(),
			Name:       entry.Name(),
		})
	}
	sortByAddress(nics)
	return nics, nil
}

// discoverSwitches resolves each SCSI host to the PCI function that
// registered it and keeps the switch management endpoints.
func (b *Backend) discoverSwitches(ctx context.Context) ([]processor.Identity, error) {
	hostBase := filepath.Join(b.sysRoot, "class/scsi_host")
	entries, err := os.ReadDir(hostBase)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, smierr.FromSyscall(err, "listing SCSI hosts")
	}

	var switches []processor.Identity
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(entry.Name(), "host") {
			continue
		}
		address, err := hwinfo.PCIAddressOf(filepath.Join(hostBase, entry.Name()))
		if err != nil {
			continue
		}
		pciPath := filepath.Join(b.sysRoot, "bus/pci/devices", address.String())
		vendor, err := hwinfo.ReadHexID(filepath.Join(pciPath, "vendor"))
		if err != nil {
			continue
		}
		device, err := hwinfo.ReadHexID(filepath.Join(pciPath, "device"))
		if err != nil {
			continue
		}
		if vendor != hwinfo.VendorBroadcom || device != SwitchDevice {
			continue
		}
		if slices.ContainsFunc(switches, func(id processor.Identity) bool { return id.BusAddress == address }) {
			continue
		}
		switches = append(switches, processor.Identity{
			Kind:       processor.Switch,
			BusAddress: address,
			SocketID:   address.SocketID(),
			Name:       fmt.Sprintf("%s switch %#04x", hwinfo.PCIVendorName(vendor), device),
		})
	}
	sortByAddress(switches)
	return switches, nil
}

func sortByAddress(identities []processor.Identity) {
	slices.SortStableFunc(identities, func(a, b processor.Identity) int {
		return strings.Compare(a.BusAddress.String(), b.BusAddress.String())
	})
}
