// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package amdgpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/bureau-foundation/accelsmi/lib/hwinfo"
	"github.com/bureau-foundation/accelsmi/lib/hwinfo/kfd"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// Backend serves AMD accelerators from sysfs and the KFD topology.
type Backend struct {
	// sysRoot is the root of the sysfs filesystem. Defaults to "/sys"
	// in production; overridden in tests with synthetic filesystems.
	sysRoot string
	kfdRoot string
	logger  *slog.Logger

	// devices is written by Discover and read-only afterwards.
	devices []device

	// topologyMu guards the cached KFD topology, which partition
	// changes invalidate.
	topologyMu sync.Mutex
	topology   *kfd.Topology
}

// device is one discovered card.
type device struct {
	card    string
	path    string
	address processor.BusAddress
}

// NewBackend creates a Backend reading under sysRoot, with the KFD
// topology at kfdRoot. Empty values default to /sys and the KFD tree
// under sysRoot.
func NewBackend(sysRoot, kfdRoot string, logger *slog.Logger) *Backend {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	if kfdRoot == "" {
		kfdRoot = filepath.Join(sysRoot, "class/kfd/kfd/topology")
	}
	return &Backend{sysRoot: sysRoot, kfdRoot: kfdRoot, logger: logger}
}

// Name implements processor.Driver.
func (b *Backend) Name() string { return "amdgpu" }

// Discover returns one accelerator per PCI device bound to amdgpu, in
// card order. Additional DRM cards that share a PCI device (compute
// partitions on some parts) are folded into the first.
func (b *Backend) Discover(ctx context.Context) ([]processor.Identity, error) {
	drmBase := filepath.Join(b.sysRoot, "class/drm")
	entries, err := os.ReadDir(drmBase)
	if errors.Is(err, os.ErrNotExist) {
		b.logger.Debug("no DRM class in sysfs", "path", drmBase)
		return nil, nil
	}
	if err != nil {
		return nil, smierr.FromSyscall(err, "listing DRM cards")
	}

	var cards []string
	for _, entry := range entries {
		// Match card0, card1, ... but not card0-DP-1, renderD128, etc.
		if hwinfo.IsCardDevice(entry.Name()) {
			cards = append(cards, entry.Name())
		}
	}
	slices.SortFunc(cards, func(a, b string) int {
		left, _ := strconv.Atoi(a[4:])
		right, _ := strconv.Atoi(b[4:])
		return left - right
	})

	b.devices = nil
	var identities []processor.Identity
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		devicePath := filepath.Join(drmBase, card, "device")
		if hwinfo.ReadDriverName(devicePath) != "amdgpu" {
			continue
		}
		pci, err := hwinfo.ParsePCIUevent(devicePath)
		if err != nil {
			b.logger.Warn("skipping amdgpu card with unreadable PCI identity",
				"card", card,
				"error", err)
			continue
		}
		if slices.ContainsFunc(b.devices, func(d device) bool { return d.address == pci.Address }) {
			continue
		}

		name := hwinfo.ReadSysfsString(filepath.Join(devicePath, "product_name"))
		if name == "" {
			name = fmt.Sprintf("%s %#04x", hwinfo.PCIVendorName(pci.Vendor), pci.Device)
		}
		identities = append(identities, processor.Identity{
			Kind:        processor.Accelerator,
			BusAddress:  pci.Address,
			SocketID:    pci.Address.SocketID(),
			Name:        name,
			DeviceIndex: len(b.devices),
		})
		b.devices = append(b.devices, device{card: card, path: devicePath, address: pci.Address})
	}

	if len(b.devices) > 0 {
		if _, err := b.kfdTopology(); err != nil {
			b.logger.Warn("KFD topology unavailable, peer queries will fail",
				"path", b.kfdRoot,
				"error", err)
		}
	}

	b.logger.Debug("discovered amdgpu devices", "count", len(b.devices))
	return identities, nil
}

// Close drops the discovered devices and the cached topology.
func (b *Backend) Close() error {
	b.devices = nil
	b.invalidateTopology()
	return nil
}

// device returns the card behind id.
func (b *Backend) device(id processor.Identity) (device, error) {
	if id.DeviceIndex < 0 || id.DeviceIndex >= len(b.devices) {
		return device{}, smierr.NotFound("amdgpu device index %d out of range", id.DeviceIndex)
	}
	return b.devices[id.DeviceIndex], nil
}

// kfdTopology returns the cached KFD topology, reading it on first use.
func (b *Backend) kfdTopology() (*kfd.Topology, error) {
	b.topologyMu.Lock()
	defer b.topologyMu.Unlock()
	if b.topology != nil {
		return b.topology, nil
	}
	topology, err := kfd.Read(b.kfdRoot)
	if err != nil {
		return nil, err
	}
	b.topology = topology
	return topology, nil
}

// invalidateTopology forces the next query to re-read the KFD tree.
// Partition changes add and remove KFD nodes.
func (b *Backend) invalidateTopology() {
	b.topologyMu.Lock()
	b.topology = nil
	b.topologyMu.Unlock()
}

// kfdNodes returns the KFD GPU nodes of one device.
func (b *Backend) kfdNodes(id processor.Identity) ([]*kfd.Node, error) {
	dev, err := b.device(id)
	if err != nil {
		return nil, err
	}
	topology, err := b.kfdTopology()
	if err != nil {
		return nil, err
	}
	nodes := topology.GPUNodes(dev.address)
	if len(nodes) == 0 {
		return nil, smierr.NotFound("no KFD node for %s", dev.address)
	}
	return nodes, nil
}
