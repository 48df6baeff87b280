// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvidia discovers NVIDIA accelerators driven by the nvidia
// (proprietary) or nouveau (open-source) kernel drivers.
//
// Discovery reads sysfs (/sys/class/drm/card*) and, when the
// proprietary driver is loaded, /proc/driver/nvidia/gpus/, which also
// lists GPUs that have no DRM card because nvidia-drm is not loaded.
//
// Peer topology and throttle counters need NVML (libnvidia-ml.so) and
// are compiled in with the "nvml" build tag on linux with cgo. Without
// it the backend is discovery-only and the engines report those
// features as not supported.
//
// NVIDIA's kernel ioctl interface (NV_ESC_* on /dev/nvidiactl) requires
// version negotiation and changes between driver versions, so direct
// ioctl access (like we do for amdgpu) is not viable.
package nvidia

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

// Backend serves NVIDIA accelerators.
type Backend struct {
	// sysRoot is the root of the sysfs filesystem. Defaults to "/sys"
	// in production; overridden in tests with synthetic filesystems.
	sysRoot string

	// procRoot is the root of the proc filesystem. Defaults to "/proc"
	// in production; overridden in tests.
	procRoot string

	logger *slog.Logger

	devices []device

	// nvml is the open NVML session, nil when NVML is not compiled in
	// or failed to initialize.
	nvml *library
}

type device struct {
	address processor.BusAddress
	driver  string
	model   string
}

// NewBackend creates a Backend. Empty roots default to /sys and /proc.
func NewBackend(sysRoot, procRoot string, logger *slog.Logger) *Backend {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Backend{sysRoot: sysRoot, procRoot: procRoot, logger: logger}
}

// Name implements processor.Driver.
func (b *Backend) Name() string { return "nvidia" }

// Discover returns one accelerator per NVIDIA GPU, ordered by bus
// address, then opens NVML for the discovered devices when available.
func (b *Backend) Discover(ctx context.Context) ([]processor.Identity, error) {
	devices, err := b.enumerate(ctx)
	if err != nil {
		return nil, err
	}
	b.devices = devices

	identities := make([]processor.Identity, len(devices))
	for i, dev := range devices {
		identities[i] = processor.Identity{
			Kind:        processor.Accelerator,
			BusAddress:  dev.address,
			SocketID:    dev.address.SocketID(),
			Name:        dev.model,
			DeviceIndex: i,
		}
	}

	if len(devices) > 0 {
		b.nvml = b.openLibrary()
	}
	b.logger.Debug("discovered nvidia devices",
		"count", len(devices),
		"nvml", b.nvml != nil)
	return identities, nil
}

// Close shuts NVML down if Discover opened it.
func (b *Backend) Close() error {
	b.devices = nil
	if b.nvml == nil {
		return nil
	}
	err := b.nvml.close()
	b.nvml = nil
	return err
}

// enumerate merges DRM cards bound to nvidia or nouveau with the GPUs
// listed by the proprietary driver under /proc.
func (b *Backend) enumerate(ctx context.Context) ([]device, error) {
	var devices []device
	seen := func(address processor.BusAddress) bool {
		return slices.ContainsFunc(devices, func(d device) bool { return d.address == address })
	}

	drmBase := filepath.Join(b.sysRoot, "class/drm")
	entries, err := os.ReadDir(drmBase)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, smierr.FromSyscall(err, "listing DRM cards")
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !hwinfo.IsCardDevice(entry.Name()) {
			continue
		}
		devicePath := filepath.Join(drmBase, entry.Name(), "device")
		driver := hwinfo.ReadDriverName(devicePath)
		if driver != "nvidia" && driver != "nouveau" {
			continue
		}
		pci, err := hwinfo.ParsePCIUevent(devicePath)
		if err != nil {
			b.logger.Warn("skipping nvidia card with unreadable PCI identity",
				"card", entry.Name(),
				"error", err)
			continue
		}
		if seen(pci.Address) {
			continue
		}
		devices = append(devices, device{
			address: pci.Address,
			driver:  driver,
			model:   fmt.Sprintf("%s %#04x", hwinfo.PCIVendorName(pci.Vendor), pci.Device),
		})
	}

	gpusDir := filepath.Join(b.procRoot, "driver/nvidia/gpus")
	slots, err := os.ReadDir(gpusDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, smierr.FromSyscall(err, "listing %s", gpusDir)
	}
	for _, slot := range slots {
		address, err := processor.ParseBusAddress(slot.Name())
		if err != nil {
			continue
		}
		if !seen(address) {
			devices = append(devices, device{address: address, driver: "nvidia"})
		}
	}

	// When the proprietary driver is loaded, enrich with
	// /proc/driver/nvidia/ data.
	for i := range devices {
		if devices[i].driver != "nvidia" {
			continue
		}
		if model := b.modelFromProc(devices[i].address); model != "" {
			devices[i].model = model
		}
	}

	slices.SortFunc(devices, func(a, b device) int {
		return strings.Compare(a.address.String(), b.address.String())
	})
	return devices, nil
}

// modelFromProc reads the Model line of
// /proc/driver/nvidia/gpus/<pci-slot>/information, which the
// proprietary nvidia driver provides. The file contains key-value
// lines like:
//
//	Model:           NVIDIA H100 80GB HBM3
//	GPU UUID:        GPU-xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
//	Video BIOS:      96.00.61.00.01
func (b *Backend) modelFromProc(address processor.BusAddress) string {
	infoPath := filepath.Join(b.procRoot, "driver/nvidia/gpus", address.String(), "information")
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, ":")
		if found && strings.TrimSpace(key) == "Model" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// device returns the GPU behind id.
func (b *Backend) device(id processor.Identity) (device, error) {
	if id.DeviceIndex < 0 || id.DeviceIndex >= len(b.devices) {
		return device{}, smierr.NotFound("nvidia device index %d out of range", id.DeviceIndex)
	}
	return b.devices[id.DeviceIndex], nil
}
