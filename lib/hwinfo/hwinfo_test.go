// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// writeSyntheticFile creates a file at the given path within root,
// creating parent directories as needed.
func writeSyntheticFile(t *testing.T, root, path, content string) {
	t.Helper()
	fullPath := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(fullPath), err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", fullPath, err)
	}
}

// writeSyntheticSymlink creates a symlink at path within root pointing
// to target.
func writeSyntheticSymlink(t *testing.T, root, path, target string) {
	t.Helper()
	fullPath := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(fullPath), err)
	}
	if err := os.Symlink(target, fullPath); err != nil {
		t.Fatalf("symlink %s -> %s: %v", fullPath, target, err)
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestCPUBackendDiscover(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "proc/cpuinfo",
		"processor\t: 0\nmodel name\t: AMD EPYC 9654 96-Core Processor\n\n"+
			"processor\t: 1\nmodel name\t: AMD EPYC 9654 96-Core Processor\n\n")

	// Two packages, two cores each, SMT siblings numbered +4. cpu10
	// exists to check numeric rather than lexical ordering.
	topology := map[int][2]int{
		0:  {0, 0},
		1:  {0, 1},
		2:  {1, 0},
		3:  {1, 1},
		4:  {0, 0},
		5:  {0, 1},
		6:  {1, 0},
		10: {1, 1},
	}
	for cpu, ids := range topology {
		dir := filepath.Join("sys/devices/system/cpu", "cpu"+strconv.Itoa(cpu), "topology")
		writeSyntheticFile(t, root, filepath.Join(dir, "physical_package_id"), strconv.Itoa(ids[0])+"\n")
		writeSyntheticFile(t, root, filepath.Join(dir, "core_id"), strconv.Itoa(ids[1])+"\n")
	}
	// Not CPUs.
	writeSyntheticFile(t, root, "sys/devices/system/cpu/cpufreq/boost", "1")
	writeSyntheticFile(t, root, "sys/devices/system/cpu/cpuidle/current_driver", "acpi_idle")

	backend := NewCPUBackend(filepath.Join(root, "sys"), filepath.Join(root, "proc"), discardLogger())
	identities, err := backend.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	type want struct {
		kind       processor.Kind
		identifier string
		socket     string
	}
	expected := []want{
		{processor.CPUSocket, "0", "0"},
		{processor.CPUSocket, "1", "1"},
		{processor.CPUCore, "0", "0"},
		{processor.CPUCore, "1", "0"},
		{processor.CPUCore, "2", "1"},
		{processor.CPUCore, "3", "1"},
	}
	if len(identities) != len(expected) {
		t.Fatalf("got %d identities, want %d: %+v", len(identities), len(expected), identities)
	}
	for i, w := range expected {
		got := identities[i]
		if got.Kind != w.kind || got.Identifier != w.identifier || got.SocketID != w.socket {
			t.Errorf("identity %d = {%s %q socket %q}, want {%s %q socket %q}",
				i, got.Kind, got.Identifier, got.SocketID, w.kind, w.identifier, w.socket)
		}
		if !got.BusAddress.IsZero() {
			t.Errorf("identity %d has bus address %s", i, got.BusAddress)
		}
	}
	if identities[0].Name != "AMD EPYC 9654 96-Core Processor" {
		t.Errorf("socket name = %q", identities[0].Name)
	}
}

func TestCPUBackendMissingTree(t *testing.T) {
	backend := NewCPUBackend(t.TempDir(), t.TempDir(), discardLogger())
	identities, err := backend.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(identities) != 0 {
		t.Errorf("got %d identities on an empty tree", len(identities))
	}
}

func TestIsCardDevice(t *testing.T) {
	for name, want := range map[string]bool{
		"card0":      true,
		"card12":     true,
		"card":       false,
		"card0-DP-1": false,
		"renderD128": false,
	} {
		if got := IsCardDevice(name); got != want {
			t.Errorf("IsCardDevice(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParsePCIUevent(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "dev/uevent",
		"DRIVER=amdgpu\nPCI_CLASS=38000\nPCI_ID=1002:74A1\nPCI_SUBSYS_ID=1002:74A1\nPCI_SLOT_NAME=0000:c1:00.0\n")

	device, err := ParsePCIUevent(filepath.Join(root, "dev"))
	if err != nil {
		t.Fatalf("ParsePCIUevent: %v", err)
	}
	if device.Vendor != VendorAMD || device.Device != 0x74a1 {
		t.Errorf("ids = %04x:%04x, want 1002:74a1", device.Vendor, device.Device)
	}
	if device.Address.String() != "0000:c1:00.0" {
		t.Errorf("address = %s", device.Address)
	}
	if PCIVendorName(device.Vendor) != "AMD" {
		t.Errorf("vendor name = %q", PCIVendorName(device.Vendor))
	}
}

func TestParsePCIUeventWithoutSlot(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "dev/uevent", "PCI_ID=1002:74A1\n")

	_, err := ParsePCIUevent(filepath.Join(root, "dev"))
	if !errors.Is(err, smierr.ErrUnexpectedData) {
		t.Fatalf("error = %v, want unexpected data", err)
	}
}

func TestPCIAddressOf(t *testing.T) {
	root := t.TempDir()
	deviceDir := "sys/devices/pci0000:c0/0000:c0:01.1/0000:c1:00.0"
	writeSyntheticFile(t, root, filepath.Join(deviceDir, "vendor"), "0x1dd8\n")
	writeSyntheticSymlink(t, root, "sys/class/net/eth0/device",
		"../../../devices/pci0000:c0/0000:c0:01.1/0000:c1:00.0")

	address, err := PCIAddressOf(filepath.Join(root, "sys/class/net/eth0/device"))
	if err != nil {
		t.Fatalf("PCIAddressOf: %v", err)
	}
	if address.String() != "0000:c1:00.0" {
		t.Errorf("address = %s, want 0000:c1:00.0", address)
	}

	id, err := ReadHexID(filepath.Join(root, deviceDir, "vendor"))
	if err != nil {
		t.Fatalf("ReadHexID: %v", err)
	}
	if id != VendorPensando {
		t.Errorf("vendor = %#04x, want %#04x", id, VendorPensando)
	}
}

func TestPCIAddressOfVirtualDevice(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "sys/devices/virtual/net/lo/type", "772")

	_, err := PCIAddressOf(filepath.Join(root, "sys/devices/virtual/net/lo"))
	if !errors.Is(err, smierr.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestAttributeErrorsAreClassified(t *testing.T) {
	root := t.TempDir()

	_, err := ReadAttribute(filepath.Join(root, "missing"))
	if !errors.Is(err, smierr.ErrNotSupported) {
		t.Errorf("missing attribute: %v, want not supported", err)
	}

	err = WriteAttribute(filepath.Join(root, "missing"), "SPX")
	if !errors.Is(err, smierr.ErrNotSupported) {
		t.Errorf("write to missing attribute: %v, want not supported", err)
	}

	writeSyntheticFile(t, root, "count", "twelve\n")
	_, err = ReadUint64(filepath.Join(root, "count"))
	if !errors.Is(err, smierr.ErrUnexpectedData) {
		t.Errorf("non-numeric attribute: %v, want unexpected data", err)
	}
}

func TestWriteAttributeReplacesContent(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "current_compute_partition", "SPX\n")

	path := filepath.Join(root, "current_compute_partition")
	if err := WriteAttribute(path, "CPX"); err != nil {
		t.Fatalf("WriteAttribute: %v", err)
	}
	got, err := ReadAttribute(path)
	if err != nil {
		t.Fatalf("ReadAttribute: %v", err)
	}
	if got != "CPX" {
		t.Errorf("attribute = %q, want CPX", got)
	}
}
