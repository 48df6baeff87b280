// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pcidev

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/accelsmi/lib/processor"
)

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

// createPCIFunction writes a PCI function under sys/devices and its
// sys/bus/pci/devices link. parent is the bridge path below
// sys/devices.
func createPCIFunction(t *testing.T, root, parent, slot, vendor, device string) string {
	t.Helper()
	devicePath := filepath.Join("devices", parent, slot)
	writeSyntheticFile(t, root, filepath.Join("sys", devicePath, "vendor"), vendor+"\n")
	writeSyntheticFile(t, root, filepath.Join("sys", devicePath, "device"), device+"\n")
	writeSyntheticSymlink(t, root, filepath.Join("sys/bus/pci/devices", slot), filepath.Join("../../..", devicePath))
	return devicePath
}

func createNetInterface(t *testing.T, root, name, devicePath string) {
	t.Helper()
	writeSyntheticSymlink(t, root, filepath.Join("sys/class/net", name, "device"), filepath.Join("../../..", devicePath))
}

func createSCSIHost(t *testing.T, root, host, devicePath string) {
	t.Helper()
	hostPath := filepath.Join(devicePath, host, "scsi_host", host)
	writeSyntheticFile(t, root, filepath.Join("sys", hostPath, "proc_name"), "mpi3mr\n")
	writeSyntheticSymlink(t, root, filepath.Join("sys/class/scsi_host", host), filepath.Join("../..", hostPath))
}

func syntheticHost(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	pensando := createPCIFunction(t, root, "pci0000:c0/0000:c0:01.1", "0000:c1:00.1", "0x1dd8", "0x1002")
	createNetInterface(t, root, "enp193s0f1", pensando)
	createNetInterface(t, root, "enp193s0f1np1", pensando)
	second := createPCIFunction(t, root, "pci0000:00/0000:00:01.1", "0000:02:00.0", "0x1dd8", "0x1002")
	createNetInterface(t, root, "enp2s0", second)
	intel := createPCIFunction(t, root, "pci0000:00/0000:00:1c.0", "0000:05:00.0", "0x8086", "0x1533")
	createNetInterface(t, root, "eno1", intel)
	writeSyntheticFile(t, root, "sys/class/net/lo/type", "772\n")

	pcieSwitch := createPCIFunction(t, root, "pci0000:c0/0000:c0:01.1", "0000:c1:00.0", "0x1000", "0x00b2")
	createSCSIHost(t, root, "host0", pcieSwitch)
	sata := createPCIFunction(t, root, "pci0000:00", "0000:00:17.0", "0x8086", "0x2826")
	createSCSIHost(t, root, "host1", sata)
	return root
}

func TestDiscover(t *testing.T) {
	backend := NewBackend(filepath.Join(syntheticHost(t), "sys"), nil, slog.New(slog.DiscardHandler))
	identities, err := backend.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	expected := []struct {
		kind    processor.Kind
		address string
		name    string
	}{
		{processor.NetworkInterface, "0000:02:00.0", "enp2s0"},
		{processor.NetworkInterface, "0000:c1:00.1", "enp193s0f1"},
		{processor.Switch, "0000:c1:00.0", "Broadcom switch 0x00b2"},
	}
	if len(identities) != len(expected) {
		t.Fatalf("Discover returned %d processors, want %d: %+v", len(identities), len(expected), identities)
	}
	for i, want := range expected {
		got := identities[i]
		if got.Kind != want.kind || got.BusAddress.String() != want.address || got.Name != want.name {
			t.Errorf("processor %d = %s %s %q, want %s %s %q",
				i, got.Kind, got.BusAddress, got.Name, want.kind, want.address, want.name)
		}
		if got.SocketID != got.BusAddress.SocketID() {
			t.Errorf("processor %d socket = %s", i, got.SocketID)
		}
		if got.DeviceIndex != i {
			t.Errorf("processor %d device index = %d", i, got.DeviceIndex)
		}
	}
}

func TestDiscoverConfiguredVendors(t *testing.T) {
	backend := NewBackend(filepath.Join(syntheticHost(t), "sys"), []uint16{0x8086}, slog.New(slog.DiscardHandler))
	identities, err := backend.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	var nics []string
	for _, identity := range identities {
		if identity.Kind == processor.NetworkInterface {
			nics = append(nics, identity.Name)
		}
	}
	if len(nics) != 1 || nics[0] != "eno1" {
		t.Errorf("NICs = %v, want [eno1]", nics)
	}
}

func TestDiscoverEmptyHost(t *testing.T) {
	backend := NewBackend(t.TempDir(), nil, slog.New(slog.DiscardHandler))
	identities, err := backend.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(identities) != 0 {
		t.Errorf("Discover on an empty host returned %d processors", len(identities))
	}
}
