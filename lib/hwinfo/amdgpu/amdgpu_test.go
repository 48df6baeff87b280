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
	"strings"
	"testing"

	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/topology"
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

// writeSyntheticSymlink creates a symlink at the given path within root.
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

// createSyntheticCard sets up a synthetic sysfs tree for one DRM card
// bound to driver.
func createSyntheticCard(t *testing.T, root string, card int, driver, pciID, pciSlot string) string {
	t.Helper()

	devicePath := filepath.Join("sys/class/drm", fmt.Sprintf("card%d", card), "device")
	driverDir := filepath.Join(root, "sys/bus/pci/drivers", driver)
	if err := os.MkdirAll(driverDir, 0755); err != nil {
		t.Fatalf("mkdir driver: %v", err)
	}
	writeSyntheticSymlink(t, root, filepath.Join(devicePath, "driver"), driverDir)
	writeSyntheticFile(t, root, filepath.Join(devicePath, "uevent"),
		"DRIVER="+driver+"\nPCI_CLASS=38000\nPCI_ID="+pciID+"\nPCI_SLOT_NAME="+pciSlot+"\n")
	return devicePath
}

// createPartitionAttributes writes the compute and memory partition
// attributes of an MI300-class device in SPX/NPS1 mode.
func createPartitionAttributes(t *testing.T, root, devicePath string) {
	t.Helper()
	files := map[string]string{
		"current_compute_partition":                      "SPX\n",
		"available_compute_partition":                    "SPX, DPX, QPX, CPX\n",
		"current_memory_partition":                       "NPS1\n",
		"compute_partition_config/supported_xcp_configs": "SPX, DPX, QPX, CPX\n",
		"compute_partition_config/supported_nps_configs": "NPS1, NPS4\n",
		"compute_partition_config/xcp_config":            "SPX\n",
		"compute_partition_config/xcc/num_inst":          "8\n",
		"compute_partition_config/xcc/num_shared":        "1\n",
		"compute_partition_config/dma/num_inst":          "2\n",
		"compute_partition_config/dma/num_shared":        "1\n",
		"compute_partition_config/dec/num_inst":          "4\n",
		"compute_partition_config/dec/num_shared":        "1\n",
		"compute_partition_config/jpeg/num_inst":         "32\n",
		"compute_partition_config/jpeg/num_shared":       "1\n",
	}
	for name, content := range files {
		writeSyntheticFile(t, root, filepath.Join(devicePath, name), content)
	}
}

// writeKFDNode writes one node of the KFD topology. links are
// "to:type:weight" triples.
func writeKFDNode(t *testing.T, root string, id int, gpuID int, properties string, links ...[3]int) {
	t.Helper()
	dir := fmt.Sprintf("sys/class/kfd/kfd/topology/nodes/%d", id)
	writeSyntheticFile(t, root, dir+"/properties", properties)
	writeSyntheticFile(t, root, dir+"/gpu_id", fmt.Sprintf("%d\n", gpuID))
	for index, link := range links {
		writeSyntheticFile(t, root, fmt.Sprintf("%s/io_links/%d/properties", dir, index),
			fmt.Sprintf("type %d\nnode_from %d\nnode_to %d\nweight %d\n", link[1], id, link[0], link[2]))
	}
}

func gpuNodeProperties(bus int, xcc int) string {
	return strings.Join([]string{
		"cpu_cores_count 0",
		"simd_count 304",
		fmt.Sprintf("location_id %d", bus<<8),
		"domain 0",
		fmt.Sprintf("num_xcc %d", xcc),
	}, "\n") + "\n"
}

// syntheticHost builds two amdgpu accelerators joined by XGMI under one
// CPU, plus DRM entries that discovery must skip.
func syntheticHost(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	first := createSyntheticCard(t, root, 0, "amdgpu", "1002:74A1", "0000:c1:00.0")
	writeSyntheticFile(t, root, filepath.Join(first, "product_name"), "AMD Instinct MI300X\n")
	createPartitionAttributes(t, root, first)
	createSyntheticCard(t, root, 1, "amdgpu", "1002:74A1", "0000:c2:00.0")
	createSyntheticCard(t, root, 2, "nvidia", "10DE:2330", "0000:41:00.0")
	writeSyntheticFile(t, root, "sys/class/drm/card1-DP-1/status", "disconnected\n")
	writeSyntheticFile(t, root, "sys/class/drm/renderD128/dev", "226:128\n")

	writeKFDNode(t, root, 0, 0, "cpu_cores_count 96\nsimd_count 0\n")
	writeKFDNode(t, root, 1, 53211, gpuNodeProperties(0xc1, 8), [3]int{0, 2, 20}, [3]int{2, 11, 15})
	writeKFDNode(t, root, 2, 17003, gpuNodeProperties(0xc2, 8), [3]int{0, 2, 20}, [3]int{1, 11, 15})
	return root
}

func discoverHost(t *testing.T, root string) (*Backend, []processor.Identity) {
	t.Helper()
	backend := NewBackend(filepath.Join(root, "sys"), "", slog.New(slog.DiscardHandler))
	identities, err := backend.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend, identities
}

func TestDiscover(t *testing.T) {
	_, identities := discoverHost(t, syntheticHost(t))

	if len(identities) != 2 {
		t.Fatalf("Discover returned %d accelerators, want 2", len(identities))
	}
	for i, want := range []struct {
		address, socket, name string
	}{
		{"0000:c1:00.0", "0000:c1:00", "AMD Instinct MI300X"},
		{"0000:c2:00.0", "0000:c2:00", "AMD 0x74a1"},
	} {
		got := identities[i]
		if got.Kind != processor.Accelerator {
			t.Errorf("identity %d kind = %s", i, got.Kind)
		}
		if got.BusAddress.String() != want.address || got.SocketID != want.socket {
			t.Errorf("identity %d = %s socket %s, want %s socket %s",
				i, got.BusAddress, got.SocketID, want.address, want.socket)
		}
		if got.Name != want.name {
			t.Errorf("identity %d name = %q, want %q", i, got.Name, want.name)
		}
		if got.DeviceIndex != i {
			t.Errorf("identity %d device index = %d", i, got.DeviceIndex)
		}
	}
}

func TestDiscoverWithoutDRM(t *testing.T) {
	_, identities := discoverHost(t, t.TempDir())
	if len(identities) != 0 {
		t.Errorf("Discover on empty sysfs returned %d accelerators", len(identities))
	}
}

func TestResolvePartitionConfig(t *testing.T) {
	root := syntheticHost(t)
	backend, identities := discoverHost(t, root)
	resolver := partition.NewResolver(slog.New(slog.DiscardHandler))

	config, err := resolver.Resolve(backend, identities[0])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := []struct {
		profile    partition.ProfileType
		partitions uint32
	}{
		{partition.ProfileSPX, 1},
		{partition.ProfileDPX, 2},
		{partition.ProfileQPX, 4},
		{partition.ProfileCPX, 8},
	}
	if len(config.Profiles) != len(want) {
		t.Fatalf("got %d profiles, want %d", len(config.Profiles), len(want))
	}
	for i, w := range want {
		profile := config.Profiles[i]
		if profile.Type != w.profile || profile.NumPartitions != w.partitions {
			t.Errorf("profile %d = %s/%d, want %s/%d", i, profile.Type, profile.NumPartitions, w.profile, w.partitions)
		}
		if !profile.MemoryCaps.Has(partition.MemoryNPS1) || !profile.MemoryCaps.Has(partition.MemoryNPS4) {
			t.Errorf("profile %s memory caps = %s", profile.Type, profile.MemoryCaps)
		}
		// Every resource but the encoder.
		if profile.NumResources != 4 {
			t.Errorf("profile %s has %d resources, want 4", profile.Type, profile.NumResources)
		}
	}

	for _, resource := range config.ResourcesFor(0) {
		if resource.Resource == partition.ResourceXCC && resource.PartitionResource != 8 {
			t.Errorf("XCC per partition = %d, want 8", resource.PartitionResource)
		}
	}

	// Resolution walks every profile; the last one stays selected.
	selected, err := os.ReadFile(filepath.Join(root, "sys/class/drm/card0/device/compute_partition_config/xcp_config"))
	if err != nil {
		t.Fatalf("reading xcp_config: %v", err)
	}
	if string(selected) != "CPX" {
		t.Errorf("xcp_config = %q, want CPX", selected)
	}
}

func TestSetComputePartition(t *testing.T) {
	root := syntheticHost(t)
	backend, identities := discoverHost(t, root)
	resolver := partition.NewResolver(slog.New(slog.DiscardHandler))

	profile, err := resolver.SetProfile(backend, identities[0], 3)
	if err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	if profile != partition.ProfileCPX {
		t.Errorf("SetProfile(3) = %s, want CPX", profile)
	}

	current, err := resolver.Current(backend, identities[0])
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.Type != partition.ProfileCPX || current.Index != 3 {
		t.Errorf("Current = %+v, want CPX at index 3", current)
	}
	if current.NumPartitions != 1 {
		t.Errorf("NumPartitions = %d, want 1 (one KFD node)", current.NumPartitions)
	}

	if _, err := resolver.SetProfile(backend, identities[0], 4); !errors.Is(err, smierr.ErrInvalidArgument) {
		t.Errorf("SetProfile(4): %v, want invalid argument", err)
	}
}

func TestMemoryPartition(t *testing.T) {
	root := syntheticHost(t)
	backend, identities := discoverHost(t, root)
	resolver := partition.NewResolver(slog.New(slog.DiscardHandler))

	if err := resolver.SetMemory(backend, identities[0], partition.MemoryNPS4); err != nil {
		t.Fatalf("SetMemory(NPS4): %v", err)
	}
	memory, err := resolver.Memory(backend, identities[0])
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	if memory.Mode != partition.MemoryNPS4 {
		t.Errorf("memory mode = %s, want NPS4", memory.Mode)
	}

	if err := resolver.SetMemory(backend, identities[0], partition.MemoryNPS2); !errors.Is(err, smierr.ErrInvalidArgument) {
		t.Errorf("SetMemory(NPS2): %v, want invalid argument", err)
	}
}

func TestPartitionAttributesMissing(t *testing.T) {
	backend, identities := discoverHost(t, syntheticHost(t))

	// card1 has no partition attributes at all.
	_, err := partition.NewResolver(slog.New(slog.DiscardHandler)).Resolve(backend, identities[1])
	if !errors.Is(err, smierr.ErrNotSupported) {
		t.Fatalf("Resolve on device without partition attributes: %v, want not supported", err)
	}
	if _, err := backend.ResourceProfile(identities[0], partition.ProfileSPX, partition.ResourceEncoder); !errors.Is(err, smierr.ErrNotSupported) {
		t.Errorf("encoder resource profile: %v, want not supported", err)
	}
}

func TestPeerTopology(t *testing.T) {
	backend, identities := discoverHost(t, syntheticHost(t))

	accessible, err := backend.Accessible(identities[0], identities[1])
	if err != nil || !accessible {
		t.Fatalf("Accessible = %v, %v; want true", accessible, err)
	}
	linkType, hops, err := backend.LinkTypeAndHops(identities[0], identities[1])
	if err != nil {
		t.Fatalf("LinkTypeAndHops: %v", err)
	}
	if linkType != topology.LinkXGMI || hops != 1 {
		t.Errorf("link = %s/%d hops, want xgmi/1", linkType, hops)
	}
	weight, err := backend.LinkWeight(identities[0], identities[1])
	if err != nil {
		t.Fatalf("LinkWeight: %v", err)
	}
	if weight != 15 {
		t.Errorf("weight = %d, want 15", weight)
	}

	source := processor.New(identities[0], backend)
	peer := processor.New(identities[1], backend)
	result, err := topology.NewRanker(slog.New(slog.DiscardHandler)).Rank(source, topology.LinkXGMI, []*processor.Processor{source, peer})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if result.Count != 1 || result.Peers[0].Target != peer {
		t.Errorf("Rank = %+v, want the one XGMI peer", result)
	}
}

func TestPeerTopologyWithoutKFD(t *testing.T) {
	root := syntheticHost(t)
	if err := os.RemoveAll(filepath.Join(root, "sys/class/kfd")); err != nil {
		t.Fatal(err)
	}
	backend, identities := discoverHost(t, root)
	if len(identities) != 2 {
		t.Fatalf("Discover without KFD returned %d accelerators, want 2", len(identities))
	}

	if _, err := backend.Accessible(identities[0], identities[1]); !errors.Is(err, smierr.ErrNotSupported) {
		t.Errorf("Accessible without KFD: %v, want not supported", err)
	}
	if _, err := backend.PartitionCount(identities[0]); !errors.Is(err, smierr.ErrNotSupported) {
		t.Errorf("PartitionCount without KFD: %v, want not supported", err)
	}
}

func TestForeignDeviceIndex(t *testing.T) {
	backend, _ := discoverHost(t, syntheticHost(t))
	_, err := backend.CurrentComputePartition(processor.Identity{Kind: processor.Accelerator, DeviceIndex: 9})
	if !errors.Is(err, smierr.ErrNotFound) {
		t.Errorf("out-of-range device index: %v, want not found", err)
	}
}
