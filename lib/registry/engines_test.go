// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/accelsmi/lib/clock"
	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/testutil"
	"github.com/bureau-foundation/accelsmi/lib/topology"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

// deviceBackend adds partition and metrics answers to fakeBackend.
type deviceBackend struct {
	*fakeBackend

	computeMode string
	memoryMode  string
	samples     []violation.Sample
}

func (d *deviceBackend) SupportedPartitionConfigs(processor.Identity) (string, error) {
	return "SPX, DPX, CPX", nil
}

func (d *deviceBackend) PartitionCapabilities(processor.Identity) (string, error) {
	return "", smierr.NotSupported("unused")
}

func (d *deviceBackend) ComputeUnitCount(processor.Identity) (uint32, error) { return 8, nil }

func (d *deviceBackend) SelectPartitionConfig(processor.Identity, partition.ProfileType) error {
	return nil
}

func (d *deviceBackend) SupportedMemoryConfigs(processor.Identity) (string, error) {
	return "NPS1, NPS4", nil
}

func (d *deviceBackend) ResourceProfile(_ processor.Identity, profile partition.ProfileType, resource partition.ResourceType) (partition.ResourceShare, error) {
	if resource != partition.ResourceXCC {
		return partition.ResourceShare{}, smierr.NotSupported("no %s", resource)
	}
	return partition.ResourceShare{PartitionResource: 8 / uint32(profile), PartitionsSharing: 1}, nil
}

func (d *deviceBackend) SetComputePartition(_ processor.Identity, profile partition.ProfileType) error {
	d.computeMode = profile.String()
	return nil
}

func (d *deviceBackend) CurrentComputePartition(processor.Identity) (string, error) {
	return d.computeMode, nil
}

func (d *deviceBackend) PartitionCount(processor.Identity) (uint32, error) { return 1, nil }

func (d *deviceBackend) CurrentMemoryPartition(processor.Identity) (string, error) {
	return d.memoryMode, nil
}

func (d *deviceBackend) SetMemoryPartition(_ processor.Identity, mode partition.MemoryMode) error {
	d.memoryMode = mode.String()
	return nil
}

func (d *deviceBackend) ViolationSample(processor.Identity) (violation.Sample, error) {
	sample := d.samples[0]
	d.samples = d.samples[1:]
	return sample, nil
}

func newDeviceBackend(t *testing.T) *deviceBackend {
	return &deviceBackend{fakeBackend: twoSocketHost(t), computeMode: "SPX", memoryMode: "NPS1"}
}

func acceleratorHandle(t *testing.T, reg *Registry, address string) ProcessorHandle {
	t.Helper()
	handle, err := reg.ProcessorByBusAddress(mustAddress(t, address))
	if err != nil {
		t.Fatalf("ProcessorByBusAddress(%s): %v", address, err)
	}
	return handle
}

func TestPartitionThroughRegistry(t *testing.T) {
	backend := newDeviceBackend(t)
	reg := newInitialized(t, backend)
	gpu := acceleratorHandle(t, reg, "0000:c1:00.0")

	config, err := reg.PartitionConfig(gpu)
	if err != nil {
		t.Fatalf("PartitionConfig: %v", err)
	}
	if len(config.Profiles) != 3 {
		t.Fatalf("got %d profiles, want 3", len(config.Profiles))
	}
	if config.Profiles[2].Type != partition.ProfileCPX || config.Profiles[2].NumPartitions != 8 {
		t.Errorf("profile 2 = %+v, want CPX with 8 partitions", config.Profiles[2])
	}
	if config.NumResourceProfiles() != 3 {
		t.Errorf("resource profiles = %d, want 3", config.NumResourceProfiles())
	}

	profile, err := reg.SetPartitionProfile(gpu, 1)
	if err != nil {
		t.Fatalf("SetPartitionProfile: %v", err)
	}
	if profile != partition.ProfileDPX {
		t.Errorf("SetPartitionProfile(1) = %s, want DPX", profile)
	}
	current, err := reg.CurrentPartition(gpu)
	if err != nil {
		t.Fatalf("CurrentPartition: %v", err)
	}
	if current.Type != partition.ProfileDPX || current.Index != 1 {
		t.Errorf("CurrentPartition = %+v, want DPX at index 1", current)
	}

	_, err = reg.SetPartitionProfile(gpu, 3)
	requireKind(t, err, smierr.ErrInvalidArgument)

	if err := reg.SetMemoryPartition(gpu, partition.MemoryNPS4); err != nil {
		t.Fatalf("SetMemoryPartition: %v", err)
	}
	memory, err := reg.MemoryPartition(gpu)
	if err != nil {
		t.Fatalf("MemoryPartition: %v", err)
	}
	if memory.Mode != partition.MemoryNPS4 || !memory.Caps.Has(partition.MemoryNPS1) {
		t.Errorf("MemoryPartition = %+v", memory)
	}
}

func TestPartitionRejectsNonAccelerator(t *testing.T) {
	reg := newInitialized(t, newDeviceBackend(t))
	nic := acceleratorHandle(t, reg, "0000:c2:00.1")
	_, err := reg.PartitionConfig(nic)
	requireKind(t, err, smierr.ErrNotSupported)
}

func TestPartitionWithoutSource(t *testing.T) {
	reg := newInitialized(t, twoSocketHost(t))
	gpu := acceleratorHandle(t, reg, "0000:c1:00.0")
	_, err := reg.PartitionConfig(gpu)
	requireKind(t, err, smierr.ErrNotSupported)
}

func TestNearestPeersRejectsInvalidLinkType(t *testing.T) {
	reg := newInitialized(t, twoSocketHost(t))
	gpu := acceleratorHandle(t, reg, "0000:c1:00.0")
	_, err := reg.NearestPeers(gpu, topology.LinkType(17))
	requireKind(t, err, smierr.ErrInvalidArgument)
	_, err = reg.NearestPeers(ProcessorHandle{}, topology.LinkXGMI)
	requireKind(t, err, smierr.ErrInvalidArgument)
}

func TestLinkBetween(t *testing.T) {
	reg := newInitialized(t, twoSocketHost(t))
	source := acceleratorHandle(t, reg, "0000:c1:00.0")
	nic := acceleratorHandle(t, reg, "0000:c2:00.1")

	peer, err := reg.LinkBetween(source, nic)
	if err != nil {
		t.Fatalf("LinkBetween: %v", err)
	}
	if !peer.Accessible || peer.LinkType != topology.LinkPCIe || peer.Hops != 2 || peer.Weight != 20 {
		t.Errorf("LinkBetween = %+v", peer)
	}
	if peer.Handle != nic {
		t.Errorf("LinkBetween handle = %v, want %v", peer.Handle, nic)
	}

	_, err = reg.LinkBetween(source, source)
	requireKind(t, err, smierr.ErrInvalidArgument)
}

func TestLinkBetweenBackends(t *testing.T) {
	first := twoSocketHost(t)
	second := &fakeBackend{
		name:       "other",
		identities: []processor.Identity{pciIdentity(t, processor.Accelerator, "0000:e1:00.0", 0)},
	}
	reg := newInitialized(t, first, second)

	peer, err := reg.LinkBetween(acceleratorHandle(t, reg, "0000:c1:00.0"), acceleratorHandle(t, reg, "0000:e1:00.0"))
	if err != nil {
		t.Fatalf("LinkBetween: %v", err)
	}
	if peer.Accessible {
		t.Error("processors on different backends reported accessible")
	}
	if peer.LinkType != topology.LinkNotApplicable || peer.Hops != 0 {
		t.Errorf("cross-backend link = %s/%d hops, want not_applicable/0", peer.LinkType, peer.Hops)
	}
}

func TestViolationStatusThroughRegistry(t *testing.T) {
	backend := newDeviceBackend(t)
	prochot := func(accumulation, residency uint64) violation.Sample {
		sample := violation.Sample{AccumulationCounter: accumulation}
		for i := range sample.Residency {
			sample.Residency[i] = violation.Sentinel
		}
		sample.Residency[violation.ProcessorHot] = residency
		return sample
	}
	backend.samples = []violation.Sample{prochot(1000, 50), prochot(1100, 70)}

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := New(Config{Backends: []Backend{backend}, Clock: fake})
	if err := reg.Init(context.Background(), InitAll); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer reg.Shutdown()
	gpu := acceleratorHandle(t, reg, "0000:c1:00.0")

	type outcome struct {
		status violation.Status
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		status, err := reg.ViolationStatus(gpu)
		done <- outcome{status, err}
	}()
	fake.WaitForTimers(1)
	fake.Advance(violation.MinInterval)
	result := testutil.RequireReceive(t, done, 5*time.Second, "waiting for ViolationStatus")
	if result.err != nil {
		t.Fatalf("ViolationStatus: %v", result.err)
	}
	category := result.status.Category(violation.ProcessorHot)
	if category.Percent != 20 || category.State != violation.StateActive {
		t.Errorf("ProcessorHot = %+v, want 20%% active", category)
	}
}
