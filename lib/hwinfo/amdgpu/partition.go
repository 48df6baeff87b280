// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package amdgpu

import (
	"path/filepath"

	"github.com/bureau-foundation/accelsmi/lib/hwinfo"
	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// Attribute names under the PCI device directory.
const (
	currentComputePartition   = "current_compute_partition"
	availableComputePartition = "available_compute_partition"
	currentMemoryPartition    = "current_memory_partition"
	partitionConfigDir        = "compute_partition_config"
)

// resourceDirs maps resource types to their directory under
// compute_partition_config. Encoders have none.
var resourceDirs = map[partition.ResourceType]string{
	partition.ResourceXCC:     "xcc",
	partition.ResourceDMA:     "dma",
	partition.ResourceDecoder: "dec",
	partition.ResourceJPEG:    "jpeg",
}

func (b *Backend) attributePath(id processor.Identity, elements ...string) (string, error) {
	dev, err := b.device(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{dev.path}, elements...)...), nil
}

func (b *Backend) readAttribute(id processor.Identity, elements ...string) (string, error) {
	path, err := b.attributePath(id, elements...)
	if err != nil {
		return "", err
	}
	return hwinfo.ReadAttribute(path)
}

func (b *Backend) writeAttribute(id processor.Identity, value string, elements ...string) error {
	path, err := b.attributePath(id, elements...)
	if err != nil {
		return err
	}
	return hwinfo.WriteAttribute(path, value)
}

// SupportedPartitionConfigs implements partition.Source.
func (b *Backend) SupportedPartitionConfigs(id processor.Identity) (string, error) {
	return b.readAttribute(id, partitionConfigDir, "supported_xcp_configs")
}

// PartitionCapabilities implements partition.Source.
func (b *Backend) PartitionCapabilities(id processor.Identity) (string, error) {
	return b.readAttribute(id, availableComputePartition)
}

// ComputeUnitCount implements partition.Source. The count is the total
// of num_xcc across the device's KFD nodes, which is independent of
// the current compute mode.
func (b *Backend) ComputeUnitCount(id processor.Identity) (uint32, error) {
	nodes, err := b.kfdNodes(id)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, node := range nodes {
		count, ok := node.Property("num_xcc")
		if !ok {
			return 0, smierr.NotSupported("KFD node %d does not report num_xcc", node.ID)
		}
		total += count
	}
	return uint32(total), nil
}

// SelectPartitionConfig implements partition.Source by writing the
// profile name to compute_partition_config/xcp_config, after which the
// resource and memory files describe that profile.
func (b *Backend) SelectPartitionConfig(id processor.Identity, profile partition.ProfileType) error {
	return b.writeAttribute(id, profile.String(), partitionConfigDir, "xcp_config")
}

// SupportedMemoryConfigs implements partition.Source.
func (b *Backend) SupportedMemoryConfigs(id processor.Identity) (string, error) {
	return b.readAttribute(id, partitionConfigDir, "supported_nps_configs")
}

// ResourceProfile implements partition.Source. The profile argument is
// informational: the files reflect whichever profile was last selected.
func (b *Backend) ResourceProfile(id processor.Identity, profile partition.ProfileType, resource partition.ResourceType) (partition.ResourceShare, error) {
	dir, ok := resourceDirs[resource]
	if !ok {
		return partition.ResourceShare{}, smierr.NotSupported("amdgpu does not partition %s", resource)
	}
	base, err := b.attributePath(id, partitionConfigDir, dir)
	if err != nil {
		return partition.ResourceShare{}, err
	}
	instances, err := hwinfo.ReadUint64(filepath.Join(base, "num_inst"))
	if err != nil {
		return partition.ResourceShare{}, err
	}
	shared, err := hwinfo.ReadUint64(filepath.Join(base, "num_shared"))
	if err != nil {
		return partition.ResourceShare{}, err
	}
	return partition.ResourceShare{
		PartitionResource: uint32(instances),
		PartitionsSharing: uint32(shared),
	}, nil
}

// SetComputePartition implements partition.Source.
func (b *Backend) SetComputePartition(id processor.Identity, profile partition.ProfileType) error {
	if err := b.writeAttribute(id, profile.String(), currentComputePartition); err != nil {
		return err
	}
	b.invalidateTopology()
	return nil
}

// CurrentComputePartition implements partition.Source.
func (b *Backend) CurrentComputePartition(id processor.Identity) (string, error) {
	return b.readAttribute(id, currentComputePartition)
}

// PartitionCount implements partition.Source: one KFD node per
// instantiated partition.
func (b *Backend) PartitionCount(id processor.Identity) (uint32, error) {
	nodes, err := b.kfdNodes(id)
	if err != nil {
		return 0, err
	}
	return uint32(len(nodes)), nil
}

// CurrentMemoryPartition implements partition.Source.
func (b *Backend) CurrentMemoryPartition(id processor.Identity) (string, error) {
	return b.readAttribute(id, currentMemoryPartition)
}

// SetMemoryPartition implements partition.Source.
func (b *Backend) SetMemoryPartition(id processor.Identity, mode partition.MemoryMode) error {
	if err := b.writeAttribute(id, mode.String(), currentMemoryPartition); err != nil {
		return err
	}
	b.invalidateTopology()
	return nil
}
