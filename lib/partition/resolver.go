// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package partition

import (
	"errors"
	"log/slog"
	"math"
	"strings"

	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// InvalidIndex marks a profile index or partition count the device
// did not report.
const InvalidIndex = math.MaxUint32

// Source is the raw partition interface a device backend provides.
// Every method addresses the device through the Identity's
// DeviceIndex. String results are the device's own capability text,
// e.g. "SPX, DPX, QPX, CPX" or "NPS1, NPS4".
type Source interface {
	// SupportedPartitionConfigs returns the richer list of supported
	// compute partition configurations. May fail with
	// smierr.KindPermissionDenied on devices that restrict it.
	SupportedPartitionConfigs(id processor.Identity) (string, error)

	// PartitionCapabilities returns the coarser capability list used
	// when SupportedPartitionConfigs is not readable.
	PartitionCapabilities(id processor.Identity) (string, error)

	// ComputeUnitCount returns the number of compute dies, which is
	// the partition count of CPX mode.
	ComputeUnitCount(id processor.Identity) (uint32, error)

	// SelectPartitionConfig points subsequent resource and memory
	// queries at the given profile.
	SelectPartitionConfig(id processor.Identity, profile ProfileType) error

	// SupportedMemoryConfigs returns the memory modes available under
	// the selected profile.
	SupportedMemoryConfigs(id processor.Identity) (string, error)

	// ResourceProfile returns how one resource is shared under the
	// given profile.
	ResourceProfile(id processor.Identity, profile ProfileType, resource ResourceType) (ResourceShare, error)

	// SetComputePartition switches the device to a compute mode.
	SetComputePartition(id processor.Identity, profile ProfileType) error

	// CurrentComputePartition returns the active compute mode name.
	CurrentComputePartition(id processor.Identity) (string, error)

	// PartitionCount returns the number of partitions currently
	// instantiated.
	PartitionCount(id processor.Identity) (uint32, error)

	// CurrentMemoryPartition returns the active memory mode name.
	CurrentMemoryPartition(id processor.Identity) (string, error)

	// SetMemoryPartition switches the device to a memory mode.
	SetMemoryPartition(id processor.Identity, mode MemoryMode) error
}

// Profile is one compute partition mode a device advertises.
type Profile struct {
	Type          ProfileType `json:"profile_type" yaml:"profile_type" cbor:"profile_type"`
	Index         uint32      `json:"profile_index" yaml:"profile_index" cbor:"profile_index"`
	NumPartitions uint32      `json:"num_partitions" yaml:"num_partitions" cbor:"num_partitions"`
	MemoryCaps    MemoryCaps  `json:"memory_caps" yaml:"memory_caps" cbor:"memory_caps"`
	NumResources  uint32      `json:"num_resources" yaml:"num_resources" cbor:"num_resources"`
}

// ResourceProfile describes how one resource is shared under the
// profile at ProfileIndex.
type ResourceProfile struct {
	ProfileIndex      uint32       `json:"profile_index" yaml:"profile_index" cbor:"profile_index"`
	Resource          ResourceType `json:"resource_type" yaml:"resource_type" cbor:"resource_type"`
	PartitionResource uint32       `json:"partition_resource" yaml:"partition_resource" cbor:"partition_resource"`
	PartitionsSharing uint32       `json:"num_partitions_share_resource" yaml:"num_partitions_share_resource" cbor:"num_partitions_share_resource"`
}

// Config is the resolved partition table of one device.
type Config struct {
	DefaultProfileIndex uint32            `json:"default_profile_index" yaml:"default_profile_index" cbor:"default_profile_index"`
	Profiles            []Profile         `json:"profiles" yaml:"profiles" cbor:"profiles"`
	Resources           []ResourceProfile `json:"resource_profiles" yaml:"resource_profiles" cbor:"resource_profiles"`
}

// NumResourceProfiles is the aggregate count of resource profiles.
func (c *Config) NumResourceProfiles() int { return len(c.Resources) }

// ResourcesFor returns the resource profiles bound to one profile.
func (c *Config) ResourcesFor(profileIndex uint32) []ResourceProfile {
	var resources []ResourceProfile
	for _, resource := range c.Resources {
		if resource.ProfileIndex == profileIndex {
			resources = append(resources, resource)
		}
	}
	return resources
}

// Current is the active compute partition of a device.
type Current struct {
	Type ProfileType `json:"profile_type" yaml:"profile_type" cbor:"profile_type"`

	// Index is the position of Type in the device's capability list,
	// or InvalidIndex when the active mode is not listed.
	Index uint32 `json:"profile_index" yaml:"profile_index" cbor:"profile_index"`

	// NumPartitions is InvalidIndex when the device does not report it.
	NumPartitions uint32 `json:"num_partitions" yaml:"num_partitions" cbor:"num_partitions"`
}

// MemoryConfig is the active memory partition and the modes available.
type MemoryConfig struct {
	Mode MemoryMode `json:"mode" yaml:"mode" cbor:"mode"`
	Caps MemoryCaps `json:"caps" yaml:"caps" cbor:"caps"`
}

// Resolver builds partition tables from a device's capability text.
// It holds no per-device state; callers serialize access to a device
// with the processor's lock.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// SourceOf returns p's partition source. Non-accelerators and
// backends without partition support yield smierr.KindNotSupported.
func SourceOf(p *processor.Processor) (Source, error) {
	if p.Kind() != processor.Accelerator {
		return nil, smierr.NotSupported("partitioning is not available on %s", p)
	}
	source, ok := p.Driver().(Source)
	if !ok {
		return nil, smierr.NotSupported("%s backend does not support partitioning", p.Driver().Name())
	}
	return source, nil
}

// capabilities fetches the compute mode list. The supported-configs
// query is preferred; only a permission failure falls back to the
// capabilities query. Errors are returned unchanged.
func (r *Resolver) capabilities(source Source, id processor.Identity) (string, error) {
	text, err := source.SupportedPartitionConfigs(id)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, smierr.ErrPermissionDenied) {
		return "", err
	}

	r.logger.Debug("supported partition configs not readable, using capabilities",
		"bus_address", id.BusAddress.String(),
		"error", err)

	text, err = source.PartitionCapabilities(id)
	if err != nil {
		return "", err
	}
	return text, nil
}

// profileTable builds the profile list from the capability text
// without touching per-profile state. Index i of the result is the
// profile with Index i.
func (r *Resolver) profileTable(source Source, id processor.Identity) ([]Profile, error) {
	text, err := r.capabilities(source, id)
	if err != nil {
		return nil, err
	}

	var profiles []Profile
	for _, profileType := range canonicalProfiles {
		if !strings.Contains(text, profileType.String()) {
			continue
		}
		partitions, fixed := fixedPartitions[profileType]
		if !fixed {
			count, err := source.ComputeUnitCount(id)
			if err != nil {
				r.logger.Debug("compute unit count unavailable",
					"bus_address", id.BusAddress.String(),
					"error", err)
				count = 0
			}
			partitions = count
		}
		profiles = append(profiles, Profile{
			Type:          profileType,
			Index:         uint32(len(profiles)),
			NumPartitions: partitions,
		})
	}
	return profiles, nil
}

// Resolve builds the full partition table: every advertised profile
// with its memory capabilities and resource-sharing descriptors. Only
// the capability fetch is fatal; per-profile and per-resource query
// failures omit the affected data.
func (r *Resolver) Resolve(source Source, id processor.Identity) (*Config, error) {
	profiles, err := r.profileTable(source, id)
	if err != nil {
		return nil, err
	}

	config := &Config{Profiles: profiles}
	for i := range config.Profiles {
		profile := &config.Profiles[i]

		if err := source.SelectPartitionConfig(id, profile.Type); err != nil {
			r.logger.Debug("selecting partition config failed",
				"bus_address", id.BusAddress.String(),
				"profile", profile.Type.String(),
				"error", err)
		}

		if text, err := source.SupportedMemoryConfigs(id); err == nil {
			profile.MemoryCaps |= parseMemoryCaps(text)
		}

		for _, resource := range ResourceTypes() {
			share, err := source.ResourceProfile(id, profile.Type, resource)
			if err != nil {
				continue
			}
			config.Resources = append(config.Resources, ResourceProfile{
				ProfileIndex:      profile.Index,
				Resource:          resource,
				PartitionResource: share.PartitionResource,
				PartitionsSharing: share.PartitionsSharing,
			})
			profile.NumResources++
		}
	}
	return config, nil
}

// SetProfile switches the device to the profile at index and returns
// its type. An index the device does not advertise is rejected with
// smierr.KindInvalidArgument.
func (r *Resolver) SetProfile(source Source, id processor.Identity, index uint32) (ProfileType, error) {
	profiles, err := r.profileTable(source, id)
	if err != nil {
		return ProfileInvalid, err
	}
	if index >= uint32(len(profiles)) {
		return ProfileInvalid, smierr.InvalidArgument("profile index %d out of range: device advertises %d profiles", index, len(profiles))
	}

	profileType := profiles[index].Type
	if err := source.SetComputePartition(id, profileType); err != nil {
		return ProfileInvalid, err
	}
	r.logger.Info("compute partition changed",
		"bus_address", id.BusAddress.String(),
		"profile", profileType.String(),
		"profile_index", index)
	return profileType, nil
}

// Current reports the active compute partition. The index is the
// position of the active mode in the comma-separated capability list.
func (r *Resolver) Current(source Source, id processor.Identity) (Current, error) {
	current := Current{Type: ProfileInvalid, Index: InvalidIndex, NumPartitions: InvalidIndex}

	name, err := source.CurrentComputePartition(id)
	if err != nil {
		return current, err
	}
	profileType, err := ParseProfileType(name)
	if err != nil {
		return current, smierr.UnexpectedData("current compute partition: %w", err)
	}
	current.Type = profileType

	if text, err := r.capabilities(source, id); err == nil {
		for position, token := range strings.Split(text, ",") {
			if strings.TrimSpace(token) == profileType.String() {
				current.Index = uint32(position)
				break
			}
		}
	}

	if count, err := source.PartitionCount(id); err == nil {
		current.NumPartitions = count
	}
	return current, nil
}

// Memory reports the active memory partition and the supported modes.
func (r *Resolver) Memory(source Source, id processor.Identity) (MemoryConfig, error) {
	config := MemoryConfig{Mode: MemoryInvalid}

	name, err := source.CurrentMemoryPartition(id)
	if err != nil {
		return config, err
	}
	mode, err := ParseMemoryMode(name)
	if err != nil {
		return config, smierr.UnexpectedData("current memory partition: %w", err)
	}
	config.Mode = mode

	if text, err := source.SupportedMemoryConfigs(id); err == nil {
		config.Caps = parseMemoryCaps(text)
	}
	return config, nil
}

// SetMemory switches the device to a memory mode. Modes outside the
// advertised caps are rejected before the device is touched.
func (r *Resolver) SetMemory(source Source, id processor.Identity, mode MemoryMode) error {
	if mode == MemoryInvalid || mode > MemoryNPS8 {
		return smierr.InvalidArgument("invalid memory partition mode %d", uint32(mode))
	}
	if text, err := source.SupportedMemoryConfigs(id); err == nil {
		if caps := parseMemoryCaps(text); caps != 0 && !caps.Has(mode) {
			return smierr.InvalidArgument("memory partition %s not supported (device offers %s)", mode, caps)
		}
	}
	if err := source.SetMemoryPartition(id, mode); err != nil {
		return err
	}
	r.logger.Info("memory partition changed",
		"bus_address", id.BusAddress.String(),
		"mode", mode.String())
	return nil
}
