// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/topology"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

// Backend serves a simulated host. It implements partition.Source,
// topology.LinkReporter, and violation.Sampler; partition changes persist in
// memory for the life of the backend.
type Backend struct {
	path   string
	host   *Host
	logger *slog.Logger

	mu      sync.Mutex
	devices []*simulated
	links   map[linkKey]LinkSpec
}

type linkKey struct{ from, to string }

// simulated is the mutable state of one processor.
type simulated struct {
	spec     *ProcessorSpec
	identity processor.Identity

	selected       partition.ProfileType
	current        string
	partitionCount uint32
	memory         string
	nextSample     int
}

// NewBackend creates a Backend that loads the host description at path
// on Discover.
func NewBackend(path string, logger *slog.Logger) *Backend {
	return &Backend{path: path, logger: logger}
}

// FromHost creates a Backend over an already parsed host.
func FromHost(host *Host, logger *slog.Logger) *Backend {
	return &Backend{host: host, logger: logger}
}

// Name implements processor.Driver.
func (b *Backend) Name() string { return "fixture" }

// Discover loads and validates the host and returns its processors in
// file order.
func (b *Backend) Discover(ctx context.Context) ([]processor.Identity, error) {
	host := b.host
	if host == nil {
		loaded, err := Load(b.path)
		if err != nil {
			return nil, smierr.Driver("loading fixture: %w", err)
		}
		host = loaded
	}
	if err := host.Validate(); err != nil {
		return nil, smierr.UnexpectedData("invalid fixture: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.devices = make([]*simulated, len(host.Processors))
	identities := make([]processor.Identity, len(host.Processors))
	for i := range host.Processors {
		spec := &host.Processors[i]
		identity := processor.Identity{
			Kind:        spec.Kind,
			BusAddress:  spec.BusAddress,
			Identifier:  spec.Identifier,
			SocketID:    spec.SocketID,
			Name:        spec.Name,
			DeviceIndex: i,
		}
		if identity.SocketID == "" {
			if spec.BusAddress.IsZero() {
				identity.SocketID = spec.Identifier
			} else {
				identity.SocketID = spec.BusAddress.SocketID()
			}
		}

		device := &simulated{spec: spec, identity: identity}
		if spec.Partition != nil {
			device.current = spec.Partition.Current
			device.partitionCount = spec.Partition.PartitionCount
			device.memory = spec.Partition.Memory.Current
		}
		b.devices[i] = device
		identities[i] = identity
	}

	b.links = make(map[linkKey]LinkSpec)
	for _, link := range host.Links {
		b.links[linkKey{link.From, link.To}] = link
		if !link.Directed {
			reverse := link
			reverse.From, reverse.To = link.To, link.From
			if _, exists := b.links[linkKey{reverse.From, reverse.To}]; !exists {
				b.links[linkKey{reverse.From, reverse.To}] = reverse
			}
		}
	}

	b.logger.Info("loaded simulated host",
		"path", b.path,
		"processors", len(identities),
		"links", len(host.Links))
	return identities, nil
}

// Close discards the simulated state.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = nil
	b.links = nil
	return nil
}

// device returns the simulated state behind id. Callers hold b.mu.
func (b *Backend) device(id processor.Identity) (*simulated, error) {
	if id.DeviceIndex < 0 || id.DeviceIndex >= len(b.devices) {
		return nil, smierr.NotFound("fixture device index %d out of range", id.DeviceIndex)
	}
	return b.devices[id.DeviceIndex], nil
}

// partitionOf returns the partition spec of id. Callers hold b.mu.
func (b *Backend) partitionOf(id processor.Identity) (*simulated, *PartitionSpec, error) {
	device, err := b.device(id)
	if err != nil {
		return nil, nil, err
	}
	if device.spec.Partition == nil {
		return nil, nil, smierr.NotSupported("%s has no partition state", id.Label())
	}
	return device, device.spec.Partition, nil
}

func text(value, what string, id processor.Identity) (string, error) {
	if value == "" {
		return "", smierr.NotSupported("%s does not report %s", id.Label(), what)
	}
	return value, nil
}

// SupportedPartitionConfigs implements partition.Source.
func (b *Backend) SupportedPartitionConfigs(id processor.Identity) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, spec, err := b.partitionOf(id)
	if err != nil {
		return "", err
	}
	if spec.SupportedConfigsError != "" {
		return "", smierr.New(spec.SupportedConfigsError, "%s: supported partition configs refused", id.Label())
	}
	return text(spec.SupportedConfigs, "supported partition configs", id)
}

// PartitionCapabilities implements partition.Source.
func (b *Backend) PartitionCapabilities(id processor.Identity) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, spec, err := b.partitionOf(id)
	if err != nil {
		return "", err
	}
	return text(spec.Capabilities, "partition capabilities", id)
}

// ComputeUnitCount implements partition.Source.
func (b *Backend) ComputeUnitCount(id processor.Identity) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, spec, err := b.partitionOf(id)
	if err != nil {
		return 0, err
	}
	if spec.ComputeUnits == 0 {
		return 0, smierr.NotSupported("%s does not report compute units", id.Label())
	}
	return spec.ComputeUnits, nil
}

// SelectPartitionConfig implements partition.Source.
func (b *Backend) SelectPartitionConfig(id processor.Identity, profile partition.ProfileType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, _, err := b.partitionOf(id)
	if err != nil {
		return err
	}
	device.selected = profile
	return nil
}

// SupportedMemoryConfigs implements partition.Source. The answer
// follows the selected compute profile when the fixture overrides it.
func (b *Backend) SupportedMemoryConfigs(id processor.Identity) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, spec, err := b.partitionOf(id)
	if err != nil {
		return "", err
	}
	if override, ok := spec.Memory.SupportedByProfile[device.selected.String()]; ok {
		return text(override, "supported memory configs", id)
	}
	return text(spec.Memory.Supported, "supported memory configs", id)
}

// ResourceProfile implements partition.Source.
func (b *Backend) ResourceProfile(id processor.Identity, profile partition.ProfileType, resource partition.ResourceType) (partition.ResourceShare, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, spec, err := b.partitionOf(id)
	if err != nil {
		return partition.ResourceShare{}, err
	}
	for name, resourceType := range resourceNames {
		if resourceType != resource {
			continue
		}
		share, ok := spec.Resources[name]
		if !ok {
			break
		}
		return partition.ResourceShare{
			PartitionResource: share.PerPartition,
			PartitionsSharing: share.Sharing,
		}, nil
	}
	return partition.ResourceShare{}, smierr.NotSupported("%s does not partition %s", id.Label(), resource)
}

// SetComputePartition implements partition.Source. The partition count
// follows the new mode: fixed for SPX through QPX, the compute unit
// count for CPX.
func (b *Backend) SetComputePartition(id processor.Identity, profile partition.ProfileType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, spec, err := b.partitionOf(id)
	if err != nil {
		return err
	}
	switch profile {
	case partition.ProfileSPX:
		device.partitionCount = 1
	case partition.ProfileDPX:
		device.partitionCount = 2
	case partition.ProfileTPX:
		device.partitionCount = 3
	case partition.ProfileQPX:
		device.partitionCount = 4
	case partition.ProfileCPX:
		device.partitionCount = spec.ComputeUnits
	default:
		return smierr.InvalidArgument("cannot set compute partition %s", profile)
	}
	device.current = profile.String()
	return nil
}

// CurrentComputePartition implements partition.Source.
func (b *Backend) CurrentComputePartition(id processor.Identity) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, _, err := b.partitionOf(id)
	if err != nil {
		return "", err
	}
	return text(device.current, "a current compute partition", id)
}

// PartitionCount implements partition.Source.
func (b *Backend) PartitionCount(id processor.Identity) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, _, err := b.partitionOf(id)
	if err != nil {
		return 0, err
	}
	if device.partitionCount == 0 {
		return 0, smierr.NotSupported("%s does not report a partition count", id.Label())
	}
	return device.partitionCount, nil
}

// CurrentMemoryPartition implements partition.Source.
func (b *Backend) CurrentMemoryPartition(id processor.Identity) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, _, err := b.partitionOf(id)
	if err != nil {
		return "", err
	}
	return text(device.memory, "a current memory partition", id)
}

// SetMemoryPartition implements partition.Source.
func (b *Backend) SetMemoryPartition(id processor.Identity, mode partition.MemoryMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, _, err := b.partitionOf(id)
	if err != nil {
		return err
	}
	device.memory = mode.String()
	return nil
}

// link returns the link from source to target. Callers hold b.mu.
func (b *Backend) link(source, target processor.Identity) (LinkSpec, bool, error) {
	from, err := b.device(source)
	if err != nil {
		return LinkSpec{}, false, err
	}
	to, err := b.device(target)
	if err != nil {
		return LinkSpec{}, false, err
	}
	link, ok := b.links[linkKey{from.spec.label(), to.spec.label()}]
	return link, ok, nil
}

// Accessible implements topology.LinkReporter.
func (b *Backend) Accessible(source, target processor.Identity) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	link, ok, err := b.link(source, target)
	if err != nil {
		return false, err
	}
	return ok && !link.Inaccessible, nil
}

// LinkTypeAndHops implements topology.LinkReporter.
func (b *Backend) LinkTypeAndHops(source, target processor.Identity) (topology.LinkType, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	link, ok, err := b.link(source, target)
	if err != nil {
		return topology.LinkUnknown, 0, err
	}
	if !ok {
		return topology.LinkUnknown, 0, smierr.NotFound("no link from %s to %s", source.Label(), target.Label())
	}
	linkType, err := topology.ParseLinkType(link.Type)
	if err != nil {
		return topology.LinkUnknown, 0, smierr.UnexpectedData("link %s -> %s: %w", source.Label(), target.Label(), err)
	}
	return linkType, link.Hops, nil
}

// LinkWeight implements topology.LinkReporter.
func (b *Backend) LinkWeight(source, target processor.Identity) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	link, ok, err := b.link(source, target)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, smierr.NotFound("no link from %s to %s", source.Label(), target.Label())
	}
	return link.Weight, nil
}

// ViolationSample implements violation.Sampler, replaying the
// processor's scripted snapshots in order.
func (b *Backend) ViolationSample(id processor.Identity) (violation.Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, err := b.device(id)
	if err != nil {
		return violation.Sample{}, err
	}
	spec := device.spec.Violation
	if spec == nil || len(spec.Samples) == 0 {
		return violation.Sample{}, smierr.NotSupported("%s has no violation counters", id.Label())
	}
	index := min(device.nextSample, len(spec.Samples)-1)
	device.nextSample++
	return spec.Samples[index].sample()
}
