// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && cgo && nvml

package nvidia

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/topology"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

// library is an initialized NVML session with one handle per
// discovered device, index-aligned with Backend.devices. A device NVML
// does not know has a nil handle.
type library struct {
	lib     nvml.Interface
	handles []nvml.Device
}

func (b *Backend) openLibrary() *library {
	return b.attachLibrary(nvml.New())
}

// attachLibrary initializes lib and resolves a handle for every
// discovered device. It returns nil when lib fails to initialize.
func (b *Backend) attachLibrary(lib nvml.Interface) *library {
	ret := lib.Init()
	if ret != nvml.SUCCESS && ret != nvml.ERROR_ALREADY_INITIALIZED {
		b.logger.Warn("NVML unavailable, topology and violation queries disabled",
			"error", lib.ErrorString(ret))
		return nil
	}

	session := &library{lib: lib, handles: make([]nvml.Device, len(b.devices))}
	for i, dev := range b.devices {
		handle, ret := lib.DeviceGetHandleByPciBusId(dev.address.String())
		if ret != nvml.SUCCESS {
			b.logger.Warn("NVML has no handle for device",
				"bus_address", dev.address.String(),
				"error", lib.ErrorString(ret))
			continue
		}
		session.handles[i] = handle
	}
	return session
}

func (l *library) close() error {
	if ret := l.lib.Shutdown(); ret != nvml.SUCCESS {
		return smierr.Driver("NVML shutdown: %s", l.lib.ErrorString(ret))
	}
	return nil
}

// fromReturn classifies an NVML return code.
func (l *library) fromReturn(ret nvml.Return, format string, args ...any) error {
	kind := smierr.KindDriverError
	switch ret {
	case nvml.ERROR_NOT_SUPPORTED, nvml.ERROR_FUNCTION_NOT_FOUND:
		kind = smierr.KindNotSupported
	case nvml.ERROR_NO_PERMISSION:
		kind = smierr.KindPermissionDenied
	case nvml.ERROR_NOT_FOUND, nvml.ERROR_GPU_IS_LOST:
		kind = smierr.KindNotFound
	case nvml.ERROR_UNINITIALIZED:
		kind = smierr.KindNotInitialized
	}
	return smierr.New(kind, "%s: %s", fmt.Sprintf(format, args...), l.lib.ErrorString(ret))
}

// handle returns the NVML device of id.
func (b *Backend) handle(id processor.Identity) (nvml.Device, error) {
	if _, err := b.device(id); err != nil {
		return nil, err
	}
	if b.nvml == nil {
		return nil, smierr.NotSupported("NVML is not initialized")
	}
	handle := b.nvml.handles[id.DeviceIndex]
	if handle == nil {
		return nil, smierr.NotSupported("NVML does not manage %s", id.BusAddress)
	}
	return handle, nil
}

func (b *Backend) pair(source, target processor.Identity) (nvml.Device, nvml.Device, error) {
	from, err := b.handle(source)
	if err != nil {
		return nil, nil, err
	}
	to, err := b.handle(target)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// Accessible implements topology.LinkReporter using NVML's peer-to-peer read
// capability.
func (b *Backend) Accessible(source, target processor.Identity) (bool, error) {
	from, to, err := b.pair(source, target)
	if err != nil {
		return false, err
	}
	status, ret := from.GetP2PStatus(to, nvml.P2P_CAPS_INDEX_READ)
	if ret != nvml.SUCCESS {
		return false, b.nvml.fromReturn(ret, "P2P status %s -> %s", source.BusAddress, target.BusAddress)
	}
	return status == nvml.P2P_STATUS_OK, nil
}

// nvLinksTo counts the active NVLinks from one GPU directly to the
// GPU at target.
func (b *Backend) nvLinksTo(from nvml.Device, target processor.BusAddress) uint64 {
	var links uint64
	for linkID := range nvml.NVLINK_MAX_LINKS {
		state, ret := from.GetNvLinkState(linkID)
		if ret != nvml.SUCCESS || state != nvml.FEATURE_ENABLED {
			continue
		}
		remote, ret := from.GetNvLinkRemotePciInfo(linkID)
		if ret != nvml.SUCCESS {
			continue
		}
		address, err := processor.ParseBusAddress(convertNVMLCString(remote.BusIdLegacy))
		if err == nil && address == target {
			links++
		}
	}
	return links
}

// ancestorHops maps the deepest common PCIe ancestor to a hop count.
var ancestorHops = map[nvml.GpuTopologyLevel]uint64{
	nvml.TOPOLOGY_INTERNAL:   0,
	nvml.TOPOLOGY_SINGLE:     1,
	nvml.TOPOLOGY_MULTIPLE:   2,
	nvml.TOPOLOGY_HOSTBRIDGE: 3,
	nvml.TOPOLOGY_NODE:       4,
	nvml.TOPOLOGY_SYSTEM:     5,
}

// LinkTypeAndHops implements topology.LinkReporter. A direct NVLink is one
// hop of the fast interconnect class. Otherwise the hop count grows
// with the distance to the common PCIe ancestor.
func (b *Backend) LinkTypeAndHops(source, target processor.Identity) (topology.LinkType, uint64, error) {
	from, to, err := b.pair(source, target)
	if err != nil {
		return topology.LinkUnknown, 0, err
	}
	if b.nvLinksTo(from, target.BusAddress) > 0 {
		return topology.LinkXGMI, 1, nil
	}

	level, ret := from.GetTopologyCommonAncestor(to)
	if ret != nvml.SUCCESS {
		return topology.LinkUnknown, 0, b.nvml.fromReturn(ret, "common ancestor %s -> %s", source.BusAddress, target.BusAddress)
	}
	hops, ok := ancestorHops[level]
	if !ok {
		return topology.LinkUnknown, 0, smierr.UnexpectedData("topology level %d", level)
	}
	if level == nvml.TOPOLOGY_INTERNAL {
		return topology.LinkInternal, hops, nil
	}
	return topology.LinkPCIe, hops, nil
}

// LinkWeight implements topology.LinkReporter: the number of active NVLinks
// between the pair.
func (b *Backend) LinkWeight(source, target processor.Identity) (uint64, error) {
	from, _, err := b.pair(source, target)
	if err != nil {
		return 0, err
	}
	return b.nvLinksTo(from, target.BusAddress), nil
}

// violationPolicies maps throttle categories to NVML performance
// policies. Categories NVML does not track stay at the sentinel.
var violationPolicies = map[violation.Category]nvml.PerfPolicyType{
	violation.PackagePower:           nvml.PERF_POLICY_POWER,
	violation.SocketThermal:          nvml.PERF_POLICY_THERMAL,
	violation.GfxClockBelowHostLimit: nvml.PERF_POLICY_TOTAL_APP_CLOCKS,
}

// ViolationSample implements violation.Sampler. NVML reports violation
// time in nanoseconds against a microsecond reference clock; the
// accumulation counter is that reference in nanoseconds, so residency
// deltas divide into a percentage directly.
func (b *Backend) ViolationSample(id processor.Identity) (violation.Sample, error) {
	handle, err := b.handle(id)
	if err != nil {
		return violation.Sample{}, err
	}

	sample := violation.Sample{
		AccumulationCounter: violation.Sentinel,
		FirmwareTimestamp:   violation.Sentinel,
	}
	for i := range sample.Residency {
		sample.Residency[i] = violation.Sentinel
	}
	for _, category := range violation.Categories() {
		policy, ok := violationPolicies[category]
		if !ok {
			continue
		}
		status, ret := handle.GetViolationStatus(policy)
		if ret == nvml.ERROR_NOT_SUPPORTED {
			continue
		}
		if ret != nvml.SUCCESS {
			return violation.Sample{}, b.nvml.fromReturn(ret, "violation status %s", id.BusAddress)
		}
		sample.Residency[category] = status.ViolationTime
		if sample.AccumulationCounter == violation.Sentinel {
			sample.AccumulationCounter = status.ReferenceTime * 1000
			sample.FirmwareTimestamp = status.ReferenceTime
		}
	}
	return sample, nil
}

// convertNVMLCString trims the NUL padding from a fixed-size NVML
// string field.
func convertNVMLCString(raw [16]uint8) string {
	var builder strings.Builder
	for _, character := range raw {
		if character == 0 {
			break
		}
		builder.WriteByte(character)
	}
	return builder.String()
}
