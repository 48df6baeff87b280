// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo holds the device backends that discover processors
// from the host and answer the engines' raw queries.
//
// # Sysfs helpers
//
// drm.go carries the helpers every backend shares: card device
// filtering, PCI uevent parsing, bus address resolution from sysfs
// links, and attribute reads and writes whose errors are classified
// into the [smierr] taxonomy by errno.
//
// # CPU backend
//
// [CPUBackend] reports one CPU socket per physical package and one
// core per (package, core_id) pair from /sys/devices/system/cpu.
//
// # Subpackages
//
//   - hwinfo/amdgpu: AMD accelerators from the amdgpu sysfs tree. Also
//     the partition source (compute_partition_config) and the
//     topology reporter (via hwinfo/kfd).
//
//   - hwinfo/kfd: parser for the KFD topology tree
//     (/sys/class/kfd/kfd/topology) with node lookup and link routing.
//
//   - hwinfo/nvidia: NVIDIA accelerators. Discovery from sysfs and
//     /proc/driver/nvidia; topology and violation counters need NVML
//     and are compiled in with the "nvml" build tag.
//
//   - hwinfo/pcidev: network interfaces and PCIe switches from the
//     PCI device tree.
//
//   - hwinfo/fixture: a simulated host loaded from YAML or JSONC,
//     implementing every engine interface.
package hwinfo
