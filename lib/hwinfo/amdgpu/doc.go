// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package amdgpu discovers AMD accelerators managed by the amdgpu
// kernel driver and serves their partition and topology queries.
//
// Discovery walks /sys/class/drm/card* and keeps cards bound to
// amdgpu. Partition state lives beside each card's PCI device:
// current_compute_partition, available_compute_partition,
// current_memory_partition, and the compute_partition_config/
// directory describing per-mode resource sharing. Peer topology comes
// from the KFD tree (see hwinfo/kfd). Throttle residency is read from
// the binary gpu_metrics table.
//
// No cgo is required.
package amdgpu
