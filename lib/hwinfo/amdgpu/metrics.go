// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package amdgpu

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

// gpuMetricsFile is the binary metrics table the driver exports beside
// each PCI device. It starts with a four-byte header: structure size
// (little-endian uint16), format revision, content revision.
const gpuMetricsFile = "gpu_metrics"

const metricsHeaderSize = 4

// Field offsets in the format 1 table from content revision 6 onward
// (gpu_metrics_v1_6 and later, MI300 class). Earlier revisions carry
// no throttle residency accumulators.
const (
	residencyFormat         = 1
	residencyMinContent     = 6
	offsetAccumulation      = 32 // uint32
	offsetResidency         = 36 // five uint32: prochot, ppt, socket, vr, hbm
	offsetFirmwareTimestamp = 256
	residencyTableSize      = offsetFirmwareTimestamp + 8
)

// residencyOrder is the order of the uint32 accumulators at
// offsetResidency. The table keeps the below-host-limit accumulator
// per compute partition, which is not read here.
var residencyOrder = []violation.Category{
	violation.ProcessorHot,
	violation.PackagePower,
	violation.SocketThermal,
	violation.VRThermal,
	violation.HBMThermal,
}

// ViolationSample implements violation.Sampler by reading the device's
// gpu_metrics table. Tables without residency accumulators yield a
// sample with every counter at violation.Sentinel.
func (b *Backend) ViolationSample(id processor.Identity) (violation.Sample, error) {
	path, err := b.attributePath(id, gpuMetricsFile)
	if err != nil {
		return violation.Sample{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return violation.Sample{}, smierr.FromSyscall(err, "reading %s", path)
	}
	sample, err := parseGPUMetrics(data)
	if err != nil {
		return violation.Sample{}, smierr.UnexpectedData("%s: %w", path, err)
	}
	return sample, nil
}

// parseGPUMetrics extracts the accumulation counter, residency
// accumulators, and firmware timestamp from a gpu_metrics table.
func parseGPUMetrics(data []byte) (violation.Sample, error) {
	sample := violation.Sample{
		AccumulationCounter: violation.Sentinel,
		FirmwareTimestamp:   violation.Sentinel,
	}
	for i := range sample.Residency {
		sample.Residency[i] = violation.Sentinel
	}

	if len(data) < metricsHeaderSize {
		return sample, smierr.UnexpectedData("gpu metrics table is %d bytes, shorter than its header", len(data))
	}
	size := int(binary.LittleEndian.Uint16(data[0:2]))
	format, content := data[2], data[3]
	if size > len(data) {
		return sample, smierr.UnexpectedData("gpu metrics v%d.%d declares %d bytes, read %d", format, content, size, len(data))
	}
	if format != residencyFormat || content < residencyMinContent {
		return sample, nil
	}
	if size < residencyTableSize {
		return sample, smierr.UnexpectedData("gpu metrics v%d.%d is %d bytes, need %d", format, content, size, residencyTableSize)
	}

	sample.AccumulationCounter = widen(binary.LittleEndian.Uint32(data[offsetAccumulation:]))
	for i, category := range residencyOrder {
		offset := offsetResidency + 4*i
		sample.Residency[category] = widen(binary.LittleEndian.Uint32(data[offset:]))
	}
	sample.FirmwareTimestamp = binary.LittleEndian.Uint64(data[offsetFirmwareTimestamp:])
	return sample, nil
}

// widen maps the driver's 32-bit "not implemented" value onto the
// 64-bit sentinel.
func widen(value uint32) uint64 {
	if value == math.MaxUint32 {
		return violation.Sentinel
	}
	return uint64(value)
}
