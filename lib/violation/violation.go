// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package violation

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bureau-foundation/accelsmi/lib/clock"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// Sentinel is the counter value firmware reports for an unimplemented
// accumulator, and the value left in a percentage that could not be
// computed.
const Sentinel = math.MaxUint64

// MinInterval is the fastest rate at which firmware refreshes the
// residency accumulators. Two snapshots taken closer together can read
// the same accumulation counter.
const MinInterval = 100 * time.Millisecond

// Category is one throttle reason tracked by a residency accumulator.
type Category int

const (
	ProcessorHot Category = iota
	PackagePower
	SocketThermal
	VRThermal
	HBMThermal
	GfxClockBelowHostLimit

	categoryCount
)

// NumCategories is the number of tracked throttle categories.
const NumCategories = int(categoryCount)

// Categories returns every category in report order.
func Categories() []Category {
	categories := make([]Category, 0, categoryCount)
	for category := Category(0); category < categoryCount; category++ {
		categories = append(categories, category)
	}
	return categories
}

func (c Category) String() string {
	switch c {
	case ProcessorHot:
		return "prochot_thermal"
	case PackagePower:
		return "package_power"
	case SocketThermal:
		return "socket_thermal"
	case VRThermal:
		return "vr_thermal"
	case HBMThermal:
		return "hbm_thermal"
	case GfxClockBelowHostLimit:
		return "gfx_clock_below_host_limit"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ParseCategory maps a category name to its Category.
func ParseCategory(name string) (Category, error) {
	for _, category := range Categories() {
		if category.String() == name {
			return category, nil
		}
	}
	return 0, smierr.InvalidArgument("unknown violation category %q", name)
}

// Sample is one read of a device's metrics block.
type Sample struct {
	// AccumulationCounter advances once per firmware refresh.
	AccumulationCounter uint64

	// Residency holds one monotonically increasing accumulator per
	// category. Sentinel marks an accumulator the device lacks.
	Residency [NumCategories]uint64

	// FirmwareTimestamp is the firmware's own time of the read.
	FirmwareTimestamp uint64
}

// Unsupported reports whether every counter in the sample reads as
// Sentinel.
func (s Sample) Unsupported() bool {
	if s.AccumulationCounter != Sentinel {
		return false
	}
	for _, value := range s.Residency {
		if value != Sentinel {
			return false
		}
	}
	return true
}

// Sampler is the metrics interface a device backend provides.
type Sampler interface {
	ViolationSample(id processor.Identity) (Sample, error)
}

// State is the tri-state activity of one category.
type State uint8

const (
	// StateUnknown means the two snapshots did not allow a percentage
	// to be computed.
	StateUnknown State = iota
	StateInactive
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CategoryStatus is the result for one category.
type CategoryStatus struct {
	Category Category `json:"category" yaml:"category" cbor:"category"`

	// Accumulated is the raw accumulator from the second snapshot.
	Accumulated uint64 `json:"accumulated" yaml:"accumulated" cbor:"accumulated"`

	// Percent is the share of the interval spent throttled, or
	// Sentinel when State is StateUnknown.
	Percent uint64 `json:"percent" yaml:"percent" cbor:"percent"`

	State State `json:"state" yaml:"state" cbor:"state"`
}

// Status is the outcome of one two-snapshot measurement.
type Status struct {
	// ReferenceTimestamp is wall-clock microseconds since the epoch
	// when sampling began.
	ReferenceTimestamp uint64 `json:"reference_timestamp" yaml:"reference_timestamp" cbor:"reference_timestamp"`

	// ViolationTimestamp is the firmware timestamp of the second
	// snapshot.
	ViolationTimestamp uint64 `json:"violation_timestamp" yaml:"violation_timestamp" cbor:"violation_timestamp"`

	AccumulationCounter uint64 `json:"accumulation_counter" yaml:"accumulation_counter" cbor:"accumulation_counter"`

	Categories [NumCategories]CategoryStatus `json:"categories" yaml:"categories" cbor:"categories"`
}

// Category returns the status of one category.
func (s *Status) Category(category Category) CategoryStatus {
	return s.Categories[category]
}

// Compare derives per-category percentages from snapshots a and b
// taken in that order. A category gets a percentage only when at
// least one of its readings is real, its accumulator did not go
// backwards, and the accumulation counter advanced. Everything else
// stays StateUnknown; a counter that wrapped or a read that raced the
// firmware update is not clamped to zero.
//
// A real first reading followed by a Sentinel second reading passes
// the guard, since Sentinel is the largest value. The difference is
// reported unchanged, so the category reads active with a meaningless
// percentage. Firmware that drops an accumulator between two reads
// produces exactly that.
func Compare(a, b Sample) Status {
	status := Status{
		ViolationTimestamp:  b.FirmwareTimestamp,
		AccumulationCounter: b.AccumulationCounter,
	}
	for _, category := range Categories() {
		before, after := a.Residency[category], b.Residency[category]
		result := CategoryStatus{
			Category:    category,
			Accumulated: after,
			Percent:     Sentinel,
			State:       StateUnknown,
		}
		if (before != Sentinel || after != Sentinel) &&
			after >= before &&
			b.AccumulationCounter > a.AccumulationCounter {
			result.Percent = (after - before) * 100 / (b.AccumulationCounter - a.AccumulationCounter)
			if result.Percent > 0 {
				result.State = StateActive
			} else {
				result.State = StateInactive
			}
		}
		status.Categories[category] = result
	}
	return status
}

// Accumulator measures throttle residency over a short interval.
type Accumulator struct {
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewAccumulator creates an Accumulator that waits interval between
// snapshots. Intervals shorter than MinInterval are raised to it.
func NewAccumulator(clk clock.Clock, interval time.Duration, logger *slog.Logger) *Accumulator {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Accumulator{clock: clk, interval: interval, logger: logger}
}

// Interval returns the wait between snapshots.
func (a *Accumulator) Interval() time.Duration { return a.interval }

// SamplerOf returns p's metrics sampler. Non-accelerators and backends
// without metrics yield smierr.KindNotSupported.
func SamplerOf(p *processor.Processor) (Sampler, error) {
	if p.Kind() != processor.Accelerator {
		return nil, smierr.NotSupported("throttle residency is not available on %s", p)
	}
	sampler, ok := p.Driver().(Sampler)
	if !ok {
		return nil, smierr.NotSupported("%s backend does not report throttle residency", p.Driver().Name())
	}
	return sampler, nil
}

// Measure takes two snapshots of p's metrics block one interval apart
// and returns the per-category throttle percentages. It blocks for the
// whole interval and cannot be cancelled. The processor lock is held
// around each snapshot but released during the wait.
func (a *Accumulator) Measure(p *processor.Processor) (Status, error) {
	sampler, err := SamplerOf(p)
	if err != nil {
		return Status{}, err
	}
	reference := uint64(a.clock.Now().UnixMicro())

	first, err := a.snapshot(p, sampler)
	if err != nil {
		return Status{}, err
	}
	if first.Unsupported() {
		a.logger.Info("device does not report throttle residency", "processor", p.String())
		return Status{}, smierr.NotSupported("%s does not report throttle residency", p)
	}

	a.clock.Sleep(a.interval)

	second, err := a.snapshot(p, sampler)
	if err != nil {
		return Status{}, err
	}

	status := Compare(first, second)
	status.ReferenceTimestamp = reference
	a.logger.Debug("throttle residency measured",
		"processor", p.String(),
		"accumulation_delta", second.AccumulationCounter-first.AccumulationCounter,
		"interval", a.interval)
	return status, nil
}

func (a *Accumulator) snapshot(p *processor.Processor, sampler Sampler) (Sample, error) {
	p.Lock()
	defer p.Unlock()
	return sampler.ViolationSample(p.Identity())
}
