// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package violation

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/accelsmi/lib/clock"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/testutil"
)

func sampleWith(accumulation uint64, residency ...uint64) Sample {
	sample := Sample{AccumulationCounter: accumulation}
	for i := range sample.Residency {
		sample.Residency[i] = Sentinel
	}
	copy(sample.Residency[:], residency)
	return sample
}

func TestComparePercentage(t *testing.T) {
	a := sampleWith(1000, 50)
	b := sampleWith(1100, 70)
	b.FirmwareTimestamp = 777

	status := Compare(a, b)
	prochot := status.Category(ProcessorHot)
	if prochot.Percent != 20 {
		t.Errorf("Percent = %d, want 20", prochot.Percent)
	}
	if prochot.State != StateActive {
		t.Errorf("State = %v, want active", prochot.State)
	}
	if prochot.Accumulated != 70 {
		t.Errorf("Accumulated = %d, want 70", prochot.Accumulated)
	}
	if status.ViolationTimestamp != 777 || status.AccumulationCounter != 1100 {
		t.Errorf("timestamps = %+v", status)
	}
	// Categories the device lacks in both snapshots stay unknown.
	if hbm := status.Category(HBMThermal); hbm.State != StateUnknown || hbm.Percent != Sentinel {
		t.Errorf("HBMThermal = %+v, want unknown", hbm)
	}
}

func TestCompareCounterDidNotAdvance(t *testing.T) {
	status := Compare(sampleWith(100, 10), sampleWith(100, 12))
	got := status.Category(ProcessorHot)
	if got.State != StateUnknown {
		t.Errorf("State = %v, want unknown", got.State)
	}
	if got.Percent != Sentinel {
		t.Errorf("Percent = %d, want sentinel", got.Percent)
	}
}

func TestCompareResidencyWentBackwards(t *testing.T) {
	status := Compare(sampleWith(100, 40), sampleWith(200, 30))
	if got := status.Category(ProcessorHot); got.State != StateUnknown {
		t.Errorf("State = %v, want unknown", got.State)
	}
}

func TestCompareSentinelAfterRealReading(t *testing.T) {
	before, after := uint64(100), uint64(Sentinel)
	status := Compare(sampleWith(1000, before), sampleWith(1100, after))

	got := status.Category(ProcessorHot)
	if want := (after - before) * 100 / 100; got.Percent != want {
		t.Errorf("percent = %d, want the unclamped difference %d", got.Percent, want)
	}
	if got.State != StateActive || got.Accumulated != Sentinel {
		t.Errorf("prochot = %+v, want active with the sentinel accumulator", got)
	}
}

func TestCompareInactive(t *testing.T) {
	status := Compare(sampleWith(100, 5, 9), sampleWith(200, 5, 9))
	for _, category := range []Category{ProcessorHot, PackagePower} {
		got := status.Category(category)
		if got.State != StateInactive || got.Percent != 0 {
			t.Errorf("%s = %+v, want inactive at 0%%", category, got)
		}
	}
}

type fakeSampler struct {
	mu      sync.Mutex
	samples []Sample
	err     error
	calls   int
}

func (f *fakeSampler) Name() string { return "fake" }

func (f *fakeSampler) ViolationSample(processor.Identity) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Sample{}, f.err
	}
	sample := f.samples[f.calls]
	f.calls++
	return sample, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMeasureWaitsOneInterval(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	sampler := &fakeSampler{samples: []Sample{sampleWith(1000, 50), sampleWith(1100, 70)}}
	gpu := processor.New(processor.Identity{Kind: processor.Accelerator}, sampler)
	accumulator := NewAccumulator(fake, 0, testLogger())

	type outcome struct {
		status Status
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		status, err := accumulator.Measure(gpu)
		done <- outcome{status, err}
	}()

	fake.WaitForTimers(1)
	fake.Advance(MinInterval)
	result := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Measure")

	if result.err != nil {
		t.Fatalf("Measure: %v", result.err)
	}
	if result.status.ReferenceTimestamp != uint64(start.UnixMicro()) {
		t.Errorf("ReferenceTimestamp = %d, want %d", result.status.ReferenceTimestamp, start.UnixMicro())
	}
	if got := result.status.Category(ProcessorHot); got.Percent != 20 || got.State != StateActive {
		t.Errorf("ProcessorHot = %+v", got)
	}
	if sampler.calls != 2 {
		t.Errorf("sampler called %d times, want 2", sampler.calls)
	}
}

func TestMeasureUnsupportedDevice(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	sampler := &fakeSampler{samples: []Sample{sampleWith(Sentinel)}}
	gpu := processor.New(processor.Identity{Kind: processor.Accelerator}, sampler)

	_, err := NewAccumulator(fake, MinInterval, testLogger()).Measure(gpu)
	if !errors.Is(err, smierr.ErrNotSupported) {
		t.Fatalf("Measure error = %v, want not supported", err)
	}
	if sampler.calls != 1 {
		t.Errorf("sampler called %d times, want 1", sampler.calls)
	}
	if fake.PendingCount() != 0 {
		t.Error("Measure slept on an unsupported device")
	}
}

func TestMeasureRejectsNonAccelerator(t *testing.T) {
	sampler := &fakeSampler{}
	nic := processor.New(processor.Identity{Kind: processor.NetworkInterface}, sampler)
	_, err := NewAccumulator(clock.Fake(time.Unix(0, 0)), MinInterval, testLogger()).Measure(nic)
	if !errors.Is(err, smierr.ErrNotSupported) {
		t.Fatalf("Measure error = %v, want not supported", err)
	}
}

func TestMeasureSnapshotFailure(t *testing.T) {
	sampler := &fakeSampler{err: smierr.PermissionDenied("gpu_metrics")}
	gpu := processor.New(processor.Identity{Kind: processor.Accelerator}, sampler)
	_, err := NewAccumulator(clock.Fake(time.Unix(0, 0)), MinInterval, testLogger()).Measure(gpu)
	if !errors.Is(err, smierr.ErrPermissionDenied) {
		t.Fatalf("Measure error = %v, want permission denied", err)
	}
}

func TestAccumulatorIntervalFloor(t *testing.T) {
	accumulator := NewAccumulator(clock.Fake(time.Unix(0, 0)), 10*time.Millisecond, testLogger())
	if accumulator.Interval() != MinInterval {
		t.Errorf("Interval() = %v, want %v", accumulator.Interval(), MinInterval)
	}
	accumulator = NewAccumulator(clock.Fake(time.Unix(0, 0)), time.Second, testLogger())
	if accumulator.Interval() != time.Second {
		t.Errorf("Interval() = %v, want 1s", accumulator.Interval())
	}
}

func TestParseCategory(t *testing.T) {
	for _, category := range Categories() {
		parsed, err := ParseCategory(category.String())
		if err != nil || parsed != category {
			t.Errorf("ParseCategory(%q) = %v, %v", category.String(), parsed, err)
		}
	}
	if _, err := ParseCategory("fan_speed"); !errors.Is(err, smierr.ErrInvalidArgument) {
		t.Errorf("ParseCategory(fan_speed): %v, want invalid argument", err)
	}
}
