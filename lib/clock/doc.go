// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Code that sleeps or ticks holds a Clock instead of calling the time
// package directly. The violation accumulator sleeps between its two
// counter snapshots and the metrics exporter ticks between samples;
// both take a Clock so tests can drive them with Fake():
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go func() { results <- accumulator.Measure(gpu) }()
//	fake.WaitForTimers(1)               // the sleep has registered
//	fake.Advance(100 * time.Millisecond) // release it
package clock
