// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/accelsmi/lib/clock"
	"github.com/bureau-foundation/accelsmi/lib/hwinfo/fixture"
	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/registry"
	"github.com/bureau-foundation/accelsmi/lib/testutil"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

const host = `
processors:
  - kind: cpu
    identifier: "0"
  - kind: accelerator
    bus_address: "0000:05:00.0"
    socket_id: "0"
    partition:
      supported_configs: "SPX, CPX"
      compute_units: 4
      current: SPX
      partition_count: 1
      memory:
        supported: "NPS1"
        current: NPS1
    violation:
      samples:
        - accumulation_counter: 10
          residency: {prochot_thermal: 0, package_power: 0}
        - accumulation_counter: 20
          residency: {prochot_thermal: 5, package_power: 0}
  - kind: accelerator
    bus_address: "0000:15:00.0"
    socket_id: "0"
links:
  - {from: "0000:05:00.0", to: "0000:15:00.0", type: xgmi, hops: 1, weight: 15}
`

// selectCounter counts partition profile selections on the way to
// the simulated host.
type selectCounter struct {
	*fixture.Backend
	selects atomic.Int32
}

func (s *selectCounter) SelectPartitionConfig(id processor.Identity, profile partition.ProfileType) error {
	s.selects.Add(1)
	return s.Backend.SelectPartitionConfig(id, profile)
}

func newCollector(t *testing.T) (*Collector, *clock.FakeClock) {
	t.Helper()
	collector, fake, _ := newCountingCollector(t)
	return collector, fake
}

func newCountingCollector(t *testing.T) (*Collector, *clock.FakeClock, *selectCounter) {
	t.Helper()
	parsed, err := fixture.ParseYAML([]byte(host))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	backend := &selectCounter{Backend: fixture.FromHost(parsed, logger)}
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := registry.New(registry.Config{
		Backends: []registry.Backend{backend},
		Logger:   logger,
		Clock:    fake,
	})
	if err := reg.Init(context.Background(), registry.InitAll); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { reg.Shutdown() })
	return NewCollector(reg, logger), fake, backend
}

// gaugeValue returns the value of the gauge name whose labels include
// every pair in labels.
func gaugeValue(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if value, ok := labels[pair.GetName()]; ok && value == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func expectGauge(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string, want float64) {
	t.Helper()
	got, ok := gaugeValue(t, gatherer, name, labels)
	if !ok {
		t.Errorf("%s%v not exported", name, labels)
		return
	}
	if got != want {
		t.Errorf("%s%v = %v, want %v", name, labels, got, want)
	}
}

func sampleOnce(t *testing.T, collector *Collector, fake *clock.FakeClock) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- collector.Sample() }()
	fake.WaitForTimers(1)
	fake.Advance(violation.MinInterval)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Sample"); err != nil {
		t.Fatalf("Sample: %v", err)
	}
}

func TestCollectInventoryAndPartitions(t *testing.T) {
	collector, _ := newCollector(t)
	gatherer := NewRegistry(collector)
	if err := collector.RefreshPartitions(); err != nil {
		t.Fatalf("RefreshPartitions: %v", err)
	}

	expectGauge(t, gatherer, "accelsmi_processors", map[string]string{"kind": "accelerator"}, 2)
	expectGauge(t, gatherer, "accelsmi_processors", map[string]string{"kind": "cpu"}, 1)
	expectGauge(t, gatherer, "accelsmi_processors", map[string]string{"kind": "nic"}, 0)

	gpu := map[string]string{"bus_address": "0000:05:00.0"}
	expectGauge(t, gatherer, "accelsmi_partition_profiles", gpu, 2)
	expectGauge(t, gatherer, "accelsmi_partition_instances", gpu, 1)
	expectGauge(t, gatherer, "accelsmi_partition_current_info",
		map[string]string{"bus_address": "0000:05:00.0", "profile": "SPX"}, 1)
	expectGauge(t, gatherer, "accelsmi_memory_partition_current_info",
		map[string]string{"bus_address": "0000:05:00.0", "mode": "NPS1"}, 1)

	if _, ok := gaugeValue(t, gatherer, "accelsmi_partition_profiles", map[string]string{"bus_address": "0000:15:00.0"}); ok {
		t.Error("accelerator without partition support exported a profile count")
	}
}

func TestCollectDoesNotSelectProfiles(t *testing.T) {
	collector, _, backend := newCountingCollector(t)
	gatherer := NewRegistry(collector)

	if err := collector.RefreshPartitions(); err != nil {
		t.Fatalf("RefreshPartitions: %v", err)
	}
	// SPX and CPX on the one partitionable accelerator.
	if got := backend.selects.Load(); got != 2 {
		t.Fatalf("RefreshPartitions selected %d profiles, want 2", got)
	}

	for range 3 {
		if _, err := gatherer.Gather(); err != nil {
			t.Fatalf("Gather: %v", err)
		}
	}
	if got := backend.selects.Load(); got != 2 {
		t.Errorf("scrapes selected %d partition profiles, want none", got-2)
	}
	expectGauge(t, gatherer, "accelsmi_partition_profiles", map[string]string{"bus_address": "0000:05:00.0"}, 2)
}

func TestCollectPeers(t *testing.T) {
	collector, _ := newCollector(t)
	gatherer := NewRegistry(collector)

	expectGauge(t, gatherer, "accelsmi_topology_peers",
		map[string]string{"bus_address": "0000:05:00.0", "link_type": "xgmi"}, 1)
	expectGauge(t, gatherer, "accelsmi_topology_peers",
		map[string]string{"bus_address": "0000:05:00.0", "link_type": "pcie"}, 0)
	expectGauge(t, gatherer, "accelsmi_topology_peers",
		map[string]string{"bus_address": "0000:15:00.0", "link_type": "xgmi"}, 1)
}

func TestSampleViolations(t *testing.T) {
	collector, fake := newCollector(t)
	gatherer := NewRegistry(collector)

	prochot := map[string]string{"bus_address": "0000:05:00.0", "category": "prochot_thermal"}
	if _, ok := gaugeValue(t, gatherer, "accelsmi_violation_percent", prochot); ok {
		t.Fatal("violation metrics exported before the first sample")
	}

	sampleOnce(t, collector, fake)

	expectGauge(t, gatherer, "accelsmi_violation_percent", prochot, 50)
	expectGauge(t, gatherer, "accelsmi_violation_active", prochot, 1)
	power := map[string]string{"bus_address": "0000:05:00.0", "category": "package_power"}
	expectGauge(t, gatherer, "accelsmi_violation_percent", power, 0)
	expectGauge(t, gatherer, "accelsmi_violation_active", power, 0)

	// Categories the device lacks stay unknown and are not exported.
	if _, ok := gaugeValue(t, gatherer, "accelsmi_violation_percent",
		map[string]string{"bus_address": "0000:05:00.0", "category": "hbm_thermal"}); ok {
		t.Error("unknown category exported")
	}
	if _, ok := gaugeValue(t, gatherer, "accelsmi_violation_percent",
		map[string]string{"bus_address": "0000:15:00.0", "category": "prochot_thermal"}); ok {
		t.Error("accelerator without counters exported a percentage")
	}
}

func TestRunSamplesUntilCancelled(t *testing.T) {
	collector, fake := newCollector(t)
	gatherer := NewRegistry(collector)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- collector.Run(ctx, fake, time.Minute) }()

	// The ticker and the first sample's sleep.
	fake.WaitForTimers(2)
	fake.Advance(violation.MinInterval)
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Run to return"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expectGauge(t, gatherer, "accelsmi_violation_percent",
		map[string]string{"bus_address": "0000:05:00.0", "category": "prochot_thermal"}, 50)
}

func TestServerServesMetrics(t *testing.T) {
	collector, _ := newCollector(t)
	server := NewServer(ServerConfig{
		Address:  "127.0.0.1:0",
		Gatherer: NewRegistry(collector),
		Logger:   slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "waiting for the listener")

	response, err := http.Get("http://" + server.Addr().String() + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("GET /metrics: %v", err)
	}
	body, err := io.ReadAll(response.Body)
	response.Body.Close()
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d", response.StatusCode)
	}
	if want := `accelsmi_processors{kind="accelerator"} 2`; !strings.Contains(string(body), want) {
		t.Errorf("metrics missing %q:\n%s", want, body)
	}

	response, err = http.Get("http://" + server.Addr().String() + "/missing")
	if err != nil {
		cancel()
		t.Fatalf("GET /missing: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Errorf("GET /missing status = %d, want 404", response.StatusCode)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Serve to return"); err != nil {
		t.Errorf("Serve: %v", err)
	}
}
