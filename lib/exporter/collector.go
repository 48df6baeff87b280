// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/accelsmi/lib/clock"
	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/registry"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/topology"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

const namespace = "accelsmi"

var (
	processorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "processors"),
		"Number of discovered processors by kind.",
		[]string{"kind"}, nil)
	profilesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "partition", "profiles"),
		"Number of compute partition profiles an accelerator advertises.",
		[]string{"bus_address"}, nil)
	currentPartitionDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "partition", "current_info"),
		"Active compute partition profile, value 1.",
		[]string{"bus_address", "profile"}, nil)
	partitionCountDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "partition", "instances"),
		"Number of compute partitions currently instantiated.",
		[]string{"bus_address"}, nil)
	memoryPartitionDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "memory_partition", "current_info"),
		"Active memory partition mode, value 1.",
		[]string{"bus_address", "mode"}, nil)
	peersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "topology", "peers"),
		"Number of accessible peers joined to an accelerator by a link class.",
		[]string{"bus_address", "link_type"}, nil)
	violationPercentDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "violation", "percent"),
		"Share of the last sampling interval spent throttled.",
		[]string{"bus_address", "category"}, nil)
	violationActiveDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "violation", "active"),
		"Whether a throttle category was active during the last sampling interval.",
		[]string{"bus_address", "category"}, nil)

	descriptions = []*prometheus.Desc{
		processorsDesc, profilesDesc, currentPartitionDesc, partitionCountDesc,
		memoryPartitionDesc, peersDesc, violationPercentDesc, violationActiveDesc,
	}
)

// rankedLinks are the link classes reported by the peers gauge.
var rankedLinks = []topology.LinkType{topology.LinkXGMI, topology.LinkPCIe}

// Collector exposes registry state as Prometheus metrics. Inventory,
// current partition, and topology metrics are read at scrape time.
// Violation metrics block for a sampling interval, so they come from
// the last Sample call. Profile counts come from the last
// RefreshPartitions call: resolving the profile table selects every
// profile on the device in turn, which a scrape must not do.
type Collector struct {
	registry *registry.Registry
	logger   *slog.Logger

	mu         sync.Mutex
	violations map[string]violation.Status
	profiles   map[string]int
}

// NewCollector creates a Collector over an initialized registry.
func NewCollector(reg *registry.Registry, logger *slog.Logger) *Collector {
	return &Collector{
		registry:   reg,
		logger:     logger,
		violations: make(map[string]violation.Status),
		profiles:   make(map[string]int),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range descriptions {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	inventory, err := c.registry.Inventory()
	if err != nil {
		c.logger.Error("reading inventory failed", "error", err)
		return
	}

	counts := make(map[processor.Kind]int)
	var accelerators []registry.ProcessorRecord
	for _, socket := range inventory {
		for _, record := range socket.Processors {
			counts[record.Identity.Kind]++
			if record.Identity.Kind == processor.Accelerator {
				accelerators = append(accelerators, record)
			}
		}
	}
	for _, kind := range processor.Kinds() {
		ch <- prometheus.MustNewConstMetric(processorsDesc, prometheus.GaugeValue,
			float64(counts[kind]), kind.String())
	}

	for _, record := range accelerators {
		c.collectPartition(ch, record)
		c.collectPeers(ch, record)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for address, count := range c.profiles {
		ch <- prometheus.MustNewConstMetric(profilesDesc, prometheus.GaugeValue,
			float64(count), address)
	}
	for address, status := range c.violations {
		for _, category := range status.Categories {
			if category.State == violation.StateUnknown {
				continue
			}
			active := 0.0
			if category.State == violation.StateActive {
				active = 1
			}
			ch <- prometheus.MustNewConstMetric(violationPercentDesc, prometheus.GaugeValue,
				float64(category.Percent), address, category.Category.String())
			ch <- prometheus.MustNewConstMetric(violationActiveDesc, prometheus.GaugeValue,
				active, address, category.Category.String())
		}
	}
}

func (c *Collector) collectPartition(ch chan<- prometheus.Metric, record registry.ProcessorRecord) {
	address := record.Identity.BusAddress.String()

	if current, err := c.registry.CurrentPartition(record.Handle); err != nil {
		c.logQueryError("current partition", address, err)
	} else {
		ch <- prometheus.MustNewConstMetric(currentPartitionDesc, prometheus.GaugeValue,
			1, address, current.Type.String())
		if current.NumPartitions != partition.InvalidIndex {
			ch <- prometheus.MustNewConstMetric(partitionCountDesc, prometheus.GaugeValue,
				float64(current.NumPartitions), address)
		}
	}

	if memory, err := c.registry.MemoryPartition(record.Handle); err != nil {
		c.logQueryError("memory partition", address, err)
	} else {
		ch <- prometheus.MustNewConstMetric(memoryPartitionDesc, prometheus.GaugeValue,
			1, address, memory.Mode.String())
	}
}

func (c *Collector) collectPeers(ch chan<- prometheus.Metric, record registry.ProcessorRecord) {
	address := record.Identity.BusAddress.String()
	for _, linkType := range rankedLinks {
		peers, err := c.registry.NearestPeers(record.Handle, linkType)
		if err != nil {
			c.logQueryError("nearest peers", address, err)
			return
		}
		ch <- prometheus.MustNewConstMetric(peersDesc, prometheus.GaugeValue,
			float64(peers.Count), address, linkType.String())
	}
}

// logQueryError logs at debug level for features the device lacks and
// at warn level for everything else.
func (c *Collector) logQueryError(query, address string, err error) {
	if errors.Is(err, smierr.ErrNotSupported) {
		c.logger.Debug(query+" not supported", "bus_address", address)
		return
	}
	c.logger.Warn(query+" failed", "bus_address", address, "error", err)
}

// RefreshPartitions resolves the partition profile table of every
// accelerator and stores the profile counts for later scrapes.
// Accelerators without partition support are dropped from the metric.
func (c *Collector) RefreshPartitions() error {
	results := make(map[string]int)
	err := c.registry.Walk(processor.Accelerator, func(handle registry.ProcessorHandle, identity processor.Identity) error {
		address := identity.BusAddress.String()
		config, err := c.registry.PartitionConfig(handle)
		if err != nil {
			c.logQueryError("partition config", address, err)
			return nil
		}
		results[address] = len(config.Profiles)
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.profiles = results
	c.mu.Unlock()
	return nil
}

// Sample measures the throttle residency of every accelerator, one
// after another, and stores the results for the next scrape. It blocks
// for one sampling interval per accelerator that reports residency.
// Accelerators without residency counters are dropped from the
// metrics.
func (c *Collector) Sample() error {
	results := make(map[string]violation.Status)
	err := c.registry.Walk(processor.Accelerator, func(handle registry.ProcessorHandle, identity processor.Identity) error {
		address := identity.BusAddress.String()
		status, err := c.registry.ViolationStatus(handle)
		if err != nil {
			c.logQueryError("violation status", address, err)
			return nil
		}
		results[address] = status
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.violations = results
	c.mu.Unlock()

	c.logger.Debug("violation sample complete", "accelerators", len(results))
	return nil
}

// Run resolves the profile tables once, then calls Sample immediately
// and once per interval on clk until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, clk clock.Clock, interval time.Duration) error {
	if err := c.RefreshPartitions(); err != nil {
		return err
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.Sample(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
