// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package exporter publishes registry state as Prometheus metrics.
//
// [Collector] reads the inventory, partition state, and peer counts of
// every accelerator at scrape time. Throttle residency takes a sampling
// interval per device, so [Collector.Run] re-samples it on a ticker
// and scrapes report the most recent result. [Server] serves the
// metrics at /metrics with the same bind, ready, and graceful-drain
// lifecycle as the other long-running servers.
package exporter
