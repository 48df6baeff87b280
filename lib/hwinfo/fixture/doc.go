// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fixture serves a simulated host described in a YAML or JSONC
// file. Its Backend answers discovery, partition, topology, and
// violation queries from the description, so the registry and the
// command line can be exercised on machines without accelerators.
//
// A minimal description:
//
//	processors:
//	  - kind: cpu
//	    identifier: "0"
//	  - kind: accelerator
//	    bus_address: "0000:05:00.0"
//	    socket_id: "0"
//	    partition:
//	      supported_configs: "SPX, CPX"
//	      compute_units: 8
//	      current: SPX
//	      partition_count: 1
//	links:
//	  - {from: "0000:05:00.0", to: "0000:15:00.0", type: xgmi, hops: 1, weight: 15}
package fixture
