// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// CPUBackend discovers CPU sockets and physical cores from the sysfs
// CPU topology. It serves no engine queries: sockets and cores have no
// partitions, peers, or violation counters.
type CPUBackend struct {
	sysRoot  string
	procRoot string
	logger   *slog.Logger
}

// NewCPUBackend creates a CPU backend reading under sysRoot and
// procRoot. Empty roots default to /sys and /proc.
func NewCPUBackend(sysRoot, procRoot string, logger *slog.Logger) *CPUBackend {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &CPUBackend{sysRoot: sysRoot, procRoot: procRoot, logger: logger}
}

// Name implements processor.Driver.
func (b *CPUBackend) Name() string { return "cpu" }

// Close is a no-op; discovery holds nothing open.
func (b *CPUBackend) Close() error { return nil }

// logicalCPU is one cpuN directory's topology.
type logicalCPU struct {
	number    int
	packageID int
	coreID    int
}

// Discover returns one CPUSocket identity per physical package and one
// CPUCore identity per (package, core) pair. Sockets come first, in
// ascending package order; cores follow, ordered by their lowest
// logical CPU number. A core's Identifier is that logical CPU number.
// A host without the CPU topology tree yields no processors.
func (b *CPUBackend) Discover(ctx context.Context) ([]processor.Identity, error) {
	cpuBase := filepath.Join(b.sysRoot, "devices", "system", "cpu")
	cpus, err := readLogicalCPUs(ctx, cpuBase)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			b.logger.Debug("no CPU topology in sysfs", "path", cpuBase)
			return nil, nil
		}
		return nil, smierr.FromSyscall(err, "reading CPU topology")
	}

	model := readCPUModel(filepath.Join(b.procRoot, "cpuinfo"))

	type coreKey struct{ packageID, coreID int }
	var packages []int
	cores := make(map[coreKey]int)
	var coreOrder []coreKey
	for _, cpu := range cpus {
		if !slices.Contains(packages, cpu.packageID) {
			packages = append(packages, cpu.packageID)
		}
		key := coreKey{cpu.packageID, cpu.coreID}
		if _, seen := cores[key]; !seen {
			// cpus is sorted by number, so the first sighting is the
			// lowest logical CPU of the core.
			cores[key] = cpu.number
			coreOrder = append(coreOrder, key)
		}
	}
	slices.Sort(packages)

	identities := make([]processor.Identity, 0, len(packages)+len(coreOrder))
	for _, packageID := range packages {
		id := strconv.Itoa(packageID)
		identities = append(identities, processor.Identity{
			Kind:        processor.CPUSocket,
			Identifier:  id,
			SocketID:    id,
			Name:        model,
			DeviceIndex: packageID,
		})
	}
	for _, key := range coreOrder {
		lowest := cores[key]
		identities = append(identities, processor.Identity{
			Kind:        processor.CPUCore,
			Identifier:  strconv.Itoa(lowest),
			SocketID:    strconv.Itoa(key.packageID),
			DeviceIndex: lowest,
		})
	}

	b.logger.Debug("discovered CPU topology",
		"sockets", len(packages),
		"cores", len(coreOrder),
		"logical_cpus", len(cpus))
	return identities, nil
}

// readLogicalCPUs reads the topology of every cpuN directory under
// cpuBase, sorted by CPU number. CPUs without topology files (offline
// CPUs on some kernels) are skipped.
func readLogicalCPUs(ctx context.Context, cpuBase string) ([]logicalCPU, error) {
	entries, err := os.ReadDir(cpuBase)
	if err != nil {
		return nil, err
	}

	var cpus []logicalCPU
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Filter to cpuN directories (skip cpufreq, cpuidle, etc.)
		name := entry.Name()
		if !numberedEntry(name, "cpu") {
			continue
		}
		number, _ := strconv.Atoi(name[3:])

		topologyDir := filepath.Join(cpuBase, name, "topology")
		packageID, err := strconv.Atoi(ReadSysfsString(filepath.Join(topologyDir, "physical_package_id")))
		if err != nil {
			continue
		}
		coreID, err := strconv.Atoi(ReadSysfsString(filepath.Join(topologyDir, "core_id")))
		if err != nil {
			continue
		}
		cpus = append(cpus, logicalCPU{number: number, packageID: packageID, coreID: coreID})
	}
	slices.SortFunc(cpus, func(a, b logicalCPU) int { return a.number - b.number })
	return cpus, nil
}

// readCPUModel returns the first "model name" in /proc/cpuinfo.
func readCPUModel(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "model name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}
