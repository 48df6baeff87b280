// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/bureau-foundation/accelsmi/cmd/accel-smi/cli"
	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
)

// partitionReport is the partition state of one accelerator. Current
// and Memory are nil when the device does not report them.
type partitionReport struct {
	BusAddress processor.BusAddress    `json:"bus_address" yaml:"bus_address" cbor:"bus_address"`
	Config     *partition.Config       `json:"config" yaml:"config" cbor:"config"`
	Current    *partition.Current      `json:"current,omitempty" yaml:"current,omitempty" cbor:"current,omitempty"`
	Memory     *partition.MemoryConfig `json:"memory,omitempty" yaml:"memory,omitempty" cbor:"memory,omitempty"`
}

func (a *app) partitionCommand() *cli.Command {
	return &cli.Command{
		Name:    "partition",
		Summary: "Show compute and memory partitioning of an accelerator",
		Description: `Show the compute partition profiles an accelerator supports, the
resources each profile hands to a partition, and the active compute
and memory partition modes.`,
		Usage: "accel-smi partition <bus-address> [flags]",
		Flags: a.flags("partition", nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "accel-smi partition <bus-address>"); err != nil {
				return err
			}
			s, err := a.open("partition")
			if err != nil {
				return err
			}
			defer s.Close()

			handle, err := s.lookup(args[0])
			if err != nil {
				return err
			}
			identity, err := s.registry.Identity(handle)
			if err != nil {
				return err
			}
			report := partitionReport{BusAddress: identity.BusAddress}

			if current, err := s.registry.CurrentPartition(handle); err == nil {
				report.Current = &current
			} else if err := optional(err); err != nil {
				return err
			}
			if memory, err := s.registry.MemoryPartition(handle); err == nil {
				report.Memory = &memory
			} else if err := optional(err); err != nil {
				return err
			}
			// Resolving the profile table selects each profile in turn,
			// which moves the memory capabilities the device reports.
			// Read the active state first.
			report.Config, err = s.registry.PartitionConfig(handle)
			if err != nil {
				return err
			}

			return s.emit(report, func(w io.Writer) error {
				return writePartitionReport(w, report)
			})
		},
	}
}

func writePartitionReport(w io.Writer, report partitionReport) error {
	fmt.Fprintf(w, "%s\n", report.BusAddress)
	if report.Current != nil {
		fmt.Fprintf(w, "  compute partition: %s", report.Current.Type)
		if report.Current.Index != partition.InvalidIndex {
			fmt.Fprintf(w, " (profile %d)", report.Current.Index)
		}
		if report.Current.NumPartitions != partition.InvalidIndex {
			fmt.Fprintf(w, ", %d partitions", report.Current.NumPartitions)
		}
		fmt.Fprintln(w)
	}
	if report.Memory != nil {
		fmt.Fprintf(w, "  memory partition:  %s (supported: %s)\n", report.Memory.Mode, report.Memory.Caps)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tPROFILE\tPARTITIONS\tMEMORY\tRESOURCES")
	for _, profile := range report.Config.Profiles {
		marker := ""
		if profile.Index == report.Config.DefaultProfileIndex {
			marker = "*"
		}
		var resources []string
		for _, resource := range report.Config.ResourcesFor(profile.Index) {
			resources = append(resources, fmt.Sprintf("%s %d/%d",
				resource.Resource, resource.PartitionResource, resource.PartitionsSharing))
		}
		fmt.Fprintf(tw, "%d%s\t%s\t%d\t%s\t%s\n",
			profile.Index, marker, profile.Type, profile.NumPartitions, profile.MemoryCaps, strings.Join(resources, ", "))
	}
	return tw.Flush()
}

// setPartitionResult is what set-partition reports.
type setPartitionResult struct {
	BusAddress   processor.BusAddress  `json:"bus_address" yaml:"bus_address" cbor:"bus_address"`
	ProfileIndex uint32                `json:"profile_index" yaml:"profile_index" cbor:"profile_index"`
	ProfileType  partition.ProfileType `json:"profile_type" yaml:"profile_type" cbor:"profile_type"`
}

func (a *app) setPartitionCommand() *cli.Command {
	return &cli.Command{
		Name:    "set-partition",
		Summary: "Switch an accelerator to another compute partition profile",
		Description: `Switch an accelerator to the compute partition profile at the given
index of its profile list (see "accel-smi partition"). The device
is reconfigured; running workloads on it will be disrupted.`,
		Usage: "accel-smi set-partition <bus-address> <profile-index> [flags]",
		Examples: []cli.Example{
			{Description: "Select profile 3", Command: "accel-smi set-partition 0000:05:00.0 3"},
		},
		Flags: a.flags("set-partition", nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 2, "accel-smi set-partition <bus-address> <profile-index>"); err != nil {
				return err
			}
			index, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid profile index %q", args[1])
			}

			s, err := a.open("set-partition")
			if err != nil {
				return err
			}
			defer s.Close()

			handle, err := s.lookup(args[0])
			if err != nil {
				return err
			}
			identity, err := s.registry.Identity(handle)
			if err != nil {
				return err
			}
			profile, err := s.registry.SetPartitionProfile(handle, uint32(index))
			if err != nil {
				return err
			}
			s.logger.Info("compute partition changed",
				"bus_address", identity.BusAddress.String(), "profile", profile.String())

			result := setPartitionResult{BusAddress: identity.BusAddress, ProfileIndex: uint32(index), ProfileType: profile}
			return s.emit(result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: compute partition set to %s (profile %d)\n",
					result.BusAddress, result.ProfileType, result.ProfileIndex)
				return err
			})
		},
	}
}

// setMemoryResult is what set-memory reports.
type setMemoryResult struct {
	BusAddress processor.BusAddress `json:"bus_address" yaml:"bus_address" cbor:"bus_address"`
	Mode       partition.MemoryMode `json:"mode" yaml:"mode" cbor:"mode"`
}

func (a *app) setMemoryCommand() *cli.Command {
	return &cli.Command{
		Name:    "set-memory",
		Summary: "Switch an accelerator to another memory partition mode",
		Usage:   "accel-smi set-memory <bus-address> <NPS1|NPS2|NPS4|NPS8> [flags]",
		Flags:   a.flags("set-memory", nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 2, "accel-smi set-memory <bus-address> <mode>"); err != nil {
				return err
			}
			mode, err := partition.ParseMemoryMode(args[1])
			if err != nil {
				return err
			}

			s, err := a.open("set-memory")
			if err != nil {
				return err
			}
			defer s.Close()

			handle, err := s.lookup(args[0])
			if err != nil {
				return err
			}
			identity, err := s.registry.Identity(handle)
			if err != nil {
				return err
			}
			if err := s.registry.SetMemoryPartition(handle, mode); err != nil {
				return err
			}
			s.logger.Info("memory partition changed",
				"bus_address", identity.BusAddress.String(), "mode", mode.String())

			result := setMemoryResult{BusAddress: identity.BusAddress, Mode: mode}
			return s.emit(result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: memory partition set to %s\n", result.BusAddress, result.Mode)
				return err
			})
		},
	}
}
