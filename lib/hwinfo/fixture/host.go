// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/topology"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

// Host describes a simulated machine.
type Host struct {
	Processors []ProcessorSpec `yaml:"processors" json:"processors"`
	Links      []LinkSpec      `yaml:"links" json:"links"`
}

// ProcessorSpec is one simulated processor. PCI-family processors are
// identified by BusAddress, CPU sockets and cores by Identifier.
type ProcessorSpec struct {
	Kind       processor.Kind       `yaml:"kind" json:"kind"`
	BusAddress processor.BusAddress `yaml:"bus_address" json:"bus_address"`
	Identifier string               `yaml:"identifier" json:"identifier"`
	Name       string               `yaml:"name" json:"name"`

	// SocketID defaults to the bus address's domain:bus:device for PCI
	// processors and to Identifier for CPU sockets. Cores must set it.
	SocketID string `yaml:"socket_id" json:"socket_id"`

	Partition *PartitionSpec `yaml:"partition" json:"partition"`
	Violation *ViolationSpec `yaml:"violation" json:"violation"`
}

// label names the processor in validation errors and link endpoints.
// CPU sockets and cores number independently, so their identifiers are
// qualified by kind: "cpu:0" is socket 0, "cpu-core:0" is core 0.
func (s *ProcessorSpec) label() string {
	if s.BusAddress.IsZero() {
		return s.Kind.String() + ":" + s.Identifier
	}
	return s.BusAddress.String()
}

// PartitionSpec is the partition state of a simulated accelerator. An
// empty text field makes the matching query fail as not supported.
type PartitionSpec struct {
	SupportedConfigs string `yaml:"supported_configs" json:"supported_configs"`

	// SupportedConfigsError, when set to an error kind name such as
	// "permission_denied", makes the supported-configs query fail with
	// that kind.
	SupportedConfigsError smierr.Kind `yaml:"supported_configs_error" json:"supported_configs_error"`

	Capabilities   string `yaml:"capabilities" json:"capabilities"`
	ComputeUnits   uint32 `yaml:"compute_units" json:"compute_units"`
	Current        string `yaml:"current" json:"current"`
	PartitionCount uint32 `yaml:"partition_count" json:"partition_count"`

	Memory MemorySpec `yaml:"memory" json:"memory"`

	// Resources is keyed by lower-case resource name: xcc, encoder,
	// decoder, dma, jpeg.
	Resources map[string]ResourceSpec `yaml:"resources" json:"resources"`
}

// MemorySpec is the memory partition state.
type MemorySpec struct {
	Supported string `yaml:"supported" json:"supported"`

	// SupportedByProfile overrides Supported while the named compute
	// profile is selected.
	SupportedByProfile map[string]string `yaml:"supported_by_profile" json:"supported_by_profile"`

	Current string `yaml:"current" json:"current"`
}

// ResourceSpec is one resource-sharing descriptor.
type ResourceSpec struct {
	PerPartition uint32 `yaml:"per_partition" json:"per_partition"`
	Sharing      uint32 `yaml:"sharing" json:"sharing"`
}

// ViolationSpec is a scripted sequence of metrics snapshots. Each
// ViolationSample call returns the next one; the last repeats.
type ViolationSpec struct {
	Samples []SampleSpec `yaml:"samples" json:"samples"`
}

// SampleSpec is one metrics snapshot. Omitted counters read as the
// unimplemented sentinel.
type SampleSpec struct {
	AccumulationCounter *uint64           `yaml:"accumulation_counter" json:"accumulation_counter"`
	FirmwareTimestamp   uint64            `yaml:"firmware_timestamp" json:"firmware_timestamp"`
	Residency           map[string]uint64 `yaml:"residency" json:"residency"`
}

// sample converts the spec into a violation.Sample.
func (s *SampleSpec) sample() (violation.Sample, error) {
	sample := violation.Sample{
		AccumulationCounter: violation.Sentinel,
		FirmwareTimestamp:   s.FirmwareTimestamp,
	}
	if s.AccumulationCounter != nil {
		sample.AccumulationCounter = *s.AccumulationCounter
	}
	for i := range sample.Residency {
		sample.Residency[i] = violation.Sentinel
	}
	for name, value := range s.Residency {
		category, err := violation.ParseCategory(name)
		if err != nil {
			return violation.Sample{}, err
		}
		sample.Residency[category] = value
	}
	return sample, nil
}

// LinkSpec is an interconnect between two processors, named by bus
// address or by kind-qualified identifier such as "cpu:0". Links are
// symmetric unless Directed is set.
type LinkSpec struct {
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to" json:"to"`
	Type     string `yaml:"type" json:"type"`
	Hops     uint64 `yaml:"hops" json:"hops"`
	Weight   uint64 `yaml:"weight" json:"weight"`
	Directed bool   `yaml:"directed" json:"directed"`

	// Inaccessible marks a link the source cannot use for peer access.
	Inaccessible bool `yaml:"inaccessible" json:"inaccessible"`
}

// Load reads a host description. Files ending in .json or .jsonc are
// parsed as JSON with comments and trailing commas; anything else as
// YAML.
func Load(path string) (*Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var host *Host
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		host, err = ParseJSONC(data)
	default:
		host, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return host, nil
}

// ParseYAML parses a YAML host description. Unknown fields are errors.
func ParseYAML(data []byte) (*Host, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var host Host
	if err := decoder.Decode(&host); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &host, nil
}

// ParseJSONC strips JSONC comments and trailing commas from data, then
// parses the result. Unknown fields are errors.
func ParseJSONC(data []byte) (*Host, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	var host Host
	if err := decoder.Decode(&host); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &host, nil
}

// Validate checks that every processor is addressable and every link
// names two known processors with a valid link type.
func (h *Host) Validate() error {
	var errs []error
	labels := make(map[string]bool)
	for i := range h.Processors {
		spec := &h.Processors[i]
		if !spec.Kind.Valid() {
			errs = append(errs, fmt.Errorf("processor %d: invalid kind", i))
			continue
		}
		addressed := true
		switch spec.Kind {
		case processor.CPUSocket, processor.CPUCore:
			if spec.Identifier == "" {
				errs = append(errs, fmt.Errorf("processor %d: %s needs an identifier", i, spec.Kind))
				addressed = false
			}
			if spec.Kind == processor.CPUCore && spec.SocketID == "" {
				errs = append(errs, fmt.Errorf("processor %d: cpu core %s needs a socket_id", i, spec.Identifier))
			}
		default:
			if spec.BusAddress.IsZero() {
				errs = append(errs, fmt.Errorf("processor %d: %s needs a bus_address", i, spec.Kind))
				addressed = false
			}
		}
		label := spec.label()
		if addressed {
			if labels[label] {
				errs = append(errs, fmt.Errorf("processor %d: duplicate %s", i, label))
			}
			labels[label] = true
		}

		if spec.Partition != nil && spec.Kind != processor.Accelerator {
			errs = append(errs, fmt.Errorf("processor %s: only accelerators have partitions", label))
		}
		if spec.Violation != nil {
			for j := range spec.Violation.Samples {
				if _, err := spec.Violation.Samples[j].sample(); err != nil {
					errs = append(errs, fmt.Errorf("processor %s: sample %d: %w", label, j, err))
				}
			}
		}
		if spec.Partition != nil {
			for name := range spec.Partition.Resources {
				if _, ok := resourceNames[name]; !ok {
					errs = append(errs, fmt.Errorf("processor %s: unknown resource %q", label, name))
				}
			}
		}
	}

	for i, link := range h.Links {
		if !labels[link.From] {
			errs = append(errs, fmt.Errorf("link %d: unknown processor %q", i, link.From))
		}
		if !labels[link.To] {
			errs = append(errs, fmt.Errorf("link %d: unknown processor %q", i, link.To))
		}
		if _, err := topology.ParseLinkType(link.Type); err != nil {
			errs = append(errs, fmt.Errorf("link %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// resourceNames maps fixture resource keys to resource types.
var resourceNames = map[string]partition.ResourceType{
	"xcc":     partition.ResourceXCC,
	"encoder": partition.ResourceEncoder,
	"decoder": partition.ResourceDecoder,
	"dma":     partition.ResourceDMA,
	"jpeg":    partition.ResourceJPEG,
}
