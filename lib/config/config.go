// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable that points at the config
// file when no --config flag is given.
const EnvironmentVariable = "ACCELSMI_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for workstations and test hosts.
	Development Environment = "development"
	// Staging is for pre-production fleets.
	Staging Environment = "staging"
	// Production is for production fleets.
	Production Environment = "production"
)

// Config is the configuration of accel-smi and the exporter.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Backends selects the device backends and where they read from.
	Backends BackendsConfig `yaml:"backends"`

	// Violation configures throttle residency sampling.
	Violation ViolationConfig `yaml:"violation"`

	// Exporter configures the Prometheus exporter.
	Exporter ExporterConfig `yaml:"exporter"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Backends  *BackendsConfig  `yaml:"backends,omitempty"`
	Violation *ViolationConfig `yaml:"violation,omitempty"`
	Exporter  *ExporterConfig  `yaml:"exporter,omitempty"`
}

// BackendsConfig lists the device backends. They are consulted in the
// order amdgpu, nvidia, pci, cpu.
type BackendsConfig struct {
	AMDGPU AMDGPUConfig `yaml:"amdgpu"`
	NVIDIA NVIDIAConfig `yaml:"nvidia"`
	PCI    PCIConfig    `yaml:"pci"`
	CPU    CPUConfig    `yaml:"cpu"`

	// Fixture replaces every hardware backend with a simulated host.
	Fixture FixtureConfig `yaml:"fixture"`
}

// AMDGPUConfig configures the AMD accelerator backend.
type AMDGPUConfig struct {
	Enabled bool `yaml:"enabled"`

	// SysRoot is the sysfs mount. Default: /sys
	SysRoot string `yaml:"sys_root"`

	// KFDRoot is the KFD topology directory.
	// Default: ${sys_root}/class/kfd/kfd/topology
	KFDRoot string `yaml:"kfd_root"`
}

// NVIDIAConfig configures the NVIDIA accelerator backend.
type NVIDIAConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SysRoot  string `yaml:"sys_root"`
	ProcRoot string `yaml:"proc_root"`
}

// PCIConfig configures NIC and PCIe switch discovery.
type PCIConfig struct {
	Enabled bool   `yaml:"enabled"`
	SysRoot string `yaml:"sys_root"`

	// NICVendors are the PCI vendor IDs whose network functions are
	// reported, written as hex ("0x1dd8"). Empty selects the backend
	// default.
	NICVendors []string `yaml:"nic_vendors"`
}

// CPUConfig configures CPU socket and core discovery.
type CPUConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SysRoot  string `yaml:"sys_root"`
	ProcRoot string `yaml:"proc_root"`
}

// FixtureConfig points at a simulated host description.
type FixtureConfig struct {
	// Path is a YAML or JSONC host description. Empty disables the
	// fixture.
	Path string `yaml:"path"`
}

// ViolationConfig configures throttle residency sampling.
type ViolationConfig struct {
	// SampleInterval is the wait between the two snapshots. Values
	// below 100ms are raised to 100ms. Default: 100ms
	SampleInterval string `yaml:"sample_interval"`
}

// ExporterConfig configures the Prometheus exporter.
type ExporterConfig struct {
	// Listen is the HTTP listen address. Default: :9464
	Listen string `yaml:"listen"`

	// Interval is how often violation gauges are re-sampled.
	// Default: 15s
	Interval string `yaml:"interval"`
}

// Default returns the default configuration: every hardware backend
// enabled against the live /sys and /proc.
func Default() *Config {
	return &Config{
		Environment: Development,
		Backends: BackendsConfig{
			AMDGPU: AMDGPUConfig{Enabled: true, SysRoot: "/sys"},
			NVIDIA: NVIDIAConfig{Enabled: true, SysRoot: "/sys", ProcRoot: "/proc"},
			PCI:    PCIConfig{Enabled: true, SysRoot: "/sys"},
			CPU:    CPUConfig{Enabled: true, SysRoot: "/sys", ProcRoot: "/proc"},
		},
		Violation: ViolationConfig{
			SampleInterval: "100ms",
		},
		Exporter: ExporterConfig{
			Listen:   ":9464",
			Interval: "15s",
		},
	}
}

// Load loads configuration from the file named by ACCELSMI_CONFIG.
// Unlike LoadOrDefault, an unset variable is an error.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your accel-smi.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadOrDefault loads path, or the file named by ACCELSMI_CONFIG when
// path is empty. With neither set it returns Default(), so the command
// line works on an unconfigured host.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, then applies
// the section for the configured environment and expands ${VAR}
// patterns in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Backends != nil {
		c.Backends.apply(overrides.Backends)
	}

	if overrides.Violation != nil && overrides.Violation.SampleInterval != "" {
		c.Violation.SampleInterval = overrides.Violation.SampleInterval
	}

	if overrides.Exporter != nil {
		if overrides.Exporter.Listen != "" {
			c.Exporter.Listen = overrides.Exporter.Listen
		}
		if overrides.Exporter.Interval != "" {
			c.Exporter.Interval = overrides.Exporter.Interval
		}
	}
}

// apply merges an override section. Enabled is a bool, so an override
// section always sets it: naming a backend in an override without
// enabled: true disables it.
func (b *BackendsConfig) apply(overrides *BackendsConfig) {
	b.AMDGPU.Enabled = overrides.AMDGPU.Enabled
	if overrides.AMDGPU.SysRoot != "" {
		b.AMDGPU.SysRoot = overrides.AMDGPU.SysRoot
	}
	if overrides.AMDGPU.KFDRoot != "" {
		b.AMDGPU.KFDRoot = overrides.AMDGPU.KFDRoot
	}

	b.NVIDIA.Enabled = overrides.NVIDIA.Enabled
	if overrides.NVIDIA.SysRoot != "" {
		b.NVIDIA.SysRoot = overrides.NVIDIA.SysRoot
	}
	if overrides.NVIDIA.ProcRoot != "" {
		b.NVIDIA.ProcRoot = overrides.NVIDIA.ProcRoot
	}

	b.PCI.Enabled = overrides.PCI.Enabled
	if overrides.PCI.SysRoot != "" {
		b.PCI.SysRoot = overrides.PCI.SysRoot
	}
	if len(overrides.PCI.NICVendors) > 0 {
		b.PCI.NICVendors = overrides.PCI.NICVendors
	}

	b.CPU.Enabled = overrides.CPU.Enabled
	if overrides.CPU.SysRoot != "" {
		b.CPU.SysRoot = overrides.CPU.SysRoot
	}
	if overrides.CPU.ProcRoot != "" {
		b.CPU.ProcRoot = overrides.CPU.ProcRoot
	}

	if overrides.Fixture.Path != "" {
		b.Fixture.Path = overrides.Fixture.Path
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Backends.AMDGPU.SysRoot = expandVars(c.Backends.AMDGPU.SysRoot, vars)
	vars["AMDGPU_SYS_ROOT"] = c.Backends.AMDGPU.SysRoot
	c.Backends.AMDGPU.KFDRoot = expandVars(c.Backends.AMDGPU.KFDRoot, vars)
	c.Backends.NVIDIA.SysRoot = expandVars(c.Backends.NVIDIA.SysRoot, vars)
	c.Backends.NVIDIA.ProcRoot = expandVars(c.Backends.NVIDIA.ProcRoot, vars)
	c.Backends.PCI.SysRoot = expandVars(c.Backends.PCI.SysRoot, vars)
	c.Backends.CPU.SysRoot = expandVars(c.Backends.CPU.SysRoot, vars)
	c.Backends.CPU.ProcRoot = expandVars(c.Backends.CPU.ProcRoot, vars)
	c.Backends.Fixture.Path = expandVars(c.Backends.Fixture.Path, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// NICVendorIDs parses the configured NIC vendor IDs.
func (p *PCIConfig) NICVendorIDs() ([]uint16, error) {
	vendors := make([]uint16, 0, len(p.NICVendors))
	for _, text := range p.NICVendors {
		vendor, err := strconv.ParseUint(text, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("backends.pci.nic_vendors: invalid vendor id %q", text)
		}
		vendors = append(vendors, uint16(vendor))
	}
	return vendors, nil
}

// SampleIntervalDuration parses violation.sample_interval.
func (v *ViolationConfig) SampleIntervalDuration() (time.Duration, error) {
	return parsePositiveDuration("violation.sample_interval", v.SampleInterval)
}

// IntervalDuration parses exporter.interval.
func (e *ExporterConfig) IntervalDuration() (time.Duration, error) {
	return parsePositiveDuration("exporter.interval", e.Interval)
}

func parsePositiveDuration(field, text string) (time.Duration, error) {
	duration, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, text)
	}
	return duration, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	backends := c.Backends
	if backends.Fixture.Path == "" &&
		!backends.AMDGPU.Enabled && !backends.NVIDIA.Enabled && !backends.PCI.Enabled && !backends.CPU.Enabled {
		errs = append(errs, errors.New("backends: no backend enabled and no fixture configured"))
	}
	if backends.AMDGPU.Enabled && backends.AMDGPU.SysRoot == "" {
		errs = append(errs, errors.New("backends.amdgpu.sys_root is required"))
	}
	if backends.NVIDIA.Enabled && backends.NVIDIA.SysRoot == "" {
		errs = append(errs, errors.New("backends.nvidia.sys_root is required"))
	}
	if backends.PCI.Enabled && backends.PCI.SysRoot == "" {
		errs = append(errs, errors.New("backends.pci.sys_root is required"))
	}
	if backends.CPU.Enabled && backends.CPU.SysRoot == "" {
		errs = append(errs, errors.New("backends.cpu.sys_root is required"))
	}
	if _, err := backends.PCI.NICVendorIDs(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Violation.SampleIntervalDuration(); err != nil {
		errs = append(errs, err)
	}

	if c.Exporter.Listen == "" {
		errs = append(errs, errors.New("exporter.listen is required"))
	}
	if _, err := c.Exporter.IntervalDuration(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
