// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/accelsmi/cmd/accel-smi/cli"
	"github.com/bureau-foundation/accelsmi/lib/clock"
	"github.com/bureau-foundation/accelsmi/lib/config"
	"github.com/bureau-foundation/accelsmi/lib/hwinfo"
	"github.com/bureau-foundation/accelsmi/lib/hwinfo/amdgpu"
	"github.com/bureau-foundation/accelsmi/lib/hwinfo/fixture"
	"github.com/bureau-foundation/accelsmi/lib/hwinfo/nvidia"
	"github.com/bureau-foundation/accelsmi/lib/hwinfo/pcidev"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/registry"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// app holds the state shared by every command of one invocation.
type app struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer

	// clock drives violation sampling and the exporter loop. Nil
	// means the wall clock.
	clock clock.Clock

	options globalOptions
}

// globalOptions are the flags every command accepts.
type globalOptions struct {
	ConfigPath  string
	FixturePath string
	Format      string
	LogLevel    string
}

// flags returns a Flags constructor for a command: the global flags
// plus whatever extra adds.
func (a *app) flags(name string, extra func(*pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flagSet.StringVar(&a.options.ConfigPath, "config", "",
			"configuration file (default $"+config.EnvironmentVariable+", then built-in defaults)")
		flagSet.StringVar(&a.options.FixturePath, "fixture", "",
			"read processors from a host description file instead of hardware")
		flagSet.StringVar(&a.options.Format, "format", string(cli.FormatText),
			"output format: text, json, yaml, or cbor")
		flagSet.StringVar(&a.options.LogLevel, "log-level", "warn",
			"log level: debug, info, warn, or error")
		if extra != nil {
			extra(flagSet)
		}
		return flagSet
	}
}

// session is an initialized registry plus the settings it was built
// from.
type session struct {
	registry *registry.Registry
	config   *config.Config
	logger   *slog.Logger
	format   cli.Format
	stdout   io.Writer
}

// open loads configuration, builds the enabled backends, and
// initializes a registry over them. The caller must Close the session.
func (a *app) open(command string) (*session, error) {
	format, err := cli.ParseFormat(a.options.Format)
	if err != nil {
		return nil, err
	}
	level, err := cli.ParseLogLevel(a.options.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := cli.NewCommandLogger(a.stderr, level).With("command", command)

	cfg, err := config.LoadOrDefault(a.options.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if a.options.FixturePath != "" {
		cfg.Backends.Fixture.Path = a.options.FixturePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	interval, err := cfg.Violation.SampleIntervalDuration()
	if err != nil {
		return nil, err
	}
	backends, err := buildBackends(cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Config{
		Backends:          backends,
		Logger:            logger,
		Clock:             a.clock,
		ViolationInterval: interval,
	})
	if err := reg.Init(a.ctx, registry.InitAll); err != nil {
		return nil, fmt.Errorf("discovering processors: %w", err)
	}
	return &session{
		registry: reg,
		config:   cfg,
		logger:   logger,
		format:   format,
		stdout:   a.stdout,
	}, nil
}

// Close shuts the registry down.
func (s *session) Close() {
	if err := s.registry.Shutdown(); err != nil {
		s.logger.Warn("registry shutdown failed", "error", err)
	}
}

// emit renders result in the session's output format.
func (s *session) emit(result any, text func(io.Writer) error) error {
	return cli.Emit(s.stdout, s.format, result, text)
}

// lookup resolves a processor argument to a handle. PCI-family
// processors are named by bus address. CPU processors are named by
// identifier, qualified by kind when needed: "0" and "cpu:0" are CPU
// socket 0, "cpu-core:0" is core 0.
func (s *session) lookup(text string) (registry.ProcessorHandle, error) {
	if address, err := processor.ParseBusAddress(text); err == nil {
		return s.registry.ProcessorByBusAddress(address)
	}
	kind, identifier := processor.CPUSocket, text
	if prefix, rest, qualified := strings.Cut(text, ":"); qualified {
		parsed, err := processor.ParseKind(prefix)
		if err != nil {
			return registry.ProcessorHandle{}, smierr.InvalidArgument("%q is neither a bus address nor a processor identifier", text)
		}
		kind, identifier = parsed, rest
	}
	return s.registry.ProcessorByIdentifier(kind, identifier)
}

// buildBackends returns the backends the configuration enables, in
// enumeration order. A fixture path replaces every hardware backend.
func buildBackends(cfg *config.Config, logger *slog.Logger) ([]registry.Backend, error) {
	backends := cfg.Backends
	if backends.Fixture.Path != "" {
		logger.Info("reading processors from fixture", "path", backends.Fixture.Path)
		return []registry.Backend{fixture.NewBackend(backends.Fixture.Path, logger)}, nil
	}

	var enabled []registry.Backend
	if backends.AMDGPU.Enabled {
		enabled = append(enabled, amdgpu.NewBackend(backends.AMDGPU.SysRoot, backends.AMDGPU.KFDRoot, logger))
	}
	if backends.NVIDIA.Enabled {
		enabled = append(enabled, nvidia.NewBackend(backends.NVIDIA.SysRoot, backends.NVIDIA.ProcRoot, logger))
	}
	if backends.PCI.Enabled {
		vendors, err := backends.PCI.NICVendorIDs()
		if err != nil {
			return nil, err
		}
		enabled = append(enabled, pcidev.NewBackend(backends.PCI.SysRoot, vendors, logger))
	}
	if backends.CPU.Enabled {
		enabled = append(enabled, hwinfo.NewCPUBackend(backends.CPU.SysRoot, backends.CPU.ProcRoot, logger))
	}
	return enabled, nil
}

// optional turns a not-supported error into a nil result so a report
// can omit the section.
func optional(err error) error {
	if errors.Is(err, smierr.ErrNotSupported) {
		return nil
	}
	return err
}

// requireArgs checks the positional argument count.
func requireArgs(args []string, want int, usage string) error {
	if len(args) != want {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}
