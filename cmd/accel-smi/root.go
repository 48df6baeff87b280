// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"

	"github.com/bureau-foundation/accelsmi/cmd/accel-smi/cli"
	"github.com/bureau-foundation/accelsmi/lib/version"
)

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name:       "accel-smi",
		HelpOutput: a.stderr,
		Description: `Inspect and reconfigure the processors of this host.

Processors are discovered from the backends enabled in the
configuration file (--config or $ACCELSMI_CONFIG), or from a host
description file given with --fixture. Bus addresses use the PCI slot
form domain:bus:device.function, for example 0000:05:00.0.`,
		Subcommands: []*cli.Command{
			a.listCommand(),
			a.partitionCommand(),
			a.setPartitionCommand(),
			a.setMemoryCommand(),
			a.topologyCommand(),
			a.violationCommand(),
			a.fingerprintCommand(),
			a.exporterCommand(),
			a.versionCommand(),
		},
	}
}

func (a *app) versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print build information",
		Usage:   "accel-smi version [flags]",
		Flags:   a.flags("version", nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, "accel-smi version"); err != nil {
				return err
			}
			format, err := cli.ParseFormat(a.options.Format)
			if err != nil {
				return err
			}
			return cli.Emit(a.stdout, format, version.Current(), func(w io.Writer) error {
				version.Print(w, "accel-smi")
				return nil
			})
		},
	}
}
