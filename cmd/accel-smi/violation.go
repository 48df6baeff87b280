// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bureau-foundation/accelsmi/cmd/accel-smi/cli"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

func (a *app) violationCommand() *cli.Command {
	return &cli.Command{
		Name:    "violation",
		Summary: "Measure throttle residency of an accelerator",
		Description: `Read the accelerator's throttle accumulators twice, one sampling
interval apart (violation.sample_interval in the configuration), and
report the share of that interval each throttle reason was active.
Categories the device cannot report show as n/a.`,
		Usage: "accel-smi violation <bus-address> [flags]",
		Flags: a.flags("violation", nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "accel-smi violation <bus-address>"); err != nil {
				return err
			}
			s, err := a.open("violation")
			if err != nil {
				return err
			}
			defer s.Close()

			handle, err := s.lookup(args[0])
			if err != nil {
				return err
			}
			status, err := s.registry.ViolationStatus(handle)
			if err != nil {
				return err
			}
			return s.emit(status, func(w io.Writer) error {
				return writeViolationStatus(w, status)
			})
		},
	}
}

func writeViolationStatus(w io.Writer, status violation.Status) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tPERCENT\tSTATE")
	for _, category := range status.Categories {
		percent := "n/a"
		if category.State != violation.StateUnknown {
			percent = fmt.Sprintf("%d%%", category.Percent)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", category.Category, percent, category.State)
	}
	return tw.Flush()
}
