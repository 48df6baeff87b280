// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/accelsmi/cmd/accel-smi/cli"
	"github.com/bureau-foundation/accelsmi/lib/registry"
)

// fingerprintResult is what the fingerprint command reports.
type fingerprintResult struct {
	Fingerprint registry.Fingerprint `json:"fingerprint" yaml:"fingerprint" cbor:"fingerprint"`
	Session     uuid.UUID            `json:"session" yaml:"session" cbor:"session"`
}

func (a *app) fingerprintCommand() *cli.Command {
	var expect string
	return &cli.Command{
		Name:    "fingerprint",
		Summary: "Print a digest of the discovered inventory",
		Description: `Print a digest of the processors discovered on this host. The digest
depends only on what was discovered and in which order, so it is the
same across runs until hardware is added, removed, or moved.

With --expect, exit with status 2 when the digest differs.`,
		Usage: "accel-smi fingerprint [flags]",
		Flags: a.flags("fingerprint", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&expect, "expect", "", "expected fingerprint (hex)")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, "accel-smi fingerprint [flags]"); err != nil {
				return err
			}
			s, err := a.open("fingerprint")
			if err != nil {
				return err
			}
			defer s.Close()

			fingerprint, err := s.registry.Fingerprint()
			if err != nil {
				return err
			}
			session, err := s.registry.Session()
			if err != nil {
				return err
			}

			if expect != "" {
				if expect != fingerprint.String() {
					fmt.Fprintf(a.stderr, "inventory fingerprint %s does not match expected %s\n", fingerprint, expect)
					return &cli.ExitError{Code: 2}
				}
				return nil
			}

			result := fingerprintResult{Fingerprint: fingerprint, Session: session}
			return s.emit(result, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, result.Fingerprint)
				return err
			})
		},
	}
}
