// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// accel-smi inspects and reconfigures the accelerators, NICs, switches,
// and CPUs of a host: their enumeration by socket, compute and memory
// partitioning, interconnect topology, and throttle residency. It can
// also serve the same state as Prometheus metrics.
//
// Every command discovers processors from the backends enabled in the
// configuration (see lib/config), or from a host description file
// when --fixture is given.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/accelsmi/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && (args[0] == "--version" || args[0] == "-version") {
		version.Print(stdout, "accel-smi")
		return nil
	}
	application := &app{ctx: ctx, stdout: stdout, stderr: stderr}
	return application.root().Execute(args)
}
