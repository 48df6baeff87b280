// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/accelsmi/lib/codec"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "accel-smi",
		Subcommands: []*Command{
			{Name: "list", Run: func(args []string) error { called = "list"; return nil }},
			{Name: "partition", Run: func(args []string) error {
				called = "partition"
				receivedArgs = args
				return nil
			}},
		},
	}

	if err := root.Execute([]string{"partition", "0000:05:00.0"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "partition" {
		t.Errorf("dispatched to %q, want %q", called, "partition")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "0000:05:00.0" {
		t.Errorf("args = %v, want [0000:05:00.0]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var format string
	var positional []string

	root := &Command{
		Name: "accel-smi",
		Subcommands: []*Command{{
			Name: "list",
			Flags: func() *pflag.FlagSet {
				flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
				flagSet.StringVar(&format, "format", "text", "output format")
				return flagSet
			},
			Run: func(args []string) error {
				positional = args
				return nil
			},
		}},
	}

	if err := root.Execute([]string{"list", "--format", "json", "extra"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if format != "json" {
		t.Errorf("format = %q, want json", format)
	}
	if len(positional) != 1 || positional[0] != "extra" {
		t.Errorf("args = %v, want [extra]", positional)
	}
}

func TestCommand_Execute_UnknownCommandSuggests(t *testing.T) {
	root := &Command{
		Name: "accel-smi",
		Subcommands: []*Command{
			{Name: "topology", Run: func([]string) error { return nil }},
			{Name: "violation", Run: func([]string) error { return nil }},
		},
	}

	err := root.Execute([]string{"topolgy"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "topology"`) {
		t.Errorf("error = %q, want a suggestion for topology", err)
	}

	err = root.Execute([]string{"firmware"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want an unknown command error without a suggestion", err)
	}
}

func TestCommand_Execute_UnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "list",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.String("format", "text", "output format")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}

	err := command.Execute([]string{"--fromat", "json"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --format?") {
		t.Errorf("error = %q, want a suggestion for --format", err)
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:        "accel-smi",
		HelpOutput:  &help,
		Subcommands: []*Command{{Name: "list", Summary: "List processors", Run: func([]string) error { return nil }}},
	}
	if err := root.Execute(nil); err == nil {
		t.Fatal("expected error when no command is given")
	}
	if !strings.Contains(help.String(), "list") {
		t.Errorf("help output missing command listing:\n%s", help.String())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:       "accel-smi",
		HelpOutput: &help,
		Subcommands: []*Command{{
			Name:        "topology",
			Summary:     "Rank peers by link distance",
			Description: "Rank the peers of an accelerator by link distance.",
			Usage:       "accel-smi topology <bus-address> [flags]",
			Examples: []Example{{
				Description: "Peers over xGMI",
				Command:     "accel-smi topology 0000:05:00.0 --link xgmi",
			}},
			Flags: func() *pflag.FlagSet {
				flagSet := pflag.NewFlagSet("topology", pflag.ContinueOnError)
				flagSet.String("link", "xgmi", "link class")
				return flagSet
			},
			Run: func([]string) error {
				t.Error("Run called for --help")
				return nil
			},
		}},
	}

	if err := root.Execute([]string{"topology", "--help"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	output := help.String()
	for _, want := range []string{
		"Rank the peers of an accelerator by link distance.",
		"Usage:\n  accel-smi topology <bus-address> [flags]",
		"--link",
		"# Peers over xGMI",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q:\n%s", want, output)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "list", 4},
		{"list", "list", 0},
		{"lsit", "list", 2},
		{"topolgy", "topology", 1},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"text", "json", "yaml", "cbor"} {
		if _, err := ParseFormat(name); err != nil {
			t.Errorf("ParseFormat(%q): %v", name, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) succeeded")
	}
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("WARN")
	if err != nil || level != slog.LevelWarn {
		t.Errorf("ParseLogLevel(WARN) = %v, %v", level, err)
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Error("ParseLogLevel(loud) succeeded")
	}
}

type emitRecord struct {
	Name  string `json:"name" yaml:"name" cbor:"name"`
	Count int    `json:"count" yaml:"count" cbor:"count"`
}

func TestEmit(t *testing.T) {
	record := emitRecord{Name: "0000:05:00.0", Count: 2}
	var buffer bytes.Buffer
	if err := Emit(&buffer, FormatJSON, record, nil); err != nil {
		t.Fatalf("Emit json: %v", err)
	}
	var fromJSON emitRecord
	if err := json.Unmarshal(buffer.Bytes(), &fromJSON); err != nil || fromJSON != record {
		t.Errorf("json round trip = %+v, %v", fromJSON, err)
	}

	buffer.Reset()
	if err := Emit(&buffer, FormatYAML, record, nil); err != nil {
		t.Fatalf("Emit yaml: %v", err)
	}
	var fromYAML emitRecord
	if err := yaml.Unmarshal(buffer.Bytes(), &fromYAML); err != nil || fromYAML != record {
		t.Errorf("yaml round trip = %+v, %v", fromYAML, err)
	}

	buffer.Reset()
	if err := Emit(&buffer, FormatCBOR, record, nil); err != nil {
		t.Fatalf("Emit cbor: %v", err)
	}
	var fromCBOR emitRecord
	if err := codec.Unmarshal(buffer.Bytes(), &fromCBOR); err != nil || fromCBOR != record {
		t.Errorf("cbor round trip = %+v, %v", fromCBOR, err)
	}
}

func TestEmitNilSliceAsEmptyList(t *testing.T) {
	var buffer bytes.Buffer
	var records []emitRecord
	if err := Emit(&buffer, FormatJSON, records, nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("Emit(nil slice) = %q, want []", got)
	}
}

func TestEmitText(t *testing.T) {
	errText := errors.New("text renderer called")
	var buffer bytes.Buffer
	err := Emit(&buffer, FormatText, emitRecord{}, func(w io.Writer) error { return errText })
	if !errors.Is(err, errText) {
		t.Errorf("Emit text = %v, want the renderer's result", err)
	}
}
