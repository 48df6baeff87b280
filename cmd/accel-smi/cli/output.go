// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/accelsmi/lib/codec"
)

// Format selects how a command renders its result.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"

	// FormatCBOR writes the deterministic CBOR encoding, byte for byte
	// the form the inventory fingerprint is computed over.
	FormatCBOR Format = "cbor"
)

// ParseFormat validates a --format value.
func ParseFormat(name string) (Format, error) {
	switch format := Format(name); format {
	case FormatText, FormatJSON, FormatYAML, FormatCBOR:
		return format, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json, yaml, or cbor)", name)
}

// Emit writes result to w in format. Text rendering is delegated to
// text, which is only called for FormatText.
//
// Nil slices are written as empty lists rather than null.
func Emit(w io.Writer, format Format, result any, text func(io.Writer) error) error {
	result = normalizeNilSlice(result)
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(result); err != nil {
			return err
		}
		return encoder.Close()
	case FormatCBOR:
		return codec.NewEncoder(w).Encode(result)
	default:
		return text(w)
	}
}

func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
