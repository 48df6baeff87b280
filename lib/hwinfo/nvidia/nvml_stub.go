// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux && cgo && nvml)

package nvidia

// library is empty without NVML; the backend only discovers devices.
type library struct{}

func (b *Backend) openLibrary() *library { return nil }

func (l *library) close() error { return nil }
