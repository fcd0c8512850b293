// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package apiabi // import "go.opentelemetry.io/orbit-tracing/apiabi"

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

var (
	elfMagic = []byte{0x7f, 'E', 'L', 'F'}
	peMagic  = []byte{'M', 'Z'}
)

// DetectABI determines the ABI of an executable or library from its file
// magic.
func DetectABI(r io.ReaderAt) (ABI, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return 0, fmt.Errorf("failed to read file magic: %w", err)
	}
	switch {
	case bytes.Equal(magic[:], elfMagic):
		return ABINative, nil
	case bytes.Equal(magic[:2], peMagic):
		return ABIWindows, nil
	default:
		return 0, fmt.Errorf("unknown executable format (magic %x)", magic)
	}
}

// DetectFileABI is DetectABI on a file path.
func DetectFileABI(path string) (ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return DetectABI(f)
}
