// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/orbit-tracing/process"

import (
	"bufio"
	"debug/elf"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// vdsoInode is the synthesized inode number for VDSO mappings
const vdsoInode = 50

// mappingParseBufferSize defines the initial buffer size used to store lines from
// /proc/PID/maps during parsing of mappings.
const mappingParseBufferSize = 256

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, mappingParseBufferSize)
		return &buf
	},
}

// fields splits a maps line into its first n-1 space separated fields and
// the remainder, which is the path and may contain spaces.
func fields(s string, f []string) int {
	n := len(f)
	for i := range n - 1 {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return i
		}
		end := strings.IndexAny(s, " \t")
		if end < 0 {
			f[i] = s
			return i + 1
		}
		f[i] = s[:end]
		s = s[end:]
	}
	s = strings.TrimLeft(s, " \t")
	if s == "" {
		return n - 1
	}
	f[n-1] = s
	return n
}

func trimMappingPath(path string) string {
	// Trim the deleted indication from the path.
	// See path_with_deleted in linux/fs/d_path.c
	path = strings.TrimSuffix(path, " (deleted)")
	if path == "/dev/zero" {
		// Some JIT engines map JIT area from /dev/zero
		// make it anonymous.
		return ""
	}
	return path
}

func parseFlags(s string) (elf.ProgFlag, bool) {
	if len(s) < 3 {
		return 0, false
	}
	flags := elf.ProgFlag(0)
	if s[0] == 'r' {
		flags |= elf.PF_R
	}
	if s[1] == 'w' {
		flags |= elf.PF_W
	}
	if s[2] == 'x' {
		flags |= elf.PF_X
	}
	return flags, true
}

func parseMappings(mapsFile io.Reader) ([]Mapping, uint32, error) {
	numParseErrors := uint32(0)
	mappings := make([]Mapping, 0, 32)
	scanner := bufio.NewScanner(mapsFile)
	scanBuf, ok := bufPool.Get().(*[]byte)
	if !ok || scanBuf == nil {
		return mappings, 0, errors.New("failed to get memory from sync pool")
	}
	defer func() {
		clear(*scanBuf)
		bufPool.Put(scanBuf)
	}()

	scanner.Buffer(*scanBuf, 8192)
	for scanner.Scan() {
		var f [6]string
		if fields(scanner.Text(), f[:]) < 5 {
			numParseErrors++
			continue
		}
		start, end, ok := strings.Cut(f[0], "-")
		if !ok {
			numParseErrors++
			continue
		}
		flags, ok := parseFlags(f[1])
		if !ok {
			numParseErrors++
			continue
		}
		// Ignore non-readable and non-executable mappings
		if flags&(elf.PF_R|elf.PF_X) == 0 {
			continue
		}
		inode, err := strconv.ParseUint(f[4], 10, 64)
		if err != nil {
			log.Debugf("inode: failed to convert %s to uint64: %v", f[4], err)
			numParseErrors++
			continue
		}
		majorStr, minorStr, ok := strings.Cut(f[3], ":")
		if !ok {
			numParseErrors++
			continue
		}
		major, err := strconv.ParseUint(majorStr, 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		minor, err := strconv.ParseUint(minorStr, 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		device := major<<8 + minor

		var path string
		if inode == 0 {
			switch f[5] {
			case "[vdso]":
				path = VdsoPathName
				device = 0
				inode = vdsoInode
			case "":
				// Anonymous mapping.
			default:
				// Special pseudo-files like [heap] or [stack].
				continue
			}
		} else {
			path = trimMappingPath(f[5])
		}

		vaddr, err := strconv.ParseUint(start, 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}
		vend, err := strconv.ParseUint(end, 16, 64)
		if err != nil || vend < vaddr {
			numParseErrors++
			continue
		}
		fileOffset, err := strconv.ParseUint(f[2], 16, 64)
		if err != nil {
			numParseErrors++
			continue
		}

		mappings = append(mappings, Mapping{
			Vaddr:      vaddr,
			Length:     vend - vaddr,
			Flags:      flags,
			FileOffset: fileOffset,
			Device:     device,
			Inode:      inode,
			Path:       path,
		})
	}
	return mappings, numParseErrors, scanner.Err()
}
