// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package modules // import "go.opentelemetry.io/orbit-tracing/modules"

import (
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/process"
)

// ModuleInfo describes a module loaded into a process.
type ModuleInfo struct {
	Path    string
	Name    string
	BuildID string
	Soname  string
	ABI     apiabi.ABI

	Start                   uint64
	End                     uint64
	LoadBias                uint64
	ExecutableSegmentOffset uint64
}

// Key returns the identity of the module.
func (mi *ModuleInfo) Key() Key {
	return Key{Path: mi.Path, BuildID: mi.BuildID}
}

// InMemory returns the address range record of the module.
func (mi *ModuleInfo) InMemory(h Handle) ModuleInMemory {
	return ModuleInMemory{
		Handle:                  h,
		Start:                   mi.Start,
		End:                     mi.End,
		LoadBias:                mi.LoadBias,
		ExecutableSegmentOffset: mi.ExecutableSegmentOffset,
	}
}

// ReadModules lists the modules of a running process.
func ReadModules(pid libpf.PID) ([]ModuleInfo, error) {
	pr := process.New(pid)
	defer pr.Close()
	mappings, numParseErrors, err := pr.GetMappings()
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings of %d: %w", pid, err)
	}
	if numParseErrors > 0 {
		log.Debugf("Failed to parse %d mappings of %d", numParseErrors, pid)
	}
	return ReadModulesFromMappings(pr, mappings), nil
}

// ReadModulesFromMappings builds a module from each run of adjacent executable
// mappings of the same file. Files that are not object files are skipped.
func ReadModulesFromMappings(pr process.Process, mappings []process.Mapping) []ModuleInfo {
	var (
		out     []ModuleInfo
		current *process.Mapping
		end     uint64
	)
	flush := func() {
		if current == nil {
			return
		}
		mi, err := readModule(pr, current, end)
		if err != nil {
			log.Debugf("Skipping %s: %v", current.Path, err)
		} else {
			out = append(out, mi)
		}
		current = nil
	}

	for i := range mappings {
		m := &mappings[i]
		if !m.IsExecutable() || m.IsAnonymous() || m.IsVDSO() ||
			strings.HasPrefix(m.Path, "/dev/") {
			continue
		}
		if current != nil && current.Path == m.Path && end == m.Vaddr {
			end = m.End()
			continue
		}
		flush()
		current = m
		end = m.End()
	}
	flush()
	return out
}

func readModule(pr process.Process, m *process.Mapping, end uint64) (ModuleInfo, error) {
	f, err := pr.OpenMappingFile(m)
	if err != nil {
		return ModuleInfo{}, err
	}
	defer f.Close()
	obj, err := OpenObjectFile(f)
	if err != nil {
		return ModuleInfo{}, err
	}
	defer obj.Close()
	return ModuleInfo{
		Path:                    m.Path,
		Name:                    filepath.Base(m.Path),
		BuildID:                 obj.BuildID,
		Soname:                  obj.Soname,
		ABI:                     obj.ABI,
		Start:                   m.Vaddr,
		End:                     end,
		LoadBias:                obj.LoadBias,
		ExecutableSegmentOffset: obj.ExecutableSegmentOffset,
	}, nil
}
