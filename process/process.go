// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/orbit-tracing/process"

import (
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/remotememory"
)

// ErrNoMappings is returned when no mappings can be extracted.
var ErrNoMappings = errors.New("no mappings")

// systemProcess provides an implementation of the Process interface for a
// process that is currently running on this machine.
type systemProcess struct {
	pid          libpf.PID
	remoteMemory remotememory.RemoteMemory
}

var _ Process = &systemProcess{}

// New returns an object with Process interface accessing it
func New(pid libpf.PID) Process {
	return &systemProcess{
		pid:          pid,
		remoteMemory: remotememory.NewProcessVirtualMemory(pid),
	}
}

func (sp *systemProcess) PID() libpf.PID {
	return sp.pid
}

func (sp *systemProcess) GetExe() (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/exe", sp.pid))
}

func (sp *systemProcess) GetMappings() ([]Mapping, uint32, error) {
	mapsFile, err := os.Open(fmt.Sprintf("/proc/%d/maps", sp.pid))
	if err != nil {
		return nil, 0, err
	}
	defer mapsFile.Close()

	mappings, numParseErrors, err := parseMappings(mapsFile)
	if err != nil {
		return mappings, numParseErrors, err
	}
	if len(mappings) == 0 {
		return mappings, numParseErrors, ErrNoMappings
	}
	return mappings, numParseErrors, nil
}

func (sp *systemProcess) GetRemoteMemory() remotememory.RemoteMemory {
	return sp.remoteMemory
}

// OpenMappingFile opens the file through /proc/PID/map_files, which also works
// for deleted files and files in other mount namespaces.
func (sp *systemProcess) OpenMappingFile(m *Mapping) (ReadAtCloser, error) {
	if m.IsAnonymous() || m.IsVDSO() {
		return nil, errors.New("no backing file for anonymous memory")
	}
	f, err := os.Open(fmt.Sprintf("/proc/%v/map_files/%x-%x", sp.pid, m.Vaddr, m.End()))
	if err == nil {
		return f, nil
	}
	// map_files requires CAP_SYS_ADMIN on older kernels.
	return os.Open(fmt.Sprintf("/proc/%v/root%s", sp.pid, m.Path))
}

func (sp *systemProcess) Close() error {
	return nil
}
